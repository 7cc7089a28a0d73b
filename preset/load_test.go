package preset

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/internal/vlog"
)

const presetsJSON = `[
  {"name": "CT Bone", "modality": "ct", "default": true, "shade": true, "specularPower": 20,
   "groups": [{"label": "bone", "points": [
      {"intensity": 100, "opacity": 0},
      {"intensity": 1000, "opacity": 0.9, "red": 1, "green": 0.9, "blue": 0.8, "ambient": 0.3}]}]},
  {"name": "Gray", "default": true,
   "groups": [{"label": "ramp", "points": [{"intensity": 0, "opacity": 0}, {"intensity": 255, "opacity": 1}]}]},
  {"name": "Broken", "groups": [{"label": "empty", "points": []}]},
  {"name": "MR Angio", "modality": "MR",
   "groups": [{"label": "vessels", "points": [{"intensity": 0, "opacity": 0}, {"intensity": 500, "opacity": 1}]}]}
]`

func TestLoad_JSON(t *testing.T) {
	var logs bytes.Buffer
	vlog.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { vlog.SetLogger(nil) })

	set, err := Load(strings.NewReader(presetsJSON))
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())
	assert.Contains(t, logs.String(), "Broken")

	names := make([]string, 0, set.Len())
	for _, p := range set.All() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"Gray", "CT Bone", "MR Angio"}, names)

	bone := set.Get("CT Bone")
	require.NotNil(t, bone)
	assert.Equal(t, "CT", bone.Modality())
	assert.True(t, bone.Shade())
	assert.Equal(t, float32(20), bone.SpecularPower())
	pt := bone.Groups()[0].Points[1]
	require.True(t, pt.HasColor())
	assert.Equal(t, float32(0.9), pt.Color.G)
	assert.Nil(t, pt.Diffuse)
}

func TestLoad_YAML(t *testing.T) {
	doc := `
- name: Soft
  groups:
    - label: tissue
      points:
        - {intensity: -200, opacity: 0}
        - {intensity: 300, opacity: 0.4, red: 0.8}
`
	set, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	p := set.Get("Soft")
	require.NotNil(t, p)
	c := p.Groups()[0].Points[1].Color
	require.NotNil(t, c)
	assert.Equal(t, RGB{R: 0.8}, *c)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(strings.NewReader(`{"name": [`))
	assert.Error(t, err)

	set, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.json")
	require.NoError(t, os.WriteFile(path, []byte(presetsJSON), 0o600))
	set, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSet_AddDeduplicates(t *testing.T) {
	set := NewSet(ramp(t))
	assert.False(t, set.Add(ramp(t)))
	assert.False(t, set.Add(nil))
	assert.Equal(t, 1, set.Len())
}

func TestSet_Default(t *testing.T) {
	set, err := Load(strings.NewReader(presetsJSON))
	require.NoError(t, err)

	tests := []struct {
		modality string
		want     string
	}{
		{"CT", "CT Bone"},
		{"ct", "CT Bone"},
		{"MR", "Gray"},
		{"", "Gray"},
	}
	for _, tt := range tests {
		t.Run(tt.modality, func(t *testing.T) {
			p := set.Default(tt.modality)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	noGlobal := NewSet(set.Get("CT Bone"), set.Get("MR Angio"))
	assert.Nil(t, noGlobal.Default("MR"))
}

func TestSet_ForModality(t *testing.T) {
	set, err := Load(strings.NewReader(presetsJSON))
	require.NoError(t, err)
	var names []string
	for _, p := range set.ForModality("mr") {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"Gray", "MR Angio"}, names)
}
