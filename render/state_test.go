// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/preset"
)

func countChanges(s *State) *int {
	n := new(int)
	s.OnChange(func(Values) { *n++ })
	return n
}

func TestNewState_Defaults(t *testing.T) {
	v := NewState().Values()
	assert.Equal(t, float32(DefaultLevelWidth), v.WindowWidth)
	assert.Equal(t, float32(DefaultLevelCenter), v.WindowCenter)
	assert.Equal(t, InitialQuality, v.Quality)
	assert.Equal(t, float32(1), v.Opacity)
	assert.Equal(t, ModeComposite, v.Mode)
	assert.Equal(t, DefaultShadingOptions(), v.Lighting)
}

func TestState_NotifiesOnlyOnChange(t *testing.T) {
	s := NewState()
	n := countChanges(s)

	s.SetMode(ModeMIP)
	s.SetMode(ModeMIP)
	assert.Equal(t, 1, *n)

	s.SetShading(false)
	assert.Equal(t, 1, *n, "shading is already off")

	s.SetWindow(400, 40)
	s.SetWindow(400, 40)
	assert.Equal(t, 2, *n)

	s.SetLighting(ShadingOptions{Ambient: 0.1, Diffuse: 0.7, Specular: 0.2, SpecularPower: 5})
	assert.Equal(t, 3, *n)
}

func TestState_Clamping(t *testing.T) {
	s := NewState()

	s.SetQuality(10)
	assert.Equal(t, MinQuality, s.Values().Quality)
	s.SetQuality(1 << 20)
	assert.Equal(t, MaxQuality, s.Values().Quality)

	s.SetOpacity(-1)
	assert.Equal(t, float32(0), s.Values().Opacity)
	s.SetOpacity(3)
	assert.Equal(t, float32(1), s.Values().Opacity)

	s.SetWindow(0, 10)
	assert.Equal(t, float32(1), s.Values().WindowWidth)

	s.SetMIPThickness(-4)
	assert.Equal(t, float32(0), s.Values().MIPThickness)
}

func TestState_RepaintBatching(t *testing.T) {
	s := NewState()
	n := countChanges(s)

	s.SetRepaintEnabled(false)
	assert.False(t, s.RepaintEnabled())
	s.SetMode(ModeIsoSurface)
	s.SetOpacity(0.5)
	s.SetInvertLUT(true)
	assert.Zero(t, *n)

	s.SetRepaintEnabled(true)
	assert.Equal(t, 1, *n)

	// Nothing pending: no notification.
	s.SetRepaintEnabled(false)
	s.SetRepaintEnabled(true)
	assert.Equal(t, 1, *n)
}

func TestState_OnChangeRemove(t *testing.T) {
	s := NewState()
	var got []Values
	remove := s.OnChange(func(v Values) { got = append(got, v) })
	s.SetMIPMode(MIPMin)
	remove()
	s.SetMIPMode(MIPMax)
	require.Len(t, got, 1)
	assert.Equal(t, MIPMin, got[0].MIPMode)
}

func TestState_ApplyPreset(t *testing.T) {
	p, err := preset.New(preset.Options{Name: "Bone", Modality: "CT", Shade: true, SpecularPower: 24},
		preset.Group{Label: "Bone", Points: []preset.Point{
			{Intensity: 200, Opacity: 0, Color: &preset.RGB{}},
			{Intensity: 1200, Opacity: 1, Color: &preset.RGB{R: 1, G: 1, B: 1}},
		}})
	require.NoError(t, err)

	s := NewState()
	n := countChanges(s)
	s.ApplyPreset(p)

	assert.Equal(t, 1, *n)
	v := s.Values()
	assert.True(t, v.Shading)
	assert.Equal(t, float32(24), v.Lighting.SpecularPower)
	assert.Equal(t, float32(1000), v.WindowWidth)
	assert.Equal(t, float32(700), v.WindowCenter)
	assert.True(t, s.RepaintEnabled())

	s.ApplyPreset(nil)
	assert.Equal(t, 1, *n)
}

func TestMode_String(t *testing.T) {
	for m := ModeComposite; m <= ModeOrthogonalSlices; m++ {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("Volume")
	assert.Error(t, err)
	assert.Equal(t, "Mode(9)", Mode(9).String())
	assert.Equal(t, "Sigmoid", LUTSigmoid.String())
	assert.Equal(t, "Min", MIPMin.String())
}
