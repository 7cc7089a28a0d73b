package preset

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/volren/internal/vlog"
)

// Definition is one entry of a presets file. The file is a YAML or JSON
// list of definitions.
type Definition struct {
	Name          string            `yaml:"name"`
	Modality      string            `yaml:"modality,omitempty"`
	Default       bool              `yaml:"default,omitempty"`
	Shade         bool              `yaml:"shade,omitempty"`
	SpecularPower float32           `yaml:"specularPower,omitempty"`
	Groups        []GroupDefinition `yaml:"groups"`
}

// GroupDefinition is a named list of points.
type GroupDefinition struct {
	Label  string            `yaml:"label"`
	Points []PointDefinition `yaml:"points"`
}

// PointDefinition is a control point. A point carrying any of red, green or
// blue is a color point; missing channels are 0. Missing lighting
// coefficients take the defaults.
type PointDefinition struct {
	Intensity int      `yaml:"intensity"`
	Opacity   float32  `yaml:"opacity"`
	Red       *float32 `yaml:"red,omitempty"`
	Green     *float32 `yaml:"green,omitempty"`
	Blue      *float32 `yaml:"blue,omitempty"`
	Ambient   *float32 `yaml:"ambient,omitempty"`
	Diffuse   *float32 `yaml:"diffuse,omitempty"`
	Specular  *float32 `yaml:"specular,omitempty"`
}

func (d PointDefinition) point() Point {
	p := Point{
		Intensity: d.Intensity,
		Opacity:   d.Opacity,
		Ambient:   d.Ambient,
		Diffuse:   d.Diffuse,
		Specular:  d.Specular,
	}
	if d.Red != nil || d.Green != nil || d.Blue != nil {
		p.Color = &RGB{R: deref(d.Red), G: deref(d.Green), B: deref(d.Blue)}
	}
	return p
}

func deref(v *float32) float32 {
	if v == nil {
		return 0
	}
	return *v
}

// FromDefinition builds a preset from a file entry.
func FromDefinition(d Definition) (*Preset, error) {
	groups := make([]Group, len(d.Groups))
	for i, g := range d.Groups {
		pts := make([]Point, len(g.Points))
		for j, pd := range g.Points {
			pts[j] = pd.point()
		}
		groups[i] = Group{Label: g.Label, Points: pts}
	}
	return New(Options{
		Name:          d.Name,
		Modality:      strings.ToUpper(strings.TrimSpace(d.Modality)),
		Default:       d.Default,
		Shade:         d.Shade,
		SpecularPower: d.SpecularPower,
	}, groups...)
}

// Load decodes a presets file. Invalid entries are logged and skipped; only
// a malformed document is an error.
func Load(r io.Reader) (*Set, error) {
	var defs []Definition
	if err := yaml.NewDecoder(r).Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("preset: decode: %w", err)
	}
	set := NewSet()
	for i, d := range defs {
		p, err := FromDefinition(d)
		if err != nil {
			vlog.Logger().Warn("preset: skipping definition", "index", i, "name", d.Name, "err", err)
			continue
		}
		set.Add(p)
	}
	return set, nil
}

// LoadFile reads a presets file from disk.
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("preset: open: %w", err)
	}
	defer f.Close()
	set, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	vlog.Logger().Debug("preset: loaded", "path", path, "count", set.Len())
	return set, nil
}

// Set is an ordered collection of presets with unique names: presets for
// any modality first, then by modality, then by name.
//
// A Set is not safe for concurrent mutation.
type Set struct {
	presets []*Preset
}

// NewSet returns a set holding ps.
func NewSet(ps ...*Preset) *Set {
	s := &Set{}
	for _, p := range ps {
		s.Add(p)
	}
	return s
}

// Add inserts p in order. It reports false and keeps the existing preset
// when the name is already present.
func (s *Set) Add(p *Preset) bool {
	if p == nil || s.Get(p.Name()) != nil {
		return false
	}
	i, _ := slices.BinarySearchFunc(s.presets, p, compare)
	s.presets = slices.Insert(s.presets, i, p)
	return true
}

func compare(a, b *Preset) int {
	ag, bg := a.Modality() == "", b.Modality() == ""
	switch {
	case ag && !bg:
		return -1
	case !ag && bg:
		return 1
	}
	return cmp.Or(
		cmp.Compare(a.Modality(), b.Modality()),
		cmp.Compare(a.Name(), b.Name()),
	)
}

// Len returns the number of presets.
func (s *Set) Len() int { return len(s.presets) }

// All returns the presets in order.
func (s *Set) All() []*Preset { return slices.Clone(s.presets) }

// Get returns the preset called name, or nil.
func (s *Set) Get(name string) *Preset {
	for _, p := range s.presets {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// ForModality returns the presets usable for modality: the modality's own
// and the modality-agnostic ones.
func (s *Set) ForModality(modality string) []*Preset {
	modality = strings.ToUpper(modality)
	var out []*Preset
	for _, p := range s.presets {
		if p.Modality() == "" || p.Modality() == modality {
			out = append(out, p)
		}
	}
	return out
}

// Default returns the default preset for modality: the modality's own
// default, else the modality-agnostic default, else nil.
func (s *Set) Default(modality string) *Preset {
	modality = strings.ToUpper(modality)
	var global *Preset
	for _, p := range s.presets {
		if !p.IsDefault() {
			continue
		}
		if modality != "" && p.Modality() == modality {
			return p
		}
		if p.Modality() == "" && global == nil {
			global = p
		}
	}
	return global
}
