// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"sync"

	"github.com/chewxy/math32"

	"github.com/gogpu/volren/preset"
)

// Quality bounds, in samples per ray.
const (
	MinQuality     = 128
	MaxQuality     = 8192
	InitialQuality = 1024
)

// Initial window, matching the volume's initial level range.
const (
	DefaultLevelWidth  = 4095
	DefaultLevelCenter = 1023.5
)

// ShadingOptions are the light coefficients shared by every light.
type ShadingOptions struct {
	Ambient       float32
	Diffuse       float32
	Specular      float32
	SpecularPower float32
}

// DefaultShadingOptions matches the preset lighting defaults.
func DefaultShadingOptions() ShadingOptions {
	return ShadingOptions{
		Ambient:       preset.DefaultAmbient,
		Diffuse:       preset.DefaultDiffuse,
		Specular:      preset.DefaultSpecular,
		SpecularPower: preset.DefaultSpecularPower,
	}
}

// Values is a snapshot of the rendering parameters.
type Values struct {
	WindowWidth  float32
	WindowCenter float32
	LUTShape     LUTShape
	Mode         Mode
	MIPMode      MIPMode
	MIPThickness float32
	Quality      int
	Opacity      float32
	Shading      bool
	InvertLUT    bool
	Lighting     ShadingOptions
}

// State holds the mutable rendering parameters. Every setter compares the
// new value with the current one and notifies listeners only on change.
// While repaint is disabled, changes are batched into a single notification
// sent when it is enabled again.
//
// State is safe for concurrent use. Listeners run on the goroutine of the
// setter, without the lock held.
type State struct {
	mu sync.Mutex
	v  Values

	repaintSuppressed bool
	pending           bool

	listeners map[int]func(Values)
	nextID    int
}

// NewState returns a state with default values.
func NewState() *State {
	return &State{
		v: Values{
			WindowWidth:  DefaultLevelWidth,
			WindowCenter: DefaultLevelCenter,
			Quality:      InitialQuality,
			Opacity:      1,
			Lighting:     DefaultShadingOptions(),
		},
		listeners: make(map[int]func(Values)),
	}
}

// Values returns a snapshot of all parameters.
func (s *State) Values() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// OnChange registers fn and returns a function that removes it.
func (s *State) OnChange(fn func(Values)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// SetRepaintEnabled turns change notifications on or off. Turning them back
// on sends one notification if anything changed meanwhile.
func (s *State) SetRepaintEnabled(enabled bool) {
	s.mu.Lock()
	s.repaintSuppressed = !enabled
	fire := enabled && s.pending
	if enabled {
		s.pending = false
	}
	s.mu.Unlock()
	if fire {
		s.notify()
	}
}

// RepaintEnabled reports whether changes notify immediately.
func (s *State) RepaintEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.repaintSuppressed
}

func (s *State) notify() {
	s.mu.Lock()
	v := s.v
	fns := make([]func(Values), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// update applies fn under the lock and notifies if it reported a change.
func (s *State) update(fn func(v *Values) bool) {
	s.mu.Lock()
	if !fn(&s.v) {
		s.mu.Unlock()
		return
	}
	fire := !s.repaintSuppressed
	if !fire {
		s.pending = true
	}
	s.mu.Unlock()
	if fire {
		s.notify()
	}
}

func setField[T comparable](s *State, field func(v *Values) *T, val T) {
	s.update(func(v *Values) bool {
		f := field(v)
		if *f == val {
			return false
		}
		*f = val
		return true
	})
}

// SetWindow sets the window width and center.
func (s *State) SetWindow(width, center float32) {
	width = math32.Max(width, 1)
	s.update(func(v *Values) bool {
		if v.WindowWidth == width && v.WindowCenter == center {
			return false
		}
		v.WindowWidth, v.WindowCenter = width, center
		return true
	})
}

// SetLUTShape sets the MIP window curve.
func (s *State) SetLUTShape(shape LUTShape) {
	setField(s, func(v *Values) *LUTShape { return &v.LUTShape }, shape)
}

// SetMode sets the rendering mode.
func (s *State) SetMode(m Mode) {
	setField(s, func(v *Values) *Mode { return &v.Mode }, m)
}

// SetMIPMode sets the MIP extreme.
func (s *State) SetMIPMode(m MIPMode) {
	setField(s, func(v *Values) *MIPMode { return &v.MIPMode }, m)
}

// SetMIPThickness limits MIP rays to a slab; 0 means the whole volume.
func (s *State) SetMIPThickness(t float32) {
	setField(s, func(v *Values) *float32 { return &v.MIPThickness }, math32.Max(t, 0))
}

// SetQuality sets the samples per ray, clamped to [MinQuality, MaxQuality].
func (s *State) SetQuality(q int) {
	setField(s, func(v *Values) *int { return &v.Quality }, min(max(q, MinQuality), MaxQuality))
}

// SetOpacity sets the global opacity factor, clamped to [0, 1].
func (s *State) SetOpacity(o float32) {
	setField(s, func(v *Values) *float32 { return &v.Opacity }, math32.Min(math32.Max(o, 0), 1))
}

// SetShading turns lighting on or off.
func (s *State) SetShading(on bool) {
	setField(s, func(v *Values) *bool { return &v.Shading }, on)
}

// SetInvertLUT inverts the colors of the transfer function.
func (s *State) SetInvertLUT(on bool) {
	setField(s, func(v *Values) *bool { return &v.InvertLUT }, on)
}

// SetLighting sets the light coefficients.
func (s *State) SetLighting(o ShadingOptions) {
	setField(s, func(v *Values) *ShadingOptions { return &v.Lighting }, o)
}

// ApplyPreset takes the shade flag and specular power of p and resets the
// window to its intensity range, with a single notification.
func (s *State) ApplyPreset(p *preset.Preset) {
	if p == nil {
		return
	}
	wasEnabled := s.RepaintEnabled()
	s.SetRepaintEnabled(false)

	s.SetShading(p.Shade())
	lighting := s.Values().Lighting
	lighting.SpecularPower = p.SpecularPower()
	s.SetLighting(lighting)
	lo, hi := float32(p.ColorMin()), float32(p.ColorMax())
	s.SetWindow(hi-lo, (lo+hi)/2)

	if wasEnabled {
		s.SetRepaintEnabled(true)
	}
}
