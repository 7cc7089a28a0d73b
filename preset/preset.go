// Package preset builds volume transfer functions.
//
// A Preset maps intensities to color, opacity and lighting coefficients
// through piecewise-linear interpolation between control points. Build turns
// it into two lookup buffers: an RGBA8 color/opacity row spanning
// [ColorMin, ColorMax) and a lighting row holding (ambient, diffuse,
// specular) per intensity step.
package preset

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"
)

// ErrInvalidPreset is returned when a preset definition cannot be built.
var ErrInvalidPreset = errors.New("preset: invalid definition")

// Default lighting coefficients, used where no color point applies.
const (
	DefaultAmbient  float32 = 0.2
	DefaultDiffuse  float32 = 0.9
	DefaultSpecular float32 = 0.2

	DefaultSpecularPower float32 = 10
)

// RGB is a color with channels in [0, 1].
type RGB struct {
	R, G, B float32
}

// Point is one control point of a transfer function. A point with a nil
// Color only contributes opacity.
type Point struct {
	Intensity int
	Opacity   float32

	Color    *RGB
	Ambient  *float32
	Diffuse  *float32
	Specular *float32
}

// HasColor reports whether the point takes part in color interpolation.
func (p Point) HasColor() bool { return p.Color != nil }

func (p Point) lighting() [3]float32 {
	l := [3]float32{DefaultAmbient, DefaultDiffuse, DefaultSpecular}
	if p.Ambient != nil {
		l[0] = *p.Ambient
	}
	if p.Diffuse != nil {
		l[1] = *p.Diffuse
	}
	if p.Specular != nil {
		l[2] = *p.Specular
	}
	return l
}

// Group is a named run of points, such as "Bone" or "Soft tissue".
type Group struct {
	Label  string
	Points []Point
}

// Kind distinguishes the presets the renderer treats specially.
type Kind uint8

const (
	KindRegular Kind = iota
	KindOriginal
	KindSegmentation
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "Regular"
	case KindOriginal:
		return "Original"
	case KindSegmentation:
		return "Segmentation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Options are the preset-wide settings.
type Options struct {
	Name     string
	Modality string

	// Default marks the preferred preset of its modality.
	Default bool

	Shade         bool
	SpecularPower float32

	Kind Kind
}

// Preset is a transfer function. Build results are cached until the preset
// is marked for rebuild or built with a different inversion.
type Preset struct {
	opts   Options
	groups []Group

	points      []Point
	colorPoints []Point
	colorMin    int
	colorMax    int

	requiresRebuild atomic.Bool

	mu       sync.Mutex
	built    bool
	inverse  bool
	colors   []byte
	lighting []byte
}

// New validates the groups and returns an unbuilt preset.
func New(opts Options, groups ...Group) (*Preset, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidPreset)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s has no groups", ErrInvalidPreset, opts.Name)
	}
	if opts.SpecularPower <= 0 {
		opts.SpecularPower = DefaultSpecularPower
	}

	p := &Preset{opts: opts, groups: groups}
	for _, g := range groups {
		if len(g.Points) == 0 {
			return nil, fmt.Errorf("%w: %s group %q has no points", ErrInvalidPreset, opts.Name, g.Label)
		}
		for _, pt := range g.Points {
			if err := validatePoint(pt); err != nil {
				return nil, fmt.Errorf("%w: %s group %q: %w", ErrInvalidPreset, opts.Name, g.Label, err)
			}
			if n := len(p.points); n > 0 && pt.Intensity < p.points[n-1].Intensity {
				return nil, fmt.Errorf("%w: %s: intensity %d after %d", ErrInvalidPreset,
					opts.Name, pt.Intensity, p.points[n-1].Intensity)
			}
			p.points = append(p.points, pt)
			if pt.HasColor() {
				p.colorPoints = append(p.colorPoints, pt)
			}
		}
	}

	p.colorMin = p.points[0].Intensity
	p.colorMax = p.points[len(p.points)-1].Intensity
	if p.colorMax <= p.colorMin {
		return nil, fmt.Errorf("%w: %s spans no intensities [%d, %d]", ErrInvalidPreset,
			opts.Name, p.colorMin, p.colorMax)
	}
	p.requiresRebuild.Store(true)
	return p, nil
}

func validatePoint(pt Point) error {
	if !unit(pt.Opacity) {
		return fmt.Errorf("opacity %v at %d out of [0,1]", pt.Opacity, pt.Intensity)
	}
	if pt.Color != nil && (!unit(pt.Color.R) || !unit(pt.Color.G) || !unit(pt.Color.B)) {
		return fmt.Errorf("color %+v at %d out of [0,1]", *pt.Color, pt.Intensity)
	}
	for _, c := range []*float32{pt.Ambient, pt.Diffuse, pt.Specular} {
		if c != nil && !unit(*c) {
			return fmt.Errorf("lighting coefficient %v at %d out of [0,1]", *c, pt.Intensity)
		}
	}
	return nil
}

func unit(v float32) bool { return v >= 0 && v <= 1 && !math32.IsNaN(v) }

// Name returns the preset name.
func (p *Preset) Name() string { return p.opts.Name }

// Modality returns the modality the preset is meant for; empty means any.
func (p *Preset) Modality() string { return p.opts.Modality }

// IsDefault reports whether the preset is the default of its modality.
func (p *Preset) IsDefault() bool { return p.opts.Default }

// Shade reports whether lighting is enabled.
func (p *Preset) Shade() bool { return p.opts.Shade }

// SpecularPower returns the specular exponent.
func (p *Preset) SpecularPower() float32 { return p.opts.SpecularPower }

// Kind returns the preset kind.
func (p *Preset) Kind() Kind { return p.opts.Kind }

// IsOriginal reports whether the preset is the plain grayscale ramp.
func (p *Preset) IsOriginal() bool { return p.opts.Kind == KindOriginal }

// IsSegmentation reports whether the preset colors segmentation labels.
func (p *Preset) IsSegmentation() bool { return p.opts.Kind == KindSegmentation }

// Groups returns the groups in intensity order.
func (p *Preset) Groups() []Group { return p.groups }

// ColorMin returns the intensity of the first point.
func (p *Preset) ColorMin() int { return p.colorMin }

// ColorMax returns the intensity of the last point.
func (p *Preset) ColorMax() int { return p.colorMax }

// Width returns the number of LUT entries, ColorMax - ColorMin.
func (p *Preset) Width() int { return p.colorMax - p.colorMin }

// String returns the display name, prefixed by the modality when set.
func (p *Preset) String() string {
	if p.opts.Modality == "" {
		return p.opts.Name
	}
	return p.opts.Modality + " - " + p.opts.Name
}

// MarkForRebuild forces the next RebuildIfNeeded to rebuild.
func (p *Preset) MarkForRebuild() { p.requiresRebuild.Store(true) }

// RequiresRebuild reports whether the buffers are stale.
func (p *Preset) RequiresRebuild() bool { return p.requiresRebuild.Load() }

// RebuildIfNeeded rebuilds the buffers when the preset was marked or the
// inversion changed. It reports whether a rebuild happened.
func (p *Preset) RebuildIfNeeded(inverse bool) bool {
	p.mu.Lock()
	stale := !p.built || p.inverse != inverse
	p.mu.Unlock()
	if !stale && !p.requiresRebuild.Load() {
		return false
	}
	p.Build(inverse)
	return true
}

// Build recomputes the whole color and lighting buffers.
func (p *Preset) Build(inverse bool) {
	width := p.Width()
	colors := make([]byte, width*4)
	light := make([][3]float32, width)

	for i := 0; i < width; i++ {
		x := i + p.colorMin
		a := p.opacityAt(x)
		c, l := p.colorAt(x)
		if inverse {
			c = RGB{1 - c.R, 1 - c.G, 1 - c.B}
		}
		colors[i*4] = toByte(c.R)
		colors[i*4+1] = toByte(c.G)
		colors[i*4+2] = toByte(c.B)
		colors[i*4+3] = toByte(a)
		light[i] = l
	}

	var lighting []byte
	if shared, ok := p.sharedLighting(); ok {
		lighting = encodeLighting([][3]float32{shared})
	} else {
		lighting = encodeLighting(light)
	}

	p.mu.Lock()
	p.colors = colors
	p.lighting = lighting
	p.inverse = inverse
	p.built = true
	p.mu.Unlock()
	p.requiresRebuild.Store(false)
}

// Colors returns the RGBA8 LUT of the last build, Width entries long.
func (p *Preset) Colors() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colors
}

// Lighting returns the RGBA8 lighting row of the last build: one texel per
// LUT entry, or a single texel when every color point shares its
// coefficients. R, G and B hold ambient, diffuse and specular.
func (p *Preset) Lighting() (data []byte, width int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lighting, len(p.lighting) / 4
}

// opacityAt interpolates opacity at x. Past the last point it is 0.
func (p *Preset) opacityAt(x int) float32 {
	i := lastAtOrBefore(p.points, x)
	if i < 0 {
		return 0
	}
	start := p.points[i]
	if start.Intensity == x {
		return start.Opacity
	}
	if i+1 >= len(p.points) {
		return 0
	}
	end := p.points[i+1]
	return lerpSpan(start.Intensity, end.Intensity, x, start.Opacity, end.Opacity)
}

// colorAt interpolates color and lighting at x between color-bearing points.
// Outside the color points the defaults apply.
func (p *Preset) colorAt(x int) (RGB, [3]float32) {
	defLight := [3]float32{DefaultAmbient, DefaultDiffuse, DefaultSpecular}
	i := lastAtOrBefore(p.colorPoints, x)
	if i < 0 {
		return RGB{}, defLight
	}
	start := p.colorPoints[i]
	if start.Intensity == x {
		return *start.Color, start.lighting()
	}
	if i+1 >= len(p.colorPoints) {
		return RGB{}, defLight
	}
	end := p.colorPoints[i+1]
	a, b := start.Intensity, end.Intensity
	c := RGB{
		R: lerpSpan(a, b, x, start.Color.R, end.Color.R),
		G: lerpSpan(a, b, x, start.Color.G, end.Color.G),
		B: lerpSpan(a, b, x, start.Color.B, end.Color.B),
	}
	ls, le := start.lighting(), end.lighting()
	var l [3]float32
	for k := range l {
		l[k] = lerpSpan(a, b, x, ls[k], le[k])
	}
	return c, l
}

// sharedLighting returns the common coefficients when every color point
// agrees. A preset without color points shares the defaults.
func (p *Preset) sharedLighting() ([3]float32, bool) {
	if len(p.colorPoints) == 0 {
		return [3]float32{DefaultAmbient, DefaultDiffuse, DefaultSpecular}, true
	}
	first := p.colorPoints[0].lighting()
	for _, pt := range p.colorPoints[1:] {
		if pt.lighting() != first {
			return first, false
		}
	}
	return first, true
}

// lastAtOrBefore returns the index of the last point with Intensity <= x,
// or -1.
func lastAtOrBefore(pts []Point, x int) int {
	pos := -1
	for i, pt := range pts {
		if pt.Intensity > x {
			break
		}
		pos = i
	}
	return pos
}

// lerpSpan interpolates from va at a towards vb at b, reaching vb one step
// before b. A one-wide span is a step holding va.
func lerpSpan(a, b, x int, va, vb float32) float32 {
	steps := b - a - 1
	if steps <= 0 {
		return va
	}
	t := float32(x-a) / float32(steps)
	return va + (vb-va)*t
}

func toByte(v float32) byte {
	return byte(math32.Round(clamp01(v) * 255))
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

func encodeLighting(ls [][3]float32) []byte {
	out := make([]byte, len(ls)*4)
	for i, l := range ls {
		out[i*4] = toByte(l[0])
		out[i*4+1] = toByte(l[1])
		out[i*4+2] = toByte(l[2])
		out[i*4+3] = 0xFF
	}
	return out
}
