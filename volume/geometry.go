package volume

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plane classifies the slice orientation.
type Plane uint8

const (
	PlaneUnknown Plane = iota
	PlaneAxial
	PlaneCoronal
	PlaneSagittal
	PlaneOblique
)

// String returns the string representation of Plane.
func (p Plane) String() string {
	switch p {
	case PlaneUnknown:
		return "Unknown"
	case PlaneAxial:
		return "Axial"
	case PlaneCoronal:
		return "Coronal"
	case PlaneSagittal:
		return "Sagittal"
	case PlaneOblique:
		return "Oblique"
	default:
		return fmt.Sprintf("Plane(%d)", int(p))
	}
}

// planeTolerance is the minimum normal component for a named plane.
const planeTolerance = 0.9

// Geometry accumulates the spatial layout of a volume as its slices are
// observed. It is safe for concurrent use.
type Geometry struct {
	mu sync.RWMutex

	scale float64

	row, col       r3.Vec
	hasOrientation bool

	pixelSpacing [2]float64
	depthSpacing float64

	lastProj float64
	observed int
}

// NewGeometry returns a geometry for slices rescaled by scale. Spacing
// defaults to 1 mm until slices provide it.
func NewGeometry(scale float64) *Geometry {
	if scale <= 0 {
		scale = 1
	}
	return &Geometry{
		scale:        scale,
		pixelSpacing: [2]float64{1 / scale, 1 / scale},
		depthSpacing: 1,
	}
}

// Observe records the geometry of the index-th loaded slice. Orientation and
// pixel spacing come from the first slice; depth spacing is the distance of
// consecutive slices along the normal.
func (g *Geometry) Observe(index int, sg SliceGeometry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if index == 0 {
		g.observed = 0
		if sg.HasOrientation {
			g.row, g.col = sg.Row, sg.Col
			g.hasOrientation = true
		}
		if sg.PixelSpacing[0] > 0 && sg.PixelSpacing[1] > 0 {
			g.pixelSpacing = [2]float64{sg.PixelSpacing[0] / g.scale, sg.PixelSpacing[1] / g.scale}
		}
	}

	if sg.HasPosition && g.hasOrientation {
		proj := r3.Dot(sg.Position, g.normalLocked())
		if g.observed > 0 {
			if d := math.Abs(proj - g.lastProj); d > 0 {
				g.depthSpacing = d
			}
		}
		g.lastProj = proj
	}
	g.observed++
}

func (g *Geometry) normalLocked() r3.Vec {
	if !g.hasOrientation {
		return r3.Vec{Z: 1}
	}
	n := r3.Unit(r3.Cross(g.row, g.col))
	if math.IsNaN(n.X) {
		return r3.Vec{Z: 1}
	}
	return n
}

// Normal returns the unit slice normal, +Z when unknown.
func (g *Geometry) Normal() r3.Vec {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.normalLocked()
}

// Orientation returns the row and column direction cosines.
func (g *Geometry) Orientation() (row, col r3.Vec, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.row, g.col, g.hasOrientation
}

// Spacing returns the voxel size in millimeters along x, y and z.
func (g *Geometry) Spacing() r3.Vec {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return r3.Vec{X: g.pixelSpacing[0], Y: g.pixelSpacing[1], Z: g.depthSpacing}
}

// TexelSize returns the normalized texel size for a width×height×depth
// texture: the reciprocal of each dimension's physical extent, measured in
// units of the finest spacing. The ray marcher derives both its step and
// the proportions of the bounding box from it.
func (g *Geometry) TexelSize(width, height, depth int) r3.Vec {
	s := g.Spacing()
	m := math.Min(s.X, math.Min(s.Y, s.Z))
	if m <= 0 {
		m = 1
	}
	ext := func(n int, sp float64) float64 {
		if n <= 0 {
			return 1
		}
		return 1 / (float64(n) * sp / m)
	}
	return r3.Vec{X: ext(width, s.X), Y: ext(height, s.Y), Z: ext(depth, s.Z)}
}

// Plane classifies the slice orientation by the dominant normal axis.
func (g *Geometry) Plane() Plane {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasOrientation {
		return PlaneUnknown
	}
	n := g.normalLocked()
	switch {
	case math.Abs(n.Z) >= planeTolerance:
		return PlaneAxial
	case math.Abs(n.Y) >= planeTolerance:
		return PlaneCoronal
	case math.Abs(n.X) >= planeTolerance:
		return PlaneSagittal
	default:
		return PlaneOblique
	}
}
