package volume

import (
	"cmp"

	"gonum.org/v1/gonum/spatial/r3"
)

// Slice is one cross-sectional image of a series. Load may be slow; it is
// called from the loader goroutine.
type Slice interface {
	Load() (*Image, error)
	Geometry() SliceGeometry
}

// SliceGeometry is the patient-space placement of a slice. Fields the source
// does not provide are flagged missing.
type SliceGeometry struct {
	// Position of the first pixel, in millimeters.
	Position    r3.Vec
	HasPosition bool

	// Row and Col are the direction cosines of the image axes.
	Row, Col       r3.Vec
	HasOrientation bool

	// PixelSpacing is (column spacing, row spacing) in millimeters. Zero means
	// unknown.
	PixelSpacing [2]float64

	// InstanceNumber orders slices without positions.
	InstanceNumber int
}

// MemSlice is a slice held in memory.
type MemSlice struct {
	Image *Image
	Geom  SliceGeometry
}

// Load returns the image.
func (s *MemSlice) Load() (*Image, error) {
	if err := s.Image.Validate(); err != nil {
		return nil, err
	}
	return s.Image, nil
}

// Geometry returns the slice placement.
func (s *MemSlice) Geometry() SliceGeometry { return s.Geom }

// ByPosition orders slices along their normal, falling back to instance
// number when either slice has no position or orientation.
func ByPosition(a, b Slice) int {
	ga, gb := a.Geometry(), b.Geometry()
	if ga.HasPosition && gb.HasPosition && ga.HasOrientation {
		n := r3.Cross(ga.Row, ga.Col)
		if c := cmp.Compare(r3.Dot(ga.Position, n), r3.Dot(gb.Position, n)); c != 0 {
			return c
		}
	}
	return cmp.Compare(ga.InstanceNumber, gb.InstanceNumber)
}

// subsample picks depth slices uniformly when there are more than depth.
func subsample(slices []Slice, depth int) []Slice {
	if depth <= 0 || len(slices) <= depth {
		return slices
	}
	out := make([]Slice, depth)
	for i := range out {
		out[i] = slices[i*len(slices)/depth]
	}
	return out
}
