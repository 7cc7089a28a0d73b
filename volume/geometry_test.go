package volume

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	axisX = r3.Vec{X: 1}
	axisY = r3.Vec{Y: 1}
)

func axialGeom(z float64) SliceGeometry {
	return SliceGeometry{
		Position: r3.Vec{Z: z}, HasPosition: true,
		Row: axisX, Col: axisY, HasOrientation: true,
		PixelSpacing: [2]float64{0.5, 0.5},
	}
}

func TestGeometry_Observe(t *testing.T) {
	g := NewGeometry(1)
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, g.Spacing())

	g.Observe(0, axialGeom(10))
	assert.Equal(t, 1.0, g.Spacing().Z, "one slice has no depth spacing")
	g.Observe(1, axialGeom(12.5))
	g.Observe(2, axialGeom(15))
	assert.Equal(t, r3.Vec{X: 0.5, Y: 0.5, Z: 2.5}, g.Spacing())
	assert.Equal(t, r3.Vec{Z: 1}, g.Normal())
}

func TestGeometry_OrientationFromFirstSlice(t *testing.T) {
	g := NewGeometry(1)
	g.Observe(0, axialGeom(0))
	other := axialGeom(1)
	other.Row, other.Col = axisY, axisX
	g.Observe(1, other)
	row, col, ok := g.Orientation()
	assert.True(t, ok)
	assert.Equal(t, axisX, row)
	assert.Equal(t, axisY, col)
}

func TestGeometry_ScaleWidensPixelSpacing(t *testing.T) {
	g := NewGeometry(0.5)
	g.Observe(0, axialGeom(0))
	s := g.Spacing()
	assert.Equal(t, 1.0, s.X)
	assert.Equal(t, 1.0, s.Y)
}

func TestGeometry_TexelSize(t *testing.T) {
	g := NewGeometry(1)
	g.Observe(0, SliceGeometry{Position: r3.Vec{}, HasPosition: true, Row: axisX, Col: axisY,
		HasOrientation: true, PixelSpacing: [2]float64{1, 1}})
	g.Observe(1, SliceGeometry{Position: r3.Vec{Z: 2}, HasPosition: true, Row: axisX, Col: axisY,
		HasOrientation: true, PixelSpacing: [2]float64{1, 1}})

	ts := g.TexelSize(100, 200, 50)
	assert.InDelta(t, 0.01, ts.X, 1e-12)
	assert.InDelta(t, 0.005, ts.Y, 1e-12)
	assert.InDelta(t, 0.01, ts.Z, 1e-12, "50 slices 2 mm apart span 100 fine units")
}

func TestGeometry_Plane(t *testing.T) {
	tests := []struct {
		name     string
		row, col r3.Vec
		want     Plane
	}{
		{"axial", axisX, axisY, PlaneAxial},
		{"coronal", axisX, r3.Vec{Z: -1}, PlaneCoronal},
		{"sagittal", axisY, r3.Vec{Z: -1}, PlaneSagittal},
		{"oblique", axisX, r3.Vec{Y: 0.7071, Z: 0.7071}, PlaneOblique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGeometry(1)
			g.Observe(0, SliceGeometry{Row: tt.row, Col: tt.col, HasOrientation: true})
			assert.Equal(t, tt.want, g.Plane())
			assert.Equal(t, tt.name, strings.ToLower(tt.want.String()))
		})
	}

	assert.Equal(t, PlaneUnknown, NewGeometry(1).Plane())
}

func TestByPosition(t *testing.T) {
	a := &MemSlice{Geom: axialGeom(5)}
	b := &MemSlice{Geom: axialGeom(-5)}
	assert.Positive(t, ByPosition(a, b))
	assert.Negative(t, ByPosition(b, a))

	c := &MemSlice{Geom: SliceGeometry{InstanceNumber: 2}}
	d := &MemSlice{Geom: SliceGeometry{InstanceNumber: 1}}
	assert.Positive(t, ByPosition(c, d))
}

func TestSubsample(t *testing.T) {
	in := make([]Slice, 10)
	for i := range in {
		in[i] = &MemSlice{Geom: SliceGeometry{InstanceNumber: i}}
	}
	out := subsample(in, 4)
	got := make([]int, len(out))
	for i, s := range out {
		got[i] = s.Geometry().InstanceNumber
	}
	assert.Equal(t, []int{0, 2, 5, 7}, got)
	assert.Len(t, subsample(in, 0), 10)
	assert.Len(t, subsample(in, 20), 10)
}
