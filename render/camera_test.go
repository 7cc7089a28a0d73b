// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func transform(m mat.Matrix, p r3.Vec) r3.Vec {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1}))
	w := out.AtVec(3)
	return r3.Vec{X: out.AtVec(0) / w, Y: out.AtVec(1) / w, Z: out.AtVec(2) / w}
}

func TestStaticCamera_View(t *testing.T) {
	cam := NewStaticCamera(r3.Vec{Z: 5}, r3.Vec{}, r3.Vec{Y: 1})

	eye := transform(cam.View(), r3.Vec{Z: 5})
	assert.InDelta(t, 0, r3.Norm(eye), 1e-12)

	target := transform(cam.View(), r3.Vec{})
	assert.InDelta(t, -5, target.Z, 1e-12)

	right := transform(cam.View(), r3.Vec{X: 1})
	assert.InDelta(t, 1, right.X, 1e-12)
}

func TestStaticCamera_ProjectionDepthRange(t *testing.T) {
	cam := NewStaticCamera(r3.Vec{Z: 5}, r3.Vec{}, r3.Vec{Y: 1})
	near := transform(cam.Projection(), r3.Vec{Z: -cam.near})
	far := transform(cam.Projection(), r3.Vec{Z: -cam.far})
	assert.InDelta(t, -1, near.Z, 1e-9)
	assert.InDelta(t, 1, far.Z, 1e-9)
}

func TestStaticCamera_Adjusting(t *testing.T) {
	cam := NewStaticCamera(r3.Vec{Z: 5}, r3.Vec{}, r3.Vec{Y: 1})
	assert.False(t, cam.IsAdjusting())
	cam.SetAdjusting(true)
	assert.True(t, cam.IsAdjusting())

	cam.SetEye(r3.Vec{X: 3})
	assert.Equal(t, r3.Vec{X: 3}, cam.RayOrigin())

	cam.SetAspect(-1)
	assert.Equal(t, 1.0, cam.aspect)
	cam.SetAspect(2)
	assert.Equal(t, 2.0, cam.aspect)
}

func TestColumnMajor(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	got := columnMajor(m)
	assert.Equal(t, [16]float32{1, 5, 9, 13, 2, 6, 10, 14, 3, 7, 11, 15, 4, 8, 12, 16}, got)
}

func TestRayMatrices(t *testing.T) {
	cam := NewStaticCamera(r3.Vec{X: 1, Y: 2, Z: 5}, r3.Vec{X: 1, Y: 2}, r3.Vec{Y: 1})
	view, _, err := rayMatrices(cam)
	require.NoError(t, err)
	// The inverted view carries the eye position in its translation column.
	assert.InDelta(t, 1, view[12], 1e-6)
	assert.InDelta(t, 2, view[13], 1e-6)
	assert.InDelta(t, 5, view[14], 1e-6)
	assert.InDelta(t, 1, view[15], 1e-6)
}

type flatCamera struct{ *StaticCamera }

func (flatCamera) Projection() *mat.Dense { return mat.NewDense(4, 4, nil) }

func TestRayMatrices_Singular(t *testing.T) {
	cam := flatCamera{NewStaticCamera(r3.Vec{Z: 5}, r3.Vec{}, r3.Vec{Y: 1})}
	_, _, err := rayMatrices(cam)
	assert.ErrorIs(t, err, ErrSingularMatrix)
}
