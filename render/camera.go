// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSingularMatrix is returned when a camera matrix cannot be inverted.
var ErrSingularMatrix = errors.New("render: singular camera matrix")

// Camera supplies the matrices the ray marcher starts from.
type Camera interface {
	// View maps world space to eye space.
	View() *mat.Dense

	// Projection maps eye space to clip space.
	Projection() *mat.Dense

	// RayOrigin is the eye position in world space.
	RayOrigin() r3.Vec

	// IsAdjusting reports an interaction in progress, during which frames
	// are rendered at reduced quality.
	IsAdjusting() bool
}

// StaticCamera is a look-at camera with a perspective projection.
// It is safe for concurrent use.
type StaticCamera struct {
	mu        sync.Mutex
	eye       r3.Vec
	target    r3.Vec
	up        r3.Vec
	fovY      float64
	aspect    float64
	near, far float64
	adjusting bool
}

// NewStaticCamera returns a camera at eye looking at target, with a 30°
// vertical field of view.
func NewStaticCamera(eye, target, up r3.Vec) *StaticCamera {
	return &StaticCamera{
		eye:    eye,
		target: target,
		up:     up,
		fovY:   30 * math.Pi / 180,
		aspect: 1,
		near:   0.01,
		far:    100,
	}
}

// SetAspect sets width/height of the viewport.
func (c *StaticCamera) SetAspect(aspect float64) {
	if aspect <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
}

// SetEye moves the camera.
func (c *StaticCamera) SetEye(eye r3.Vec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eye = eye
}

// SetAdjusting marks the start or end of an interaction.
func (c *StaticCamera) SetAdjusting(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjusting = on
}

// IsAdjusting implements Camera.
func (c *StaticCamera) IsAdjusting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adjusting
}

// RayOrigin implements Camera.
func (c *StaticCamera) RayOrigin() r3.Vec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eye
}

// View implements Camera.
func (c *StaticCamera) View() *mat.Dense {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := r3.Unit(r3.Sub(c.target, c.eye))
	s := r3.Unit(r3.Cross(f, c.up))
	u := r3.Cross(s, f)
	return mat.NewDense(4, 4, []float64{
		s.X, s.Y, s.Z, -r3.Dot(s, c.eye),
		u.X, u.Y, u.Z, -r3.Dot(u, c.eye),
		-f.X, -f.Y, -f.Z, r3.Dot(f, c.eye),
		0, 0, 0, 1,
	})
}

// Projection implements Camera.
func (c *StaticCamera) Projection() *mat.Dense {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := 1 / math.Tan(c.fovY/2)
	nf := c.near - c.far
	return mat.NewDense(4, 4, []float64{
		f / c.aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (c.far + c.near) / nf, 2 * c.far * c.near / nf,
		0, 0, -1, 0,
	})
}

// inverse returns the inverse of m.
func inverse(m mat.Matrix) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSingularMatrix, err)
	}
	return &inv, nil
}

// columnMajor flattens a 4×4 matrix in the order WGSL mat4x4 expects.
func columnMajor(m mat.Matrix) [16]float32 {
	var out [16]float32
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			out[c*4+r] = float32(m.At(r, c))
		}
	}
	return out
}

// rayMatrices returns the inverted view and projection of cam, ready for
// the shader, which unprojects screen positions back into world space.
func rayMatrices(cam Camera) (view, proj [16]float32, err error) {
	iv, err := inverse(cam.View())
	if err != nil {
		return view, proj, fmt.Errorf("render: view: %w", err)
	}
	ip, err := inverse(cam.Projection())
	if err != nil {
		return view, proj, fmt.Errorf("render: projection: %w", err)
	}
	return columnMajor(iv), columnMajor(ip), nil
}
