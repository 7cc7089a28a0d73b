// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
)

// RenderTarget is where a frame is composited.
//
// Two implementations are provided:
//   - TextureTarget: an offscreen RGBA8 texture owned by the renderer
//   - SurfaceTarget: the current view of a host window surface
type RenderTarget interface {
	// Width returns the target width in pixels.
	Width() int

	// Height returns the target height in pixels.
	Height() int

	// Format returns the pixel format of the target.
	Format() gputypes.TextureFormat

	// View returns the view to draw into, or nil if there is none yet.
	View() hal.TextureView
}

// TextureTarget is an offscreen render target.
//
// Example:
//
//	target, _ := render.NewTextureTarget(gctx, 512, 512)
//	defer target.Destroy()
//	stats, err := orch.RenderFrame(target)
type TextureTarget struct {
	gctx *gpu.Context
	tex  *gpu.Texture
}

// NewTextureTarget creates and allocates an RGBA8 render target.
func NewTextureTarget(gctx *gpu.Context, width, height int) (*TextureTarget, error) {
	tex, err := gpu.NewRenderTarget("volren_target", width, height)
	if err != nil {
		return nil, err
	}
	if err := gctx.Do(tex.Allocate); err != nil {
		return nil, err
	}
	return &TextureTarget{gctx: gctx, tex: tex}, nil
}

// Width returns the target width in pixels.
func (t *TextureTarget) Width() int { return t.tex.Width() }

// Height returns the target height in pixels.
func (t *TextureTarget) Height() int { return t.tex.Height() }

// Format returns the pixel format (RGBA8).
func (t *TextureTarget) Format() gputypes.TextureFormat {
	return t.tex.Info().Storage
}

// View returns the texture view.
func (t *TextureTarget) View() hal.TextureView { return t.tex.View() }

// Texture returns the backing texture.
func (t *TextureTarget) Texture() *gpu.Texture { return t.tex }

// Resize changes the dimensions, reallocating the texture if they differ.
func (t *TextureTarget) Resize(width, height int) error {
	return t.gctx.Do(func(l *gpu.Lease) error {
		if _, err := t.tex.Resize(l.Device(), width, height, 1); err != nil {
			return err
		}
		return t.tex.Allocate(l)
	})
}

// Destroy releases the texture.
func (t *TextureTarget) Destroy() {
	err := t.gctx.Do(func(l *gpu.Lease) error {
		t.tex.Destroy(l.Device())
		return nil
	})
	if err != nil {
		vlog.Logger().Warn("render: release target", "label", t.tex.Label(), "err", err)
	}
}

// Ensure TextureTarget implements RenderTarget.
var _ RenderTarget = (*TextureTarget)(nil)

// SurfaceTarget wraps the current frame of a window surface owned by the
// host application. The host updates it with SetView every frame.
type SurfaceTarget struct {
	width  int
	height int
	format gputypes.TextureFormat
	view   hal.TextureView
}

// NewSurfaceTarget creates a target drawing into view.
func NewSurfaceTarget(width, height int, format gputypes.TextureFormat, view hal.TextureView) *SurfaceTarget {
	return &SurfaceTarget{
		width:  width,
		height: height,
		format: format,
		view:   view,
	}
}

// SetView replaces the view and size, typically once per presented frame.
func (t *SurfaceTarget) SetView(view hal.TextureView, width, height int) {
	t.view, t.width, t.height = view, width, height
}

// Width returns the surface width in pixels.
func (t *SurfaceTarget) Width() int { return t.width }

// Height returns the surface height in pixels.
func (t *SurfaceTarget) Height() int { return t.height }

// Format returns the surface pixel format.
func (t *SurfaceTarget) Format() gputypes.TextureFormat { return t.format }

// View returns the current frame's texture view.
func (t *SurfaceTarget) View() hal.TextureView { return t.view }

// Ensure SurfaceTarget implements RenderTarget.
var _ RenderTarget = (*SurfaceTarget)(nil)
