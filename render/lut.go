// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"fmt"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
	"github.com/gogpu/volren/preset"
)

// lutTextures holds the color and lighting rows of the active preset on the
// GPU. Both are width×1 RGBA8 textures.
type lutTextures struct {
	preset   *preset.Preset
	colors   *gpu.Texture
	lighting *gpu.Texture
	uploads  int
}

// sync rebuilds p if it is stale and uploads it when it is new or changed.
// It must be called with the lease held.
func (t *lutTextures) sync(l *gpu.Lease, p *preset.Preset, inverse bool) error {
	rebuilt := p.RebuildIfNeeded(inverse)
	if !rebuilt && p == t.preset && t.colors != nil && t.lighting != nil {
		return nil
	}

	colors := p.Colors()
	light, lightWidth := p.Lighting()

	var err error
	if t.colors, err = t.fit(l, t.colors, "lut:colors", p.Width()); err != nil {
		return err
	}
	if t.lighting, err = t.fit(l, t.lighting, "lut:lighting", lightWidth); err != nil {
		return err
	}
	if err := t.colors.Upload(l.Queue(), gpu.Region{Width: p.Width(), Height: 1, Depth: 1}, colors); err != nil {
		return fmt.Errorf("render: color LUT: %w", err)
	}
	if err := t.lighting.Upload(l.Queue(), gpu.Region{Width: lightWidth, Height: 1, Depth: 1}, light); err != nil {
		return fmt.Errorf("render: lighting LUT: %w", err)
	}
	t.colors.SetNeedsUpload(false)
	t.lighting.SetNeedsUpload(false)

	t.preset = p
	t.uploads++
	vlog.Logger().Debug("render: transfer function uploaded",
		"preset", p.String(), "width", p.Width(), "lighting", lightWidth)
	return nil
}

// fit returns tex if it already has the given width, otherwise a new
// allocated texture replacing it.
func (t *lutTextures) fit(l *gpu.Lease, tex *gpu.Texture, label string, width int) (*gpu.Texture, error) {
	if tex != nil && tex.Width() == width && tex.IsAllocated() {
		return tex, nil
	}
	if tex != nil {
		tex.Destroy(l.Device())
	}
	tex, err := gpu.NewTexture2D(label, width, 1, gpu.PixelFormatRGBA8)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", label, err)
	}
	if err := tex.Allocate(l); err != nil {
		return nil, err
	}
	return tex, nil
}

func (t *lutTextures) destroy(l *gpu.Lease) {
	if t.colors != nil {
		t.colors.Destroy(l.Device())
		t.colors = nil
	}
	if t.lighting != nil {
		t.lighting.Destroy(l.Device())
		t.lighting = nil
	}
	t.preset = nil
}
