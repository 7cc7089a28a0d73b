// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/volren/internal/gpu/gputest"
	"github.com/gogpu/volren/internal/vlog"
)

// captureLog routes package logging into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	orig := vlog.Logger()
	t.Cleanup(func() { vlog.SetLogger(orig) })
	var buf bytes.Buffer
	vlog.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	return &buf
}

func TestTextureTarget(t *testing.T) {
	gctx, _ := gputest.NewContext()
	target, err := NewTextureTarget(gctx, 320, 200)
	if err != nil {
		t.Fatalf("NewTextureTarget() = %v", err)
	}

	if target.Width() != 320 || target.Height() != 200 {
		t.Errorf("size = %dx%d, want 320x200", target.Width(), target.Height())
	}
	if target.Format() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format() = %v, want RGBA8Unorm", target.Format())
	}
	if target.View() == nil {
		t.Error("View() should not be nil after allocation")
	}

	if err := target.Resize(64, 32); err != nil {
		t.Fatalf("Resize() = %v", err)
	}
	if target.Width() != 64 || target.Height() != 32 {
		t.Errorf("size after resize = %dx%d, want 64x32", target.Width(), target.Height())
	}
	if !target.Texture().IsAllocated() {
		t.Error("texture should be reallocated after resize")
	}

	target.Destroy()
	if !target.Texture().IsDestroyed() {
		t.Error("texture should be destroyed")
	}
	target.Destroy()
}

func TestTextureTarget_InvalidSize(t *testing.T) {
	gctx, _ := gputest.NewContext()
	if _, err := NewTextureTarget(gctx, 0, 10); err == nil {
		t.Error("NewTextureTarget(0, 10) should fail")
	}
}

func TestSurfaceTarget(t *testing.T) {
	view := &noop.Resource{}
	target := NewSurfaceTarget(1920, 1080, gputypes.TextureFormatBGRA8Unorm, view)

	if target.Width() != 1920 || target.Height() != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", target.Width(), target.Height())
	}
	if target.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v, want BGRA8Unorm", target.Format())
	}
	if target.View() != view {
		t.Error("View() should return the surface view")
	}

	target.SetView(nil, 800, 600)
	if target.View() != nil || target.Width() != 800 {
		t.Error("SetView() should replace view and size")
	}
}

func TestRenderTargetInterface(t *testing.T) {
	gctx, _ := gputest.NewContext()
	tex, err := NewTextureTarget(gctx, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	targets := []RenderTarget{
		tex,
		NewSurfaceTarget(8, 8, gputypes.TextureFormatBGRA8Unorm, &noop.Resource{}),
	}
	for _, target := range targets {
		if target.Width() != 8 || target.Height() != 8 {
			t.Errorf("%T size = %dx%d, want 8x8", target, target.Width(), target.Height())
		}
	}
}

func TestTextureTarget_DestroyOnClosedContextWarns(t *testing.T) {
	buf := captureLog(t)
	gctx, _ := gputest.NewContext()
	target, err := NewTextureTarget(gctx, 8, 8)
	if err != nil {
		t.Fatalf("NewTextureTarget() = %v", err)
	}
	gctx.Close()
	target.Destroy()

	out := buf.String()
	if !strings.Contains(out, "render: release target") || !strings.Contains(out, "gpu: context closed") {
		t.Errorf("release failure not logged, got: %s", out)
	}
}
