package gpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Texture errors.
var (
	// ErrInvalidDimensions is returned for non-positive texture dimensions.
	ErrInvalidDimensions = errors.New("gpu: invalid texture dimensions")

	// ErrTextureDestroyed is returned when operating on a destroyed texture.
	ErrTextureDestroyed = errors.New("gpu: texture has been destroyed")

	// ErrTextureNotAllocated is returned when uploading before Allocate.
	ErrTextureNotAllocated = errors.New("gpu: texture not allocated")

	// ErrRegionOutOfBounds is returned when an upload region exceeds the texture.
	ErrRegionOutOfBounds = errors.New("gpu: upload region out of bounds")

	// ErrDataSize is returned when upload data does not match the region size.
	ErrDataSize = errors.New("gpu: upload data size mismatch")

	// ErrUploadFailure wraps errors reported by the queue during an upload.
	ErrUploadFailure = errors.New("gpu: texture upload failed")
)

// TextureKind distinguishes 2D and 3D textures.
type TextureKind uint8

const (
	// Texture2D is a single-layer 2D texture.
	Texture2D TextureKind = iota

	// Texture3D is a volume texture.
	Texture3D
)

// String returns the string representation of TextureKind.
func (k TextureKind) String() string {
	switch k {
	case Texture2D:
		return "2D"
	case Texture3D:
		return "3D"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// DefaultTextureUsage is the usage of sampled textures filled from the CPU.
const DefaultTextureUsage = gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding

// Region is a box inside a texture, in texels.
type Region struct {
	X, Y, Z              int
	Width, Height, Depth int
}

// Texture is a GPU texture whose format and dimensions are fixed at
// construction. The GPU object is created by Allocate; until then ID
// reports 0.
//
// Allocate, Upload and Destroy must be called while holding a Lease of the
// owning Context. The getters are safe for concurrent use.
type Texture struct {
	mu sync.Mutex

	label  string
	kind   TextureKind
	width  int
	height int
	depth  int
	format PixelFormat
	info   FormatInfo
	usage  gputypes.TextureUsage

	tex  hal.Texture
	view hal.TextureView

	id          atomic.Uint32
	needsUpload atomic.Bool
	destroyed   atomic.Bool
}

// NewTexture2D creates an unallocated 2D texture.
func NewTexture2D(label string, width, height int, format PixelFormat) (*Texture, error) {
	return newTexture(label, Texture2D, width, height, 1, format, DefaultTextureUsage)
}

// NewTexture3D creates an unallocated 3D texture.
func NewTexture3D(label string, width, height, depth int, format PixelFormat) (*Texture, error) {
	return newTexture(label, Texture3D, width, height, depth, format, DefaultTextureUsage)
}

// NewRenderTarget creates an unallocated RGBA8 2D texture usable as a
// render pass attachment.
func NewRenderTarget(label string, width, height int) (*Texture, error) {
	return newTexture(label, Texture2D, width, height, 1, PixelFormatRGBA8,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopySrc)
}

func newTexture(label string, kind TextureKind, w, h, d int, format PixelFormat, usage gputypes.TextureUsage) (*Texture, error) {
	info, err := LookupFormat(format)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 || d <= 0 || (kind == Texture2D && d != 1) {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, w, h, d)
	}
	return &Texture{
		label:  label,
		kind:   kind,
		width:  w,
		height: h,
		depth:  d,
		format: format,
		info:   info,
		usage:  usage,
	}, nil
}

// ID returns the texture id, or 0 if the texture is not allocated.
func (t *Texture) ID() int { return int(t.id.Load()) }

// IsAllocated reports whether the GPU object exists.
func (t *Texture) IsAllocated() bool { return t.id.Load() > 0 }

// Kind returns whether the texture is 2D or 3D.
func (t *Texture) Kind() TextureKind { return t.kind }

// Format returns the source pixel format.
func (t *Texture) Format() PixelFormat { return t.format }

// Info returns the storage mapping of the format.
func (t *Texture) Info() FormatInfo { return t.info }

// Label returns the debug label.
func (t *Texture) Label() string { return t.label }

// Size returns width, height and depth.
func (t *Texture) Size() (width, height, depth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height, t.depth
}

// Width returns the texture width.
func (t *Texture) Width() int {
	w, _, _ := t.Size()
	return w
}

// Height returns the texture height.
func (t *Texture) Height() int {
	_, h, _ := t.Size()
	return h
}

// Depth returns the texture depth (1 for 2D textures).
func (t *Texture) Depth() int {
	_, _, d := t.Size()
	return d
}

// SizeBytes returns the GPU storage size.
func (t *Texture) SizeBytes() uint64 {
	w, h, d := t.Size()
	//nolint:gosec // G115: dimensions validated at construction
	return uint64(w) * uint64(h) * uint64(d) * uint64(t.info.StorageBytesPerPixel())
}

// NeedsUpload reports whether the CPU-side content changed since the last upload.
func (t *Texture) NeedsUpload() bool { return t.needsUpload.Load() }

// SetNeedsUpload marks the content as stale or fresh.
func (t *Texture) SetNeedsUpload(v bool) { t.needsUpload.Store(v) }

// View returns the texture view, or nil if not allocated.
func (t *Texture) View() hal.TextureView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Raw returns the HAL texture, or nil if not allocated.
func (t *Texture) Raw() hal.Texture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tex
}

// Allocate creates the GPU texture and its view. It is a no-op if the
// texture is already allocated.
func (t *Texture) Allocate(l *Lease) error {
	if t.destroyed.Load() {
		return ErrTextureDestroyed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tex != nil {
		return nil
	}

	dim := gputypes.TextureDimension2D
	viewDim := gputypes.TextureViewDimension2D
	if t.kind == Texture3D {
		dim = gputypes.TextureDimension3D
		viewDim = gputypes.TextureViewDimension3D
	}

	dev := l.Device()
	//nolint:gosec // G115: dimensions validated at construction
	tex, err := dev.CreateTexture(&hal.TextureDescriptor{
		Label: t.label,
		Size: hal.Extent3D{
			Width:              uint32(t.width),
			Height:             uint32(t.height),
			DepthOrArrayLayers: uint32(t.depth),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        t.info.Storage,
		Usage:         t.usage,
	})
	if err != nil {
		return fmt.Errorf("gpu: create texture %q: %w", t.label, err)
	}

	view, err := dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         t.label + "_view",
		Format:        t.info.Storage,
		Dimension:     viewDim,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		dev.DestroyTexture(tex)
		return fmt.Errorf("gpu: create texture view %q: %w", t.label, err)
	}

	t.tex = tex
	t.view = view
	t.id.Store(l.Context().NextID())
	t.needsUpload.Store(true)
	return nil
}

// Resize changes the dimensions. If they differ, the GPU object is released
// and the texture must be allocated again. It reports whether anything changed.
func (t *Texture) Resize(dev hal.Device, width, height, depth int) (bool, error) {
	if width <= 0 || height <= 0 || depth <= 0 || (t.kind == Texture2D && depth != 1) {
		return false, fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, width, height, depth)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.width == width && t.height == height && t.depth == depth {
		return false, nil
	}
	t.releaseLocked(dev)
	t.width, t.height, t.depth = width, height, depth
	return true, nil
}

// Upload replaces a region of the texture. For 3D textures the region must
// be a single depth slice. Data is tightly packed in the source format.
func (t *Texture) Upload(q hal.Queue, r Region, data []byte) error {
	if t.destroyed.Load() {
		return ErrTextureDestroyed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tex == nil {
		return ErrTextureNotAllocated
	}
	if r.Depth != 1 {
		return fmt.Errorf("%w: depth %d, uploads are one slice at a time", ErrRegionOutOfBounds, r.Depth)
	}
	if r.X < 0 || r.Y < 0 || r.Z < 0 || r.Width <= 0 || r.Height <= 0 ||
		r.X+r.Width > t.width || r.Y+r.Height > t.height || r.Z >= t.depth {
		return fmt.Errorf("%w: %+v in %dx%dx%d", ErrRegionOutOfBounds, r, t.width, t.height, t.depth)
	}
	want := r.Width * r.Height * t.info.SourceBytesPerPixel()
	if len(data) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrDataSize, len(data), want)
	}
	if t.info.Channels != t.info.StorageChannels {
		data = expandChannels(data, t.info)
	}

	//nolint:gosec // G115: region validated above
	err := q.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(r.X), Y: uint32(r.Y), Z: uint32(r.Z)},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(r.Width * t.info.StorageBytesPerPixel()),
			RowsPerImage: uint32(r.Height),
		},
		&hal.Extent3D{Width: uint32(r.Width), Height: uint32(r.Height), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("%w: %s z=%d: %w", ErrUploadFailure, t.label, r.Z, err)
	}
	return nil
}

// UploadSlice uploads a full width×height layer at depth z.
func (t *Texture) UploadSlice(q hal.Queue, z int, data []byte) error {
	w, h, _ := t.Size()
	return t.Upload(q, Region{Z: z, Width: w, Height: h, Depth: 1}, data)
}

// Destroy releases the GPU object. Subsequent calls do nothing.
func (t *Texture) Destroy(dev hal.Device) {
	if t.destroyed.Swap(true) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(dev)
}

// IsDestroyed reports whether Destroy was called.
func (t *Texture) IsDestroyed() bool { return t.destroyed.Load() }

func (t *Texture) releaseLocked(dev hal.Device) {
	if t.view != nil {
		dev.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.tex != nil {
		dev.DestroyTexture(t.tex)
		t.tex = nil
	}
	t.id.Store(0)
}

// expandChannels pads each pixel with opaque channels up to the storage
// channel count. Only 8-bit layouts are padded.
func expandChannels(src []byte, info FormatInfo) []byte {
	n := len(src) / info.Channels
	dst := make([]byte, n*info.StorageChannels)
	for i := 0; i < n; i++ {
		s := src[i*info.Channels : (i+1)*info.Channels]
		d := dst[i*info.StorageChannels : (i+1)*info.StorageChannels]
		copy(d, s)
		for c := info.Channels; c < info.StorageChannels; c++ {
			d[c] = 0xFF
		}
	}
	return dst
}
