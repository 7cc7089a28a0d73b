package volume

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/preset"
)

// ErrNoSlices is returned when a volume is built from an empty series.
var ErrNoSlices = errors.New("volume: no slices")

// Initial level range, kept until slices widen it.
const (
	DefaultLevelMin = -1024
	DefaultLevelMax = 3071
)

// EventKind is the type of a volume notification.
type EventKind uint8

const (
	// EventPartiallyLoaded is sent periodically while slices stream in.
	EventPartiallyLoaded EventKind = iota

	// EventFullyLoaded is sent once every slice is on the GPU.
	EventFullyLoaded

	// EventFailed is sent when streaming stops on an error.
	EventFailed
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventPartiallyLoaded:
		return "PartiallyLoaded"
	case EventFullyLoaded:
		return "FullyLoaded"
	case EventFailed:
		return "Failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to volume subscribers.
type Event struct {
	Kind   EventKind
	Volume *Volume
	Loaded int
	Total  int
	Err    error
}

// Options configures NewVolume.
type Options struct {
	// ID identifies the series; it is the cache key.
	ID string

	Modality string
	Slices   []Slice

	// Less orders the slices. Defaults to ByPosition.
	Less func(a, b Slice) int

	// MaxDepth caps the number of slices; extra slices are skipped
	// uniformly. Zero means no cap.
	MaxDepth int

	// MaxTextureDim is the largest allowed texture dimension, usually the
	// device's MaxTextureDimension3D. Larger volumes are scaled down
	// uniformly. Zero means no limit.
	MaxTextureDim int

	// Header is the pixel layout of the slices. When zero, the first slice
	// is loaded to find it.
	Header Header

	// Regions marks a segmentation label volume.
	Regions []preset.Region
}

// Volume is a series of slices destined for a 3D texture.
//
// The texture is filled by a Loader; the getters are safe for concurrent use.
type Volume struct {
	id       string
	modality string
	slices   []Slice
	header   Header
	format   gpu.PixelFormat
	info     gpu.FormatInfo
	width    int
	height   int
	depth    int
	scale    float64
	geom     *Geometry

	mu        sync.Mutex
	tex       *gpu.Texture
	levelMin  float64
	levelMax  float64
	regions   []preset.Region
	listeners map[int]func(Event)
	nextSub   int
	loader    *Loader
}

// NewVolume sorts, subsamples and sizes the series and creates its
// unallocated texture.
func NewVolume(opts Options) (*Volume, error) {
	if len(opts.Slices) == 0 {
		return nil, ErrNoSlices
	}
	less := opts.Less
	if less == nil {
		less = ByPosition
	}
	sorted := slices.Clone(opts.Slices)
	slices.SortStableFunc(sorted, less)
	sorted = subsample(sorted, opts.MaxDepth)

	header := opts.Header
	if header == (Header{}) {
		img, err := sorted[0].Load()
		if err != nil {
			return nil, fmt.Errorf("volume: %s: first slice: %w", opts.ID, err)
		}
		header = img.Header()
	}
	format, err := FormatFor(header)
	if err != nil {
		return nil, err
	}
	info, err := gpu.LookupFormat(format)
	if err != nil {
		return nil, err
	}

	w, h, d := header.Width, header.Height, len(sorted)
	scale := 1.0
	if opts.MaxTextureDim > 0 {
		if m := max(w, h, d); m > opts.MaxTextureDim {
			scale = float64(opts.MaxTextureDim) / float64(m)
		}
	}
	if scale < 1 {
		w = scaleDim(w, scale)
		h = scaleDim(h, scale)
		d = scaleDim(d, scale)
		sorted = subsample(sorted, d)
	}

	v := &Volume{
		id:        opts.ID,
		modality:  opts.Modality,
		slices:    sorted,
		header:    header,
		format:    format,
		info:      info,
		width:     w,
		height:    h,
		depth:     d,
		scale:     scale,
		geom:      NewGeometry(scale),
		levelMin:  DefaultLevelMin,
		levelMax:  DefaultLevelMax,
		regions:   slices.Clone(opts.Regions),
		listeners: make(map[int]func(Event)),
	}
	if v.tex, err = v.newTexture(); err != nil {
		return nil, err
	}
	return v, nil
}

func scaleDim(n int, scale float64) int {
	return max(1, int(math.Round(float64(n)*scale)))
}

func (v *Volume) newTexture() (*gpu.Texture, error) {
	return gpu.NewTexture3D("volume:"+v.id, v.width, v.height, v.depth, v.format)
}

// ID returns the series identity.
func (v *Volume) ID() string { return v.id }

// Modality returns the modality, e.g. "CT".
func (v *Volume) Modality() string { return v.modality }

// Size returns the texture dimensions.
func (v *Volume) Size() (width, height, depth int) { return v.width, v.height, v.depth }

// Scale returns the factor applied to every dimension to fit the device.
func (v *Volume) Scale() float64 { return v.scale }

// Format returns the texture pixel format.
func (v *Volume) Format() gpu.PixelFormat { return v.format }

// DataType returns the shader decode tag of the texture.
func (v *Volume) DataType() gpu.DataType { return v.info.DataType }

// IsColor reports whether the volume holds color samples.
func (v *Volume) IsColor() bool { return v.info.DataType == gpu.DataTypeColor }

// Geometry returns the accumulated spatial layout.
func (v *Volume) Geometry() *Geometry { return v.geom }

// Slices returns the ordered slices that feed the texture.
func (v *Volume) Slices() []Slice { return v.slices }

// Texture returns the 3D texture.
func (v *Volume) Texture() *gpu.Texture {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tex
}

// SizeBytes returns the GPU memory the texture occupies once allocated.
func (v *Volume) SizeBytes() uint64 {
	//nolint:gosec // G115: dimensions are positive
	return uint64(v.width) * uint64(v.height) * uint64(v.depth) * uint64(v.info.StorageBytesPerPixel())
}

// IsReadyForDisplay reports whether the texture exists on the GPU.
func (v *Volume) IsReadyForDisplay() bool { return v.Texture().ID() > 0 }

// Levels returns the intensity range seen so far.
func (v *Volume) Levels() (lo, hi float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.levelMin, v.levelMax
}

// DecodeRange returns the intensities that texture values 0 and 1 decode
// to: the full range of the storage type for 8 and 16-bit integer data,
// the level range otherwise.
func (v *Volume) DecodeRange() (lo, hi float64) {
	switch v.info.Scalar {
	case gpu.ScalarUint8:
		return 0, math.MaxUint8
	case gpu.ScalarUint16:
		return 0, math.MaxUint16
	case gpu.ScalarInt16:
		return math.MinInt16, math.MaxInt16
	default:
		return v.Levels()
	}
}

func (v *Volume) widenLevels(lo, hi float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.levelMin = math.Min(v.levelMin, lo)
	v.levelMax = math.Max(v.levelMax, hi)
}

// Regions returns the segmentation regions, or nil for an image volume.
func (v *Volume) Regions() []preset.Region {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.regions)
}

// SetRegions replaces the segmentation regions.
func (v *Volume) SetRegions(regions []preset.Region) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.regions = slices.Clone(regions)
}

// IsSegmentation reports whether the volume carries regions.
func (v *Volume) IsSegmentation() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.regions) > 0
}

// Loader returns the loader attached by NewLoader, or nil.
func (v *Volume) Loader() *Loader {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loader
}

// Subscribe registers fn for volume events and returns a function that
// removes it. Events are delivered on the loader goroutine; fn must not
// call Loader.Stop.
func (v *Volume) Subscribe(fn func(Event)) (unsubscribe func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSub
	v.nextSub++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

func (v *Volume) emit(e Event) {
	e.Volume = v
	v.mu.Lock()
	fns := make([]func(Event), 0, len(v.listeners))
	for id := 0; id < v.nextSub; id++ {
		if fn, ok := v.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// prepare converts a loaded slice into texture bytes.
func (v *Volume) prepare(img *Image) ([]byte, error) {
	if img.Channels != v.header.Channels || img.Type != v.header.Type {
		return nil, fmt.Errorf("%w: %d x %s, volume is %d x %s",
			ErrMismatchedSlice, img.Channels, img.Type, v.header.Channels, v.header.Type)
	}
	img = img.SwapBGR().BiasSigned()
	if v.scale != 1 {
		out, err := img.Resample(v.width, v.height)
		if err != nil {
			return nil, err
		}
		return out.Pix, nil
	}
	return img.Crop(v.width, v.height).Pix, nil
}

// renewTexture replaces a destroyed texture so streaming can start over.
func (v *Volume) renewTexture() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.tex.IsDestroyed() {
		return nil
	}
	tex, err := v.newTexture()
	if err != nil {
		return err
	}
	v.tex = tex
	return nil
}

// Destroy releases the texture. The volume can be streamed again.
func (v *Volume) Destroy(gctx *gpu.Context) error {
	tex := v.Texture()
	if tex.IsDestroyed() {
		return nil
	}
	return gctx.Do(func(l *gpu.Lease) error {
		tex.Destroy(l.Device())
		return nil
	})
}
