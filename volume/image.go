package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/gogpu/volren/internal/gpu"
)

// Image errors.
var (
	// ErrInvalidImage is returned for an image whose buffer does not match its header.
	ErrInvalidImage = errors.New("volume: invalid image")

	// ErrMismatchedSlice is returned when a slice differs in layout from the volume.
	ErrMismatchedSlice = errors.New("volume: slice does not match volume layout")
)

// SampleType is the scalar type of image samples.
type SampleType uint8

const (
	SampleUint8 SampleType = iota
	SampleUint16
	SampleInt16
	SampleFloat32
)

// String returns the string representation of SampleType.
func (t SampleType) String() string {
	switch t {
	case SampleUint8:
		return "uint8"
	case SampleUint16:
		return "uint16"
	case SampleInt16:
		return "int16"
	case SampleFloat32:
		return "float32"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Size returns the byte size of one sample.
func (t SampleType) Size() int {
	switch t {
	case SampleUint16, SampleInt16:
		return 2
	case SampleFloat32:
		return 4
	default:
		return 1
	}
}

// Image is a decoded slice. Pix holds Width*Height*Channels samples,
// row-major and little-endian.
type Image struct {
	Width    int
	Height   int
	Channels int
	Type     SampleType

	// BGR marks 8-bit color data in blue-green-red order.
	BGR bool

	Pix []byte
}

// Header is the layout of an image without its pixels.
type Header struct {
	Width    int
	Height   int
	Channels int
	Type     SampleType
}

// Header returns the image layout.
func (im *Image) Header() Header {
	return Header{Width: im.Width, Height: im.Height, Channels: im.Channels, Type: im.Type}
}

// Validate checks that Pix matches the header.
func (im *Image) Validate() error {
	if im == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if im.Width <= 0 || im.Height <= 0 || im.Channels <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrInvalidImage, im.Width, im.Height, im.Channels)
	}
	want := im.Width * im.Height * im.Channels * im.Type.Size()
	if len(im.Pix) != want {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidImage, len(im.Pix), want)
	}
	return nil
}

func (im *Image) sample(i int) float64 {
	switch im.Type {
	case SampleUint16:
		return float64(binary.LittleEndian.Uint16(im.Pix[i*2:]))
	case SampleInt16:
		//nolint:gosec // G115: reinterpreting the stored bits
		return float64(int16(binary.LittleEndian.Uint16(im.Pix[i*2:])))
	case SampleFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(im.Pix[i*4:])))
	default:
		return float64(im.Pix[i])
	}
}

// MinMax returns the smallest and largest sample over all channels.
func (im *Image) MinMax() (lo, hi float64) {
	n := im.Width * im.Height * im.Channels
	if n == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		v := im.sample(i)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// FormatFor returns the texture format storing images with header h.
func FormatFor(h Header) (gpu.PixelFormat, error) {
	switch {
	case h.Type == SampleUint8 && h.Channels == 1:
		return gpu.PixelFormatByte, nil
	case h.Type == SampleUint8 && h.Channels == 3:
		return gpu.PixelFormatRGB8, nil
	case h.Type == SampleUint8 && h.Channels == 4:
		return gpu.PixelFormatRGBA8, nil
	case h.Type == SampleUint16 && h.Channels == 1:
		return gpu.PixelFormatUnsignedShort16, nil
	case h.Type == SampleInt16 && h.Channels == 1:
		return gpu.PixelFormatSignedShort16, nil
	case h.Type == SampleFloat32 && h.Channels == 1:
		return gpu.PixelFormatFloat32, nil
	case h.Type == SampleFloat32 && h.Channels == 4:
		return gpu.PixelFormatRGBA32F, nil
	default:
		return 0, fmt.Errorf("%w: %d x %s", gpu.ErrUnsupportedFormat, h.Channels, h.Type)
	}
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	c := *im
	c.Pix = append([]byte(nil), im.Pix...)
	return &c
}

// SwapBGR returns the image with 8-bit color channels in RGB order.
// Other images are returned unchanged.
func (im *Image) SwapBGR() *Image {
	if !im.BGR || im.Type != SampleUint8 || im.Channels < 3 {
		return im
	}
	out := im.Clone()
	out.BGR = false
	for i := 0; i+2 < len(out.Pix); i += im.Channels {
		out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
	}
	return out
}

// BiasSigned returns signed 16-bit data shifted by +32768 into the unsigned
// range. The result keeps SampleInt16 as its type so the bias is undone on
// the GPU; its Pix holds unsigned values.
func (im *Image) BiasSigned() *Image {
	if im.Type != SampleInt16 {
		return im
	}
	out := im.Clone()
	for i := 0; i+1 < len(out.Pix); i += 2 {
		v := binary.LittleEndian.Uint16(out.Pix[i:])
		binary.LittleEndian.PutUint16(out.Pix[i:], v^0x8000)
	}
	return out
}

// Crop returns the top-left width×height window, padding with zeros when
// the image is smaller.
func (im *Image) Crop(width, height int) *Image {
	if width == im.Width && height == im.Height {
		return im
	}
	bpp := im.Channels * im.Type.Size()
	out := &Image{
		Width: width, Height: height, Channels: im.Channels, Type: im.Type, BGR: im.BGR,
		Pix: make([]byte, width*height*bpp),
	}
	rowBytes := min(width, im.Width) * bpp
	for y := 0; y < min(height, im.Height); y++ {
		copy(out.Pix[y*width*bpp:], im.Pix[y*im.Width*bpp:y*im.Width*bpp+rowBytes])
	}
	return out
}

// Resample scales the image to width×height with bilinear interpolation.
// Signed data must be biased first; it is resampled as unsigned 16-bit.
func (im *Image) Resample(width, height int) (*Image, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: resample to %dx%d", ErrInvalidImage, width, height)
	}
	if width == im.Width && height == im.Height {
		return im, nil
	}
	if im.Type == SampleFloat32 {
		return im.resampleFloat(width, height), nil
	}

	src, err := im.toStdImage()
	if err != nil {
		return nil, err
	}
	dstRect := image.Rect(0, 0, width, height)
	var dst draw.Image
	switch src.(type) {
	case *image.Gray:
		dst = image.NewGray(dstRect)
	case *image.Gray16:
		dst = image.NewGray16(dstRect)
	default:
		dst = image.NewNRGBA(dstRect)
	}
	draw.BiLinear.Scale(dst, dstRect, src, src.Bounds(), draw.Src, nil)
	return im.fromStdImage(dst, width, height), nil
}

func (im *Image) toStdImage() (image.Image, error) {
	r := image.Rect(0, 0, im.Width, im.Height)
	switch {
	case im.Type == SampleUint8 && im.Channels == 1:
		g := image.NewGray(r)
		copy(g.Pix, im.Pix)
		return g, nil
	case im.Type == SampleUint8 && (im.Channels == 3 || im.Channels == 4):
		n := image.NewNRGBA(r)
		for i, j := 0, 0; i < len(im.Pix); i, j = i+im.Channels, j+4 {
			copy(n.Pix[j:j+3], im.Pix[i:i+3])
			n.Pix[j+3] = 0xFF
			if im.Channels == 4 {
				n.Pix[j+3] = im.Pix[i+3]
			}
		}
		return n, nil
	case (im.Type == SampleUint16 || im.Type == SampleInt16) && im.Channels == 1:
		g := image.NewGray16(r)
		// image.Gray16 is big-endian.
		for i := 0; i+1 < len(im.Pix); i += 2 {
			g.Pix[i], g.Pix[i+1] = im.Pix[i+1], im.Pix[i]
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: cannot resample %d x %s", gpu.ErrUnsupportedFormat, im.Channels, im.Type)
	}
}

func (im *Image) fromStdImage(dst draw.Image, width, height int) *Image {
	out := &Image{Width: width, Height: height, Channels: im.Channels, Type: im.Type, BGR: im.BGR}
	switch d := dst.(type) {
	case *image.Gray:
		out.Pix = d.Pix
	case *image.Gray16:
		out.Pix = make([]byte, len(d.Pix))
		for i := 0; i+1 < len(d.Pix); i += 2 {
			out.Pix[i], out.Pix[i+1] = d.Pix[i+1], d.Pix[i]
		}
	case *image.NRGBA:
		out.Pix = make([]byte, width*height*im.Channels)
		for i, j := 0, 0; j < len(d.Pix); i, j = i+im.Channels, j+4 {
			copy(out.Pix[i:i+im.Channels], d.Pix[j:j+im.Channels])
		}
	}
	return out
}

// resampleFloat is a bilinear resize for float samples; the x/image
// scalers work on 16-bit channels and would quantize them.
func (im *Image) resampleFloat(width, height int) *Image {
	out := &Image{Width: width, Height: height, Channels: im.Channels, Type: im.Type,
		Pix: make([]byte, width*height*im.Channels*4)}
	sx := float64(im.Width) / float64(width)
	sy := float64(im.Height) / float64(height)
	at := func(x, y, c int) float64 { return im.sample((y*im.Width+x)*im.Channels + c) }
	for y := 0; y < height; y++ {
		fy := math.Max((float64(y)+0.5)*sy-0.5, 0)
		y0 := min(int(fy), im.Height-1)
		y1 := min(y0+1, im.Height-1)
		ty := fy - float64(y0)
		for x := 0; x < width; x++ {
			fx := math.Max((float64(x)+0.5)*sx-0.5, 0)
			x0 := min(int(fx), im.Width-1)
			x1 := min(x0+1, im.Width-1)
			tx := fx - float64(x0)
			for c := 0; c < im.Channels; c++ {
				top := at(x0, y0, c)*(1-tx) + at(x1, y0, c)*tx
				bottom := at(x0, y1, c)*(1-tx) + at(x1, y1, c)*tx
				v := float32(top*(1-ty) + bottom*ty)
				binary.LittleEndian.PutUint32(out.Pix[((y*width+x)*im.Channels+c)*4:], math.Float32bits(v))
			}
		}
	}
	return out
}
