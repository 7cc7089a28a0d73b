package volume

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/internal/gpu"
)

func int16Image(w, h int, vals ...int16) *Image {
	im := &Image{Width: w, Height: h, Channels: 1, Type: SampleInt16, Pix: make([]byte, w*h*2)}
	for i := 0; i < w*h; i++ {
		v := vals[i%len(vals)]
		binary.LittleEndian.PutUint16(im.Pix[i*2:], uint16(v)) //nolint:gosec // test data
	}
	return im
}

func uint16At(im *Image, i int) uint16 { return binary.LittleEndian.Uint16(im.Pix[i*2:]) }

func TestImage_Validate(t *testing.T) {
	tests := []struct {
		name string
		im   *Image
		ok   bool
	}{
		{"nil", nil, false},
		{"zero width", &Image{Height: 1, Channels: 1}, false},
		{"short buffer", &Image{Width: 2, Height: 2, Channels: 1, Type: SampleUint16, Pix: make([]byte, 4)}, false},
		{"valid", int16Image(2, 2, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.im.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidImage)
			}
		})
	}
}

func TestImage_MinMax(t *testing.T) {
	lo, hi := int16Image(3, 1, -1500, 12, 3500).MinMax()
	assert.Equal(t, -1500.0, lo)
	assert.Equal(t, 3500.0, hi)
}

func TestImage_SwapBGR(t *testing.T) {
	im := &Image{Width: 2, Height: 1, Channels: 3, Type: SampleUint8, BGR: true,
		Pix: []byte{1, 2, 3, 4, 5, 6}}
	out := im.SwapBGR()
	assert.Equal(t, []byte{3, 2, 1, 6, 5, 4}, out.Pix)
	assert.False(t, out.BGR)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, im.Pix, "source untouched")

	gray := &Image{Width: 1, Height: 1, Channels: 1, Type: SampleUint8, BGR: true, Pix: []byte{7}}
	assert.Same(t, gray, gray.SwapBGR())
}

func TestImage_BiasSigned(t *testing.T) {
	out := int16Image(3, 1, math.MinInt16, 0, math.MaxInt16).BiasSigned()
	assert.Equal(t, uint16(0), uint16At(out, 0))
	assert.Equal(t, uint16(32768), uint16At(out, 1))
	assert.Equal(t, uint16(65535), uint16At(out, 2))
}

func TestImage_CropPads(t *testing.T) {
	im := &Image{Width: 2, Height: 2, Channels: 1, Type: SampleUint8, Pix: []byte{1, 2, 3, 4}}
	out := im.Crop(3, 1)
	assert.Equal(t, []byte{1, 2, 0}, out.Pix)
}

func TestImage_Resample(t *testing.T) {
	t.Run("gray uniform", func(t *testing.T) {
		im := &Image{Width: 2, Height: 2, Channels: 1, Type: SampleUint8, Pix: []byte{90, 90, 90, 90}}
		out, err := im.Resample(4, 4)
		require.NoError(t, err)
		require.NoError(t, out.Validate())
		for _, b := range out.Pix {
			assert.Equal(t, byte(90), b)
		}
	})
	t.Run("gray16 keeps byte order", func(t *testing.T) {
		im := &Image{Width: 4, Height: 4, Channels: 1, Type: SampleUint16, Pix: make([]byte, 32)}
		for i := 0; i < 16; i++ {
			binary.LittleEndian.PutUint16(im.Pix[i*2:], 1000)
		}
		out, err := im.Resample(2, 2)
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			assert.Equal(t, uint16(1000), uint16At(out, i))
		}
	})
	t.Run("rgb", func(t *testing.T) {
		im := &Image{Width: 1, Height: 1, Channels: 3, Type: SampleUint8, Pix: []byte{10, 20, 30}}
		out, err := im.Resample(2, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte{10, 20, 30, 10, 20, 30, 10, 20, 30, 10, 20, 30}, out.Pix)
	})
	t.Run("float interpolates", func(t *testing.T) {
		im := &Image{Width: 2, Height: 1, Channels: 1, Type: SampleFloat32, Pix: make([]byte, 8)}
		binary.LittleEndian.PutUint32(im.Pix[0:], math.Float32bits(0))
		binary.LittleEndian.PutUint32(im.Pix[4:], math.Float32bits(1))
		out, err := im.Resample(4, 1)
		require.NoError(t, err)
		var prev float64 = -1
		for i := 0; i < 4; i++ {
			v := out.sample(i)
			assert.GreaterOrEqual(t, v, prev)
			assert.InDelta(t, 0.5, v, 0.5)
			prev = v
		}
	})
	t.Run("bad size", func(t *testing.T) {
		_, err := int16Image(2, 2, 0).Resample(0, 2)
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		h    Header
		want gpu.PixelFormat
		err  bool
	}{
		{Header{Channels: 1, Type: SampleUint8}, gpu.PixelFormatByte, false},
		{Header{Channels: 3, Type: SampleUint8}, gpu.PixelFormatRGB8, false},
		{Header{Channels: 4, Type: SampleUint8}, gpu.PixelFormatRGBA8, false},
		{Header{Channels: 1, Type: SampleUint16}, gpu.PixelFormatUnsignedShort16, false},
		{Header{Channels: 1, Type: SampleInt16}, gpu.PixelFormatSignedShort16, false},
		{Header{Channels: 1, Type: SampleFloat32}, gpu.PixelFormatFloat32, false},
		{Header{Channels: 4, Type: SampleFloat32}, gpu.PixelFormatRGBA32F, false},
		{Header{Channels: 2, Type: SampleUint16}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got, err := FormatFor(tt.h)
			if tt.err {
				assert.ErrorIs(t, err, gpu.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
