package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// ErrUnsupportedFormat is returned when a pixel format has no GPU storage mapping.
var ErrUnsupportedFormat = errors.New("gpu: unsupported pixel format")

// PixelFormat is the sample layout of texture data as produced on the CPU side.
type PixelFormat uint8

const (
	// PixelFormatByte is one unsigned 8-bit channel.
	PixelFormatByte PixelFormat = iota

	// PixelFormatUnsignedShort16 is one unsigned 16-bit channel.
	PixelFormatUnsignedShort16

	// PixelFormatSignedShort16 is one signed 16-bit channel. Samples are biased
	// by +32768 on upload and unbiased in the shader.
	PixelFormatSignedShort16

	// PixelFormatFloat32 is one 32-bit float channel.
	PixelFormatFloat32

	// PixelFormatRGB8 is three 8-bit channels, expanded to four on upload.
	PixelFormatRGB8

	// PixelFormatRGBA8 is four 8-bit channels.
	PixelFormatRGBA8

	// PixelFormatRGBA32F is four 32-bit float channels.
	PixelFormatRGBA32F
)

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatByte:
		return "Byte"
	case PixelFormatUnsignedShort16:
		return "UnsignedShort16"
	case PixelFormatSignedShort16:
		return "SignedShort16"
	case PixelFormatFloat32:
		return "Float32"
	case PixelFormatRGB8:
		return "RGB8"
	case PixelFormatRGBA8:
		return "RGBA8"
	case PixelFormatRGBA32F:
		return "RGBA32F"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// ScalarType is the per-channel scalar representation of a pixel format.
type ScalarType uint8

const (
	ScalarUint8 ScalarType = iota
	ScalarUint16
	ScalarInt16
	ScalarFloat32
)

// Size returns the byte size of one scalar.
func (s ScalarType) Size() int {
	switch s {
	case ScalarUint16, ScalarInt16:
		return 2
	case ScalarFloat32:
		return 4
	default:
		return 1
	}
}

// DataType is the tag pushed to the ray-marching shader so it can decode
// sampled values back into intensities.
type DataType int32

const (
	// DataTypeUnsigned marks normalized unsigned data.
	DataTypeUnsigned DataType = iota

	// DataTypeSigned marks biased signed 16-bit data.
	DataTypeSigned

	// DataTypeFloat marks raw float data.
	DataTypeFloat

	// DataTypeColor marks RGB(A) color data that bypasses the color LUT.
	DataTypeColor
)

// FormatInfo describes how a pixel format is stored on the GPU.
type FormatInfo struct {
	// Storage is the GPU texture format.
	Storage gputypes.TextureFormat

	// Channels is the number of channels in the source data.
	Channels int

	// StorageChannels is the number of channels of Storage. It differs from
	// Channels only for RGB8.
	StorageChannels int

	// Scalar is the per-channel scalar type.
	Scalar ScalarType

	// DataType is the shader decode tag.
	DataType DataType
}

// SourceBytesPerPixel returns the size of one source pixel in bytes.
func (fi FormatInfo) SourceBytesPerPixel() int {
	return fi.Channels * fi.Scalar.Size()
}

// StorageBytesPerPixel returns the size of one stored texel in bytes.
func (fi FormatInfo) StorageBytesPerPixel() int {
	return fi.StorageChannels * fi.Scalar.Size()
}

// formatTable is resolved once per texture at construction.
var formatTable = map[PixelFormat]FormatInfo{
	PixelFormatByte: {
		Storage: gputypes.TextureFormatR8Unorm, Channels: 1, StorageChannels: 1,
		Scalar: ScalarUint8, DataType: DataTypeUnsigned,
	},
	PixelFormatUnsignedShort16: {
		Storage: gputypes.TextureFormatR16Unorm, Channels: 1, StorageChannels: 1,
		Scalar: ScalarUint16, DataType: DataTypeUnsigned,
	},
	PixelFormatSignedShort16: {
		Storage: gputypes.TextureFormatR16Unorm, Channels: 1, StorageChannels: 1,
		Scalar: ScalarInt16, DataType: DataTypeSigned,
	},
	PixelFormatFloat32: {
		Storage: gputypes.TextureFormatR32Float, Channels: 1, StorageChannels: 1,
		Scalar: ScalarFloat32, DataType: DataTypeFloat,
	},
	PixelFormatRGB8: {
		Storage: gputypes.TextureFormatRGBA8Unorm, Channels: 3, StorageChannels: 4,
		Scalar: ScalarUint8, DataType: DataTypeColor,
	},
	PixelFormatRGBA8: {
		Storage: gputypes.TextureFormatRGBA8Unorm, Channels: 4, StorageChannels: 4,
		Scalar: ScalarUint8, DataType: DataTypeColor,
	},
	PixelFormatRGBA32F: {
		Storage: gputypes.TextureFormatRGBA32Float, Channels: 4, StorageChannels: 4,
		Scalar: ScalarFloat32, DataType: DataTypeColor,
	},
}

// LookupFormat returns the storage mapping for f.
func LookupFormat(f PixelFormat) (FormatInfo, error) {
	info, ok := formatTable[f]
	if !ok {
		return FormatInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return info, nil
}
