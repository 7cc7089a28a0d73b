package gpu

import (
	"math/bits"

	"github.com/gogpu/gputypes"
)

// DefaultLocalSize is the work-group edge of the ray-marching shader.
const DefaultLocalSize = 16

// MaxLocalSize is the largest work-group edge whose invocation count fits
// the WebGPU default maxComputeInvocationsPerWorkgroup of 256.
const MaxLocalSize = 16

// ComputeTexture is a 2D RGBA8 texture written by a compute shader and read
// back by the composite pass.
type ComputeTexture struct {
	*Texture
	localSize int
}

// NewComputeTexture creates an unallocated compute target. localSize <= 0
// selects DefaultLocalSize.
func NewComputeTexture(label string, width, height, localSize int) (*ComputeTexture, error) {
	t, err := newTexture(label, Texture2D, width, height, 1, PixelFormatRGBA8,
		gputypes.TextureUsageStorageBinding|gputypes.TextureUsageTextureBinding)
	if err != nil {
		return nil, err
	}
	if localSize <= 0 {
		localSize = DefaultLocalSize
	}
	return &ComputeTexture{Texture: t, localSize: localSize}, nil
}

// LocalSize returns the work-group edge.
func (c *ComputeTexture) LocalSize() int { return c.localSize }

// WorkGroups returns the dispatch size covering the whole texture. Each
// axis is rounded up to a power of two first so no edge texel is missed.
func (c *ComputeTexture) WorkGroups() (x, y, z uint32) {
	w, h, _ := c.Size()
	return workGroups(w, c.localSize), workGroups(h, c.localSize), 1
}

// Dispatch records a dispatch covering the texture on pass.
func (c *ComputeTexture) Dispatch(pass *ComputePass) error {
	x, y, z := c.WorkGroups()
	return pass.Dispatch(x, y, z)
}

func workGroups(n, local int) uint32 {
	p := max(nextPowerOfTwo(n), local)
	//nolint:gosec // G115: texture dimensions are bounded by device limits
	return uint32(max(p/local, 1))
}

// nextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1).
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
