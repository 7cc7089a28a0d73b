// Package gpu wraps the gogpu/wgpu HAL for the volume renderer.
//
// It owns every GPU object the renderer creates: the device context, 2D and
// 3D textures, the compute target and the shader programs. Nothing outside
// this package talks to hal.Device directly except through a Lease.
//
// # Context and leases
//
// A Context holds one hal.Device and its queue. It is an exclusive-access
// token: the loader goroutines and the render loop each Acquire a Lease,
// record or upload, Flush, and Release. The lease is never held across any
// wait other than the device flush.
//
//	lease, err := ctx.Acquire()
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	if err := tex.Allocate(lease); err != nil {
//	    return err
//	}
//	if err := tex.UploadSlice(lease.Queue(), z, pixels); err != nil {
//	    return err
//	}
//	return lease.Flush()
//
// # Textures
//
// Texture maps a PixelFormat to a storage format through LookupFormat.
// Three-channel data is widened to RGBA8 on upload and signed 16-bit data is
// stored biased in an R16Unorm texture; the shader undoes the bias using the
// DataType tag.
//
// # Programs
//
// Program compiles WGSL with naga, links a compute or render pipeline and
// owns a single uniform buffer at binding 0. Uniform values come from
// UniformFunc producers registered with BindUniform and run on every
// SetUniforms. A stage that fails to compile is logged and makes Link fail
// with ErrLinkFailure.
//
// The shader sources live in shaders/ and are embedded at build time.
//
// # Frames
//
// BeginFrame opens a command encoder under a lease. ComputePass and
// RenderPass check their state before forwarding to the HAL encoder, so a
// misordered call returns an error instead of corrupting the frame.
package gpu
