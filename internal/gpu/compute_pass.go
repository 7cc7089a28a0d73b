package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Pass errors.
var (
	// ErrComputePassEnded is returned when operations are called on an ended compute pass.
	ErrComputePassEnded = errors.New("gpu: compute pass has already ended")

	// ErrNilComputePipeline is returned when SetPipeline is called with nil.
	ErrNilComputePipeline = errors.New("gpu: compute pipeline is nil")

	// ErrNilBindGroup is returned when SetBindGroup is called with nil.
	ErrNilBindGroup = errors.New("gpu: bind group is nil")

	// ErrBindGroupIndexOutOfRange is returned when bind group index exceeds maximum.
	ErrBindGroupIndexOutOfRange = errors.New("gpu: bind group index exceeds maximum (3)")

	// ErrNoPipelineBound is returned when dispatching before SetPipeline.
	ErrNoPipelineBound = errors.New("gpu: dispatch without a pipeline")

	// ErrFrameSubmitted is returned when recording into a submitted frame.
	ErrFrameSubmitted = errors.New("gpu: frame already submitted")
)

// ComputePassState represents the state of a compute pass.
type ComputePassState int

const (
	// ComputePassStateRecording means the pass is actively recording commands.
	ComputePassStateRecording ComputePassState = iota

	// ComputePassStateEnded means the pass has been ended.
	ComputePassStateEnded
)

// String returns the string representation of ComputePassState.
func (s ComputePassState) String() string {
	switch s {
	case ComputePassStateRecording:
		return "Recording"
	case ComputePassStateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ComputePass records compute commands into a HAL compute pass.
//
// ComputePass is NOT safe for concurrent use; it lives inside one frame.
//
// State Machine:
//
//	Recording -> End() -> Ended
type ComputePass struct {
	raw   hal.ComputePassEncoder
	state ComputePassState

	pipelineBound bool
	dispatchCount uint32
}

// State returns the current pass state.
func (p *ComputePass) State() ComputePassState {
	if p == nil {
		return ComputePassStateEnded
	}
	return p.state
}

// SetPipeline binds the compute pipeline for subsequent dispatches.
func (p *ComputePass) SetPipeline(pipeline hal.ComputePipeline) error {
	if p.state != ComputePassStateRecording {
		return fmt.Errorf("set pipeline: %w", ErrComputePassEnded)
	}
	if pipeline == nil {
		return ErrNilComputePipeline
	}
	p.raw.SetPipeline(pipeline)
	p.pipelineBound = true
	return nil
}

// SetBindGroup binds resources at index (0..3).
func (p *ComputePass) SetBindGroup(index uint32, group hal.BindGroup) error {
	if p.state != ComputePassStateRecording {
		return fmt.Errorf("set bind group: %w", ErrComputePassEnded)
	}
	if index > 3 {
		return fmt.Errorf("%w: index %d", ErrBindGroupIndexOutOfRange, index)
	}
	if group == nil {
		return ErrNilBindGroup
	}
	p.raw.SetBindGroup(index, group, nil)
	return nil
}

// Dispatch records a dispatch of x×y×z work groups.
func (p *ComputePass) Dispatch(x, y, z uint32) error {
	if p.state != ComputePassStateRecording {
		return fmt.Errorf("dispatch: %w", ErrComputePassEnded)
	}
	if !p.pipelineBound {
		return ErrNoPipelineBound
	}
	p.raw.Dispatch(x, y, z)
	p.dispatchCount++
	return nil
}

// DispatchCount returns the number of dispatches recorded.
func (p *ComputePass) DispatchCount() uint32 { return p.dispatchCount }

// End completes the pass. Calling End twice is a no-op.
func (p *ComputePass) End() {
	if p.state == ComputePassStateEnded {
		return
	}
	p.state = ComputePassStateEnded
	p.raw.End()
}

// Frame is one command encoder recorded and submitted while a Lease is held.
type Frame struct {
	lease     *Lease
	enc       hal.CommandEncoder
	submitted bool
}

// BeginFrame creates a command encoder and starts recording.
func BeginFrame(l *Lease, label string) (*Frame, error) {
	enc, err := l.Device().CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}
	return &Frame{lease: l, enc: enc}, nil
}

// BeginComputePass starts a compute pass.
func (f *Frame) BeginComputePass(label string) (*ComputePass, error) {
	if f.submitted {
		return nil, ErrFrameSubmitted
	}
	raw := f.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	return &ComputePass{raw: raw, state: ComputePassStateRecording}, nil
}

// Barrier makes storage writes to tex visible to later sampling.
func (f *Frame) Barrier(tex hal.Texture) {
	if tex == nil {
		return
	}
	f.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Range: hal.TextureRange{
			Aspect:          gputypes.TextureAspectAll,
			MipLevelCount:   1,
			ArrayLayerCount: 1,
		},
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageStorageBinding,
			NewUsage: gputypes.TextureUsageTextureBinding,
		},
	}})
}

// Submit finishes recording, submits the command buffer and waits for it.
func (f *Frame) Submit() error {
	if f.submitted {
		return ErrFrameSubmitted
	}
	f.submitted = true
	dev := f.lease.Device()
	defer f.enc.Destroy()

	cmd, err := f.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	defer dev.FreeCommandBuffer(cmd)

	if _, err := f.lease.Queue().Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	return f.lease.Flush()
}

// Discard abandons the frame without submitting.
func (f *Frame) Discard() {
	if f.submitted {
		return
	}
	f.submitted = true
	f.enc.DiscardEncoding()
	f.enc.Destroy()
}
