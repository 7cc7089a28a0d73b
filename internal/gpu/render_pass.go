package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Render pass errors.
var (
	// ErrRenderPassEnded is returned when operations are called on an ended render pass.
	ErrRenderPassEnded = errors.New("gpu: render pass has already ended")

	// ErrNilRenderPipeline is returned when SetPipeline is called with nil.
	ErrNilRenderPipeline = errors.New("gpu: render pipeline is nil")

	// ErrNilAttachment is returned when a render pass has no target view.
	ErrNilAttachment = errors.New("gpu: color attachment view is nil")

	// ErrEmptyViewport is returned for a viewport without area.
	ErrEmptyViewport = errors.New("gpu: viewport has no area")
)

// RenderPassState represents the state of a render pass.
type RenderPassState int

const (
	// RenderPassStateRecording means the pass is actively recording commands.
	RenderPassStateRecording RenderPassState = iota

	// RenderPassStateEnded means the pass has been ended.
	RenderPassStateEnded
)

// String returns the string representation of RenderPassState.
func (s RenderPassState) String() string {
	switch s {
	case RenderPassStateRecording:
		return "Recording"
	case RenderPassStateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// RenderPass records draw commands into a single-attachment HAL render pass.
//
// Like ComputePass it checks its state before forwarding, so a frame that
// went wrong halfway reports an error instead of recording into an ended
// encoder. RenderPass is NOT safe for concurrent use.
//
// State Machine:
//
//	Recording -> End() -> Ended
type RenderPass struct {
	raw   hal.RenderPassEncoder
	state RenderPassState

	pipelineBound bool
	drawCount     uint32
}

// State returns the current pass state.
func (p *RenderPass) State() RenderPassState {
	if p == nil {
		return RenderPassStateEnded
	}
	return p.state
}

// IsEnded returns true if the pass has been ended.
func (p *RenderPass) IsEnded() bool {
	return p.State() == RenderPassStateEnded
}

// SetPipeline binds the render pipeline for subsequent draws.
func (p *RenderPass) SetPipeline(pipeline hal.RenderPipeline) error {
	if p.state != RenderPassStateRecording {
		return fmt.Errorf("set pipeline: %w", ErrRenderPassEnded)
	}
	if pipeline == nil {
		return ErrNilRenderPipeline
	}
	p.raw.SetPipeline(pipeline)
	p.pipelineBound = true
	return nil
}

// SetBindGroup binds resources at index (0..3).
func (p *RenderPass) SetBindGroup(index uint32, group hal.BindGroup) error {
	if p.state != RenderPassStateRecording {
		return fmt.Errorf("set bind group: %w", ErrRenderPassEnded)
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

// SetViewport maps normalized device coordinates onto a width×height area
// at (x, y) with the full [0, 1] depth range.
func (p *RenderPass) SetViewport(x, y, width, height float32) error {
	if p.state != RenderPassStateRecording {
		return fmt.Errorf("set viewport: %w", ErrRenderPassEnded)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %gx%g", ErrEmptyViewport, width, height)
	}
	p.raw.SetViewport(x, y, width, height, 0, 1)
	return nil
}

// Draw issues a non-indexed draw of vertexCount vertices.
func (p *RenderPass) Draw(vertexCount, instanceCount uint32) error {
	if p.state != RenderPassStateRecording {
		return fmt.Errorf("draw: %w", ErrRenderPassEnded)
	}
	if !p.pipelineBound {
		return ErrNoPipelineBound
	}
	p.raw.Draw(vertexCount, instanceCount, 0, 0)
	p.drawCount++
	return nil
}

// DrawCount returns the number of draws recorded.
func (p *RenderPass) DrawCount() uint32 { return p.drawCount }

// End completes the pass. Calling End twice is a no-op.
func (p *RenderPass) End() {
	if p.state == RenderPassStateEnded {
		return
	}
	p.state = RenderPassStateEnded
	p.raw.End()
}

// BeginRenderPass starts a single-attachment render pass. When clearColor is
// non-nil the attachment is cleared to it; otherwise existing content is kept.
func (f *Frame) BeginRenderPass(label string, target hal.TextureView, clearColor *gputypes.Color) (*RenderPass, error) {
	if f.submitted {
		return nil, ErrFrameSubmitted
	}
	if target == nil {
		return nil, ErrNilAttachment
	}
	att := hal.RenderPassColorAttachment{
		View:    target,
		LoadOp:  gputypes.LoadOpLoad,
		StoreOp: gputypes.StoreOpStore,
	}
	if clearColor != nil {
		att.LoadOp = gputypes.LoadOpClear
		att.ClearValue = *clearColor
	}
	raw := f.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label:            label,
		ColorAttachments: []hal.RenderPassColorAttachment{att},
	})
	return &RenderPass{raw: raw, state: RenderPassStateRecording}, nil
}
