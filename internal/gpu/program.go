package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren/internal/vlog"
)

// Program errors.
var (
	// ErrShaderCompile marks a stage that failed to compile.
	ErrShaderCompile = errors.New("gpu: shader compile failed")

	// ErrLinkFailure is returned when a program cannot be linked.
	ErrLinkFailure = errors.New("gpu: program link failed")

	// ErrProgramDestroyed is returned when using a destroyed program.
	ErrProgramDestroyed = errors.New("gpu: program destroyed")

	// ErrMissingResource is returned when a declared resource slot has nothing bound.
	ErrMissingResource = errors.New("gpu: resource slot not bound")
)

// StageKind is a programmable pipeline stage.
type StageKind uint8

const (
	StageVertex StageKind = iota
	StageFragment
	StageCompute
)

// String returns the string representation of StageKind.
func (k StageKind) String() string {
	switch k {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Stage is one shader stage of a program.
type Stage struct {
	Kind       StageKind
	Source     string
	EntryPoint string
}

// ResourceKind is the type of a non-uniform binding.
type ResourceKind uint8

const (
	ResourceTexture2D ResourceKind = iota
	ResourceTexture3D
	ResourceSampler
	ResourceStorageTexture
)

// ResourceSlot declares a texture or sampler binding. Binding 0 is reserved
// for the uniform block when the program has one.
type ResourceSlot struct {
	Binding uint32
	Kind    ResourceKind

	// Format is the storage texture format (ResourceStorageTexture only).
	Format gputypes.TextureFormat
}

// ProgramDescriptor describes a Program.
type ProgramDescriptor struct {
	Label     string
	Stages    []Stage
	Uniforms  *UniformLayout
	Resources []ResourceSlot

	// ColorTarget and Blend configure render programs.
	ColorTarget gputypes.TextureFormat
	Blend       *gputypes.BlendState

	// Compiler defaults to NagaCompiler.
	Compiler Compiler
}

// StageDiagnostic is the compile result of one stage.
type StageDiagnostic struct {
	Stage StageKind
	Err   error
}

type uniformBinding struct {
	name     string
	location int
	produce  UniformFunc
}

// Program is a set of shader stages linked into a pipeline, with named
// uniform slots fed by producer callbacks.
//
// Compile failures are logged and recorded but not returned; Link then
// fails with ErrLinkFailure and the program stays unusable.
type Program struct {
	mu sync.Mutex

	desc    ProgramDescriptor
	compute bool

	modules     []hal.ShaderModule
	diagnostics []StageDiagnostic
	compiled    bool
	linked      bool
	linkErr     error
	destroyed   bool

	bindLayout  hal.BindGroupLayout
	pipeLayout  hal.PipelineLayout
	computePipe hal.ComputePipeline
	renderPipe  hal.RenderPipeline

	uniformBuf hal.Buffer
	staging    []byte
	bindings   []*uniformBinding

	resources map[uint32]hal.NativeHandle
	bindGroup hal.BindGroup
	bindDirty bool
}

// NewProgram creates an uncompiled program.
func NewProgram(desc ProgramDescriptor) *Program {
	if desc.Compiler == nil {
		desc.Compiler = NagaCompiler
	}
	p := &Program{
		desc:      desc,
		resources: make(map[uint32]hal.NativeHandle),
		bindDirty: true,
	}
	for _, s := range desc.Stages {
		if s.Kind == StageCompute {
			p.compute = true
		}
	}
	if desc.Uniforms != nil {
		p.staging = make([]byte, desc.Uniforms.Size())
	}
	return p
}

// Label returns the program label.
func (p *Program) Label() string { return p.desc.Label }

// Diagnostics returns the per-stage compile results of the last Compile.
func (p *Program) Diagnostics() []StageDiagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StageDiagnostic, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

// Usable reports whether the program linked successfully.
func (p *Program) Usable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linked && !p.destroyed
}

// Compile compiles every stage into a shader module. Failed stages are
// logged with their diagnostic and left nil.
func (p *Program) Compile(dev hal.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compileLocked(dev)
}

func (p *Program) compileLocked(dev hal.Device) {
	p.destroyModulesLocked(dev)
	p.modules = make([]hal.ShaderModule, len(p.desc.Stages))
	p.diagnostics = make([]StageDiagnostic, len(p.desc.Stages))

	for i, s := range p.desc.Stages {
		p.diagnostics[i].Stage = s.Kind
		code, err := p.desc.Compiler(s.Source)
		if err == nil {
			p.modules[i], err = dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
				Label:  fmt.Sprintf("%s_%s", p.desc.Label, s.Kind),
				Source: hal.ShaderSource{SPIRV: code},
			})
		}
		if err != nil {
			p.diagnostics[i].Err = fmt.Errorf("%w: %s %s stage: %w", ErrShaderCompile, p.desc.Label, s.Kind, err)
			vlog.Logger().Warn("gpu: shader compile failed",
				"program", p.desc.Label, "stage", s.Kind.String(), "diagnostic", err)
			continue
		}
	}
	p.compiled = true
}

// Link builds the pipeline from the compiled stages and frees the stage
// modules afterwards.
func (p *Program) Link(dev hal.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkLocked(dev)
}

func (p *Program) linkLocked(dev hal.Device) error {
	if p.destroyed {
		return ErrProgramDestroyed
	}
	if !p.compiled {
		p.compileLocked(dev)
	}
	defer p.destroyModulesLocked(dev)

	var errs []error
	for _, d := range p.diagnostics {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	if len(p.desc.Stages) == 0 {
		errs = append(errs, errors.New("no stages"))
	}
	if len(errs) > 0 {
		return p.failLink(errors.Join(errs...))
	}

	if err := p.createPipelineLocked(dev); err != nil {
		p.destroyPipelineLocked(dev)
		return p.failLink(err)
	}
	p.linked = true
	p.linkErr = nil
	vlog.Logger().Debug("gpu: program linked", "program", p.desc.Label, "uniformBytes", len(p.staging))
	return nil
}

func (p *Program) failLink(cause error) error {
	p.linkErr = fmt.Errorf("%w: %s: %w", ErrLinkFailure, p.desc.Label, cause)
	vlog.Logger().Warn("gpu: program link failed", "program", p.desc.Label, "err", cause)
	return p.linkErr
}

func (p *Program) visibility() gputypes.ShaderStages {
	if p.compute {
		return gputypes.ShaderStageCompute
	}
	return gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
}

func (p *Program) layoutEntries() []gputypes.BindGroupLayoutEntry {
	vis := p.visibility()
	var entries []gputypes.BindGroupLayoutEntry
	if p.desc.Uniforms != nil {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: vis,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	for _, r := range p.desc.Resources {
		e := gputypes.BindGroupLayoutEntry{Binding: r.Binding, Visibility: vis}
		switch r.Kind {
		case ResourceTexture2D:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case ResourceTexture3D:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension3D,
			}
		case ResourceSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		case ResourceStorageTexture:
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        r.Format,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func (p *Program) createPipelineLocked(dev hal.Device) error {
	label := p.desc.Label
	var err error

	p.bindLayout, err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: p.layoutEntries(),
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	p.pipeLayout, err = dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	if p.compute {
		p.computePipe, err = dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  label + "_pipeline",
			Layout: p.pipeLayout,
			Compute: hal.ComputeState{
				Module:     p.modules[0],
				EntryPoint: p.desc.Stages[0].EntryPoint,
			},
		})
		if err != nil {
			return fmt.Errorf("create compute pipeline: %w", err)
		}
	} else {
		if err := p.createRenderPipelineLocked(dev); err != nil {
			return err
		}
	}

	if p.desc.Uniforms != nil {
		p.uniformBuf, err = dev.CreateBuffer(&hal.BufferDescriptor{
			Label: label + "_uniforms",
			Size:  uint64(len(p.staging)),
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create uniform buffer: %w", err)
		}
	}
	p.bindDirty = true
	return nil
}

func (p *Program) createRenderPipelineLocked(dev hal.Device) error {
	var vs, fs int = -1, -1
	for i, s := range p.desc.Stages {
		switch s.Kind {
		case StageVertex:
			vs = i
		case StageFragment:
			fs = i
		}
	}
	if vs < 0 || fs < 0 {
		return errors.New("render program needs a vertex and a fragment stage")
	}
	target := p.desc.ColorTarget
	if target == gputypes.TextureFormatUndefined {
		target = gputypes.TextureFormatRGBA8Unorm
	}

	pipe, err := dev.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  p.desc.Label + "_pipeline",
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.modules[vs],
			EntryPoint: p.desc.Stages[vs].EntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     p.modules[fs],
			EntryPoint: p.desc.Stages[fs].EntryPoint,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    target,
					Blend:     p.desc.Blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}
	p.renderPipe = pipe
	return nil
}

// Use compiles and links the program on first use. A program that failed
// to link keeps returning the link error; call Destroy and rebuild it.
func (p *Program) Use(dev hal.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrProgramDestroyed
	}
	if p.linked {
		return nil
	}
	if p.linkErr != nil {
		return p.linkErr
	}
	return p.linkLocked(dev)
}

// BindUniform registers a producer for the uniform called name and returns
// its location. The location is resolved once here; an unknown name yields
// -1 and the producer is never called.
func (p *Program) BindUniform(name string, produce UniformFunc) int {
	loc := -1
	if p.desc.Uniforms != nil {
		loc = p.desc.Uniforms.Offset(name)
	}
	if loc < 0 {
		vlog.Logger().Debug("gpu: unknown uniform", "program", p.desc.Label, "name", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindings = append(p.bindings, &uniformBinding{name: name, location: loc, produce: produce})
	return loc
}

// Location returns the location bound for name, or -1.
func (p *Program) Location(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.bindings {
		if b.name == name {
			return b.location
		}
	}
	return -1
}

// BindingCount returns the number of registered uniform bindings.
func (p *Program) BindingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bindings)
}

// SetUniforms runs every producer and uploads the uniform block.
func (p *Program) SetUniforms(q hal.Queue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.linked {
		return fmt.Errorf("%w: %s not linked", ErrLinkFailure, p.desc.Label)
	}
	if p.desc.Uniforms == nil {
		return nil
	}
	for _, b := range p.bindings {
		if b.location < 0 || b.produce == nil {
			continue
		}
		slot := p.desc.Uniforms.slots[b.name]
		b.produce(&Uniform{buf: p.staging, slot: slot})
	}
	if err := q.WriteBuffer(p.uniformBuf, 0, p.staging); err != nil {
		return fmt.Errorf("gpu: write uniforms %s: %w", p.desc.Label, err)
	}
	return nil
}

// UniformBytes returns a copy of the staged uniform block.
func (p *Program) UniformBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.staging))
	copy(out, p.staging)
	return out
}

// BindResource attaches a texture view or sampler to a declared slot.
func (p *Program) BindResource(binding uint32, res hal.NativeHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.resources[binding]; ok && old == res {
		return
	}
	p.resources[binding] = res
	p.bindDirty = true
}

// BindGroup returns the bind group for the current resources, rebuilding it
// when a resource changed.
func (p *Program) BindGroup(dev hal.Device) (hal.BindGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.linked {
		return nil, fmt.Errorf("%w: %s not linked", ErrLinkFailure, p.desc.Label)
	}
	if !p.bindDirty && p.bindGroup != nil {
		return p.bindGroup, nil
	}

	var entries []gputypes.BindGroupEntry
	if p.desc.Uniforms != nil {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: p.uniformBuf.NativeHandle(),
				Size:   uint64(len(p.staging)),
			},
		})
	}
	for _, slot := range p.desc.Resources {
		res, ok := p.resources[slot.Binding]
		if !ok || res == nil {
			return nil, fmt.Errorf("%w: %s binding %d", ErrMissingResource, p.desc.Label, slot.Binding)
		}
		var r gputypes.BindingResource
		if slot.Kind == ResourceSampler {
			r = gputypes.SamplerBinding{Sampler: res.NativeHandle()}
		} else {
			r = gputypes.TextureViewBinding{TextureView: res.NativeHandle()}
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: slot.Binding, Resource: r})
	}

	group, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.desc.Label + "_bind_group",
		Layout:  p.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create bind group %s: %w", p.desc.Label, err)
	}
	if p.bindGroup != nil {
		dev.DestroyBindGroup(p.bindGroup)
	}
	p.bindGroup = group
	p.bindDirty = false
	return group, nil
}

// ComputePipeline returns the compute pipeline, or nil.
func (p *Program) ComputePipeline() hal.ComputePipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.computePipe
}

// RenderPipeline returns the render pipeline, or nil.
func (p *Program) RenderPipeline() hal.RenderPipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderPipe
}

// Destroy frees any remaining stage modules, the pipeline and its layouts,
// and clears the uniform bindings.
func (p *Program) Destroy(dev hal.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.destroyModulesLocked(dev)
	p.destroyPipelineLocked(dev)
	p.bindings = nil
	p.resources = make(map[uint32]hal.NativeHandle)
	p.linked = false
}

func (p *Program) destroyModulesLocked(dev hal.Device) {
	for i, m := range p.modules {
		if m != nil {
			dev.DestroyShaderModule(m)
			p.modules[i] = nil
		}
	}
}

func (p *Program) destroyPipelineLocked(dev hal.Device) {
	if p.bindGroup != nil {
		dev.DestroyBindGroup(p.bindGroup)
		p.bindGroup = nil
	}
	if p.computePipe != nil {
		dev.DestroyComputePipeline(p.computePipe)
		p.computePipe = nil
	}
	if p.renderPipe != nil {
		dev.DestroyRenderPipeline(p.renderPipe)
		p.renderPipe = nil
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.uniformBuf != nil {
		dev.DestroyBuffer(p.uniformBuf)
		p.uniformBuf = nil
	}
	p.bindDirty = true
}
