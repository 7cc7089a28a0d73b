// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
	"github.com/gogpu/volren/preset"
	"github.com/gogpu/volren/volume"
)

// quadVertexCount is the six vertices of the two composite triangles.
const quadVertexCount = 6

// RenderFrame errors.
var (
	// ErrNotInitialized is returned by RenderFrame before Init.
	ErrNotInitialized = errors.New("render: orchestrator not initialized")

	// ErrNoTargetView is returned when the target has no view to draw into.
	ErrNoTargetView = errors.New("render: target has no view")
)

// Options configures an Orchestrator. Zero fields take defaults.
type Options struct {
	// Background is the clear color.
	Background [3]float32

	// LightColor is the color of every light. Defaults to white.
	LightColor *[3]float32

	// DynamicPercent is the share of the quality kept while the camera
	// adjusts. Defaults to DefaultDynamicPercent.
	DynamicPercent int

	// LocalSize is the work-group edge of the ray marcher, a power of two
	// up to gpu.MaxLocalSize. Defaults to gpu.DefaultLocalSize.
	LocalSize int

	// TargetFormat is the format of the views passed to RenderFrame.
	// Defaults to RGBA8Unorm.
	TargetFormat gputypes.TextureFormat

	// Compiler defaults to gpu.NagaCompiler.
	Compiler gpu.Compiler
}

// FrameStats describes one RenderFrame call.
type FrameStats struct {
	Frame    uint64
	Rendered bool

	// Skipped says why only the clear pass ran.
	Skipped string

	Samples    int
	WorkGroups [3]uint32
	LUTUploads int
	Duration   time.Duration
}

// String returns a one-line summary.
func (s FrameStats) String() string {
	if !s.Rendered {
		return fmt.Sprintf("Frame[%d cleared: %s]", s.Frame, s.Skipped)
	}
	return fmt.Sprintf("Frame[%d, %d samples, %dx%d groups, %v]",
		s.Frame, s.Samples, s.WorkGroups[0], s.WorkGroups[1], s.Duration)
}

// frameParams are the values the uniform producers read. They are filled
// at the start of each frame.
type frameParams struct {
	view, proj [16]float32
	samples    int32
	values     Values
	texel      [3]float32
	dataType   int32
	eye        [4]float32

	inputMin, inputMax   float32
	outputMin, outputMax float32
	windowWidth          float32
	windowCenter         float32
}

// Orchestrator renders a volume with the current State, preset and camera:
// a clear pass, a ray-marching compute pass into an offscreen texture and a
// composite pass over the target.
//
// RenderFrame must not be called concurrently. The setters may be called
// from any goroutine.
type Orchestrator struct {
	gctx  *gpu.Context
	state *State
	opts  Options

	mu        sync.Mutex
	vol       *volume.Volume
	unsub     func()
	preset    *preset.Preset
	fallback  *preset.Preset
	camera    Camera
	dirty     bool
	stopState func()

	volumeProg *gpu.Program
	quadProg   *gpu.Program
	sampler    hal.Sampler
	frameTex   *gpu.ComputeTexture
	luts       lutTextures
	params     frameParams
	frames     uint64
}

// NewOrchestrator returns an orchestrator drawing state. Call Init before
// the first frame.
func NewOrchestrator(gctx *gpu.Context, state *State, opts Options) *Orchestrator {
	if opts.DynamicPercent <= 0 {
		opts.DynamicPercent = DefaultDynamicPercent
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = gpu.DefaultLocalSize
	}
	if opts.LightColor == nil {
		opts.LightColor = &[3]float32{1, 1, 1}
	}
	if opts.TargetFormat == gputypes.TextureFormatUndefined {
		opts.TargetFormat = gputypes.TextureFormatRGBA8Unorm
	}
	o := &Orchestrator{gctx: gctx, state: state, opts: opts, dirty: true}
	o.stopState = state.OnChange(func(Values) { o.markDirty() })
	return o
}

// Init creates the programs, binds their uniform producers and creates the
// sampler. Programs compile on first use.
func (o *Orchestrator) Init() error {
	if o.volumeProg != nil {
		return nil
	}
	o.volumeProg = gpu.NewProgram(gpu.VolumeProgramDescriptor(o.opts.Compiler, o.opts.LocalSize))
	o.quadProg = gpu.NewProgram(gpu.QuadProgramDescriptor(o.opts.Compiler, o.opts.TargetFormat))
	o.bindUniforms()

	return o.gctx.Do(func(l *gpu.Lease) error {
		s, err := l.Device().CreateSampler(&hal.SamplerDescriptor{
			Label:        "volren_linear",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    gputypes.FilterModeLinear,
			MinFilter:    gputypes.FilterModeLinear,
			MipmapFilter: gputypes.FilterModeNearest,
			LodMaxClamp:  32,
			Anisotropy:   1,
		})
		if err != nil {
			return fmt.Errorf("render: create sampler: %w", err)
		}
		o.sampler = s
		return nil
	})
}

func (o *Orchestrator) bindUniforms() {
	p, fp := o.volumeProg, &o.params
	p.BindUniform("viewMatrix", func(u *gpu.Uniform) { u.SetMat4(fp.view) })
	p.BindUniform("projectionMatrix", func(u *gpu.Uniform) { u.SetMat4(fp.proj) })
	p.BindUniform("texelSize", func(u *gpu.Uniform) { u.SetVec3(fp.texel) })
	p.BindUniform("depthSampleNumber", func(u *gpu.Uniform) { u.SetInt(fp.samples) })
	p.BindUniform("backgroundColor", func(u *gpu.Uniform) { u.SetVec3(o.opts.Background) })
	p.BindUniform("lutShape", func(u *gpu.Uniform) { u.SetInt(int32(fp.values.LUTShape)) })
	p.BindUniform("lightColor", func(u *gpu.Uniform) { u.SetVec3(*o.opts.LightColor) })
	p.BindUniform("shading", func(u *gpu.Uniform) { u.SetBool(fp.values.Shading) })
	p.BindUniform("renderingType", func(u *gpu.Uniform) { u.SetInt(int32(fp.values.Mode)) })
	p.BindUniform("mipType", func(u *gpu.Uniform) { u.SetInt(int32(fp.values.MIPMode)) })
	p.BindUniform("mipThickness", func(u *gpu.Uniform) { u.SetFloat(fp.values.MIPThickness) })
	p.BindUniform("textureDataType", func(u *gpu.Uniform) { u.SetInt(fp.dataType) })
	p.BindUniform("opacityFactor", func(u *gpu.Uniform) { u.SetFloat(fp.values.Opacity) })
	p.BindUniform("inputLevelMin", func(u *gpu.Uniform) { u.SetFloat(fp.inputMin) })
	p.BindUniform("inputLevelMax", func(u *gpu.Uniform) { u.SetFloat(fp.inputMax) })
	p.BindUniform("outputLevelMin", func(u *gpu.Uniform) { u.SetFloat(fp.outputMin) })
	p.BindUniform("outputLevelMax", func(u *gpu.Uniform) { u.SetFloat(fp.outputMax) })
	p.BindUniform("windowWidth", func(u *gpu.Uniform) { u.SetFloat(fp.windowWidth) })
	p.BindUniform("windowCenter", func(u *gpu.Uniform) { u.SetFloat(fp.windowCenter) })

	// Every light shares the coefficients; only the first one shines.
	for i := 0; i < gpu.MaxLights; i++ {
		enabled := i == 0
		p.BindUniform(gpu.LightField(i, "position"), func(u *gpu.Uniform) { u.SetVec4(fp.eye) })
		p.BindUniform(gpu.LightField(i, "ambient"), func(u *gpu.Uniform) { u.SetFloat(fp.values.Lighting.Ambient) })
		p.BindUniform(gpu.LightField(i, "diffuse"), func(u *gpu.Uniform) { u.SetFloat(fp.values.Lighting.Diffuse) })
		p.BindUniform(gpu.LightField(i, "specular"), func(u *gpu.Uniform) { u.SetFloat(fp.values.Lighting.Specular) })
		p.BindUniform(gpu.LightField(i, "specularPower"), func(u *gpu.Uniform) {
			u.SetFloat(fp.values.Lighting.SpecularPower)
		})
		p.BindUniform(gpu.LightField(i, "enabled"), func(u *gpu.Uniform) { u.SetBool(enabled) })
	}
}

// SetVolume selects the volume to draw. Loading notifications of the
// volume mark the view for repaint.
func (o *Orchestrator) SetVolume(v *volume.Volume) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.vol == v {
		return
	}
	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	o.vol = v
	o.fallback = nil
	if v != nil {
		o.unsub = v.Subscribe(func(volume.Event) { o.markDirty() })
	}
	o.dirty = true
}

// Volume returns the volume being drawn, or nil.
func (o *Orchestrator) Volume() *volume.Volume {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vol
}

// SetPreset selects the transfer function. A nil preset draws the volume
// with an Original ramp over its levels.
func (o *Orchestrator) SetPreset(p *preset.Preset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preset = p
	o.dirty = true
}

// Preset returns the selected transfer function, or nil.
func (o *Orchestrator) Preset() *preset.Preset {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preset
}

// SetCamera selects the camera.
func (o *Orchestrator) SetCamera(c Camera) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.camera = c
	o.dirty = true
}

// NeedsRepaint reports whether anything changed since the last frame.
func (o *Orchestrator) NeedsRepaint() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dirty
}

func (o *Orchestrator) markDirty() {
	o.mu.Lock()
	o.dirty = true
	o.mu.Unlock()
}

type scene struct {
	vol    *volume.Volume
	preset *preset.Preset
	camera Camera
}

func (o *Orchestrator) snapshot() scene {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirty = false
	s := scene{vol: o.vol, preset: o.preset, camera: o.camera}
	if s.preset == nil && s.vol != nil {
		lo, hi := s.vol.Levels()
		if o.fallback == nil || o.fallback.ColorMin() != int(lo) || o.fallback.ColorMax() != int(hi) {
			o.fallback = preset.Original(int(lo), int(hi))
		}
		s.preset = o.fallback
	}
	return s
}

// RenderFrame draws one frame into target, whose format must be the
// configured TargetFormat. A volume that is not ready, or a program that
// failed to link, leaves the target cleared to the background.
func (o *Orchestrator) RenderFrame(target RenderTarget) (FrameStats, error) {
	if o.volumeProg == nil {
		return FrameStats{}, ErrNotInitialized
	}
	view := target.View()
	if view == nil {
		return FrameStats{}, ErrNoTargetView
	}
	width, height := target.Width(), target.Height()
	o.frames++
	stats := FrameStats{Frame: o.frames}
	start := time.Now()
	sc := o.snapshot()

	err := o.gctx.Do(func(l *gpu.Lease) error {
		frame, err := gpu.BeginFrame(l, "volren_frame")
		if err != nil {
			return err
		}
		defer frame.Discard()

		bg := gputypes.Color{
			R: float64(o.opts.Background[0]),
			G: float64(o.opts.Background[1]),
			B: float64(o.opts.Background[2]),
			A: 1,
		}
		cp, err := frame.BeginRenderPass("volren_clear", view, &bg)
		if err != nil {
			return err
		}
		cp.End()

		if reason := o.draw(l, frame, sc, view, width, height, &stats); reason != "" {
			stats.Skipped = reason
		} else {
			stats.Rendered = true
		}
		return frame.Submit()
	})
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	vlog.Logger().Debug("render: frame", "stats", stats.String())
	return stats, nil
}

// draw records the ray-marching and composite passes. It returns a
// non-empty reason when the frame stays cleared.
func (o *Orchestrator) draw(l *gpu.Lease, frame *gpu.Frame, sc scene, target hal.TextureView, width, height int, stats *FrameStats) string {
	if sc.vol == nil || !sc.vol.IsReadyForDisplay() {
		return "volume not ready"
	}
	if sc.camera == nil {
		return "no camera"
	}
	volView := sc.vol.Texture().View()
	if volView == nil {
		return "volume texture released"
	}

	dev := l.Device()
	if err := o.volumeProg.Use(dev); err != nil {
		vlog.Logger().Warn("render: ray-marching program unusable", "err", err)
		return "program unusable"
	}
	if err := o.quadProg.Use(dev); err != nil {
		vlog.Logger().Warn("render: composite program unusable", "err", err)
		return "program unusable"
	}

	if err := o.prepareParams(sc); err != nil {
		vlog.Logger().Warn("render: camera", "err", err)
		return "camera not invertible"
	}
	stats.Samples = int(o.params.samples)
	if err := o.volumeProg.SetUniforms(l.Queue()); err != nil {
		return o.fail("uniforms", err)
	}

	before := o.luts.uploads
	if err := o.luts.sync(l, sc.preset, o.params.values.InvertLUT); err != nil {
		return o.fail("transfer function", err)
	}
	stats.LUTUploads = o.luts.uploads - before

	if err := o.ensureFrameTexture(l, width, height); err != nil {
		return o.fail("frame texture", err)
	}

	o.volumeProg.BindResource(gpu.VolumeBindingTexture, volView)
	o.volumeProg.BindResource(gpu.VolumeBindingColorMap, o.luts.colors.View())
	o.volumeProg.BindResource(gpu.VolumeBindingLighting, o.luts.lighting.View())
	o.volumeProg.BindResource(gpu.VolumeBindingSampler, o.sampler)
	o.volumeProg.BindResource(gpu.VolumeBindingOutput, o.frameTex.View())
	group, err := o.volumeProg.BindGroup(dev)
	if err != nil {
		return o.fail("volume bind group", err)
	}

	pass, err := frame.BeginComputePass("volren_raymarch")
	if err != nil {
		return o.fail("compute pass", err)
	}
	if err := pass.SetPipeline(o.volumeProg.ComputePipeline()); err != nil {
		pass.End()
		return o.fail("compute pipeline", err)
	}
	if err := pass.SetBindGroup(0, group); err != nil {
		pass.End()
		return o.fail("compute bind group", err)
	}
	if err := o.frameTex.Dispatch(pass); err != nil {
		pass.End()
		return o.fail("dispatch", err)
	}
	pass.End()
	x, y, z := o.frameTex.WorkGroups()
	stats.WorkGroups = [3]uint32{x, y, z}
	frame.Barrier(o.frameTex.Raw())

	o.quadProg.BindResource(gpu.QuadBindingTexture, o.frameTex.View())
	o.quadProg.BindResource(gpu.QuadBindingSampler, o.sampler)
	quadGroup, err := o.quadProg.BindGroup(dev)
	if err != nil {
		return o.fail("quad bind group", err)
	}
	rp, err := frame.BeginRenderPass("volren_composite", target, nil)
	if err != nil {
		return o.fail("composite pass", err)
	}
	defer rp.End()
	if err := rp.SetPipeline(o.quadProg.RenderPipeline()); err != nil {
		return o.fail("composite pipeline", err)
	}
	if err := rp.SetBindGroup(0, quadGroup); err != nil {
		return o.fail("composite bind group", err)
	}
	if err := rp.SetViewport(0, 0, float32(width), float32(height)); err != nil {
		return o.fail("viewport", err)
	}
	if err := rp.Draw(quadVertexCount, 1); err != nil {
		return o.fail("composite draw", err)
	}
	return ""
}

func (o *Orchestrator) fail(stage string, err error) string {
	vlog.Logger().Warn("render: frame step failed", "stage", stage, "err", err)
	return stage + " failed"
}

// prepareParams fills the values read by the uniform producers.
func (o *Orchestrator) prepareParams(sc scene) error {
	view, proj, err := rayMatrices(sc.camera)
	if err != nil {
		return err
	}
	values := o.state.Values()
	v := sc.vol
	w, h, d := v.Size()
	texel := v.Geometry().TexelSize(w, h, d)
	eye := sc.camera.RayOrigin()

	fp := &o.params
	fp.view, fp.proj = view, proj
	fp.values = values
	//nolint:gosec // G115: quality is clamped to MaxQuality
	fp.samples = int32(EffectiveSampleCount(values.Quality, sc.camera.IsAdjusting(), o.opts.DynamicPercent))
	fp.texel = [3]float32{float32(texel.X), float32(texel.Y), float32(texel.Z)}
	fp.dataType = int32(v.DataType())
	fp.eye = [4]float32{float32(eye.X), float32(eye.Y), float32(eye.Z), 1}

	inLo, inHi := v.DecodeRange()
	fp.inputMin, fp.inputMax = float32(inLo), float32(inHi)
	fp.windowWidth, fp.windowCenter = values.WindowWidth, values.WindowCenter

	p := sc.preset
	switch {
	case p.IsOriginal():
		lo, hi := v.Levels()
		fp.outputMin, fp.outputMax = float32(lo), float32(hi)
	case p.IsSegmentation():
		fp.outputMin, fp.outputMax = float32(p.ColorMin()), float32(p.ColorMax())
		fp.windowWidth = float32(p.Width())
		fp.windowCenter = float32(p.ColorMin()+p.ColorMax()) / 2
	default:
		fp.outputMin, fp.outputMax = float32(p.ColorMin()), float32(p.ColorMax())
	}
	return nil
}

func (o *Orchestrator) ensureFrameTexture(l *gpu.Lease, width, height int) error {
	if o.frameTex == nil {
		ct, err := gpu.NewComputeTexture("volren_frame", width, height, o.opts.LocalSize)
		if err != nil {
			return err
		}
		o.frameTex = ct
	} else if _, err := o.frameTex.Resize(l.Device(), width, height, 1); err != nil {
		return err
	}
	return o.frameTex.Allocate(l)
}

// Close releases the GPU objects and stops listening to the state and the
// volume. The volume itself is left alone.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	if o.stopState != nil {
		o.stopState()
		o.stopState = nil
	}
	o.mu.Unlock()

	err := o.gctx.Do(func(l *gpu.Lease) error {
		dev := l.Device()
		o.luts.destroy(l)
		if o.frameTex != nil {
			o.frameTex.Destroy(dev)
			o.frameTex = nil
		}
		if o.sampler != nil {
			dev.DestroySampler(o.sampler)
			o.sampler = nil
		}
		if o.volumeProg != nil {
			o.volumeProg.Destroy(dev)
			o.quadProg.Destroy(dev)
		}
		return nil
	})
	if err != nil {
		vlog.Logger().Warn("render: release orchestrator", "err", err)
	}
}
