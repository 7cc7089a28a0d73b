package volren

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/gogpu/wgpu/hal/noop" // headless backend, always available

	"github.com/gogpu/volren/config"
	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
	"github.com/gogpu/volren/preset"
	"github.com/gogpu/volren/render"
	"github.com/gogpu/volren/volume"
)

// Engine errors.
var (
	// ErrEngineClosed is returned by operations on a closed Engine.
	ErrEngineClosed = errors.New("volren: engine closed")

	// ErrUnknownPreset is returned by SetPreset for a name that is not loaded.
	ErrUnknownPreset = errors.New("volren: unknown preset")

	// ErrMissingID is returned by Load for a series without an id.
	ErrMissingID = errors.New("volren: volume options need an ID")
)

// Option customizes New.
type Option func(*engineOptions)

type engineOptions struct {
	gctx     *gpu.Context
	compiler gpu.Compiler
}

// WithContext makes the Engine draw through a context owned by the caller,
// for example one made with gpu.NewContextFromProvider from a host window.
// The configured backend is ignored and Close leaves the context open.
func WithContext(gctx *gpu.Context) Option {
	return func(o *engineOptions) { o.gctx = gctx }
}

// WithCompiler replaces the WGSL compiler of the shader programs.
func WithCompiler(c gpu.Compiler) Option {
	return func(o *engineOptions) { o.compiler = c }
}

// Engine ties a GPU context, the volume cache, the presets and the render
// orchestrator together for one viewport.
//
// Engine methods are safe for concurrent use, except that RenderFrame must
// be called from a single goroutine.
type Engine struct {
	cfg         *config.Config
	gctx        *gpu.Context
	ownsContext bool

	cache *volume.Cache
	state *render.State
	orch  *render.Orchestrator

	stopWatch context.CancelFunc

	mu       sync.Mutex
	presets  *preset.Set
	selected string
	vol      *volume.Volume
	closed   bool
}

// New opens the configured backend and prepares the render programs. A nil
// cfg uses config.DefaultConfig.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, gctx: o.gctx}
	if e.gctx == nil {
		gctx, err := gpu.OpenContext(cfg.GPU.Backend)
		if err != nil {
			return nil, fmt.Errorf("volren: open %s backend: %w", cfg.GPU.Backend, err)
		}
		e.gctx, e.ownsContext = gctx, true
	}

	presets := preset.NewSet()
	if cfg.Presets.File != "" {
		set, err := preset.LoadFile(cfg.Presets.File)
		if err != nil {
			e.closeContext()
			return nil, err
		}
		presets = set
	}
	e.presets = presets

	e.cache = volume.NewCache(e.gctx, volume.CacheConfig{
		BudgetMB:          cfg.Cache.BudgetMB,
		EvictionThreshold: cfg.Cache.EvictionThreshold,
	})
	e.state = render.NewState()
	if cfg.Render.Quality > 0 {
		e.state.SetQuality(cfg.Render.Quality)
	}
	light := cfg.Render.LightColor
	e.orch = render.NewOrchestrator(e.gctx, e.state, render.Options{
		Background:     cfg.Render.Background,
		LightColor:     &light,
		DynamicPercent: cfg.Render.DynamicPercent,
		LocalSize:      cfg.Render.LocalSize,
		Compiler:       o.compiler,
	})
	if err := e.orch.Init(); err != nil {
		e.cache.Close()
		e.closeContext()
		return nil, err
	}

	if cfg.Presets.Watch {
		ctx, cancel := context.WithCancel(context.Background())
		if err := preset.Watch(ctx, cfg.Presets.File, e.replacePresets); err != nil {
			cancel()
			e.Close()
			return nil, err
		}
		e.stopWatch = cancel
	}
	return e, nil
}

// Context returns the GPU context the Engine draws through.
func (e *Engine) Context() *gpu.Context { return e.gctx }

// State returns the rendering parameters. Changes repaint the view.
func (e *Engine) State() *render.State { return e.state }

// Cache returns the volume cache.
func (e *Engine) Cache() *volume.Cache { return e.cache }

// Presets returns the loaded presets.
func (e *Engine) Presets() *preset.Set {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presets
}

// Load returns the cached volume for opts.ID or builds it, starts streaming
// its slices and makes it the displayed volume. The volume is drawn once
// its first slices are on the GPU.
func (e *Engine) Load(opts volume.Options) (*volume.Volume, error) {
	if opts.ID == "" {
		return nil, ErrMissingID
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = e.cfg.Loader.MaxDepth
	}
	if opts.MaxTextureDim == 0 {
		opts.MaxTextureDim = int(e.gctx.Limits().MaxTextureDimension3D)
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}

	v, err := e.cache.GetOrBuild(opts.ID, func() (*volume.Volume, error) {
		return volume.NewVolume(opts)
	})
	if err != nil {
		return nil, err
	}
	l := v.Loader()
	if l == nil {
		l = volume.NewLoader(e.gctx, v, volume.LoaderOptions{
			PartialEvery: e.cfg.Loader.PartialEvery,
			Evictor:      e.cache,
		})
	}
	l.Start()

	e.show(v)
	return v, nil
}

// show displays v with the preset chosen for it.
func (e *Engine) show(v *volume.Volume) {
	e.mu.Lock()
	e.vol = v
	p := e.presetForLocked(v)
	e.mu.Unlock()

	if e.cfg.Render.Quality == 0 {
		e.state.SetQuality(render.DefaultQuality(v.Size()))
	}
	e.orch.SetVolume(v)
	e.apply(p)
	vlog.Logger().Info("volren: showing volume", "id", v.ID(), "modality", v.Modality(), "preset", p.Name())
}

// presetForLocked picks the transfer function of v: the segmentation preset
// for label volumes, the selected preset if it fits the modality, the
// modality default, or the Original ramp.
func (e *Engine) presetForLocked(v *volume.Volume) *preset.Preset {
	if v.IsSegmentation() {
		p, err := preset.Segmentation(v.Regions())
		if err == nil {
			return p
		}
		vlog.Logger().Warn("volren: segmentation preset", "id", v.ID(), "err", err)
	}
	modality := strings.ToUpper(v.Modality())
	if p := e.presets.Get(e.selected); p != nil && (p.Modality() == "" || p.Modality() == modality) {
		return p
	}
	if e.selected != preset.OriginalName {
		if p := e.presets.Default(modality); p != nil {
			return p
		}
	}
	lo, hi := v.Levels()
	return preset.Original(int(lo), int(hi))
}

func (e *Engine) apply(p *preset.Preset) {
	e.state.ApplyPreset(p)
	e.orch.SetPreset(p)
}

// SetPreset selects a loaded preset by name and applies it.
// preset.OriginalName selects the grayscale ramp over the volume levels.
func (e *Engine) SetPreset(name string) error {
	e.mu.Lock()
	var p *preset.Preset
	switch {
	case e.presets.Get(name) != nil:
		p = e.presets.Get(name)
	case name == preset.OriginalName:
		lo, hi := float64(volume.DefaultLevelMin), float64(volume.DefaultLevelMax)
		if e.vol != nil {
			lo, hi = e.vol.Levels()
		}
		p = preset.Original(int(lo), int(hi))
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	e.selected = name
	e.mu.Unlock()

	e.apply(p)
	return nil
}

// Preset returns the preset being drawn.
func (e *Engine) Preset() *preset.Preset { return e.orch.Preset() }

// replacePresets installs a reloaded presets file. The preset on screen is
// swapped for its new definition when it still exists.
func (e *Engine) replacePresets(set *preset.Set) {
	e.mu.Lock()
	e.presets = set
	var p *preset.Preset
	if cur := e.orch.Preset(); cur != nil {
		p = set.Get(cur.Name())
	}
	e.mu.Unlock()

	if p != nil {
		e.apply(p)
	}
}

// Volume returns the displayed volume, or nil.
func (e *Engine) Volume() *volume.Volume {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vol
}

// Unload evicts the volume with id from the cache, releasing its texture.
// The view is cleared if it was displayed.
func (e *Engine) Unload(id string) bool {
	e.mu.Lock()
	if e.vol != nil && e.vol.ID() == id {
		e.vol = nil
		e.orch.SetVolume(nil)
	}
	e.mu.Unlock()
	return e.cache.Evict(id)
}

// SetCamera selects the camera.
func (e *Engine) SetCamera(c render.Camera) { e.orch.SetCamera(c) }

// NeedsRepaint reports whether a frame is due.
func (e *Engine) NeedsRepaint() bool { return e.orch.NeedsRepaint() }

// NewTarget creates an offscreen RGBA8 render target.
func (e *Engine) NewTarget(width, height int) (*render.TextureTarget, error) {
	return render.NewTextureTarget(e.gctx, width, height)
}

// RenderFrame draws the displayed volume into target.
func (e *Engine) RenderFrame(target render.RenderTarget) (render.FrameStats, error) {
	e.mu.Lock()
	closed, v := e.closed, e.vol
	e.mu.Unlock()
	if closed {
		return render.FrameStats{}, ErrEngineClosed
	}
	if v != nil {
		e.cache.Touch(v.ID())
	}
	return e.orch.RenderFrame(target)
}

// Close stops watching presets, releases every volume and the render
// programs, and closes the context if the Engine opened it. Close is
// idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.vol = nil
	e.mu.Unlock()

	if e.stopWatch != nil {
		e.stopWatch()
	}
	e.orch.Close()
	e.cache.Close()
	e.closeContext()
}

func (e *Engine) closeContext() {
	if e.ownsContext {
		e.gctx.Close()
	}
}
