package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
)

// ErrSliceLoad wraps errors returned by Slice.Load.
var ErrSliceLoad = errors.New("volume: slice load failed")

// DefaultPartialEvery is the default slice period of partial notifications.
const DefaultPartialEvery = 5

// LoaderState is the lifecycle state of a Loader.
type LoaderState int32

const (
	LoaderIdle LoaderState = iota
	LoaderRunning
	LoaderCompleted
	LoaderFailed
	LoaderCancelled
)

// String returns the string representation of LoaderState.
func (s LoaderState) String() string {
	switch s {
	case LoaderIdle:
		return "Idle"
	case LoaderRunning:
		return "Running"
	case LoaderCompleted:
		return "Completed"
	case LoaderFailed:
		return "Failed"
	case LoaderCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("LoaderState(%d)", int(s))
	}
}

// Evictor drops a volume after its loader failed.
type Evictor interface {
	Evict(id string) bool
}

// LoaderOptions configures NewLoader.
type LoaderOptions struct {
	// PartialEvery is the slice period of EventPartiallyLoaded.
	// Defaults to DefaultPartialEvery.
	PartialEvery int

	// Evictor is told to drop the volume on failure. May be nil.
	Evictor Evictor
}

// Loader streams the slices of a volume into its texture on a background
// goroutine.
type Loader struct {
	vol          *Volume
	gctx         *gpu.Context
	partialEvery int
	evictor      Evictor

	state  atomic.Int32
	loaded atomic.Int32

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoader creates an idle loader for v and attaches it to v.
func NewLoader(gctx *gpu.Context, v *Volume, opts LoaderOptions) *Loader {
	every := opts.PartialEvery
	if every <= 0 {
		every = DefaultPartialEvery
	}
	l := &Loader{
		vol:          v,
		gctx:         gctx,
		partialEvery: every,
		evictor:      opts.Evictor,
	}
	v.mu.Lock()
	v.loader = l
	v.mu.Unlock()
	return l
}

// State returns the lifecycle state.
func (l *Loader) State() LoaderState { return LoaderState(l.state.Load()) }

// Err returns the error that failed the last run, or nil.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Progress returns how many slices of the current run are on the GPU.
func (l *Loader) Progress() (loaded, total int) {
	return int(l.loaded.Load()), len(l.vol.slices)
}

// Done returns a channel closed when the current run ends. Before the first
// Start it is nil.
func (l *Loader) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Start begins streaming from the first slice and reports whether a new run
// began. It does nothing while running, after completion, or while a
// cancelled run is still delivering its events; after a failure or a
// finished cancellation it starts over.
//
// Events of a run are delivered before its Done channel is closed.
func (l *Loader) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.State() {
	case LoaderRunning, LoaderCompleted:
		return false
	}
	if l.done != nil {
		select {
		case <-l.done:
		default:
			// The previous run is still delivering its events.
			return false
		}
	}
	if err := l.vol.renewTexture(); err != nil {
		l.err = err
		l.state.Store(int32(LoaderFailed))
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel, l.done, l.err = cancel, done, nil
	l.loaded.Store(0)
	l.state.Store(int32(LoaderRunning))
	go l.run(ctx, cancel, done)
	return true
}

// Cancel asks the running goroutine to stop after the current slice and
// returns immediately. Wait on Done before calling Start again, or use Stop.
func (l *Loader) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop cancels the running goroutine and waits for it to exit. It is
// idempotent.
func (l *Loader) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loader) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer cancel()
	err := l.stream(ctx)

	l.mu.Lock()
	switch {
	case err == nil:
		l.state.Store(int32(LoaderCompleted))
	case errors.Is(err, context.Canceled):
		l.state.Store(int32(LoaderCancelled))
	default:
		l.err = err
		l.state.Store(int32(LoaderFailed))
	}
	l.mu.Unlock()

	loaded, total := l.Progress()
	v := l.vol
	switch {
	case err == nil:
		vlog.Logger().Info("volume: fully loaded", "id", v.id, "slices", total)
		v.emit(Event{Kind: EventFullyLoaded, Loaded: loaded, Total: total})
	case errors.Is(err, context.Canceled):
		vlog.Logger().Debug("volume: loading cancelled", "id", v.id, "loaded", loaded)
	default:
		vlog.Logger().Error("volume: loading failed", "id", v.id, "loaded", loaded, "err", err)
		v.emit(Event{Kind: EventFailed, Loaded: loaded, Total: total, Err: err})
	}
	close(done)

	// done is closed, so an evictor calling Stop returns at once.
	if err != nil && !errors.Is(err, context.Canceled) && l.evictor != nil {
		l.evictor.Evict(v.id)
	}
}

func (l *Loader) stream(ctx context.Context) error {
	v := l.vol
	tex := v.Texture()
	total := len(v.slices)
	for i, s := range v.slices {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := s.Load()
		if err != nil {
			return fmt.Errorf("%w: %s slice %d: %w", ErrSliceLoad, v.id, i, err)
		}
		if !v.IsColor() {
			v.widenLevels(img.MinMax())
		}
		v.geom.Observe(i, s.Geometry())
		data, err := v.prepare(img)
		if err != nil {
			return fmt.Errorf("volume: %s slice %d: %w", v.id, i, err)
		}
		err = l.gctx.Do(func(lease *gpu.Lease) error {
			if err := tex.Allocate(lease); err != nil {
				return err
			}
			return tex.UploadSlice(lease.Queue(), i, data)
		})
		if err != nil {
			if !errors.Is(err, gpu.ErrUploadFailure) {
				err = fmt.Errorf("%w: %w", gpu.ErrUploadFailure, err)
			}
			return err
		}
		l.loaded.Store(int32(i + 1)) //nolint:gosec // G115: slice counts fit int32
		if i > 0 && i%l.partialEvery == 0 {
			v.emit(Event{Kind: EventPartiallyLoaded, Loaded: i + 1, Total: total})
		}
	}
	tex.SetNeedsUpload(false)
	return nil
}
