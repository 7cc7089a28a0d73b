package gpu

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/volren/internal/vlog"
)

// Context errors.
var (
	// ErrBackendUnavailable is returned when the requested HAL backend is not registered.
	ErrBackendUnavailable = errors.New("gpu: backend not available")

	// ErrNoAdapter is returned when a backend exposes no adapters.
	ErrNoAdapter = errors.New("gpu: no adapter found")

	// ErrNotHalProvider is returned when a device provider does not expose HAL types.
	ErrNotHalProvider = errors.New("gpu: provider does not expose hal.Device and hal.Queue")

	// ErrContextClosed is returned when acquiring a closed context.
	ErrContextClosed = errors.New("gpu: context closed")
)

// Context is the shared graphics context. The device and queue may only be
// touched by the holder of a Lease, so uploads from loader goroutines and
// frame rendering never interleave.
type Context struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits
	info     gputypes.AdapterInfo

	// externalDevice is true when the device belongs to a provider.
	externalDevice bool

	nextID atomic.Uint32
	closed atomic.Bool
}

// ParseBackend maps a configuration name to a HAL backend id.
// "auto" (or an empty name) reports auto=true so the caller probes the
// registered backends.
func ParseBackend(name string) (b gputypes.Backend, auto bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return gputypes.BackendEmpty, true, nil
	case "noop", "empty":
		return gputypes.BackendEmpty, false, nil
	case "vulkan":
		return gputypes.BackendVulkan, false, nil
	case "metal":
		return gputypes.BackendMetal, false, nil
	case "dx12":
		return gputypes.BackendDX12, false, nil
	case "gl", "gles":
		return gputypes.BackendGL, false, nil
	default:
		return gputypes.BackendEmpty, false, fmt.Errorf("%w: %q", ErrBackendUnavailable, name)
	}
}

// probeOrder is the backend preference used for "auto".
var probeOrder = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
	gputypes.BackendEmpty,
}

// OpenContext opens a context for a backend name as accepted by ParseBackend.
func OpenContext(name string) (*Context, error) {
	b, auto, err := ParseBackend(name)
	if err != nil {
		return nil, err
	}
	if !auto {
		return NewContext(b)
	}
	var errs []error
	for _, candidate := range probeOrder {
		if _, ok := hal.GetBackend(candidate); !ok {
			continue
		}
		c, err := NewContext(candidate)
		if err == nil {
			return c, nil
		}
		vlog.Logger().Warn("gpu: backend probe failed", "backend", candidate, "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backend registered", ErrBackendUnavailable)
	}
	return nil, errors.Join(errs...)
}

// NewContext opens the first adapter of a registered HAL backend.
func NewContext(backend gputypes.Backend) (*Context, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, backend)
	}

	instance, err := b.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.BackendsPrimary,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	exposed := adapters[0]

	open, err := exposed.Adapter.Open(0, exposed.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	vlog.Logger().Info("gpu: adapter opened",
		"name", exposed.Info.Name,
		"backend", exposed.Info.Backend,
		"max3D", exposed.Capabilities.Limits.MaxTextureDimension3D)

	return &Context{
		instance: instance,
		device:   open.Device,
		queue:    open.Queue,
		limits:   exposed.Capabilities.Limits,
		info:     exposed.Info,
	}, nil
}

// NewContextFromProvider wraps the device of a host application. The
// provider's device and queue must be HAL objects. The device is not
// destroyed by Close.
func NewContextFromProvider(p gpucontext.DeviceProvider) (*Context, error) {
	if p == nil {
		return nil, ErrNotHalProvider
	}
	device, ok := p.Device().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: device is %T", ErrNotHalProvider, p.Device())
	}
	queue, ok := p.Queue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: queue is %T", ErrNotHalProvider, p.Queue())
	}
	c := NewContextFromDevice(device, queue)
	c.info.Name = p.AdapterInfo().Name
	return c, nil
}

// NewContextFromDevice wraps an already opened device and queue. Limits
// default to gputypes.DefaultLimits. The device is not destroyed by Close.
func NewContextFromDevice(device hal.Device, queue hal.Queue) *Context {
	return &Context{
		device:         device,
		queue:          queue,
		limits:         gputypes.DefaultLimits(),
		externalDevice: true,
	}
}

// Limits returns the device limits.
func (c *Context) Limits() gputypes.Limits { return c.limits }

// AdapterName returns the name of the opened adapter.
func (c *Context) AdapterName() string { return c.info.Name }

// NextID returns a new texture id. Ids start at 1 so that 0 always means
// "not allocated".
func (c *Context) NextID() uint32 { return c.nextID.Add(1) }

// Acquire blocks until the caller holds the context exclusively.
func (c *Context) Acquire() (*Lease, error) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	return &Lease{ctx: c}, nil
}

// Do runs fn while holding the context, then flushes and releases it.
func (c *Context) Do(fn func(l *Lease) error) error {
	l, err := c.Acquire()
	if err != nil {
		return err
	}
	defer l.Release()
	if err := fn(l); err != nil {
		return err
	}
	return l.Flush()
}

// Close destroys the device unless it belongs to a provider.
// Close is idempotent and waits for any outstanding lease.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return
	}
	if c.externalDevice {
		return
	}
	if c.device != nil {
		if err := c.device.WaitIdle(); err != nil {
			vlog.Logger().Warn("gpu: wait idle on close", "err", err)
		}
		c.device.Destroy()
	}
	if c.instance != nil {
		c.instance.Destroy()
	}
}

// Lease is exclusive ownership of a Context. It must be released exactly
// once; extra Release calls are ignored.
type Lease struct {
	ctx      *Context
	released atomic.Bool
}

// Device returns the HAL device.
func (l *Lease) Device() hal.Device { return l.ctx.device }

// Queue returns the HAL queue.
func (l *Lease) Queue() hal.Queue { return l.ctx.queue }

// Context returns the context the lease belongs to.
func (l *Lease) Context() *Context { return l.ctx }

// Flush waits for all submitted GPU work to finish.
func (l *Lease) Flush() error {
	if err := l.ctx.device.WaitIdle(); err != nil {
		return fmt.Errorf("gpu: flush: %w", err)
	}
	return nil
}

// Release gives the context back.
func (l *Lease) Release() {
	if l.released.Swap(true) {
		return
	}
	l.ctx.mu.Unlock()
}
