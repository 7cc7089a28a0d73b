package gpu_test

import (
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/gpu/gputest"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		name    string
		want    gputypes.Backend
		auto    bool
		wantErr bool
	}{
		{"", gputypes.BackendEmpty, true, false},
		{"auto", gputypes.BackendEmpty, true, false},
		{"noop", gputypes.BackendEmpty, false, false},
		{"Vulkan", gputypes.BackendVulkan, false, false},
		{"metal", gputypes.BackendMetal, false, false},
		{"dx12", gputypes.BackendDX12, false, false},
		{"gles", gputypes.BackendGL, false, false},
		{"directx9", gputypes.BackendEmpty, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, auto, err := gpu.ParseBackend(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, gpu.ErrBackendUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)
			assert.Equal(t, tt.auto, auto)
		})
	}
}

func TestOpenContext_Noop(t *testing.T) {
	ctx, err := gpu.OpenContext("noop")
	require.NoError(t, err)
	defer ctx.Close()

	assert.Equal(t, "Noop Adapter", ctx.AdapterName())
	assert.Equal(t, gputypes.DefaultLimits().MaxTextureDimension3D, ctx.Limits().MaxTextureDimension3D)
}

func TestContext_NextIDStartsAtOne(t *testing.T) {
	ctx, _ := gputest.NewContext()
	assert.Equal(t, uint32(1), ctx.NextID())
	assert.Equal(t, uint32(2), ctx.NextID())
}

func TestContext_AcquireIsExclusive(t *testing.T) {
	ctx, _ := gputest.NewContext()

	l, err := ctx.Acquire()
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		l2, err := ctx.Acquire()
		if err == nil {
			l2.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while the lease was held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never returned")
	}
}

func TestContext_DoSerializes(t *testing.T) {
	ctx, _ := gputest.NewContext()
	var (
		wg     sync.WaitGroup
		inside int
		maxIn  int
		mu     sync.Mutex
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ctx.Do(func(*gpu.Lease) error {
				mu.Lock()
				inside++
				maxIn = max(maxIn, inside)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxIn)
}

func TestContext_Close(t *testing.T) {
	ctx, _ := gputest.NewContext()
	ctx.Close()
	ctx.Close()
	_, err := ctx.Acquire()
	assert.ErrorIs(t, err, gpu.ErrContextClosed)
}

type fakeProvider struct {
	device gpucontext.Device
	queue  gpucontext.Queue
}

func (p fakeProvider) Device() gpucontext.Device { return p.device }
func (p fakeProvider) Queue() gpucontext.Queue   { return p.queue }
func (p fakeProvider) Adapter() gpucontext.Adapter {
	return nil
}

func (p fakeProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

func (p fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "host"}
}

func TestNewContextFromProvider(t *testing.T) {
	t.Run("hal device", func(t *testing.T) {
		ctx, err := gpu.NewContextFromProvider(fakeProvider{device: &noop.Device{}, queue: &noop.Queue{}})
		require.NoError(t, err)
		assert.Equal(t, "host", ctx.AdapterName())
		ctx.Close()
	})
	t.Run("foreign device", func(t *testing.T) {
		_, err := gpu.NewContextFromProvider(fakeProvider{device: "not a device", queue: &noop.Queue{}})
		assert.ErrorIs(t, err, gpu.ErrNotHalProvider)
	})
	t.Run("nil provider", func(t *testing.T) {
		_, err := gpu.NewContextFromProvider(nil)
		assert.ErrorIs(t, err, gpu.ErrNotHalProvider)
	})
}
