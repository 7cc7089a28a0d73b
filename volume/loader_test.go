package volume

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/gpu/gputest"
)

const waitTimeout = 5 * time.Second

func ctSlices(n, w, h int, vals ...int16) []Slice {
	out := make([]Slice, n)
	for i := range out {
		out[i] = &MemSlice{Image: int16Image(w, h, vals...), Geom: axialGeom(float64(i) * 1.5)}
	}
	return out
}

func newTestVolume(t *testing.T, opts Options) *Volume {
	t.Helper()
	if opts.ID == "" {
		opts.ID = "series"
	}
	v, err := NewVolume(opts)
	require.NoError(t, err)
	return v
}

func waitDone(t *testing.T, l *Loader) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(waitTimeout):
		t.Fatal("loader did not finish")
	}
}

type eventCounter struct {
	mu     sync.Mutex
	counts map[EventKind]int
}

func countEvents(v *Volume) *eventCounter {
	c := &eventCounter{counts: make(map[EventKind]int)}
	v.Subscribe(func(e Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.counts[e.Kind]++
	})
	return c
}

func (c *eventCounter) get(k EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[k]
}

func TestLoader_Notifications(t *testing.T) {
	tests := []struct {
		slices      int
		wantPartial int
	}{
		{5, 0},
		{6, 1},
		{11, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d slices", tt.slices), func(t *testing.T) {
			gctx, q := gputest.NewContext()
			v := newTestVolume(t, Options{Slices: ctSlices(tt.slices, 4, 4, 0, 100)})
			events := countEvents(v)
			l := NewLoader(gctx, v, LoaderOptions{})

			assert.False(t, v.IsReadyForDisplay())
			l.Start()
			waitDone(t, l)

			assert.Equal(t, LoaderCompleted, l.State())
			assert.NoError(t, l.Err())
			assert.Equal(t, 1, events.get(EventFullyLoaded))
			assert.Equal(t, tt.wantPartial, events.get(EventPartiallyLoaded))
			assert.Equal(t, tt.slices, q.WriteCount())
			assert.True(t, v.IsReadyForDisplay())
			assert.False(t, v.Texture().NeedsUpload())
			loaded, total := l.Progress()
			assert.Equal(t, tt.slices, loaded)
			assert.Equal(t, tt.slices, total)
		})
	}
}

func TestLoader_UploadsInOrder(t *testing.T) {
	gctx, q := gputest.NewContext()
	slices := ctSlices(3, 2, 2, 7)
	slices[0], slices[2] = slices[2], slices[0]
	v := newTestVolume(t, Options{Slices: slices})
	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)

	writes := q.Writes()
	require.Len(t, writes, 3)
	for i, w := range writes {
		assert.Equal(t, uint32(i), w.Origin.Z) //nolint:gosec // test index
		assert.Equal(t, uint32(2), w.Size.Width)
		assert.Len(t, w.Data, 2*2*2)
	}
	// Signed data is stored biased.
	assert.Equal(t, []byte{0x07, 0x80}, writes[0].Data[:2])
}

func TestLoader_LevelWidening(t *testing.T) {
	t.Run("inside defaults", func(t *testing.T) {
		gctx, _ := gputest.NewContext()
		v := newTestVolume(t, Options{Slices: ctSlices(3, 2, 2, -1000, 40, 2000)})
		lo, hi := v.Levels()
		assert.Equal(t, float64(DefaultLevelMin), lo)
		assert.Equal(t, float64(DefaultLevelMax), hi)

		l := NewLoader(gctx, v, LoaderOptions{})
		l.Start()
		waitDone(t, l)
		lo, hi = v.Levels()
		assert.Equal(t, -1024.0, lo)
		assert.Equal(t, 3071.0, hi)
	})
	t.Run("outside defaults", func(t *testing.T) {
		gctx, _ := gputest.NewContext()
		v := newTestVolume(t, Options{Slices: ctSlices(3, 2, 2, -2048, 4000)})
		l := NewLoader(gctx, v, LoaderOptions{})
		l.Start()
		waitDone(t, l)
		lo, hi := v.Levels()
		assert.Equal(t, -2048.0, lo)
		assert.Equal(t, 4000.0, hi)
	})
}

func TestLoader_Geometry(t *testing.T) {
	gctx, _ := gputest.NewContext()
	v := newTestVolume(t, Options{Slices: ctSlices(4, 2, 2, 0)})
	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)
	assert.Equal(t, 1.5, v.Geometry().Spacing().Z)
	assert.Equal(t, PlaneAxial, v.Geometry().Plane())
}

type gateSlice struct {
	*MemSlice
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (g *gateSlice) Load() (*Image, error) {
	g.once.Do(func() { close(g.reached) })
	<-g.release
	return g.MemSlice.Load()
}

func TestLoader_StopThenStartRestarts(t *testing.T) {
	gctx, q := gputest.NewContext()
	slices := ctSlices(11, 2, 2, 1)
	gate := &gateSlice{
		MemSlice: slices[3].(*MemSlice),
		reached:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	slices[3] = gate
	v := newTestVolume(t, Options{
		Slices: slices,
		Header: Header{Width: 2, Height: 2, Channels: 1, Type: SampleInt16},
	})
	events := countEvents(v)
	l := NewLoader(gctx, v, LoaderOptions{})

	require.True(t, l.Start())
	<-gate.reached
	l.Cancel()
	assert.False(t, l.Start(), "the cancelled run has not finished yet")
	close(gate.release)
	waitDone(t, l)

	assert.Equal(t, LoaderCancelled, l.State())
	loaded, _ := l.Progress()
	assert.Equal(t, 4, loaded)
	assert.Zero(t, events.get(EventFullyLoaded))

	require.True(t, l.Start(), "restart after the cancelled run is done")
	waitDone(t, l)
	assert.Equal(t, LoaderCompleted, l.State())
	assert.Equal(t, 1, events.get(EventFullyLoaded))

	writes := q.Writes()
	require.Len(t, writes, 4+11)
	assert.Equal(t, uint32(0), writes[4].Origin.Z, "second run starts at slice 0")

	done := l.Done()
	assert.False(t, l.Start())
	assert.Equal(t, done, l.Done(), "start after completion is a no-op")
	l.Stop()
	l.Stop()
	assert.Equal(t, LoaderCompleted, l.State())
}

type recordingEvictor struct {
	evicted chan string
}

func (e *recordingEvictor) Evict(id string) bool {
	e.evicted <- id
	return true
}

func TestLoader_UploadFailure(t *testing.T) {
	boom := errors.New("device lost")
	gctx, q := gputest.NewContext()
	q.FailAfter(2, boom)
	v := newTestVolume(t, Options{ID: "ct-1", Slices: ctSlices(6, 2, 2, 0)})
	events := countEvents(v)
	ev := &recordingEvictor{evicted: make(chan string, 1)}
	l := NewLoader(gctx, v, LoaderOptions{Evictor: ev})

	l.Start()
	select {
	case id := <-ev.evicted:
		assert.Equal(t, "ct-1", id)
	case <-time.After(waitTimeout):
		t.Fatal("volume was not evicted")
	}

	assert.Equal(t, LoaderFailed, l.State())
	require.Error(t, l.Err())
	assert.ErrorIs(t, l.Err(), gpu.ErrUploadFailure)
	assert.ErrorIs(t, l.Err(), boom)
	assert.Equal(t, 1, events.get(EventFailed))
	assert.Zero(t, events.get(EventFullyLoaded))

	q.FailAfter(-1, nil)
	l.Start()
	waitDone(t, l)
	assert.Equal(t, LoaderCompleted, l.State())
	assert.NoError(t, l.Err())
}

type failingSlice struct{ MemSlice }

func (failingSlice) Load() (*Image, error) { return nil, errors.New("truncated file") }

func TestLoader_SliceLoadFailure(t *testing.T) {
	gctx, _ := gputest.NewContext()
	slices := ctSlices(3, 2, 2, 0)
	slices = append(slices, &failingSlice{MemSlice{Geom: axialGeom(100)}})
	v := newTestVolume(t, Options{Slices: slices})
	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)
	assert.Equal(t, LoaderFailed, l.State())
	assert.ErrorIs(t, l.Err(), ErrSliceLoad)
}

func TestVolume_ScaledToDeviceLimit(t *testing.T) {
	gctx, q := gputest.NewContext()
	v := newTestVolume(t, Options{Slices: ctSlices(8, 8, 8, 5), MaxTextureDim: 4})
	w, h, d := v.Size()
	assert.Equal(t, [3]int{4, 4, 4}, [3]int{w, h, d})
	assert.Equal(t, 0.5, v.Scale())
	assert.Len(t, v.Slices(), 4)

	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)
	require.Equal(t, LoaderCompleted, l.State(), "err: %v", l.Err())
	for _, w := range q.Writes() {
		assert.Len(t, w.Data, 4*4*2)
	}
	assert.Equal(t, 1.0, v.Geometry().Spacing().X)
}

func TestVolume_MaxDepth(t *testing.T) {
	v := newTestVolume(t, Options{Slices: ctSlices(10, 2, 2, 0), MaxDepth: 5})
	_, _, d := v.Size()
	assert.Equal(t, 5, d)
}

func TestVolume_Validation(t *testing.T) {
	_, err := NewVolume(Options{ID: "empty"})
	assert.ErrorIs(t, err, ErrNoSlices)

	_, err = NewVolume(Options{ID: "rg", Header: Header{Width: 2, Height: 2, Channels: 2, Type: SampleUint8},
		Slices: []Slice{&MemSlice{}}})
	assert.ErrorIs(t, err, gpu.ErrUnsupportedFormat)
}

func TestVolume_MismatchedSlice(t *testing.T) {
	gctx, _ := gputest.NewContext()
	slices := ctSlices(2, 2, 2, 0)
	slices = append(slices, &MemSlice{
		Image: &Image{Width: 2, Height: 2, Channels: 1, Type: SampleUint8, Pix: make([]byte, 4)},
		Geom:  axialGeom(50),
	})
	v := newTestVolume(t, Options{Slices: slices})
	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)
	assert.ErrorIs(t, l.Err(), ErrMismatchedSlice)
}

func TestVolume_Unsubscribe(t *testing.T) {
	gctx, _ := gputest.NewContext()
	v := newTestVolume(t, Options{Slices: ctSlices(2, 2, 2, 0)})
	calls := 0
	unsubscribe := v.Subscribe(func(Event) { calls++ })
	unsubscribe()
	l := NewLoader(gctx, v, LoaderOptions{})
	l.Start()
	waitDone(t, l)
	assert.Zero(t, calls)
}

func TestVolume_DecodeRange(t *testing.T) {
	v := newTestVolume(t, Options{Slices: []Slice{&MemSlice{}},
		Header: Header{Width: 2, Height: 2, Channels: 1, Type: SampleUint16}})
	lo, hi := v.DecodeRange()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 65535.0, hi)
	assert.Equal(t, gpu.DataTypeUnsigned, v.DataType())
	assert.Equal(t, uint64(2*2*1*2), v.SizeBytes())
}
