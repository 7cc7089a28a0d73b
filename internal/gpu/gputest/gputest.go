// Package gputest provides headless gpu.Context values for tests.
package gputest

import (
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/volren/internal/gpu"
)

// Write is one texture write seen by a Queue.
type Write struct {
	Origin hal.Origin3D
	Size   hal.Extent3D
	Data   []byte
}

// Queue wraps the noop queue, records texture writes and can be told to
// fail them.
type Queue struct {
	hal.Queue

	mu        sync.Mutex
	writes    []Write
	failAfter int
	failErr   error
}

// NewQueue returns a recording queue over the noop backend.
func NewQueue() *Queue {
	return &Queue{Queue: &noop.Queue{}, failAfter: -1}
}

// FailAfter makes every texture write after the first n fail with err.
// A negative n disables failures.
func (q *Queue) FailAfter(n int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failAfter = n
	q.failErr = err
}

// WriteTexture records the write, or fails it.
func (q *Queue) WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAfter >= 0 && len(q.writes) >= q.failAfter {
		return q.failErr
	}
	w := Write{Origin: dst.Origin, Data: append([]byte(nil), data...)}
	if size != nil {
		w.Size = *size
	}
	q.writes = append(q.writes, w)
	return q.Queue.WriteTexture(dst, data, layout, size)
}

// Writes returns a copy of the recorded writes.
func (q *Queue) Writes() []Write {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Write(nil), q.writes...)
}

// WriteCount returns the number of successful texture writes.
func (q *Queue) WriteCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes)
}

// NewContext returns a context over a noop device and a recording queue.
func NewContext() (*gpu.Context, *Queue) {
	q := NewQueue()
	return gpu.NewContextFromDevice(&noop.Device{}, q), q
}
