package flowcontrol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrWindowFull is returned when no slot frees up before the context ends
var ErrWindowFull = errors.New("flow control window is full")

// Window bounds the number of outstanding requests on one connection. A nil
// Window is unbounded.
type Window struct {
	sem         *semaphore.Weighted
	size        int
	outstanding atomic.Int64
}

// NewWindow returns a window of size slots, or nil when size is not positive
func NewWindow(size int) *Window {
	if size <= 0 {
		return nil
	}
	return &Window{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire waits for a free slot
func (w *Window) Acquire(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrWindowFull, err)
	}
	w.outstanding.Add(1)
	return nil
}

// TryAcquire takes a slot without waiting
func (w *Window) TryAcquire() bool {
	if w == nil {
		return true
	}
	if !w.sem.TryAcquire(1) {
		return false
	}
	w.outstanding.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire
func (w *Window) Release() {
	if w == nil {
		return
	}
	w.outstanding.Add(-1)
	w.sem.Release(1)
}

// Outstanding returns the number of slots in use
func (w *Window) Outstanding() int64 {
	if w == nil {
		return 0
	}
	return w.outstanding.Load()
}

// Size returns the window capacity; 0 means unbounded
func (w *Window) Size() int {
	if w == nil {
		return 0
	}
	return w.size
}
