package flowcontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBoundsOutstanding(t *testing.T) {
	w := NewWindow(2)
	ctx := context.Background()

	require.NoError(t, w.Acquire(ctx))
	require.True(t, w.TryAcquire())
	assert.False(t, w.TryAcquire())
	assert.Equal(t, int64(2), w.Outstanding())
	assert.Equal(t, 2, w.Size())

	acquired := make(chan struct{})
	go func() {
		if w.Acquire(ctx) == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquired a slot from a full window")
	case <-time.After(20 * time.Millisecond):
	}

	w.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Release")
	}
	assert.Equal(t, int64(2), w.Outstanding())
}

func TestWindowAcquireHonorsContext(t *testing.T) {
	w := NewWindow(1)
	require.True(t, w.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := w.Acquire(ctx)
	assert.ErrorIs(t, err, ErrWindowFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), w.Outstanding())
}

func TestNilWindowIsUnbounded(t *testing.T) {
	w := NewWindow(0)
	assert.Nil(t, w)

	for i := 0; i < 100; i++ {
		require.NoError(t, w.Acquire(context.Background()))
	}
	assert.True(t, w.TryAcquire())
	w.Release()
	assert.Zero(t, w.Outstanding())
	assert.Zero(t, w.Size())
}
