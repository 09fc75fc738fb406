package task

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTaskQueue_EnqueueAndReceive(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(2, discardLogger())
	first := NewMockTask("a")
	second := NewMockTask("b")

	require.NoError(t, q.Enqueue(first))
	require.NoError(t, q.Enqueue(second))
	assert.Equal(t, 2, q.Len())

	assert.Same(t, first, <-q.GetChannel())
	assert.Same(t, second, <-q.GetChannel())
}

func TestTaskQueue_Full(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1, discardLogger())
	require.NoError(t, q.Enqueue(NewMockTask("a")))

	err := q.Enqueue(NewMockTask("b"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTaskQueue_Close(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(2, discardLogger())
	queued := NewMockTask("a")
	require.NoError(t, q.Enqueue(queued))

	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(NewMockTask("b")), ErrQueueClosed)

	got, ok := <-q.GetChannel()
	require.True(t, ok, "buffered tasks stay readable after close")
	assert.Same(t, queued, got)

	_, ok = <-q.GetChannel()
	assert.False(t, ok)
}

func TestTaskQueue_ConcurrentEnqueueAndClose(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue(1000, discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = q.Enqueue(NewMockTask("c"))
			}
		}()
	}
	q.Close()
	wg.Wait()

	count := 0
	for range q.GetChannel() {
		count++
	}
	assert.LessOrEqual(t, count, 400)
}
