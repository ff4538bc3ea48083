package uplink

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEventQueueSchemes(t *testing.T) {
	dir := t.TempDir()

	filePath := filepath.Join(dir, "queue.jsonl")
	queue, err := BuildEventQueue(filePath, FileQueueOptions{})
	require.NoError(t, err)
	require.IsType(t, &FileQueue{}, queue)

	queue, err = BuildEventQueue("file://"+filepath.Join(dir, "other.jsonl"), FileQueueOptions{})
	require.NoError(t, err)
	require.IsType(t, &FileQueue{}, queue)

	queue, err = BuildEventQueue("memory://", FileQueueOptions{Capacity: 5})
	require.NoError(t, err)
	require.IsType(t, &MemoryQueue{}, queue)

	queue, err = BuildEventQueue("postgres://user@localhost/uplink", FileQueueOptions{})
	require.NoError(t, err)
	require.IsType(t, &PostgresQueue{}, queue)
}

func TestBuildEventQueueRejections(t *testing.T) {
	_, err := BuildEventQueue("", FileQueueOptions{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = BuildEventQueue("redis://localhost:6379/0", FileQueueOptions{})
	require.ErrorIs(t, err, ErrNotImplemented)

	_, err = BuildEventQueue("carrierpigeon://loft", FileQueueOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported queue scheme")
}

func TestRegisterQueueFactoryOverridesScheme(t *testing.T) {
	memory := NewMemoryQueue(3)
	RegisterQueueFactory("custom", func(dsn string, opts FileQueueOptions) (EventQueue, error) {
		return memory, nil
	})

	queue, err := BuildEventQueue("custom://anything", FileQueueOptions{})
	require.NoError(t, err)
	require.Same(t, memory, queue.(*MemoryQueue))
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(3)
	for _, token := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, queue.Enqueue(testEvent(token)))
	}
	require.Equal(t, 3, queue.Size())
	require.Equal(t, []string{"t2", "t3", "t4"}, queueTokens(t, queue, 10))

	require.NoError(t, queue.Compact(2))
	require.Equal(t, []string{"t4"}, queueTokens(t, queue, 10))

	require.NoError(t, queue.Close())
	require.ErrorIs(t, queue.Enqueue(testEvent("t5")), ErrQueueClosed)
	_, err := queue.DequeueBatch(10)
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, queue.Compact(1), ErrQueueClosed)
	require.ErrorIs(t, queue.Clear(), ErrQueueClosed)
}
