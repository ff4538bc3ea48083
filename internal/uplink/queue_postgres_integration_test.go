package uplink

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var postgresIntegrationCounter uint64

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("UPLINK_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set UPLINK_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func newIntegrationQueue(t *testing.T, capacity int) *PostgresQueue {
	t.Helper()
	dsn := postgresIntegrationDSN(t)
	queue, err := NewPostgresQueue(dsn, capacity)
	require.NoError(t, err)
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	queue.tableName = fmt.Sprintf("uplink_event_queue_it_%d_%d", os.Getpid(), n)
	t.Cleanup(func() {
		db, openErr := sql.Open("postgres", dsn)
		if openErr == nil {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + quoteIdentifier(queue.tableName))
			_ = db.Close()
		}
		_ = queue.Close()
	})
	return queue
}

func TestPostgresIntegrationQueueContract(t *testing.T) {
	queue := newIntegrationQueue(t, 3)
	_, err := queue.Initialize()
	require.NoError(t, err)

	for _, token := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, queue.Enqueue(testEvent(token)))
	}
	require.Equal(t, 3, queue.Size())
	require.Equal(t, []string{"t2", "t3", "t4"}, queueTokens(t, queue, 10))

	require.NoError(t, queue.Compact(2))
	require.Equal(t, []string{"t4"}, queueTokens(t, queue, 10))
	require.Equal(t, 1, queue.Size())

	require.NoError(t, queue.Clear())
	require.Zero(t, queue.Size())
	require.Empty(t, queueTokens(t, queue, 10))
}

func TestPostgresIntegrationRemovalsWaitForAdvisoryLock(t *testing.T) {
	queue := newIntegrationQueue(t, 10)
	_, err := queue.Initialize()
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(testEvent("t1")))
	require.NoError(t, queue.Enqueue(testEvent("t2")))

	db, err := sql.Open("postgres", postgresIntegrationDSN(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// Hold the queue's advisory lock from a second session. Compact must
	// queue behind it rather than interleave with a count-then-evict
	// decision made under the same lock.
	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("SELECT pg_advisory_xact_lock($1)", queue.lockKey())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- queue.Compact(1) }()

	select {
	case compactErr := <-done:
		t.Fatalf("compact completed while the advisory lock was held elsewhere: %v", compactErr)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, tx.Commit())
	require.NoError(t, <-done)
	require.Equal(t, []string{"t2"}, queueTokens(t, queue, 10))

	tx, err = db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("SELECT pg_advisory_xact_lock($1)", queue.lockKey())
	require.NoError(t, err)

	go func() { done <- queue.Clear() }()
	select {
	case clearErr := <-done:
		t.Fatalf("clear completed while the advisory lock was held elsewhere: %v", clearErr)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, tx.Commit())
	require.NoError(t, <-done)
	require.Zero(t, queue.Size())
}
