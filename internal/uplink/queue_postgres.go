package uplink

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresQueueTable       = "uplink_event_queue"
	postgresQueueKey         = "default"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresQueue implements EventQueue on one table, for hosted deployments
// of the agent logic (replay rigs, orchestrator-side soak tests) where the
// backlog lives in the service database instead of on a flash card. The
// FIFO, capacity, and compaction contract matches FileQueue; ordering comes
// from the serial id column and mutual exclusion from a transaction-scoped
// advisory lock.
type PostgresQueue struct {
	dsn       string
	tableName string
	queueKey  string
	capacity  int
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	sizeMu sync.Mutex
	size   int
}

func NewPostgresQueue(dsn string, capacity int) (*PostgresQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &PostgresQueue{
		dsn:       dsn,
		tableName: postgresQueueTable,
		queueKey:  postgresQueueKey,
		capacity:  capacity,
		openDB:    sql.Open,
	}, nil
}

func (q *PostgresQueue) Initialize() (InitResult, error) {
	count, err := q.countRows()
	if err != nil {
		return InitResult{}, err
	}
	q.setSize(count)
	return InitResult{Records: count}, nil
}

func (q *PostgresQueue) Enqueue(event ScanEvent) error {
	payload, err := encodeRecord(event)
	if err != nil {
		return err
	}
	if err := q.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", q.lockKey()); err != nil {
		return err
	}

	var count int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", quoteIdentifier(q.tableName))
	if err := tx.QueryRowContext(ctx, countQuery, q.queueKey).Scan(&count); err != nil {
		return err
	}
	evicted := 0
	if count >= q.capacity {
		evictQuery := fmt.Sprintf(`
			DELETE FROM %s WHERE id IN (
				SELECT id FROM %s WHERE queue_key = $1 ORDER BY id ASC LIMIT $2
			)`, quoteIdentifier(q.tableName), quoteIdentifier(q.tableName))
		result, err := tx.ExecContext(ctx, evictQuery, q.queueKey, count-q.capacity+1)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err == nil {
			evicted = int(n)
		}
	}

	insertQuery := fmt.Sprintf(
		"INSERT INTO %s (queue_key, payload, created_at) VALUES ($1, $2, NOW())",
		quoteIdentifier(q.tableName))
	if _, err := tx.ExecContext(ctx, insertQuery, q.queueKey, string(payload)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	q.addSize(1 - evicted)
	return nil
}

func (q *PostgresQueue) DequeueBatch(maxCount int) ([]ScanEvent, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if err := q.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT payload FROM %s WHERE queue_key = $1 ORDER BY id ASC LIMIT $2",
		quoteIdentifier(q.tableName))
	rows, err := q.db.QueryContext(ctx, query, q.queueKey, maxCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []ScanEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		event, decodeErr := decodeRecord([]byte(payload))
		if decodeErr != nil {
			continue
		}
		batch = append(batch, event)
	}
	return batch, rows.Err()
}

func (q *PostgresQueue) Compact(removeCount int) error {
	if removeCount <= 0 {
		return nil
	}
	if err := q.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Same advisory lock as Enqueue: removal must not interleave with the
	// capacity count-then-evict decision.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", q.lockKey()); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s WHERE queue_key = $1 ORDER BY id ASC LIMIT $2
		)`, quoteIdentifier(q.tableName), quoteIdentifier(q.tableName))
	result, err := tx.ExecContext(ctx, query, q.queueKey, removeCount)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil {
		q.addSize(-int(n))
	}
	return nil
}

func (q *PostgresQueue) Size() int {
	q.sizeMu.Lock()
	defer q.sizeMu.Unlock()
	return q.size
}

func (q *PostgresQueue) Clear() error {
	if err := q.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", q.lockKey()); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE queue_key = $1", quoteIdentifier(q.tableName))
	if _, err := tx.ExecContext(ctx, query, q.queueKey); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	q.setSize(0)
	return nil
}

func (q *PostgresQueue) Diagnostics() (QueueDiagnostics, error) {
	count, err := q.countRows()
	if err != nil {
		return QueueDiagnostics{CachedSize: q.Size()}, err
	}
	return QueueDiagnostics{
		CachedSize:    q.Size(),
		FileLineCount: count,
	}, nil
}

func (q *PostgresQueue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *PostgresQueue) countRows() (int, error) {
	if err := q.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue_key = $1", quoteIdentifier(q.tableName))
	var count int
	if err := q.db.QueryRowContext(ctx, query, q.queueKey).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (q *PostgresQueue) ensureReady() error {
	q.initOnce.Do(func() {
		db, err := q.openDB("postgres", q.dsn)
		if err != nil {
			q.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		createQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				queue_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(q.tableName))
		if _, err := db.ExecContext(ctx, createQuery); err != nil {
			_ = db.Close()
			q.initErr = err
			return
		}
		q.db = db
	})
	return q.initErr
}

func (q *PostgresQueue) lockKey() int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(q.tableName + "|" + q.queueKey))
	return int64(hasher.Sum64())
}

func (q *PostgresQueue) setSize(n int) {
	q.sizeMu.Lock()
	q.size = n
	q.sizeMu.Unlock()
}

func (q *PostgresQueue) addSize(delta int) {
	q.sizeMu.Lock()
	q.size += delta
	if q.size < 0 {
		q.size = 0
	}
	q.sizeMu.Unlock()
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
