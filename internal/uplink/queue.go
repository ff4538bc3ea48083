package uplink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultQueueCapacity      = 100
	DefaultBatchLimit         = 10
	DefaultCorruptionLimit    = 100 * 1024 // bytes
	DefaultLockTimeout        = 500 * time.Millisecond
	DefaultLongLockTimeout    = 2 * time.Second
	queueTempSuffix           = ".tmp"
	queueFilePermissions      = 0o644
	queueDirectoryPermissions = 0o755
)

// InitResult describes what Initialize found on disk.
type InitResult struct {
	// Records is the number of complete records recovered from the log.
	Records int
	// Reset is true when the log was discarded instead of recovered.
	Reset bool
	// ResetReason explains a reset, empty otherwise.
	ResetReason string
}

// QueueDiagnostics is the divergence-inspection snapshot exposed to
// operators. CachedSize comes from memory; the other fields are read from
// storage at call time.
type QueueDiagnostics struct {
	CachedSize    int    `json:"cachedSize"`
	FileLineCount int    `json:"fileLineCount"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	FreeBytes     uint64 `json:"freeBytes"`
}

// EventQueue is a bounded FIFO of scan events that survives restarts.
// Enqueue past capacity evicts the oldest record; DequeueBatch is read-only;
// Compact removes a prefix of records after a successful upload. Size must
// be cheap enough for a rendering path to call at high frequency.
type EventQueue interface {
	Initialize() (InitResult, error)
	Enqueue(event ScanEvent) error
	DequeueBatch(maxCount int) ([]ScanEvent, error)
	Compact(removeCount int) error
	Size() int
	Clear() error
	Diagnostics() (QueueDiagnostics, error)
	Close() error
}

// FileQueueOptions tune a FileQueue. Zero values select the reference
// constants above.
type FileQueueOptions struct {
	Capacity        int
	CorruptionLimit int64
	LockTimeout     time.Duration
	LongLockTimeout time.Duration
	Logger          Logger
}

// FileQueue is the on-device EventQueue: an append-only newline-delimited
// JSON log plus a transient temp file during compaction. One timed mutex
// serializes every storage operation so FIFO order is preserved end to end;
// the cached count lives behind its own lock so Size never waits on storage.
type FileQueue struct {
	path            string
	tmpPath         string
	capacity        int
	corruptionLimit int64
	lockTimeout     time.Duration
	longLockTimeout time.Duration
	logger          Logger

	storage timedMutex

	sizeMu sync.Mutex
	size   int
}

// NewFileQueue prepares a queue backed by the log file at path. The file is
// not touched until Initialize.
func NewFileQueue(path string, opts FileQueueOptions) (*FileQueue, error) {
	if path == "" {
		return nil, ErrInvalidInput
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultQueueCapacity
	}
	if opts.CorruptionLimit <= 0 {
		opts.CorruptionLimit = DefaultCorruptionLimit
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.LongLockTimeout <= 0 {
		opts.LongLockTimeout = DefaultLongLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &FileQueue{
		path:            path,
		tmpPath:         path + queueTempSuffix,
		capacity:        opts.Capacity,
		corruptionLimit: opts.CorruptionLimit,
		lockTimeout:     opts.LockTimeout,
		longLockTimeout: opts.LongLockTimeout,
		logger:          opts.Logger,
		storage:         newTimedMutex(),
	}, nil
}

// Initialize validates the log and seeds the cached count. A missing file is
// an empty queue. A file above the corruption limit is deleted wholesale:
// queued scans are a soft cache of recent activity, and discarding them is
// cheaper than attempting to repair an unbounded file on a device with no
// virtual memory. A stray temp file from an interrupted compaction is
// removed; the primary log is the only source of truth.
func (q *FileQueue) Initialize() (InitResult, error) {
	if !q.storage.acquire(q.longLockTimeout) {
		return InitResult{}, ErrStorageBusy
	}
	defer q.storage.release()

	_ = os.Remove(q.tmpPath)

	info, err := os.Stat(q.path)
	if errors.Is(err, os.ErrNotExist) {
		q.setSize(0)
		return InitResult{}, nil
	}
	if err != nil {
		return InitResult{}, err
	}

	if info.Size() > q.corruptionLimit {
		reason := fmt.Sprintf("log size %d exceeds limit %d", info.Size(), q.corruptionLimit)
		q.logger.Printf("queue: corruption detected (%s), resetting", reason)
		if err := os.Remove(q.path); err != nil {
			return InitResult{}, err
		}
		q.setSize(0)
		return InitResult{Reset: true, ResetReason: reason}, nil
	}

	if err := q.repairTailLocked(info.Size()); err != nil {
		return InitResult{}, err
	}

	count, err := q.countLinesLocked()
	if err != nil {
		return InitResult{}, err
	}
	q.setSize(count)
	return InitResult{Records: count}, nil
}

// repairTailLocked drops an unterminated tail fragment left by a crash
// mid-append. The fragment never completed its durable write, so it is not
// a record; left in place it would be miscounted and would fuse with the
// next appended record into one undecodable line.
func (q *FileQueue) repairTailLocked(size int64) error {
	if size == 0 {
		return nil
	}
	file, err := os.Open(q.path)
	if err != nil {
		return err
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		_ = file.Close()
		return err
	}
	if last[0] == '\n' {
		return file.Close()
	}

	// Scan for the offset just past the final newline; everything after it
	// is the fragment.
	keep := int64(0)
	offset := int64(0)
	buf := make([]byte, 4096)
	for {
		n, readErr := file.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				keep = offset + int64(i) + 1
			}
		}
		offset += int64(n)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = file.Close()
			return readErr
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	q.logger.Printf("queue: dropping %d-byte unterminated tail fragment", size-keep)
	return os.Truncate(q.path, keep)
}

// Enqueue appends one record, evicting the oldest record first when the
// queue is at capacity. The append is flushed to storage before the lock is
// released.
func (q *FileQueue) Enqueue(event ScanEvent) error {
	line, err := encodeRecord(event)
	if err != nil {
		return err
	}
	if !q.storage.acquire(q.lockTimeout) {
		return ErrStorageBusy
	}
	defer q.storage.release()

	if q.Size() >= q.capacity {
		evicted, err := q.compactLocked(1)
		if err != nil {
			return err
		}
		q.addSize(-evicted)
		if evicted > 0 {
			q.logger.Printf("queue: at capacity, evicted oldest record")
		}
	}

	if err := os.MkdirAll(filepath.Dir(q.path), queueDirectoryPermissions); err != nil {
		return err
	}
	file, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, queueFilePermissions)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	q.addSize(1)
	return nil
}

// DequeueBatch returns up to maxCount records from the head of the log
// without mutating it. Lines that fail to parse are logged and skipped; they
// are only ever removed by a later Compact covering them.
func (q *FileQueue) DequeueBatch(maxCount int) ([]ScanEvent, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if !q.storage.acquire(q.lockTimeout) {
		return nil, ErrStorageBusy
	}
	defer q.storage.release()

	file, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var batch []ScanEvent
	reader := bufio.NewReader(file)
	for len(batch) < maxCount {
		line, err := readLogLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		event, decodeErr := decodeRecord(line)
		if decodeErr != nil {
			q.logger.Printf("queue: skipping unreadable record: %v", decodeErr)
			continue
		}
		batch = append(batch, event)
	}
	return batch, nil
}

// Compact removes the first removeCount records by streaming the log into a
// temp file one line at a time and atomically swapping it into place. Peak
// memory is bounded by the longest single line regardless of backlog size.
func (q *FileQueue) Compact(removeCount int) error {
	if removeCount <= 0 {
		return nil
	}
	if !q.storage.acquire(q.longLockTimeout) {
		return ErrStorageBusy
	}
	defer q.storage.release()

	skipped, err := q.compactLocked(removeCount)
	if err != nil {
		return err
	}
	if skipped < removeCount {
		// The cache believed more records existed than the log held.
		// Reported, not escalated; the next Initialize re-counts.
		q.logger.Printf("queue: compact removed %d of %d requested records", skipped, removeCount)
	}
	q.addSize(-skipped)
	return nil
}

// compactLocked does the stream copy. Caller holds the storage lock.
// Returns the number of lines actually skipped.
func (q *FileQueue) compactLocked(removeCount int) (int, error) {
	src, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	tmp, err := os.OpenFile(q.tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, queueFilePermissions)
	if err != nil {
		_ = src.Close()
		return 0, err
	}

	// The copy loop works on the reader's internal buffer via ReadSlice, so
	// it allocates nothing per line; a line longer than the buffer arrives
	// as ErrBufferFull chunks and is streamed through the same way.
	reader := bufio.NewReader(src)
	writer := bufio.NewWriter(tmp)
	skipped := 0
	started := false
	copying := false
	for {
		chunk, readErr := reader.ReadSlice('\n')
		if readErr != nil && readErr != bufio.ErrBufferFull && readErr != io.EOF {
			_ = src.Close()
			_ = tmp.Close()
			return 0, readErr
		}
		complete := len(chunk) > 0 && chunk[len(chunk)-1] == '\n'
		content := chunk
		if complete {
			content = chunk[:len(chunk)-1]
		}
		if len(content) > 0 || started {
			if !started {
				started = true
				copying = skipped >= removeCount
			}
			if copying {
				if _, err := writer.Write(chunk); err != nil {
					_ = src.Close()
					_ = tmp.Close()
					return 0, err
				}
				if !complete && readErr == io.EOF {
					if err := writer.WriteByte('\n'); err != nil {
						_ = src.Close()
						_ = tmp.Close()
						return 0, err
					}
				}
			}
			if complete || readErr == io.EOF {
				if !copying {
					skipped++
				}
				started = false
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	_ = src.Close()
	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(q.tmpPath, q.path); err != nil {
		return 0, err
	}
	return skipped, nil
}

// Size returns the cached record count without touching storage.
func (q *FileQueue) Size() int {
	q.sizeMu.Lock()
	defer q.sizeMu.Unlock()
	return q.size
}

// Clear deletes the log outright. Callers own the confirmation step; this
// method does not ask twice.
func (q *FileQueue) Clear() error {
	if !q.storage.acquire(q.longLockTimeout) {
		return ErrStorageBusy
	}
	defer q.storage.release()

	if err := os.Remove(q.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_ = os.Remove(q.tmpPath)
	q.setSize(0)
	return nil
}

// Diagnostics reads the log's actual line count and byte size so an
// operator can compare them against the cached count. Free space on the
// backing filesystem is included so total storage exhaustion is visible
// before Enqueue starts failing.
func (q *FileQueue) Diagnostics() (QueueDiagnostics, error) {
	diag := QueueDiagnostics{CachedSize: q.Size()}
	if !q.storage.acquire(q.lockTimeout) {
		return diag, ErrStorageBusy
	}
	defer q.storage.release()

	info, err := os.Stat(q.path)
	if err == nil {
		diag.FileSizeBytes = info.Size()
		count, countErr := q.countLinesLocked()
		if countErr != nil {
			return diag, countErr
		}
		diag.FileLineCount = count
	} else if !errors.Is(err, os.ErrNotExist) {
		return diag, err
	}
	diag.FreeBytes = freeBytes(filepath.Dir(q.path))
	return diag, nil
}

func (q *FileQueue) Close() error {
	return nil
}

// countLinesLocked counts newline-terminated records one line at a time.
func (q *FileQueue) countLinesLocked() (int, error) {
	file, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	reader := bufio.NewReader(file)
	for {
		line, err := readLogLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if len(line) > 0 {
			count++
		}
	}
	return count, nil
}

func (q *FileQueue) setSize(n int) {
	q.sizeMu.Lock()
	q.size = n
	q.sizeMu.Unlock()
}

func (q *FileQueue) addSize(delta int) {
	q.sizeMu.Lock()
	q.size += delta
	if q.size < 0 {
		q.size = 0
	}
	q.sizeMu.Unlock()
}

// readLogLine returns the next line without its terminator, holding at most
// one line in memory. io.EOF signals a clean end of file; a final unfinished
// fragment without a newline is returned before EOF on the next call.
func readLogLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err == io.EOF && len(line) == 0 {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// timedMutex is a mutex with a bounded acquisition wait, so a caller racing
// a long compaction fails its operation instead of stalling the scan path.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() timedMutex {
	return timedMutex{ch: make(chan struct{}, 1)}
}

func (m timedMutex) acquire(timeout time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (m timedMutex) release() {
	<-m.ch
}
