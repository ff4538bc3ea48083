package uplink

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultProbePeriod = 10 * time.Second
	DefaultDrainPause  = 1 * time.Second
)

// BatchSubmitter is the slice of Client the sync worker needs.
type BatchSubmitter interface {
	Probe(ctx context.Context) bool
	SendBatch(ctx context.Context, events []ScanEvent) SendOutcome
}

// SyncWorkerOptions tune the background loop. Zero values select the
// reference constants.
type SyncWorkerOptions struct {
	ProbePeriod time.Duration
	BatchLimit  int
	DrainPause  time.Duration
	Logger      Logger
}

// SyncStatus is a point-in-time snapshot of the worker for the diagnostics
// surface.
type SyncStatus struct {
	LastProbeAt      time.Time `json:"lastProbeAt"`
	LastProbeOK      bool      `json:"lastProbeOk"`
	LastDrainAt      time.Time `json:"lastDrainAt"`
	LastDrainBatches int       `json:"lastDrainBatches"`
	LastDrainErr     string    `json:"lastDrainError,omitempty"`
}

// SyncWorker is the background loop: every period it probes the
// orchestrator, moves the connection state accordingly, and drains the
// queue batch by batch while the service answers. It never terminates on
// its own; shutdown is the context's job.
type SyncWorker struct {
	queue   EventQueue
	client  BatchSubmitter
	tracker *StateTracker

	probePeriod time.Duration
	batchLimit  int
	drainPause  time.Duration
	logger      Logger

	statusMu sync.Mutex
	status   SyncStatus
}

func NewSyncWorker(queue EventQueue, client BatchSubmitter, tracker *StateTracker, opts SyncWorkerOptions) *SyncWorker {
	if opts.ProbePeriod <= 0 {
		opts.ProbePeriod = DefaultProbePeriod
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	if opts.DrainPause <= 0 {
		opts.DrainPause = DefaultDrainPause
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &SyncWorker{
		queue:       queue,
		client:      client,
		tracker:     tracker,
		probePeriod: opts.ProbePeriod,
		batchLimit:  opts.BatchLimit,
		drainPause:  opts.DrainPause,
		logger:      opts.Logger,
	}
}

// Run blocks until ctx is done. The first cycle fires immediately so a
// backlog from the previous boot starts moving without waiting a period.
func (w *SyncWorker) Run(ctx context.Context) {
	w.Cycle(ctx)
	ticker := time.NewTicker(w.probePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Cycle(ctx)
		}
	}
}

// Cycle performs one probe-then-drain pass. Exported so a diagnostics
// trigger can force a pass outside the timer.
func (w *SyncWorker) Cycle(ctx context.Context) {
	// With the link down there is nothing to probe; the link-layer callback
	// flips the state back up when connectivity returns.
	if !w.tracker.HasLink() {
		return
	}

	ok := w.client.Probe(ctx)
	w.recordProbe(ok)
	if !ok {
		probeFailuresTotal.Inc()
		if w.tracker.Get() == StateServiceUp {
			w.logger.Printf("sync: orchestrator unreachable, demoting to link_up")
			w.tracker.Set(StateLinkUp)
		}
		return
	}
	if w.tracker.Get() != StateServiceUp {
		w.logger.Printf("sync: orchestrator reachable")
		w.tracker.Set(StateServiceUp)
	}

	if w.queue.Size() > 0 {
		w.drain(ctx)
	}
}

// drain uploads batches until the queue empties, a batch fails, or ctx is
// done. Failed batches stay queued in full; there is no partial removal.
func (w *SyncWorker) drain(ctx context.Context) {
	started := time.Now()
	batches := 0
	var drainErr error

	defer func() {
		drainDuration.Observe(time.Since(started).Seconds())
		w.recordDrain(batches, drainErr)
	}()

	for {
		batch, err := w.queue.DequeueBatch(w.batchLimit)
		if err != nil {
			w.logger.Printf("sync: reading queue batch failed: %v", err)
			drainErr = err
			return
		}
		if len(batch) == 0 {
			return
		}

		outcome := w.client.SendBatch(ctx, batch)
		if !outcome.Accepted {
			batchFailuresTotal.Inc()
			w.logger.Printf("sync: batch of %d failed (status=%d err=%v), retrying next cycle",
				len(batch), outcome.StatusCode, outcome.Err)
			drainErr = outcome.Err
			return
		}
		batchesSentTotal.Inc()
		batches++

		if err := w.queue.Compact(len(batch)); err != nil {
			w.logger.Printf("sync: compacting %d uploaded records failed: %v", len(batch), err)
			drainErr = err
			return
		}
		w.logger.Printf("sync: uploaded batch of %d, %d remaining", len(batch), w.queue.Size())

		if w.queue.Size() == 0 {
			return
		}
		// Pause between batches so the scan path is not starved of the
		// storage lock.
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.drainPause):
		}
	}
}

// Status returns a copy of the latest cycle bookkeeping.
func (w *SyncWorker) Status() SyncStatus {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	return w.status
}

func (w *SyncWorker) recordProbe(ok bool) {
	w.statusMu.Lock()
	w.status.LastProbeAt = time.Now()
	w.status.LastProbeOK = ok
	w.statusMu.Unlock()
}

func (w *SyncWorker) recordDrain(batches int, err error) {
	w.statusMu.Lock()
	w.status.LastDrainAt = time.Now()
	w.status.LastDrainBatches = batches
	if err != nil {
		w.status.LastDrainErr = err.Error()
	} else {
		w.status.LastDrainErr = ""
	}
	w.statusMu.Unlock()
}
