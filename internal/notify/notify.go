// Package notify runs fire-and-forget deliveries on a small worker pool.
//
// Submit never blocks the caller: a full queue drops the job and counts it.
// Job failures are logged and counted, never returned, because the request
// that produced a notification has already completed.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one delivery. Kind and SubjectID are only used for logging.
type Job struct {
	Kind      string
	SubjectID string
	Run       func(ctx context.Context) error
}

// Config sizes the queue and the worker pool.
type Config struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	cfg       Config
	logger    *slog.Logger
	queue     chan Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
	sent      atomic.Uint64
	closeOnce sync.Once
}

// New starts cfg.Workers workers.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Job, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	ctx := context.Background()
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("notification panicked", "kind", job.Kind, "subject_id", job.SubjectID, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		d.failed.Add(1)
		d.logger.Warn("notification failed", "kind", job.Kind, "subject_id", job.SubjectID, "error", err)
		return
	}
	d.sent.Add(1)
}

// Submit enqueues job and reports whether it was accepted.
func (d *Dispatcher) Submit(job Job) bool {
	if d == nil || job.Run == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- job:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping", "kind", job.Kind, "subject_id", job.SubjectID)
		return false
	}
}

// Close stops intake and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

func (d *Dispatcher) Sent() uint64 { return d.sent.Load() }
