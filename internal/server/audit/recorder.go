package audit

import (
	"context"
	"time"

	"github.com/contractorvault/broker/internal/logging"
	"github.com/contractorvault/broker/internal/timex"
	"github.com/sethvargo/go-retry"
)

// Recorder is the owning component of the audit write path: a bounded
// queue drained by a single writer goroutine.
//
// Contract:
//   - Record never blocks and never fails the primary operation it
//     describes.
//   - Writes are retried with capped exponential backoff; an entry that
//     exhausts its retries is dumped to the structured log, so transient
//     storage failure never silently drops it.
//   - Close drains the queue before returning.
type Recorder struct {
	repo    Repository
	logger  logging.Logger
	clock   timex.Clock
	queue   chan Entry
	done    chan struct{}
	retries uint64
	backoff time.Duration
}

// RecorderOptions bound the queue and the retry policy.
type RecorderOptions struct {
	QueueSize  int
	MaxRetries uint64
	Backoff    time.Duration
}

func NewRecorder(repo Repository, logger logging.Logger, clock timex.Clock, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if clock == nil {
		clock = timex.RealClock{}
	}

	r := &Recorder{
		repo:    repo,
		logger:  logger.With("module", "audit"),
		clock:   clock,
		queue:   make(chan Entry, opts.QueueSize),
		done:    make(chan struct{}),
		retries: opts.MaxRetries,
		backoff: opts.Backoff,
	}
	go r.drain()
	return r
}

// Record enqueues one entry. When the queue is full the entry goes
// straight to the structured log instead of blocking the caller.
func (r *Recorder) Record(actor string, action Action, target, ip, detail string) {
	entry := NewEntry(r.clock.Now(), actor, action, target, ip, detail)

	select {
	case r.queue <- entry:
	default:
		r.logger.Error(context.Background(), "audit queue full, entry logged only",
			"actor", entry.Actor, "action", entry.Action, "target", entry.Target,
			"ip", entry.IP, "detail", entry.Detail)
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry Entry) {
	ctx := context.Background()

	b := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := r.repo.Append(ctx, entry); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error(ctx, "audit write failed after retries, entry logged only",
			"error", err.Error(),
			"actor", entry.Actor, "action", entry.Action, "target", entry.Target,
			"ip", entry.IP, "detail", entry.Detail)
	}
}

// Close stops accepting entries and drains what is already queued.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}
