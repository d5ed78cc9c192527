package queue

import (
	"context"
	"log/slog"
	"time"
)

// Notifier is the subset of internal/notifier.Notifier a Worker needs:
// handing one PEL's bytes to the host and blocking until it is acked,
// rejected, or times out.
type Notifier interface {
	Notify(ctx context.Context, pel []byte) error
}

// Worker repeatedly drains a Queue, delivering each pending PEL to notifier
// and acking it only once delivery succeeds. A delivery failure (timeout,
// rejection, transport error) leaves the row pending for the next poll
// interval — the queue's durability is what survives a daemon restart
// mid-delivery.
type Worker struct {
	q        *Queue
	notifier Notifier
	logger   *slog.Logger
	onAcked  func(obmcLogID, pelID uint32)

	pollInterval time.Duration
	batchSize    int
}

// NewWorker creates a Worker. pollInterval and batchSize fall back to
// DefaultPollInterval/DefaultBatchSize when zero. onAcked, if non-nil, is
// called after each PEL is successfully delivered and acked, so the caller
// can record the host-transmission state (e.g. repository.SetHostState).
func NewWorker(q *Queue, notifier Notifier, logger *slog.Logger, pollInterval time.Duration, batchSize int, onAcked func(obmcLogID, pelID uint32)) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Worker{q: q, notifier: notifier, logger: logger, pollInterval: pollInterval, batchSize: batchSize, onAcked: onAcked}
}

// DefaultPollInterval is how often a Worker checks the queue for new work
// when it isn't already busy delivering a backlog.
const DefaultPollInterval = 2 * time.Second

// DefaultBatchSize is how many pending rows a Worker pulls per poll.
const DefaultBatchSize = 10

// Run drains the queue until ctx is canceled. Each pending PEL is delivered
// serially, matching the host notifier's single-in-flight protocol.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drainOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) {
	for {
		pending, err := w.q.Dequeue(ctx, w.batchSize)
		if err != nil {
			w.logger.Warn("queue: dequeue failed", slog.Any("error", err))
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, pd := range pending {
			if ctx.Err() != nil {
				return
			}
			if err := w.notifier.Notify(ctx, pd.Bytes); err != nil {
				w.logger.Warn("queue: host delivery failed, will retry",
					slog.Uint64("obmc_log_id", uint64(pd.OBMCLogID)),
					slog.Uint64("pel_id", uint64(pd.PELID)),
					slog.Any("error", err))
				return
			}
			if err := w.q.Ack(ctx, []int64{pd.ID}); err != nil {
				w.logger.Warn("queue: ack failed", slog.Any("error", err))
				continue
			}
			if w.onAcked != nil {
				w.onAcked(pd.OBMCLogID, pd.PELID)
			}
		}
	}
}
