package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vanishmail/vanishmail-backend/internal/queue"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// CleanupWorker consumes expiry-sweep jobs. Each sweep lists the expired
// mailboxes and purges them one by one; a failure on one mailbox aborts the
// sweep (the next sweep picks up the remainder).
type CleanupWorker struct {
	queue     *queue.Queue
	mailboxes *services.MailboxService
	logger    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewCleanupWorker creates a cleanup worker
func NewCleanupWorker(q *queue.Queue, mailboxes *services.MailboxService, logger *slog.Logger) *CleanupWorker {
	return &CleanupWorker{
		queue:     q,
		mailboxes: mailboxes,
		logger:    logger,
	}
}

// Start begins consuming sweep jobs
func (w *CleanupWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the worker and waits for the in-flight sweep to finish
func (w *CleanupWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *CleanupWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		if err := w.Sweep(ctx); err != nil {
			w.queue.Retry(ctx, job, err)
			continue
		}
		w.queue.RecordCompleted(ctx, job)
	}
}

// Sweep purges every expired mailbox. Purging is idempotent, so a sweep
// that dies halfway is safely re-run.
func (w *CleanupWorker) Sweep(ctx context.Context) error {
	expired, err := w.mailboxes.ListExpired(ctx)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	purged := 0
	for i := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := w.mailboxes.Purge(ctx, &expired[i]); err != nil {
			if w.logger != nil {
				w.logger.Error("failed to purge expired mailbox",
					slog.String("address", expired[i].Address),
					slog.Any("error", err))
			}
			return err
		}
		purged++
	}

	if w.logger != nil {
		w.logger.Info("expiry sweep finished",
			slog.Int("expired", len(expired)),
			slog.Int("purged", purged))
	}
	return nil
}
