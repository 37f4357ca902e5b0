package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vanishmail/vanishmail-backend/internal/queue"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/storage"
)

// OrphanWorker consumes orphaned-attachment sweep jobs. A file is an
// orphan when no attachment row references its storage ref; the database
// is the source of truth.
type OrphanWorker struct {
	queue  *queue.Queue
	emails repository.EmailRepository
	files  storage.FileStorage
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOrphanWorker creates an orphan-attachment worker
func NewOrphanWorker(q *queue.Queue, emails repository.EmailRepository, files storage.FileStorage, logger *slog.Logger) *OrphanWorker {
	return &OrphanWorker{
		queue:  q,
		emails: emails,
		files:  files,
		logger: logger,
	}
}

// Start begins consuming sweep jobs
func (w *OrphanWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the worker and waits for the in-flight sweep to finish
func (w *OrphanWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *OrphanWorker) run(ctx context.Context) {
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

// Sweep deletes every stored file no attachment row references. Files are
// listed before the referenced set is read: bytes saved mid-sweep either
// miss the listing entirely or have their rows visible by the time the
// referenced set is read.
func (w *OrphanWorker) Sweep(ctx context.Context) error {
	stored, err := w.files.List()
	if err != nil {
		return err
	}

	referenced, err := w.emails.ListStorageRefs(ctx)
	if err != nil {
		return err
	}
	refSet := make(map[string]struct{}, len(referenced))
	for _, ref := range referenced {
		refSet[ref] = struct{}{}
	}

	orphans := make([]string, 0)
	for _, ref := range stored {
		if _, ok := refSet[ref]; !ok {
			orphans = append(orphans, ref)
		}
	}

	deleted := w.files.DeleteMany(orphans)
	if w.logger != nil {
		w.logger.Info("orphan sweep finished",
			slog.Int("stored", len(stored)),
			slog.Int("orphans", len(orphans)),
			slog.Int("deleted", deleted))
	}
	return nil
}
