package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vanishmail/vanishmail-backend/internal/queue"
	"github.com/vanishmail/vanishmail-backend/internal/repository"
	"github.com/vanishmail/vanishmail-backend/internal/services"
)

// DefaultIndexConcurrency is how many index jobs run at once
const DefaultIndexConcurrency = 5

// IndexWorker consumes search-indexing jobs with bounded concurrency.
// Failures retry with backoff; an email deleted before its job ran counts
// as completed.
type IndexWorker struct {
	queue       *queue.Queue
	emails      repository.EmailRepository
	search      services.Searcher
	concurrency int
	logger      *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewIndexWorker creates an index worker
func NewIndexWorker(q *queue.Queue, emails repository.EmailRepository, search services.Searcher, logger *slog.Logger) *IndexWorker {
	return &IndexWorker{
		queue:       q,
		emails:      emails,
		search:      search,
		concurrency: DefaultIndexConcurrency,
		logger:      logger,
	}
}

// Start begins consuming index jobs
func (w *IndexWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop halts the workers and waits for in-flight jobs to finish
func (w *IndexWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *IndexWorker) run(ctx context.Context) {
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

		if err := w.Process(ctx, job); err != nil {
			w.queue.Retry(ctx, job, err)
			continue
		}
		w.queue.RecordCompleted(ctx, job)
	}
}

// Process indexes the email named by one job
func (w *IndexWorker) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.IndexEmailPayload()
	if err != nil {
		// Malformed payloads never succeed on retry
		if w.logger != nil {
			w.logger.Error("dropping malformed index job",
				slog.String("job_id", job.ID),
				slog.Any("error", err))
		}
		return nil
	}

	email, err := w.emails.GetByID(ctx, payload.MailboxID, payload.EmailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted before indexing, nothing to do
			return nil
		}
		return err
	}

	if err := w.search.IndexEmail(ctx, email); err != nil {
		return err
	}

	if w.logger != nil {
		w.logger.Debug("email indexed", slog.String("email_id", email.ID))
	}
	return nil
}
