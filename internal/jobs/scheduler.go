package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vanishmail/vanishmail-backend/internal/queue"
)

// Sweep cadences
const (
	DefaultCleanupInterval = 10 * time.Minute
	DefaultOrphanInterval  = 8 * time.Hour
)

// Scheduler periodically enqueues the recurring sweep jobs. It only
// produces work; the workers consume it.
type Scheduler struct {
	cleanupQueue    *queue.Queue
	orphanQueue     *queue.Queue
	cleanupInterval time.Duration
	orphanInterval  time.Duration
	logger          *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the two sweep queues
func NewScheduler(cleanupQueue, orphanQueue *queue.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cleanupQueue:    cleanupQueue,
		orphanQueue:     orphanQueue,
		cleanupInterval: DefaultCleanupInterval,
		orphanInterval:  DefaultOrphanInterval,
		logger:          logger,
	}
}

// Start begins the ticker loops. An initial cleanup sweep is enqueued
// immediately so expired mailboxes do not linger across restarts.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.enqueue(ctx, s.cleanupQueue, queue.NewCleanupJob())

	s.wg.Add(2)
	go s.loop(ctx, s.cleanupInterval, func() {
		s.enqueue(ctx, s.cleanupQueue, queue.NewCleanupJob())
	})
	go s.loop(ctx, s.orphanInterval, func() {
		s.enqueue(ctx, s.orphanQueue, queue.NewOrphanCleanupJob())
	})
}

// Stop halts the ticker loops and waits for them to exit
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, q *queue.Queue, job *queue.Job) {
	if err := q.Enqueue(ctx, job); err != nil && s.logger != nil {
		s.logger.Error("failed to enqueue sweep job",
			slog.String("queue", q.Name()),
			slog.Any("error", err))
	}
}
