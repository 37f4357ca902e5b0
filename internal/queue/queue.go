package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// History bounds keep the completed and failed lists from growing without
// limit.
const (
	completedHistoryLimit = 100
	failedHistoryLimit    = 50
)

// dequeueBlock is how long one Dequeue call blocks waiting for work
const dequeueBlock = time.Second

// ConnProvider supplies the Redis connection and receives health reports.
// The rotation manager implements it; tests use a static provider.
type ConnProvider interface {
	Redis() *redis.Client
	ReportFailure(err error)
	ReportSuccess()
}

// StaticProvider is a ConnProvider pinned to a single client
type StaticProvider struct {
	Client *redis.Client
}

func (p *StaticProvider) Redis() *redis.Client  { return p.Client }
func (p *StaticProvider) ReportFailure(_ error) {}
func (p *StaticProvider) ReportSuccess()        {}

// Queue is a Redis-backed job queue. Ready jobs live in a list, delayed
// jobs in a sorted set scored by their ready time in unix milliseconds.
type Queue struct {
	provider ConnProvider
	name     string
	logger   *slog.Logger
}

// New creates a queue bound to a name
func New(provider ConnProvider, name string, logger *slog.Logger) *Queue {
	return &Queue{
		provider: provider,
		name:     name,
		logger:   logger,
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) readyKey() string     { return "queue:" + q.name }
func (q *Queue) delayedKey() string   { return "queue:" + q.name + ":delayed" }
func (q *Queue) completedKey() string { return "queue:" + q.name + ":completed" }
func (q *Queue) failedKey() string    { return "queue:" + q.name + ":failed" }

// Enqueue makes a job immediately available
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.provider.Redis().LPush(ctx, q.readyKey(), data).Err(); err != nil {
		q.provider.ReportFailure(err)
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.provider.ReportSuccess()
	return nil
}

// EnqueueIn schedules a job to become available after a delay
func (q *Queue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.provider.Redis().ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  readyAt,
		Member: data,
	}).Err(); err != nil {
		q.provider.ReportFailure(err)
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	q.provider.ReportSuccess()
	return nil
}

// Dequeue blocks for a short interval waiting for the next job. It returns
// nil without error when no job became ready, so callers loop on it.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	result, err := q.provider.Redis().BRPop(ctx, dequeueBlock, q.readyKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			q.provider.ReportSuccess()
			return nil, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		q.provider.ReportFailure(err)
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	q.provider.ReportSuccess()

	// BRPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// promoteDelayed moves every due delayed job onto the ready list
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.provider.Redis().ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		q.provider.ReportFailure(err)
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, member := range due {
		removed, err := q.provider.Redis().ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			q.provider.ReportFailure(err)
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
		// Another consumer may have promoted it first
		if removed == 0 {
			continue
		}
		if err := q.provider.Redis().LPush(ctx, q.readyKey(), member).Err(); err != nil {
			q.provider.ReportFailure(err)
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
	}
	q.provider.ReportSuccess()
	return nil
}

// Retry reschedules a failed job with exponential backoff, or records it as
// permanently failed once attempts are exhausted. It reports whether a
// retry was scheduled.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		if err := q.RecordFailed(ctx, job); err != nil {
			return false, err
		}
		if q.logger != nil {
			q.logger.Error("job failed permanently",
				slog.String("queue", q.name),
				slog.String("job_id", job.ID),
				slog.Int("attempts", job.Attempts),
				slog.String("last_error", job.LastError))
		}
		return false, nil
	}

	delay := job.Backoff()
	if err := q.EnqueueIn(ctx, job, delay); err != nil {
		return false, err
	}
	if q.logger != nil {
		q.logger.Warn("job scheduled for retry",
			slog.String("queue", q.name),
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Duration("delay", delay))
	}
	return true, nil
}

// RecordCompleted appends a job to the bounded completed history
func (q *Queue) RecordCompleted(ctx context.Context, job *Job) error {
	return q.record(ctx, q.completedKey(), job, completedHistoryLimit)
}

// RecordFailed appends a job to the bounded failed history
func (q *Queue) RecordFailed(ctx context.Context, job *Job) error {
	return q.record(ctx, q.failedKey(), job, failedHistoryLimit)
}

func (q *Queue) record(ctx context.Context, key string, job *Job, limit int64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	pipe := q.provider.Redis().Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.provider.ReportFailure(err)
		return fmt.Errorf("failed to record job history: %w", err)
	}
	q.provider.ReportSuccess()
	return nil
}

// Depth returns the number of ready and delayed jobs
func (q *Queue) Depth(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.provider.Redis().LLen(ctx, q.readyKey()).Result()
	if err != nil {
		q.provider.ReportFailure(err)
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	delayed, err = q.provider.Redis().ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		q.provider.ReportFailure(err)
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	q.provider.ReportSuccess()
	return ready, delayed, nil
}

// IndexEnqueuer adapts a queue to the ingest pipeline's enqueue contract
type IndexEnqueuer struct {
	queue *Queue
}

// NewIndexEnqueuer wraps the indexer queue
func NewIndexEnqueuer(queue *Queue) *IndexEnqueuer {
	return &IndexEnqueuer{queue: queue}
}

// EnqueueIndexEmail schedules search indexing for one email
func (e *IndexEnqueuer) EnqueueIndexEmail(ctx context.Context, emailID, mailboxID string) error {
	job, err := NewIndexEmailJob(emailID, mailboxID)
	if err != nil {
		return err
	}
	return e.queue.Enqueue(ctx, job)
}
