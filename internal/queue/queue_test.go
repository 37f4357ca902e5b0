package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanishmail/vanishmail-backend/internal/rotation"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(&StaticProvider{Client: client}, QueueIndexer, nil), mr
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := NewIndexEmailJob("email-1", "mailbox-1")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, KindIndexEmail, got.Kind)

	payload, err := got.IndexEmailPayload()
	require.NoError(t, err)
	assert.Equal(t, "email-1", payload.EmailID)
	assert.Equal(t, "mailbox-1", payload.MailboxID)
}

func TestQueue_DequeueEmptyReturnsNil(t *testing.T) {
	q, _ := newTestQueue(t)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_DelayedJobNotVisibleUntilDue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := NewIndexEmailJob("email-1", "mailbox-1")
	require.NoError(t, err)
	require.NoError(t, q.EnqueueIn(ctx, job, time.Hour))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "a delayed job must stay invisible until due")

	ready, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ready)
	assert.EqualValues(t, 1, delayed)
}

func TestQueue_DelayedJobPromotedWhenDue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := NewIndexEmailJob("email-1", "mailbox-1")
	require.NoError(t, err)
	// Already due
	require.NoError(t, q.EnqueueIn(ctx, job, -time.Second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestQueue_RetrySchedulesWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := NewIndexEmailJob("email-1", "mailbox-1")
	require.NoError(t, err)

	retried, err := q.Retry(ctx, job, assert.AnError)
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, assert.AnError.Error(), job.LastError)

	_, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)
}

func TestQueue_RetryExhaustedRecordsFailure(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job, err := NewIndexEmailJob("email-1", "mailbox-1")
	require.NoError(t, err)
	job.Attempts = job.MaxAttempts - 1

	retried, err := q.Retry(ctx, job, assert.AnError)
	require.NoError(t, err)
	assert.False(t, retried)

	failed, err := mr.List("queue:" + QueueIndexer + ":failed")
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	ready, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ready)
	assert.EqualValues(t, 0, delayed)
}

func TestQueue_HistoryBounded(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < completedHistoryLimit+20; i++ {
		job, err := NewIndexEmailJob("email", "mailbox")
		require.NoError(t, err)
		require.NoError(t, q.RecordCompleted(ctx, job))
	}

	completed, err := mr.List("queue:" + QueueIndexer + ":completed")
	require.NoError(t, err)
	assert.Len(t, completed, completedHistoryLimit)
}

func TestQueue_UnreachableRedisReturnsError(t *testing.T) {
	mgr, err := rotation.NewManager(&rotation.ManagerConfig{
		Endpoints:   []string{"redis://127.0.0.1:1"},
		StatePath:   filepath.Join(t.TempDir(), "rotation.json"),
		DialTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer mgr.Close()

	q := New(mgr, QueueCleanup, nil)

	// A dead endpoint at boot surfaces as an error, never a crash
	err = q.Enqueue(context.Background(), NewCleanupJob())
	require.Error(t, err)
}

func TestJob_Backoff(t *testing.T) {
	job := &Job{Attempts: 1}
	assert.Equal(t, 2*time.Second, job.Backoff())

	job.Attempts = 2
	assert.Equal(t, 4*time.Second, job.Backoff())

	job.Attempts = 3
	assert.Equal(t, 8*time.Second, job.Backoff())
}

func TestJob_IndexEmailPayload_WrongKind(t *testing.T) {
	job := NewCleanupJob()
	_, err := job.IndexEmailPayload()
	assert.Error(t, err)
}
