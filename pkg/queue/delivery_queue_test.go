package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T, maxRetries int) *RedisDeliveryQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	q, err := NewRedisDeliveryQueue(RedisDeliveryQueueConfig{
		Addr:       mr.Addr(),
		Stream:     "test:messages",
		Group:      "delivery",
		Consumer:   "test-consumer",
		MaxRetries: maxRetries,
		Block:      100 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRedisDeliveryQueue: %v", err)
	}
	return q
}

func waitForStatus(t *testing.T, q *RedisDeliveryQueue, jobID, want string) DeliveryJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if ok && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _, _ := q.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached %s, last: %+v", jobID, want, job)
	return DeliveryJob{}
}

func TestDeliveryQueueProcessesJob(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	q.Start(ctx, 1, func(ctx context.Context, job DeliveryJob) error {
		if job.MessageID != "m1" || job.ChatID != "c1" {
			t.Errorf("unexpected job payload: %+v", job)
		}
		handled.Add(1)
		return nil
	}, nil)

	job, err := q.Enqueue(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	done := waitForStatus(t, q, job.ID, StatusDone)
	if done.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", done.Attempts)
	}
	if handled.Load() != 1 {
		t.Fatalf("handler ran %d times", handled.Load())
	}
}

func TestDeliveryQueueRetriesThenFails(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	gaveUp := make(chan DeliveryJob, 1)
	q.Start(ctx, 1, func(ctx context.Context, job DeliveryJob) error {
		attempts.Add(1)
		return errors.New("recipient unreachable")
	}, func(ctx context.Context, job DeliveryJob) {
		gaveUp <- job
	})

	job, err := q.Enqueue(ctx, "m1", "c1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failed := waitForStatus(t, q, job.ID, StatusFailed)
	if failed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", failed.Attempts)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message on failed job")
	}

	select {
	case job := <-gaveUp:
		if job.MessageID != "m1" || job.ChatID != "c1" {
			t.Fatalf("unexpected give-up payload: %+v", job)
		}
		if job.Status != StatusFailed {
			t.Fatalf("give-up job status = %s, want failed", job.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("give-up callback never ran")
	}
}

func TestDeliveryQueueValidation(t *testing.T) {
	if _, err := NewRedisDeliveryQueue(RedisDeliveryQueueConfig{Stream: "s"}); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewRedisDeliveryQueue(RedisDeliveryQueueConfig{Addr: "localhost:6379"}); err == nil {
		t.Fatal("expected error for missing stream")
	}

	q := newTestQueue(t, 1)
	if _, err := q.Enqueue(context.Background(), "", "c1"); err == nil {
		t.Fatal("expected error for empty messageId")
	}
}
