package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vosbek/repoindex/internal/observability"
	"github.com/vosbek/repoindex/internal/queue"
)

// fakeQueue is a minimal in-memory queue.Queue, grounded on the same
// shape as apps/worker/internal/worker.mockQueueClient: one func field
// per method the loop actually calls.
type fakeQueue struct {
	receiveFunc func(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error)
	deleteFunc  func(ctx context.Context, receiptHandle string) error
}

func (f *fakeQueue) Enqueue(ctx context.Context, msg queue.JobMessage) error { return nil }
func (f *fakeQueue) Receive(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error) {
	return f.receiveFunc(ctx, max, wait)
}
func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	return f.deleteFunc(ctx, receiptHandle)
}
func (f *fakeQueue) Close() error { return nil }

func TestRunLoop_ProcessesAndDeletesOnSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var receives, deletes, processed int32
	q := &fakeQueue{
		receiveFunc: func(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error) {
			atomic.AddInt32(&receives, 1)
			if atomic.LoadInt32(&receives) > 1 {
				time.Sleep(5 * time.Millisecond)
				return nil, nil, nil
			}
			return []queue.JobMessage{{JobID: "job-1"}}, []string{"handle-1"}, nil
		},
		deleteFunc: func(ctx context.Context, receiptHandle string) error {
			atomic.AddInt32(&deletes, 1)
			if receiptHandle != "handle-1" {
				t.Errorf("expected handle-1, got %q", receiptHandle)
			}
			return nil
		},
	}
	process := func(ctx context.Context, msg queue.JobMessage) error {
		atomic.AddInt32(&processed, 1)
		if msg.JobID != "job-1" || msg.Resume {
			t.Errorf("unexpected message: %+v", msg)
		}
		return nil
	}

	runLoop(ctx, q, process, observability.NopLogger{})

	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected process to run once, ran %d times", processed)
	}
	if atomic.LoadInt32(&deletes) != 1 {
		t.Errorf("expected delete to run once, ran %d times", deletes)
	}
}

func TestRunLoop_DoesNotDeleteOnProcessFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var receives, deletes int32
	q := &fakeQueue{
		receiveFunc: func(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error) {
			atomic.AddInt32(&receives, 1)
			if atomic.LoadInt32(&receives) > 1 {
				time.Sleep(5 * time.Millisecond)
				return nil, nil, nil
			}
			return []queue.JobMessage{{JobID: "job-1"}}, []string{"handle-1"}, nil
		},
		deleteFunc: func(ctx context.Context, receiptHandle string) error {
			atomic.AddInt32(&deletes, 1)
			return nil
		},
	}
	process := func(ctx context.Context, msg queue.JobMessage) error {
		return context.DeadlineExceeded
	}

	runLoop(ctx, q, process, observability.NopLogger{})

	if atomic.LoadInt32(&deletes) != 0 {
		t.Errorf("expected no delete after a failed process call, got %d", deletes)
	}
}

func TestRunLoop_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var receives int32
	q := &fakeQueue{
		receiveFunc: func(ctx context.Context, max, wait int32) ([]queue.JobMessage, []string, error) {
			atomic.AddInt32(&receives, 1)
			return nil, nil, nil
		},
	}
	process := func(ctx context.Context, msg queue.JobMessage) error { return nil }

	done := make(chan struct{})
	go func() {
		runLoop(ctx, q, process, observability.NopLogger{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("runLoop did not return after context cancellation")
	}
}
