package taskrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/entity"
)

func newTestRunner() *Runner {
	r := New(zap.NewNop(), nil)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestEnqueueWithoutHandlerFails(t *testing.T) {
	r := newTestRunner()
	if _, err := r.Enqueue(entity.TaskDeliverReply, nil, entity.PriorityNormal, 1); err != ErrNoHandler {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestSuccessfulTaskResolvesFuture(t *testing.T) {
	r := newTestRunner()
	r.Register(entity.TaskDeliverReply, func(ctx context.Context, payload any) error { return nil })
	r.Start()
	defer r.Shutdown()

	f, err := r.Enqueue(entity.TaskDeliverReply, "hi", entity.PriorityNormal, 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	r := newTestRunner()
	var attempts int
	var mu sync.Mutex
	r.Register(entity.TaskDeliverReply, func(ctx context.Context, payload any) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	})
	r.Start()
	defer r.Shutdown()

	f, _ := r.Enqueue(entity.TaskDeliverReply, "hi", entity.PriorityNormal, 3)
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestTerminalFailureRecordsDeadLetter(t *testing.T) {
	var recorded bool
	sink := sinkFunc(func(kind entity.TaskKind, summary string, err error, attempts int) {
		recorded = true
	})
	r := New(zap.NewNop(), sink)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	r.Register(entity.TaskDeliverReply, func(ctx context.Context, payload any) error { return errors.New("boom") })
	r.Start()
	defer r.Shutdown()

	f, _ := r.Enqueue(entity.TaskDeliverReply, "hi", entity.PriorityNormal, 2)
	if err := f.Wait(context.Background()); err != ErrTaskFailedTerminal {
		t.Fatalf("expected ErrTaskFailedTerminal, got %v", err)
	}
	if !recorded {
		t.Fatal("expected dead letter to be recorded")
	}
}

type sinkFunc func(kind entity.TaskKind, summary string, err error, attempts int)

func (f sinkFunc) RecordDeadLetter(kind entity.TaskKind, summary string, err error, attempts int) {
	f(kind, summary, err, attempts)
}

func TestHighPriorityPrepended(t *testing.T) {
	r := newTestRunner()
	r.Register(entity.TaskDeliverReply, func(ctx context.Context, payload any) error { return nil })

	// Worker loop never started: inspect raw queue ordering directly.
	r.Enqueue(entity.TaskDeliverReply, "normal-1", entity.PriorityNormal, 1)
	r.Enqueue(entity.TaskDeliverReply, "normal-2", entity.PriorityNormal, 1)
	r.Enqueue(entity.TaskDeliverReply, "high-1", entity.PriorityHigh, 1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) != 3 {
		t.Fatalf("expected 3 queued tasks, got %d", len(r.queue))
	}
	if r.queue[0].task.Payload != "high-1" {
		t.Fatalf("expected high priority task prepended to front, got %v", r.queue[0].task.Payload)
	}
	if r.queue[1].task.Payload != "normal-1" || r.queue[2].task.Payload != "normal-2" {
		t.Fatalf("expected normal tasks to retain FIFO order behind the prepended task")
	}
}

func TestShutdownRejectsRemainingQueuedTasks(t *testing.T) {
	r := newTestRunner()
	block := make(chan struct{})
	r.Register(entity.TaskDeliverReply, func(ctx context.Context, payload any) error {
		<-block
		return nil
	})
	r.Start()

	r.Enqueue(entity.TaskDeliverReply, "in-flight", entity.PriorityNormal, 1)
	time.Sleep(20 * time.Millisecond) // let the worker pick it up
	f2, _ := r.Enqueue(entity.TaskDeliverReply, "never-runs", entity.PriorityNormal, 1)

	done := make(chan struct{})
	go func() {
		r.Shutdown()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(block)
	<-done

	if err := f2.Wait(context.Background()); err != ErrTaskFailedTerminal {
		t.Fatalf("expected discarded task to reject, got %v", err)
	}
}
