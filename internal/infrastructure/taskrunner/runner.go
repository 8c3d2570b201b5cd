// Package taskrunner implements the asynchronous task runner (C6): a FIFO
// queue with priority insertion, single-worker cooperative execution, and
// retry with backoff. The queue has no capacity limit; Enqueue never
// rejects a task for lack of room.
package taskrunner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/pkg/safego"
)

// ErrNoHandler is returned by Enqueue when no handler is registered for a
// task's kind.
var ErrNoHandler = errors.New("no handler registered for task kind")

// ErrTaskFailedTerminal is the error every Future carries after a task
// exhausts its retry budget.
var ErrTaskFailedTerminal = errors.New("task failed terminally")

// Handler executes a task's payload. A non-nil error triggers retry
// accounting.
type Handler func(ctx context.Context, payload any) error

// Future resolves when the task succeeds or rejects after terminal failure.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

type queuedTask struct {
	task   entity.Task
	future *Future
}

// DeadLetterSink records tasks that exhausted their retry budget, for
// operator inspection; the observability snapshot does not include them.
type DeadLetterSink interface {
	RecordDeadLetter(kind entity.TaskKind, payloadSummary string, finalErr error, attempts int)
}

// Runner is a process-wide, single-worker task queue.
type Runner struct {
	mu       sync.Mutex
	handlers map[entity.TaskKind]Handler
	queue    []*queuedTask
	notify   chan struct{}

	logger    *zap.Logger
	deadLeter DeadLetterSink
	sleep     func(context.Context, time.Duration) error

	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
	inFlight sync.Mutex
}

// New constructs a Runner. Call Start to launch the worker loop.
func New(logger *zap.Logger, sink DeadLetterSink) *Runner {
	return &Runner{
		handlers:  make(map[entity.TaskKind]Handler),
		notify:    make(chan struct{}, 1),
		logger:    logger.With(zap.String("component", "task-runner")),
		deadLeter: sink,
		sleep:     ctxSleep,
		stopCh:    make(chan struct{}),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register installs a handler for a task kind.
func (r *Runner) Register(kind entity.TaskKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Enqueue appends (normal) or prepends (high) a task. Fails fast if no
// handler is registered for kind.
func (r *Runner) Enqueue(kind entity.TaskKind, payload any, priority entity.TaskPriority, maxAttempts int) (*Future, error) {
	r.mu.Lock()
	if _, ok := r.handlers[kind]; !ok {
		r.mu.Unlock()
		return nil, ErrNoHandler
	}
	qt := &queuedTask{
		task: entity.Task{
			ID:          uuid.NewString(),
			Kind:        kind,
			Payload:     payload,
			MaxAttempts: maxAttempts,
		},
		future: newFuture(),
	}
	if priority == entity.PriorityHigh {
		r.queue = append([]*queuedTask{qt}, r.queue...)
	} else {
		r.queue = append(r.queue, qt)
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return qt.future, nil
}

// EnqueueAndForget is Enqueue without a Future, for callers that only care
// the task was accepted (e.g. the correlator, which has no result to wait
// on).
func (r *Runner) EnqueueAndForget(kind entity.TaskKind, payload any, priority entity.TaskPriority, maxAttempts int) error {
	_, err := r.Enqueue(kind, payload, priority, maxAttempts)
	return err
}

// Start launches the worker loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	safego.Go(r.logger, "task-runner-worker", func() {
		defer r.wg.Done()
		r.loop()
	})
}

func (r *Runner) loop() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.notify:
		}
		for {
			qt := r.popFront()
			if qt == nil {
				break
			}
			r.runOne(qt)
		}
	}
}

func (r *Runner) popFront() *queuedTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	qt := r.queue[0]
	r.queue = r.queue[1:]
	return qt
}

func (r *Runner) runOne(qt *queuedTask) {
	r.inFlight.Lock()
	defer r.inFlight.Unlock()

	r.mu.Lock()
	handler := r.handlers[qt.task.Kind]
	r.mu.Unlock()

	qt.task.Attempts++
	err := handler(context.Background(), qt.task.Payload)
	if err == nil {
		qt.future.resolve(nil)
		return
	}

	if qt.task.Attempts < qt.task.MaxAttempts {
		delay := backoff(qt.task.Attempts)
		r.logger.Info("task failed, scheduling retry",
			zap.String("kind", string(qt.task.Kind)),
			zap.Int("attempt", qt.task.Attempts),
			zap.Duration("delay", delay))
		if sleepErr := r.sleep(context.Background(), delay); sleepErr != nil {
			qt.future.resolve(sleepErr)
			return
		}
		r.mu.Lock()
		r.queue = append([]*queuedTask{qt}, r.queue...)
		r.mu.Unlock()
		select {
		case r.notify <- struct{}{}:
		default:
		}
		return
	}

	r.logger.Error("task exhausted retries", zap.String("kind", string(qt.task.Kind)), zap.Error(err))
	if r.deadLeter != nil {
		r.deadLeter.RecordDeadLetter(qt.task.Kind, summarizePayload(qt.task.Payload), err, qt.task.Attempts)
	}
	qt.future.resolve(ErrTaskFailedTerminal)
}

func backoff(attempt int) time.Duration {
	d := time.Second * time.Duration(1<<uint(attempt-1))
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func summarizePayload(payload any) string {
	switch p := payload.(type) {
	case entity.DeliverReplyPayload:
		return p.Content
	case entity.RecordThoughtPayload:
		return p.Content
	default:
		return ""
	}
}

// Shutdown flips the stop flag, waits for the in-flight task to complete,
// and rejects every remaining queued task.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	remaining := r.queue
	r.queue = nil
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	for _, qt := range remaining {
		qt.future.resolve(ErrTaskFailedTerminal)
	}
}

// QueueDepth reports the number of tasks waiting (not counting the one in
// flight), for the observability surface.
func (r *Runner) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
