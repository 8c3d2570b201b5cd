package correlator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/domain/queue"
)

type fakeEnqueuer struct {
	tasks []entity.Task
}

func (f *fakeEnqueuer) EnqueueAndForget(kind entity.TaskKind, payload any, priority entity.TaskPriority, maxAttempts int) error {
	f.tasks = append(f.tasks, entity.Task{Kind: kind, Payload: payload, MaxAttempts: maxAttempts})
	return nil
}

func newTestCorrelator(tasks TaskEnqueuer) *Correlator {
	return New(tasks, nil, zap.NewNop())
}

func inbound(id, contextID string) entity.InboundMessage {
	in, _ := entity.NewInboundMessage(id, "u1", contextID, "hi", time.Now(), entity.KindText)
	return in
}

func TestReplyEnqueuesOneDeliverTaskPerMessage(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)

	c.RecordPending(inbound("m1", "c1"), "evt1")

	result := queue.FlushResult{
		Processed: true,
		ContextID: "c1",
		Batch:     []entity.QueuedMessage{{InboundMessage: inbound("m1", "c1")}},
	}
	decision := entity.LLMDecision{
		Kind:     entity.DecisionReply,
		Messages: []string{"first", "second", "third"},
		Thinking: "because",
	}

	c.OnQueueFlushed(result, decision)

	var deliverCount, thoughtCount int
	for _, task := range enq.tasks {
		switch task.Kind {
		case entity.TaskDeliverReply:
			deliverCount++
		case entity.TaskRecordThought:
			thoughtCount++
		}
	}
	if deliverCount != 3 {
		t.Fatalf("expected 3 deliver-reply tasks for 3 messages, got %d", deliverCount)
	}
	if thoughtCount != 1 {
		t.Fatalf("expected exactly 1 record-thought task, got %d", thoughtCount)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected resolved entries to be removed, %d remain", c.PendingCount())
	}
}

func TestReplyOrderPreserved(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1", Batch: []entity.QueuedMessage{{InboundMessage: inbound("m1", "c1")}}}
	decision := entity.LLMDecision{Kind: entity.DecisionReply, Messages: []string{"a", "b", "c"}}
	c.OnQueueFlushed(result, decision)

	var order []string
	for _, task := range enq.tasks {
		if task.Kind == entity.TaskDeliverReply {
			order = append(order, task.Payload.(entity.DeliverReplyPayload).Content)
		}
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected deliver-reply tasks in order [a b c], got %v", order)
	}
}

func TestNoReplyRemovesEntriesAndRecordsThoughtOnly(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1", Batch: []entity.QueuedMessage{{InboundMessage: inbound("m1", "c1")}}}
	decision := entity.LLMDecision{Kind: entity.DecisionNoReply, Reason: "quiet", Thinking: "nothing to add"}
	c.OnQueueFlushed(result, decision)

	if len(enq.tasks) != 1 || enq.tasks[0].Kind != entity.TaskRecordThought {
		t.Fatalf("expected exactly one record-thought task, got %+v", enq.tasks)
	}
	if c.PendingCount() != 0 {
		t.Fatal("expected entries removed on no_reply")
	}
}

func TestNoReplyWithoutThinkingEnqueuesNothing(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1", Batch: []entity.QueuedMessage{{InboundMessage: inbound("m1", "c1")}}}
	c.OnQueueFlushed(result, entity.LLMDecision{Kind: entity.DecisionNoReply, Reason: "quiet"})

	if len(enq.tasks) != 0 {
		t.Fatalf("expected no tasks without thinking text, got %+v", enq.tasks)
	}
}

func TestExplicitCorrelatedIDsTakePriorityOverBatch(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("explicit-1", "c1"), nil)
	c.RecordPending(inbound("batch-1", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1", Batch: []entity.QueuedMessage{{InboundMessage: inbound("batch-1", "c1")}}}
	decision := entity.LLMDecision{Kind: entity.DecisionNoReply, Reason: "x", CorrelatedInboundIDs: []string{"explicit-1"}}
	c.OnQueueFlushed(result, decision)

	if c.PendingCount() != 1 {
		t.Fatalf("expected only the explicitly correlated entry removed, %d remain", c.PendingCount())
	}
	c.mu.Lock()
	_, stillPending := c.pending["batch-1"]
	c.mu.Unlock()
	if !stillPending {
		t.Fatal("expected batch-1 to remain pending since explicit ids took priority")
	}
}

func TestDegradedFallbackAppliesWhenNoBatchOrExplicitIDs(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)
	c.RecordPending(inbound("m2", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1"} // empty batch
	decision := entity.LLMDecision{Kind: entity.DecisionReply, Messages: []string{"hi"}}
	c.OnQueueFlushed(result, decision)

	if c.PendingCount() != 0 {
		t.Fatalf("expected degraded fallback to sweep all pending entries for the context, %d remain", c.PendingCount())
	}
}

func TestFailClosedRefusesAmbiguousCorrelation(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.FailClosedOnAmbiguousCorrelation = true
	c.RecordPending(inbound("m1", "c1"), nil)

	result := queue.FlushResult{Processed: true, ContextID: "c1"}
	decision := entity.LLMDecision{Kind: entity.DecisionReply, Messages: []string{"hi"}, Thinking: "t"}
	c.OnQueueFlushed(result, decision)

	if len(enq.tasks) != 0 {
		t.Fatalf("expected no tasks enqueued when failing closed, got %+v", enq.tasks)
	}
	if c.PendingCount() != 1 {
		t.Fatal("expected the entry to remain pending when failing closed")
	}
}

func TestUnprocessedFlushIsIgnored(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)

	c.OnQueueFlushed(queue.FlushResult{Processed: false, ContextID: "c1", Reason: queue.ReasonQueueBusy}, entity.LLMDecision{})

	if c.PendingCount() != 1 {
		t.Fatal("expected pending entry untouched by an unprocessed flush result")
	}
}

func TestOnQueueErrorDropsBatchCorrelations(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := newTestCorrelator(enq)
	c.RecordPending(inbound("m1", "c1"), nil)

	c.OnQueueError(errBoom, "c1", []entity.QueuedMessage{{InboundMessage: inbound("m1", "c1")}})

	if c.PendingCount() != 0 {
		t.Fatal("expected correlation dropped after a failed batch")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestSweepEvictsEntriesOlderThanTTL(t *testing.T) {
	enq := &fakeEnqueuer{}
	var evicted []string
	sink := sinkFunc(func(inboundID, contextID string) { evicted = append(evicted, inboundID) })
	c := New(enq, sink, zap.NewNop())

	base := time.Now()
	c.now = func() time.Time { return base }
	c.ttl = time.Minute

	c.RecordPending(inbound("old", "c1"), nil)
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.RecordPending(inbound("new", "c1"), nil)

	c.sweep()

	if c.PendingCount() != 1 {
		t.Fatalf("expected only the stale entry evicted, %d remain", c.PendingCount())
	}
	if len(evicted) != 1 || evicted[0] != "old" {
		t.Fatalf("expected eviction sink notified for 'old', got %v", evicted)
	}
}

type sinkFunc func(inboundID, contextID string)

func (f sinkFunc) RecordEviction(inboundID, contextID string) { f(inboundID, contextID) }

func TestShutdownReportsRemainingAsEvicted(t *testing.T) {
	enq := &fakeEnqueuer{}
	var evicted int
	sink := sinkFunc(func(inboundID, contextID string) { evicted++ })
	c := New(enq, sink, zap.NewNop())
	c.RecordPending(inbound("m1", "c1"), nil)
	c.RecordPending(inbound("m2", "c1"), nil)

	c.Shutdown()

	if evicted != 2 {
		t.Fatalf("expected 2 evictions reported on shutdown, got %d", evicted)
	}
}
