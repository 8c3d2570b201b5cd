// Package correlator implements the outbound correlator (C7): it tracks
// which inbound message triggered which queued batch, so an LLM decision
// can be turned into deliver-reply tasks addressed at the right context,
// and sweeps entries nothing ever answered.
package correlator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/domain/queue"
)

const defaultTTL = 30 * time.Minute

// TaskEnqueuer is the narrow C6 contract this package depends on.
type TaskEnqueuer interface {
	EnqueueAndForget(kind entity.TaskKind, payload any, priority entity.TaskPriority, maxAttempts int) error
}

// EvictionSink is notified when a pending correlation ages out unanswered,
// for the observability surface. Optional.
type EvictionSink interface {
	RecordEviction(inboundMessageID, contextID string)
}

// PendingCorrelation tracks one inbound message awaiting a decision.
type PendingCorrelation struct {
	InboundMessageID string
	ContextID        string
	OriginatingEvent any
	CreatedAt        time.Time
}

// Correlator implements queue.FlushListener and resolves each flush's
// decision back to the inbound messages that produced it.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]PendingCorrelation

	tasks  TaskEnqueuer
	sink   EvictionSink
	logger *zap.Logger
	now    func() time.Time
	ttl    time.Duration

	// FailClosedOnAmbiguousCorrelation: when neither the decision's
	// explicit ids nor the flushed batch's ids resolve any pending
	// correlation, the default behaviour degrades to "every pending
	// entry for this context is a candidate". Setting this true refuses
	// that guess instead and drops the decision, logging it.
	FailClosedOnAmbiguousCorrelation bool

	// DeliverReplyMaxAttempts/RecordThoughtMaxAttempts set C6's retry
	// budget for the tasks this correlator enqueues.
	DeliverReplyMaxAttempts  int
	RecordThoughtMaxAttempts int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Correlator. Call Start to launch the TTL sweep.
func New(tasks TaskEnqueuer, sink EvictionSink, logger *zap.Logger) *Correlator {
	return &Correlator{
		pending:                  make(map[string]PendingCorrelation),
		tasks:                    tasks,
		sink:                     sink,
		logger:                   logger.With(zap.String("component", "correlator")),
		now:                      time.Now,
		ttl:                      defaultTTL,
		DeliverReplyMaxAttempts:  3,
		RecordThoughtMaxAttempts: 1,
	}
}

// RecordPending registers an inbound message as awaiting a decision. Called
// at ingress, before the message is handed to the queue.
func (c *Correlator) RecordPending(msg entity.InboundMessage, originatingEvent any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[msg.ID] = PendingCorrelation{
		InboundMessageID: msg.ID,
		ContextID:        msg.ContextID(),
		OriginatingEvent: originatingEvent,
		CreatedAt:        c.now(),
	}
}

// PendingCount reports the number of unresolved correlations, for the
// observability surface.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// resolveInboundIDs implements the strategy order: explicit correlated ids
// from the decision, else the flushed batch's own message ids, else a
// degraded fallback across every pending entry in the context.
func (c *Correlator) resolveInboundIDs(result queue.FlushResult, decision entity.LLMDecision) (ids []string, strategy string) {
	if len(decision.CorrelatedInboundIDs) > 0 {
		return decision.CorrelatedInboundIDs, "explicit"
	}

	if len(result.Batch) > 0 {
		batchIDs := make([]string, 0, len(result.Batch))
		for _, m := range result.Batch {
			batchIDs = append(batchIDs, m.ID)
		}
		return batchIDs, "batch_snapshot"
	}

	if c.FailClosedOnAmbiguousCorrelation {
		return nil, "fail_closed"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	degraded := make([]string, 0)
	for id, p := range c.pending {
		if p.ContextID == result.ContextID {
			degraded = append(degraded, id)
		}
	}
	return degraded, "degraded_all_pending"
}

// OnQueueFlushed implements queue.FlushListener. It resolves which inbound
// messages the decision answers and dispatches the resulting tasks.
func (c *Correlator) OnQueueFlushed(result queue.FlushResult, decision entity.LLMDecision) {
	if !result.Processed {
		return
	}

	ids, strategy := c.resolveInboundIDs(result, decision)
	c.logger.Debug("resolved correlation",
		zap.String("context", result.ContextID),
		zap.String("strategy", strategy),
		zap.Int("ids", len(ids)))

	if strategy == "degraded_all_pending" {
		c.logger.Warn("no explicit or batch ids, correlating every pending entry for the context",
			zap.String("context", result.ContextID),
			zap.Int("ids", len(ids)))
	}

	if strategy == "fail_closed" {
		c.logger.Warn("correlation ambiguous, refusing to guess", zap.String("context", result.ContextID))
		return
	}

	entries := c.popEntries(ids)

	if decision.IsReply() {
		c.handleReply(result.ContextID, decision, entries)
		return
	}
	c.handleNoReply(result.ContextID, decision, entries)
}

// OnQueueError implements queue.FlushListener. A batch that failed to
// process has nothing to correlate a reply to; its entries are dropped.
func (c *Correlator) OnQueueError(err error, contextID string, batch []entity.QueuedMessage) {
	ids := make([]string, 0, len(batch))
	for _, m := range batch {
		ids = append(ids, m.ID)
	}
	c.popEntries(ids)
	c.logger.Warn("dropping correlations for failed batch", zap.String("context", contextID), zap.Int("count", len(ids)), zap.Error(err))
}

func (c *Correlator) popEntries(ids []string) []PendingCorrelation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingCorrelation, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.pending[id]; ok {
			out = append(out, p)
			delete(c.pending, id)
		}
	}
	return out
}

func (c *Correlator) handleReply(contextID string, decision entity.LLMDecision, entries []PendingCorrelation) {
	target := mostRecent(entries)

	var mention string
	if len(decision.Mentions) > 0 {
		mention = decision.Mentions[0]
	}

	for _, text := range decision.Messages {
		payload := entity.DeliverReplyPayload{Content: text, Mention: mention}
		if target != nil {
			payload.OriginatingEvent = target.OriginatingEvent
		}
		if err := c.tasks.EnqueueAndForget(entity.TaskDeliverReply, payload, entity.PriorityNormal, c.DeliverReplyMaxAttempts); err != nil {
			c.logger.Error("failed to enqueue deliver-reply task", zap.String("context", contextID), zap.Error(err))
		}
	}

	c.enqueueThought(contextID, decision.Thinking)
}

func (c *Correlator) handleNoReply(contextID string, decision entity.LLMDecision, entries []PendingCorrelation) {
	_ = entries // entries are simply dropped; nothing to deliver
	c.enqueueThought(contextID, decision.Thinking)
}

func (c *Correlator) enqueueThought(contextID, thinking string) {
	if thinking == "" {
		return
	}
	payload := entity.RecordThoughtPayload{ConversationID: contextID, Content: thinking}
	if err := c.tasks.EnqueueAndForget(entity.TaskRecordThought, payload, entity.PriorityNormal, c.RecordThoughtMaxAttempts); err != nil {
		c.logger.Error("failed to enqueue record-thought task", zap.String("context", contextID), zap.Error(err))
	}
}

func mostRecent(entries []PendingCorrelation) *PendingCorrelation {
	if len(entries) == 0 {
		return nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	return &best
}

// SetTTL overrides the default 30-minute unanswered-correlation window.
// Call before Start.
func (c *Correlator) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

// Start launches the TTL eviction sweep.
func (c *Correlator) Start() {
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.ttl / 6)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Shutdown stops the TTL sweep and reports every still-pending correlation
// as evicted.
func (c *Correlator) Shutdown() {
	if c.stopCh != nil {
		close(c.stopCh)
		c.wg.Wait()
	}
	c.mu.Lock()
	remaining := c.pending
	c.pending = make(map[string]PendingCorrelation)
	c.mu.Unlock()
	for _, p := range remaining {
		c.reportEviction(p)
	}
}

func (c *Correlator) sweep() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	var evicted []PendingCorrelation
	for id, p := range c.pending {
		if p.CreatedAt.Before(cutoff) {
			evicted = append(evicted, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range evicted {
		c.logger.Warn("correlation evicted, unanswered after ttl",
			zap.String("inbound_id", p.InboundMessageID),
			zap.String("context", p.ContextID))
		c.reportEviction(p)
	}
}

func (c *Correlator) reportEviction(p PendingCorrelation) {
	if c.sink != nil {
		c.sink.RecordEviction(p.InboundMessageID, p.ContextID)
	}
}
