// Package queue implements the per-context message queue (C4): five hybrid
// trigger policies buffering inbound messages until a batch is handed to
// the assembler/LLM pipeline.
package queue

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/entity"
)

// FlushReason records why a batch was drained.
type FlushReason string

const (
	ReasonHighPriority        FlushReason = "high_priority"
	ReasonSize                FlushReason = "size"
	ReasonAge                 FlushReason = "age"
	ReasonSilence             FlushReason = "silence"
	ReasonManual              FlushReason = "manual"
	ReasonStaminaInsufficient FlushReason = "stamina_insufficient"
	ReasonQueueBusy           FlushReason = "queue_busy"
	ReasonSkipped             FlushReason = "skip_reply"
)

// FlushResult is returned by every flush path, successful or not.
type FlushResult struct {
	Processed bool
	Reason    FlushReason
	ContextID string
	Batch     []entity.QueuedMessage
}

// StaminaGate is the narrow C3 contract C4 depends on.
type StaminaGate interface {
	CanReply() bool
	IsCritical() bool
	Consume(messageCount int)
}

// Processor is C5→C2's contract: hand a snapshot off for assembly and
// generation. Returns the resulting decision or an error.
type Processor interface {
	ProcessMessages(contextID string, batch []entity.QueuedMessage) (entity.LLMDecision, error)
}

// FlushListener receives QueueFlushed/QueueError notifications. C7
// subscribes; C4 holds no reference back to the orchestrator.
type FlushListener interface {
	OnQueueFlushed(result FlushResult, decision entity.LLMDecision)
	OnQueueError(err error, contextID string, batch []entity.QueuedMessage)
}

// Config is the scheduler's hot-reloadable parameter set.
type Config struct {
	BotName            string
	SilenceSeconds     int
	MaxQueueSize       int
	MaxQueueAgeSeconds int
	// DrainOnCritical selects the critical-stamina policy: drop the queued
	// batch (spec default) vs. leave it in place for a later retry. See
	// the open-question decision in DESIGN.md.
	DrainOnCritical bool
}

type contextState struct {
	mu          sync.Mutex
	contextID   string
	isGroup     bool
	messages    []entity.QueuedMessage
	timer       *time.Timer
	processing  bool
	lastFlushAt time.Time
	lastReason  FlushReason
}

// Manager owns the contextId -> state mapping plus global scheduler config.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   Config

	mapMu sync.Mutex
	states map[string]*contextState

	stamina   StaminaGate
	processor Processor
	listener  FlushListener
	logger    *zap.Logger
	now       func() time.Time

	totalProcessed int64
	totalMu        sync.Mutex

	groupMu      sync.RWMutex
	groupEnabled bool

	stopped bool
}

// New constructs a Manager. listener may be nil until C7 attaches itself via
// SetListener (breaks the C4/C7 construction-order cycle).
func New(cfg Config, stamina StaminaGate, processor Processor, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		states:       make(map[string]*contextState),
		stamina:      stamina,
		processor:    processor,
		logger:       logger.With(zap.String("component", "queue")),
		now:          time.Now,
		groupEnabled: true,
	}
}

// SetGroupProcessingEnabled implements the "start"/"stop" admin toggle
// (spec §6): when disabled, flushes targeting group contexts return
// ReasonSkipped instead of being processed. Private contexts are unaffected.
func (m *Manager) SetGroupProcessingEnabled(enabled bool) {
	m.groupMu.Lock()
	defer m.groupMu.Unlock()
	m.groupEnabled = enabled
}

func (m *Manager) isGroupProcessingEnabled() bool {
	m.groupMu.RLock()
	defer m.groupMu.RUnlock()
	return m.groupEnabled
}

// SetListener attaches the flush listener (C7).
func (m *Manager) SetListener(l FlushListener) {
	m.listener = l
}

// UpdateConfig hot-swaps the scheduler parameters (fsnotify-driven reload).
func (m *Manager) UpdateConfig(cfg Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = cfg
}

func (m *Manager) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// IsHighPriority computes the ingress priority rule: mentions the bot by
// name (@name or bare name, case-insensitive) or is a command.
func IsHighPriority(msg entity.InboundMessage, botName string) bool {
	if msg.Kind == entity.KindCommand {
		return true
	}
	if botName == "" {
		return false
	}
	content := strings.ToLower(msg.Content)
	name := strings.ToLower(botName)
	return strings.Contains(content, "@"+name) || strings.Contains(content, name)
}

func (m *Manager) getOrCreateState(contextID string, isGroup bool) *contextState {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	st, ok := m.states[contextID]
	if !ok {
		st = &contextState{contextID: contextID, isGroup: isGroup}
		m.states[contextID] = st
	}
	return st
}

// Enqueue implements the ingress protocol described in §4.4.
func (m *Manager) Enqueue(msg entity.InboundMessage) {
	cfg := m.config()
	contextID := msg.ContextID()
	st := m.getOrCreateState(contextID, msg.GroupID != "")

	qm := entity.QueuedMessage{
		InboundMessage: msg,
		IsHighPriority: IsHighPriority(msg, cfg.BotName),
		EnqueuedAt:     m.now(),
	}

	st.mu.Lock()
	st.messages = append(st.messages, qm)
	highPriority := qm.IsHighPriority
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	var armTimer bool
	if !highPriority {
		armTimer = true
	}
	oldestAt := st.messages[0].EnqueuedAt
	count := len(st.messages)
	st.mu.Unlock()

	if highPriority {
		m.logger.Debug("high priority message, triggering immediate flush", zap.String("context", contextID))
		m.flush(st, ReasonHighPriority)
		return
	}

	if armTimer {
		m.armSilenceTimer(st, cfg.SilenceSeconds)
	}

	if count >= cfg.MaxQueueSize {
		m.flush(st, ReasonSize)
		return
	}
	if cfg.MaxQueueAgeSeconds > 0 && m.now().Sub(oldestAt) >= time.Duration(cfg.MaxQueueAgeSeconds)*time.Second {
		m.flush(st, ReasonAge)
		return
	}
}

func (m *Manager) armSilenceTimer(st *contextState, silenceSeconds int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(time.Duration(silenceSeconds)*time.Second, func() {
		m.onSilenceFired(st)
	})
}

func (m *Manager) onSilenceFired(st *contextState) {
	st.mu.Lock()
	st.timer = nil
	empty := len(st.messages) == 0
	st.mu.Unlock()
	if empty {
		return
	}
	m.flush(st, ReasonSilence)
}

// FlushAll flushes every non-empty context with reason manual.
func (m *Manager) FlushAll() []FlushResult {
	m.mapMu.Lock()
	states := make([]*contextState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mapMu.Unlock()

	results := make([]FlushResult, 0, len(states))
	for _, st := range states {
		results = append(results, m.flush(st, ReasonManual))
	}
	return results
}

// Flush flushes a single context with reason manual. Returns a result with
// Processed=false and ReasonQueueBusy if no such context exists.
func (m *Manager) Flush(contextID string) FlushResult {
	m.mapMu.Lock()
	st, ok := m.states[contextID]
	m.mapMu.Unlock()
	if !ok {
		return FlushResult{Processed: false, ContextID: contextID, Reason: ReasonQueueBusy}
	}
	return m.flush(st, ReasonManual)
}

// Clear drops every queued message without processing, cancelling all
// timers, and logs what was dropped.
func (m *Manager) Clear() {
	m.mapMu.Lock()
	states := make([]*contextState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.states = make(map[string]*contextState)
	m.mapMu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		dropped := len(st.messages)
		st.messages = nil
		st.mu.Unlock()
		if dropped > 0 {
			m.logger.Info("cleared queued messages", zap.String("context", st.contextID), zap.Int("dropped", dropped))
		}
	}
}

// flush is the single-context flush protocol from §4.4.
func (m *Manager) flush(st *contextState, reason FlushReason) FlushResult {
	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.processing {
		st.mu.Unlock()
		return FlushResult{Processed: false, Reason: ReasonQueueBusy, ContextID: st.contextID}
	}
	if len(st.messages) == 0 {
		st.mu.Unlock()
		return FlushResult{Processed: false, Reason: reason, ContextID: st.contextID}
	}

	if st.isGroup && !m.isGroupProcessingEnabled() {
		st.mu.Unlock()
		return FlushResult{Processed: false, Reason: ReasonSkipped, ContextID: st.contextID}
	}

	if !m.stamina.CanReply() {
		if m.stamina.IsCritical() && m.config().DrainOnCritical {
			dropped := st.messages
			st.messages = nil
			st.mu.Unlock()
			m.logger.Warn("stamina critical, dropping queued batch", zap.String("context", st.contextID), zap.Int("dropped", len(dropped)))
			m.maybeDeleteState(st)
			return FlushResult{Processed: false, Reason: ReasonStaminaInsufficient, ContextID: st.contextID}
		}
		st.mu.Unlock()
		return FlushResult{Processed: false, Reason: ReasonStaminaInsufficient, ContextID: st.contextID}
	}

	st.processing = true
	snapshot := make([]entity.QueuedMessage, len(st.messages))
	copy(snapshot, st.messages)
	st.messages = nil
	st.mu.Unlock()

	result := FlushResult{Processed: true, Reason: reason, ContextID: st.contextID, Batch: snapshot}

	decision, err := m.processor.ProcessMessages(st.contextID, snapshot)

	st.mu.Lock()
	st.processing = false
	if err == nil {
		st.lastFlushAt = m.now()
		st.lastReason = reason
	}
	empty := len(st.messages) == 0
	noTimer := st.timer == nil
	st.mu.Unlock()

	if err != nil {
		m.logger.Error("batch processing failed", zap.String("context", st.contextID), zap.Error(err))
		if m.listener != nil {
			m.listener.OnQueueError(err, st.contextID, snapshot)
		}
	} else {
		m.stamina.Consume(len(snapshot))
		m.totalMu.Lock()
		m.totalProcessed++
		m.totalMu.Unlock()
		m.logger.Info("batch flushed", zap.String("context", st.contextID), zap.String("reason", string(reason)), zap.Int("count", len(snapshot)))
		if m.listener != nil {
			m.listener.OnQueueFlushed(result, decision)
		}
	}

	if empty && noTimer {
		m.maybeDeleteState(st)
	}

	return result
}

func (m *Manager) maybeDeleteState(st *contextState) {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	st.mu.Lock()
	canDelete := len(st.messages) == 0 && st.timer == nil && !st.processing
	st.mu.Unlock()
	if canDelete {
		delete(m.states, st.contextID)
	}
}

// StatusEntry is a read-only per-context snapshot for the observability
// surface.
type StatusEntry struct {
	ContextID   string
	QueueDepth  int
	Processing  bool
	LastFlushAt time.Time
	LastReason  FlushReason
}

// Status returns a snapshot of every active context.
func (m *Manager) Status() []StatusEntry {
	m.mapMu.Lock()
	states := make([]*contextState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mapMu.Unlock()

	out := make([]StatusEntry, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, StatusEntry{
			ContextID:   st.contextID,
			QueueDepth:  len(st.messages),
			Processing:  st.processing,
			LastFlushAt: st.lastFlushAt,
			LastReason:  st.lastReason,
		})
		st.mu.Unlock()
	}
	return out
}

// TotalProcessed returns the global flushed-batch counter.
func (m *Manager) TotalProcessed() int64 {
	m.totalMu.Lock()
	defer m.totalMu.Unlock()
	return m.totalProcessed
}

// Shutdown cancels every armed timer. Called by the orchestrator during
// graceful shutdown; in-flight flushes are allowed to complete naturally.
func (m *Manager) Shutdown() {
	m.mapMu.Lock()
	defer m.mapMu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, st := range m.states {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.mu.Unlock()
	}
}
