// Package application implements the agent orchestrator (C8): it owns the
// lifecycle of every other component, routes inbound events either to the
// admin dispatcher or into the per-context queue, and drives graceful
// shutdown.
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaywing/mediator/internal/domain/assembler"
	"github.com/relaywing/mediator/internal/domain/correlator"
	"github.com/relaywing/mediator/internal/domain/credential"
	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/domain/port"
	"github.com/relaywing/mediator/internal/domain/queue"
	"github.com/relaywing/mediator/internal/domain/stamina"
	"github.com/relaywing/mediator/internal/infrastructure/config"
	"github.com/relaywing/mediator/internal/infrastructure/eventbus"
	"github.com/relaywing/mediator/internal/infrastructure/llm"
	"github.com/relaywing/mediator/internal/infrastructure/taskrunner"
	pkgerrors "github.com/relaywing/mediator/pkg/errors"
)

// ErrNotConfigured is ConfigInvalid: the process refuses to start without at
// least one credential configured.
var ErrNotConfigured = pkgerrors.NewInvalidInputError("no LLM credentials configured")

// Deps bundles the collaborators the orchestrator does not construct itself
// because they cross the core/external boundary (§6).
type Deps struct {
	Backend        llm.Backend
	Sender         port.OutboundSender
	Events         eventbus.Bus
	DeadLetterSink taskrunner.DeadLetterSink
	AuditSink      credential.AuditSink
	EvictionSink   correlator.EvictionSink
}

// Orchestrator wires C1 through C7 and exposes the admin and observability
// surfaces (port.AdminSurface, port.ObservabilitySurface).
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	creds      *credential.Pool
	stam       *stamina.Controller
	llmClient  *llm.Client
	asm        *assembler.Assembler
	queueMgr   *queue.Manager
	correlator *correlator.Correlator
	tasks      *taskrunner.Runner

	sender port.OutboundSender
	events eventbus.Bus

	mu              sync.RWMutex
	stopped         bool
	groupProcessing bool
}

// New constructs an Orchestrator without starting any background
// goroutines; call Initialize to boot the pipeline.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if len(cfg.Credentials.PrimarySecrets) == 0 && len(cfg.Credentials.BackupSecrets) == 0 {
		return nil, ErrNotConfigured
	}

	creds := credential.New(cfg.Credentials.PrimarySecrets, cfg.Credentials.BackupSecrets, logger)
	if deps.AuditSink != nil {
		creds.SetAuditSink(deps.AuditSink)
	}

	stam := stamina.New(toStaminaConfig(cfg.Stamina), logger)
	if deps.Events != nil {
		stam.OnLevelChange(func(from, to stamina.Level) {
			deps.Events.Publish(context.Background(), eventbus.NewEvent(eventbus.EventStaminaLevelChanged, eventbus.StaminaLevelPayload{
				Level:   string(to),
				Current: stam.Status().Current,
				Max:     stam.Status().SMax,
			}, time.Now()))
		})
	}

	llmClient := llm.New(creds, deps.Backend, llm.PromptConfig{
		PersonaText:   cfg.LLM.PersonaText,
		TraitGuidance: cfg.LLM.TraitGuidance,
		BotIdentity:   cfg.BotIdentity,
		Model:         cfg.LLM.Model,
	}, logger)

	asm := assembler.New(cfg.BotIdentity)

	tasks := taskrunner.New(logger, deps.DeadLetterSink)

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger.With(zap.String("component", "orchestrator")),
		creds:           creds,
		stam:            stam,
		llmClient:       llmClient,
		asm:             asm,
		tasks:           tasks,
		sender:          deps.Sender,
		events:          deps.Events,
		groupProcessing: true,
	}

	tasks.Register(entity.TaskDeliverReply, o.deliverReply)
	tasks.Register(entity.TaskRecordThought, o.recordThought)

	proc := newBatchProcessor(asm, llmClient, logger)
	queueMgr := queue.New(toQueueConfig(cfg.Scheduler, cfg.BotIdentity), staminaGate{stam}, proc, logger)
	o.queueMgr = queueMgr

	corr := correlator.New(tasks, deps.EvictionSink, logger)
	corr.FailClosedOnAmbiguousCorrelation = cfg.Correlator.FailClosedOnAmbiguousCorrelation
	if cfg.TaskRunner.DeliverReplyMaxAttempts > 0 {
		corr.DeliverReplyMaxAttempts = cfg.TaskRunner.DeliverReplyMaxAttempts
	}
	if cfg.TaskRunner.RecordThoughtMaxAttempts > 0 {
		corr.RecordThoughtMaxAttempts = cfg.TaskRunner.RecordThoughtMaxAttempts
	}
	if cfg.Correlator.TTLMinutes > 0 {
		corr.SetTTL(time.Duration(cfg.Correlator.TTLMinutes) * time.Minute)
	}
	o.correlator = corr
	queueMgr.SetListener(corr)

	return o, nil
}

// staminaGate adapts *stamina.Controller to queue.StaminaGate: the queue
// only needs to trigger consumption, not read back the resulting level.
type staminaGate struct {
	c *stamina.Controller
}

func (g staminaGate) CanReply() bool   { return g.c.CanReply() }
func (g staminaGate) IsCritical() bool { return g.c.IsCritical() }
func (g staminaGate) Consume(n int)    { g.c.Consume(n) }

func toStaminaConfig(c config.StaminaConfig) stamina.Config {
	return stamina.Config{
		SMax:           c.Max,
		K:              c.ConsumeK,
		P:              c.ConsumeP,
		Alpha:          c.MomentumAlpha,
		Beta:           c.MomentumBeta,
		Gamma:          c.MomentumGamma,
		R:              c.RecoverRate,
		RegenInterval:  c.RegenInterval,
		LowThresh:      c.LowThreshold,
		CriticalThresh: c.CriticalThresh,
	}
}

func toQueueConfig(c config.SchedulerConfig, botName string) queue.Config {
	return queue.Config{
		BotName:            botName,
		SilenceSeconds:     c.SilenceSeconds,
		MaxQueueSize:       c.MaxQueueSize,
		MaxQueueAgeSeconds: c.MaxQueueAgeSeconds,
		DrainOnCritical:    c.DrainOnCritical,
	}
}

// Initialize boots every component in dependency order. A failed health
// probe against the LLM backend is logged and does not prevent startup:
// the system runs degraded, buffering inbound traffic until the backend
// recovers.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.creds.StartDailyReset()
	o.stam.Start()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := o.llmClient.Probe(probeCtx); err != nil {
		o.logger.Warn("llm backend health probe failed, starting degraded", zap.Error(err))
	}

	o.tasks.Start()
	o.correlator.Start()

	o.logger.Info("orchestrator initialized")
	return nil
}

// Ingest implements the ingress protocol from §4.8: admin commands from the
// configured identity bypass the queue and reply immediately; everything
// else is recorded for correlation and enqueued.
func (o *Orchestrator) Ingest(msg entity.InboundMessage) {
	o.mu.RLock()
	stopped := o.stopped
	o.mu.RUnlock()
	if stopped {
		return
	}

	if msg.Kind == entity.KindCommand && o.isAdmin(msg.SenderID) {
		reply := o.Dispatch(msg.Content)
		o.replyTo(msg, reply)
		return
	}

	o.correlator.RecordPending(msg, msg)
	o.queueMgr.Enqueue(msg)
}

func (o *Orchestrator) groupProcessingEnabled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.groupProcessing
}

func (o *Orchestrator) isAdmin(senderID string) bool {
	return o.cfg.Admin.SenderID != "" && senderID == o.cfg.Admin.SenderID
}

func (o *Orchestrator) replyTo(msg entity.InboundMessage, content string) {
	if o.sender == nil {
		return
	}
	req := port.OutboundSendRequest{Content: content}
	if msg.GroupID != "" {
		req.GroupID = msg.GroupID
	} else {
		req.UserID = msg.SenderID
	}
	if err := o.sender.Send(req); err != nil {
		o.logger.Error("failed to deliver admin reply", zap.Error(err))
	}
}

func (o *Orchestrator) deliverReply(ctx context.Context, payload any) error {
	p, ok := payload.(entity.DeliverReplyPayload)
	if !ok {
		return fmt.Errorf("deliver-reply: unexpected payload type %T", payload)
	}
	if o.sender == nil {
		return nil
	}
	req := port.OutboundSendRequest{Content: p.Content, Mention: p.Mention}
	if origin, ok := p.OriginatingEvent.(entity.InboundMessage); ok {
		if origin.GroupID != "" {
			req.GroupID = origin.GroupID
		} else {
			req.UserID = origin.SenderID
		}
	}
	return o.sender.Send(req)
}

// recordThought hands the reasoning trace off to the structured logger. A
// durable NDJSON sink is an external log collaborator outside this core's
// scope (spec.md §1); this handler only produces the structured record the
// external collaborator would consume.
func (o *Orchestrator) recordThought(ctx context.Context, payload any) error {
	p, ok := payload.(entity.RecordThoughtPayload)
	if !ok {
		return fmt.Errorf("record-thought: unexpected payload type %T", payload)
	}
	o.logger.Info("thought",
		zap.String("memory_type", "thought"),
		zap.String("conversation_id", p.ConversationID),
		zap.String("content", p.Content),
		zap.Time("recorded_at", time.Now()))
	return nil
}

// ApplyReload pushes a hot-reloaded scheduler/stamina configuration into
// the running pipeline, matching config.ReloadFunc's signature.
func (o *Orchestrator) ApplyReload(sched config.SchedulerConfig, stam config.StaminaConfig) {
	o.queueMgr.UpdateConfig(toQueueConfig(sched, o.cfg.BotIdentity))
	o.stam.UpdateConfig(toStaminaConfig(stam))
	o.logger.Info("applied hot-reloaded configuration")
}

// Shutdown implements the graceful-stop sequence from §4.8: stop accepting
// ingress, drain the task runner's in-flight task, cancel C4's per-context
// timers, and report every still-pending correlation as evicted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.logger.Info("orchestrator shutting down")
	o.tasks.Shutdown()
	o.queueMgr.Shutdown()
	o.correlator.Shutdown()
	o.stam.Stop()
	o.creds.Shutdown()
	if o.events != nil {
		o.events.Close()
	}
}
