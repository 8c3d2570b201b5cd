// Package port declares the external interfaces §6 of the system names as
// collaborators the core consumes or is consumed by, without depending on
// any concrete transport. Adapters (a chat-platform bus, an HTTP admin
// shell, a TUI) implement or call these contracts; the core never imports
// them.
package port

import "github.com/relaywing/mediator/internal/domain/entity"

// InboundEventSource is the inbound event bus contract: the core consumes
// it, never implements it. A concrete adapter (OneBot decoder, Telegram
// long-poller, etc.) decodes its own wire format into InboundMessage and
// calls Ingest.
type InboundEventSource interface {
	Subscribe(handler func(entity.InboundMessage)) (unsubscribe func())
}

// OutboundSendRequest is what the inbound event bus accepts back: either a
// group-addressed send with an optional reply mention, or a direct message
// to a user.
type OutboundSendRequest struct {
	GroupID string
	UserID  string
	Content string
	Mention string // sender id to @-mention, group sends only
}

// OutboundSender is the contract the core calls to deliver a reply; the bus
// adapter implements it.
type OutboundSender interface {
	Send(req OutboundSendRequest) error
}

// QueueStatusEntry mirrors queue.StatusEntry without importing the queue
// package, keeping this contract free of a domain/application dependency.
type QueueStatusEntry struct {
	ContextID  string
	QueueDepth int
	Processing bool
	LastReason string
}

// CredentialStatusEntry is a read-only view of one credential's pool state.
type CredentialStatusEntry struct {
	Fingerprint string
	State       string
	ErrorCount  int
}

// StaminaStatus is a read-only snapshot of C3.
type StaminaStatus struct {
	Current  float64
	Max      float64
	Level    string
	RestMode bool
}

// ObservabilitySnapshot is the full read-only surface §6 names.
type ObservabilitySnapshot struct {
	Credentials        []CredentialStatusEntry
	Stamina            StaminaStatus
	Queues             []QueueStatusEntry
	PendingCorrelation int
	GroupProcessing    bool
}

// ObservabilitySurface is implemented by the Orchestrator and consumed by
// the TUI and the admin CLI's read-only commands.
type ObservabilitySurface interface {
	Snapshot() ObservabilitySnapshot
}

// AdminSurface is the exact command set §6 enumerates. Every method is
// synchronous and returns operator-facing text.
type AdminSurface interface {
	QueueStatus() string
	QueueFlush(contextID string) string
	QueueClear() string

	StaminaStatus() string
	StaminaRest(enable bool) string
	StaminaSet(value float64) string

	APIKeys() string
	ResetKey(prefix string) string
	SwitchKey() string

	Start() string
	Stop() string
}
