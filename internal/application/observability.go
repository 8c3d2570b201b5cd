package application

import (
	"github.com/relaywing/mediator/internal/domain/credential"
	"github.com/relaywing/mediator/internal/domain/port"
)

// Snapshot implements port.ObservabilitySurface: a read-only view of every
// component's current state, for the admin CLI and the TUI.
func (o *Orchestrator) Snapshot() port.ObservabilitySnapshot {
	credSnaps := o.creds.Status()
	creds := make([]port.CredentialStatusEntry, 0, len(credSnaps))
	for _, s := range credSnaps {
		creds = append(creds, port.CredentialStatusEntry{
			Fingerprint: credential.Fingerprint(s.Secret),
			State:       string(s.State),
			ErrorCount:  s.ErrorCount,
		})
	}

	st := o.stam.Status()

	queueSnaps := o.queueMgr.Status()
	queues := make([]port.QueueStatusEntry, 0, len(queueSnaps))
	for _, q := range queueSnaps {
		queues = append(queues, port.QueueStatusEntry{
			ContextID:  q.ContextID,
			QueueDepth: q.QueueDepth,
			Processing: q.Processing,
			LastReason: string(q.LastReason),
		})
	}

	return port.ObservabilitySnapshot{
		Credentials: creds,
		Stamina: port.StaminaStatus{
			Current:  st.Current,
			Max:      st.SMax,
			Level:    string(st.Level),
			RestMode: st.RestMode,
		},
		Queues:             queues,
		PendingCorrelation: o.correlator.PendingCount(),
		GroupProcessing:    o.groupProcessingEnabled(),
	}
}
