package application

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relaywing/mediator/internal/domain/credential"
)

// Dispatch parses and executes one admin command line against the exact
// surface §6 enumerates, returning operator-facing text. Unrecognized input
// is reported back rather than silently ignored.
func (o *Orchestrator) Dispatch(line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "empty command"
	}

	switch fields[0] {
	case "queue":
		return o.dispatchQueue(fields[1:])
	case "stamina":
		return o.dispatchStamina(fields[1:])
	case "apikeys":
		return o.APIKeys()
	case "resetkey":
		if len(fields) < 2 {
			return "usage: resetkey <prefix>"
		}
		return o.ResetKey(fields[1])
	case "switchkey":
		return o.SwitchKey()
	case "start":
		return o.Start()
	case "stop":
		return o.Stop()
	default:
		return fmt.Sprintf("unrecognized command: %s", fields[0])
	}
}

func (o *Orchestrator) dispatchQueue(args []string) string {
	if len(args) == 0 {
		return o.QueueStatus()
	}
	switch args[0] {
	case "status":
		return o.QueueStatus()
	case "flush":
		contextID := ""
		if len(args) > 1 {
			contextID = args[1]
		}
		return o.QueueFlush(contextID)
	case "clear":
		return o.QueueClear()
	default:
		return fmt.Sprintf("unrecognized queue subcommand: %s", args[0])
	}
}

func (o *Orchestrator) dispatchStamina(args []string) string {
	if len(args) == 0 {
		return o.StaminaStatus()
	}
	switch args[0] {
	case "rest":
		return o.StaminaRest(!o.stam.Status().RestMode)
	case "set":
		if len(args) < 2 {
			return "usage: stamina set N"
		}
		n, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Sprintf("invalid stamina value: %s", args[1])
		}
		return o.StaminaSet(n)
	default:
		return fmt.Sprintf("unrecognized stamina subcommand: %s", args[0])
	}
}

// QueueStatus implements port.AdminSurface.
func (o *Orchestrator) QueueStatus() string {
	entries := o.queueMgr.Status()
	if len(entries) == 0 {
		return "no active contexts"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: depth=%d processing=%t last_reason=%s\n", e.ContextID, e.QueueDepth, e.Processing, e.LastReason)
	}
	return b.String()
}

// QueueFlush implements port.AdminSurface. An empty contextID flushes every
// active context.
func (o *Orchestrator) QueueFlush(contextID string) string {
	if contextID == "" {
		results := o.queueMgr.FlushAll()
		return fmt.Sprintf("flushed %d context(s)", len(results))
	}
	result := o.queueMgr.Flush(contextID)
	if !result.Processed {
		return fmt.Sprintf("context %s not flushed: %s", contextID, result.Reason)
	}
	return fmt.Sprintf("context %s flushed, batch size %d", contextID, len(result.Batch))
}

// QueueClear implements port.AdminSurface.
func (o *Orchestrator) QueueClear() string {
	o.queueMgr.Clear()
	return "all queues cleared"
}

// StaminaStatus implements port.AdminSurface.
func (o *Orchestrator) StaminaStatus() string {
	s := o.stam.Status()
	return fmt.Sprintf("current=%.2f max=%.2f level=%s rest_mode=%t", s.Current, s.SMax, s.Level, s.RestMode)
}

// StaminaRest implements port.AdminSurface.
func (o *Orchestrator) StaminaRest(enable bool) string {
	o.stam.SetRestMode(enable)
	if enable {
		return "rest mode enabled"
	}
	return "rest mode disabled"
}

// StaminaSet implements port.AdminSurface.
func (o *Orchestrator) StaminaSet(value float64) string {
	o.stam.SetCurrent(value)
	return fmt.Sprintf("stamina set to %.2f", value)
}

// APIKeys implements port.AdminSurface: lists every credential's state by
// fingerprint, never the raw secret.
func (o *Orchestrator) APIKeys() string {
	snaps := o.creds.Status()
	if len(snaps) == 0 {
		return "no credentials configured"
	}
	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s: state=%s errors=%d\n", credential.Fingerprint(s.Secret), s.State, s.ErrorCount)
	}
	return b.String()
}

// ResetKey implements port.AdminSurface.
func (o *Orchestrator) ResetKey(prefix string) string {
	n := o.creds.ForceReset(prefix)
	return fmt.Sprintf("reset %d credential(s) matching prefix %q", n, prefix)
}

// SwitchKey implements port.AdminSurface.
func (o *Orchestrator) SwitchKey() string {
	o.creds.ForceAdvance()
	return "rotation cursor advanced"
}

// Start implements port.AdminSurface: re-enables group-chat processing.
func (o *Orchestrator) Start() string {
	o.queueMgr.SetGroupProcessingEnabled(true)
	o.mu.Lock()
	o.groupProcessing = true
	o.mu.Unlock()
	return "group processing started"
}

// Stop implements port.AdminSurface: disables group-chat processing; flushes
// targeting group contexts return skipReply until started again.
func (o *Orchestrator) Stop() string {
	o.queueMgr.SetGroupProcessingEnabled(false)
	o.mu.Lock()
	o.groupProcessing = false
	o.mu.Unlock()
	return "group processing stopped"
}
