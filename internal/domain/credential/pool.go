// Package credential implements the LLM credential pool (C1): rotation,
// sliding-window failure tracking, and time-bounded blocking.
package credential

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome classifies the result of a single LLM call for accounting
// purposes. It intentionally does not carry the full llm.Error taxonomy —
// only the subset that affects credential state.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeOther
)

const (
	failureWindow = 5 * time.Minute
	blockFor      = time.Hour
	blockAfter    = 5
)

// State is the credential's position in the healthy/failing/blocked machine.
type State string

const (
	StateHealthy State = "healthy"
	StateFailing State = "failing"
	StateBlocked State = "blocked"
)

// Credential holds per-key rotation and failure-accounting state.
type Credential struct {
	Secret               string
	ErrorCount           int
	BlockedAt            *time.Time
	FirstErrorAtInWindow *time.Time
}

// State derives the credential's machine state from its counters.
func (c *Credential) State() State {
	if c.BlockedAt != nil {
		return StateBlocked
	}
	if c.ErrorCount > 0 {
		return StateFailing
	}
	return StateHealthy
}

// AuditSink records block/unblock transitions for operator review.
// Optional; never receives the full secret, only its Fingerprint.
type AuditSink interface {
	RecordCredentialEvent(fingerprint, event, reason string)
}

// Fingerprint returns a non-reversible, log-safe identifier for a secret:
// its last 4 characters, or "****" for secrets of 4 characters or fewer.
func Fingerprint(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[len(secret)-4:]
}

// Pool is the ordered, deduplicated set of credentials with rotation state.
// Serialized by a single mutex; read-mostly outside rate-limit bursts.
type Pool struct {
	mu      sync.Mutex
	creds   []*Credential
	cursor  int
	logger  *zap.Logger
	now     func() time.Time
	audit   AuditSink
	stopCh  chan struct{}
	stopped bool
}

// SetAuditSink attaches the audit log. Optional.
func (p *Pool) SetAuditSink(sink AuditSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audit = sink
}

// New builds a pool from a primary and backup list, merged and deduplicated
// on identity while preserving first-seen insertion order.
func New(primary, backup []string, logger *zap.Logger) *Pool {
	seen := make(map[string]bool)
	var creds []*Credential
	for _, list := range [][]string{primary, backup} {
		for _, secret := range list {
			if secret == "" || seen[secret] {
				continue
			}
			seen[secret] = true
			creds = append(creds, &Credential{Secret: secret})
		}
	}
	return &Pool{
		creds:  creds,
		logger: logger.With(zap.String("component", "credential-pool")),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Len returns the number of distinct credentials in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Acquire returns the first non-blocked credential starting at the rotation
// cursor. If every credential is blocked, it returns the one with the
// earliest BlockedAt (degraded mode) and logs a warning.
func (p *Pool) Acquire() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepLocked()

	if len(p.creds) == 0 {
		return nil, ErrNoCredentials
	}

	n := len(p.creds)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.creds[idx].State() != StateBlocked {
			p.cursor = idx
			return p.creds[idx], nil
		}
	}

	// Degraded mode: all blocked, pick earliest release.
	earliest := p.creds[0]
	for _, c := range p.creds[1:] {
		if c.BlockedAt != nil && earliest.BlockedAt != nil && c.BlockedAt.Before(*earliest.BlockedAt) {
			earliest = c
		}
	}
	p.logger.Warn("all credentials blocked, returning earliest-blocked in degraded mode",
		zap.Time("blocked_at", *earliest.BlockedAt))
	return earliest, nil
}

// ReportOutcome records the result of a call made with cred.
func (p *Pool) ReportOutcome(cred *Credential, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch outcome {
	case OutcomeSuccess:
		cred.ErrorCount = 0
		cred.FirstErrorAtInWindow = nil
	case OutcomeRateLimited:
		now := p.now()
		if cred.FirstErrorAtInWindow == nil || now.Sub(*cred.FirstErrorAtInWindow) > failureWindow {
			cred.FirstErrorAtInWindow = &now
			cred.ErrorCount = 0
		}
		cred.ErrorCount++
		if cred.ErrorCount >= blockAfter {
			cred.BlockedAt = &now
			p.logger.Info("credential blocked after repeated rate limits",
				zap.Int("error_count", cred.ErrorCount))
			p.advanceCursorPastLocked(cred)
			if p.audit != nil {
				p.audit.RecordCredentialEvent(Fingerprint(cred.Secret), "blocked", "5 rate-limit errors within 5 minutes")
			}
		}
	case OutcomeOther:
		// Recorded for diagnostics only; block state unaffected.
	}
}

func (p *Pool) advanceCursorPastLocked(blocked *Credential) {
	for i, c := range p.creds {
		if c == blocked {
			p.cursor = (i + 1) % len(p.creds)
			return
		}
	}
}

// Sweep unblocks credentials whose block window has elapsed.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
}

func (p *Pool) sweepLocked() {
	now := p.now()
	for _, c := range p.creds {
		if c.BlockedAt != nil && now.Sub(*c.BlockedAt) > blockFor {
			c.BlockedAt = nil
			c.ErrorCount = 0
			c.FirstErrorAtInWindow = nil
			p.logger.Info("credential unblocked after cooldown")
			if p.audit != nil {
				p.audit.RecordCredentialEvent(Fingerprint(c.Secret), "unblocked", "1-hour cooldown elapsed")
			}
		}
	}
}

// DailyReset clears all error counts and blocks.
func (p *Pool) DailyReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		c.ErrorCount = 0
		c.BlockedAt = nil
		c.FirstErrorAtInWindow = nil
	}
	p.logger.Info("daily reset applied to credential pool")
}

// ForceAdvance is an admin operation: moves the rotation cursor forward.
func (p *Pool) ForceAdvance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return
	}
	p.cursor = (p.cursor + 1) % len(p.creds)
	p.logger.Info("operator forced credential rotation advance", zap.Int("cursor", p.cursor))
}

// ForceReset is an admin operation: clears error/block state for every
// credential whose secret starts with prefix.
func (p *Pool) ForceReset(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.creds {
		if len(c.Secret) >= len(prefix) && c.Secret[:len(prefix)] == prefix {
			c.ErrorCount = 0
			c.BlockedAt = nil
			c.FirstErrorAtInWindow = nil
			n++
		}
	}
	p.logger.Info("operator forced credential reset", zap.String("prefix", prefix), zap.Int("affected", n))
	return n
}

// StartDailyReset launches a background goroutine that fires DailyReset at
// local midnight and reschedules itself. Stop with Shutdown.
func (p *Pool) StartDailyReset() {
	go func() {
		for {
			d := durationUntilNextMidnight(p.now())
			select {
			case <-time.After(d):
				p.DailyReset()
			case <-p.stopCh:
				return
			}
		}
	}()
}

func durationUntilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

// Shutdown stops the daily-reset goroutine.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}

// Snapshot is a read-only view for the observability surface.
type Snapshot struct {
	Secret     string
	State      State
	ErrorCount int
	BlockedAt  *time.Time
}

// Status returns a snapshot of every credential's state.
func (p *Pool) Status() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, Snapshot{Secret: c.Secret, State: c.State(), ErrorCount: c.ErrorCount, BlockedAt: c.BlockedAt})
	}
	return out
}
