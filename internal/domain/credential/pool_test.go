package credential

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testPool(t *testing.T, secrets ...string) *Pool {
	t.Helper()
	p := New(secrets, nil, zap.NewNop())
	return p
}

func TestAcquireReturnsFirstHealthyCredential(t *testing.T) {
	p := testPool(t, "a", "b")
	c1, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if c1.Secret != "a" {
		t.Fatalf("expected first acquire to return a, got %s", c1.Secret)
	}
}

func TestBlockAfterFiveRateLimitsWithinWindow(t *testing.T) {
	p := testPool(t, "a", "b")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	p.now = func() time.Time { return clock }

	a, _ := p.Acquire()
	for i := 0; i < 4; i++ {
		p.ReportOutcome(a, OutcomeRateLimited)
		clock = clock.Add(time.Minute)
	}
	if a.State() != StateFailing {
		t.Fatalf("expected failing after 4 errors, got %s", a.State())
	}

	p.ReportOutcome(a, OutcomeRateLimited)
	if a.State() != StateBlocked {
		t.Fatalf("expected blocked after 5th error, got %s", a.State())
	}

	next, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if next.Secret != "b" {
		t.Fatalf("expected acquire to skip blocked credential, got %s", next.Secret)
	}
}

func TestSlidingWindowResetsCountOnStaleFirstError(t *testing.T) {
	p := testPool(t, "a")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	p.now = func() time.Time { return clock }

	a, _ := p.Acquire()
	p.ReportOutcome(a, OutcomeRateLimited)
	p.ReportOutcome(a, OutcomeRateLimited)
	if a.ErrorCount != 2 {
		t.Fatalf("expected error count 2, got %d", a.ErrorCount)
	}

	clock = clock.Add(6 * time.Minute) // past the 5-minute window
	p.ReportOutcome(a, OutcomeRateLimited)
	if a.ErrorCount != 1 {
		t.Fatalf("expected window reset to drop count to 1, got %d", a.ErrorCount)
	}
}

func TestSweepUnblocksAfterOneHour(t *testing.T) {
	p := testPool(t, "a", "b")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	p.now = func() time.Time { return clock }

	a, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(a, OutcomeRateLimited)
	}
	if a.State() != StateBlocked {
		t.Fatalf("expected blocked")
	}

	clock = clock.Add(61 * time.Minute)
	p.Sweep()
	if a.State() != StateHealthy {
		t.Fatalf("expected healthy after sweep past block window, got %s", a.State())
	}
}

func TestAllBlockedReturnsEarliestBlocked(t *testing.T) {
	p := testPool(t, "a", "b")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	p.now = func() time.Time { return clock }

	a, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(a, OutcomeRateLimited)
	}
	clock = clock.Add(time.Minute)
	b, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(b, OutcomeRateLimited)
	}

	got, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got.Secret != "a" {
		t.Fatalf("expected degraded acquire to return earliest-blocked (a), got %s", got.Secret)
	}
}

func TestDailyResetClearsAllState(t *testing.T) {
	p := testPool(t, "a")
	a, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(a, OutcomeRateLimited)
	}
	p.DailyReset()
	if a.State() != StateHealthy {
		t.Fatalf("expected healthy after daily reset, got %s", a.State())
	}
}

func TestForceResetByPrefix(t *testing.T) {
	p := testPool(t, "sk-foo-1", "sk-bar-1")
	foo, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(foo, OutcomeRateLimited)
	}
	n := p.ForceReset("sk-foo")
	if n != 1 {
		t.Fatalf("expected 1 credential reset, got %d", n)
	}
	if foo.State() != StateHealthy {
		t.Fatalf("expected sk-foo-1 healthy after forced reset")
	}
}

func TestEmptyPoolAcquireErrors(t *testing.T) {
	p := testPool(t)
	if _, err := p.Acquire(); err != ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestDeduplicationPreservesOrder(t *testing.T) {
	p := New([]string{"a", "b"}, []string{"b", "c"}, zap.NewNop())
	if p.Len() != 3 {
		t.Fatalf("expected 3 distinct credentials, got %d", p.Len())
	}
	first, _ := p.Acquire()
	if first.Secret != "a" {
		t.Fatalf("expected insertion order preserved, got %s", first.Secret)
	}
}

type fakeAuditSink struct {
	events []string
}

func (f *fakeAuditSink) RecordCredentialEvent(fingerprint, event, reason string) {
	f.events = append(f.events, event)
}

func TestAuditSinkNotifiedOnBlockAndUnblock(t *testing.T) {
	p := testPool(t, "sk-test-1")
	sink := &fakeAuditSink{}
	p.SetAuditSink(sink)

	cred, _ := p.Acquire()
	for i := 0; i < 5; i++ {
		p.ReportOutcome(cred, OutcomeRateLimited)
	}
	if len(sink.events) != 1 || sink.events[0] != "blocked" {
		t.Fatalf("expected a single 'blocked' event, got %v", sink.events)
	}

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	p.Sweep()
	if len(sink.events) != 2 || sink.events[1] != "unblocked" {
		t.Fatalf("expected a trailing 'unblocked' event, got %v", sink.events)
	}
}
