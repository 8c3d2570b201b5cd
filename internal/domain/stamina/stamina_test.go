package stamina

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestController(cfg Config) *Controller {
	return New(cfg, zap.NewNop())
}

func TestStaminaStaysWithinBounds(t *testing.T) {
	c := newTestController(DefaultConfig())
	for i := 0; i < 50; i++ {
		c.Consume(5)
		s := c.Status()
		if s.Current < 0 || s.Current > s.SMax {
			t.Fatalf("current out of bounds: %v", s.Current)
		}
		if s.Momentum < 0 {
			t.Fatalf("momentum went negative: %v", s.Momentum)
		}
	}
}

func TestCriticalThresholdIsStrictlyBelow(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestController(cfg)
	c.SetCurrent(cfg.CriticalThresh) // exactly at the threshold
	if got := c.Level(); got != LevelLow {
		t.Fatalf("expected low at exactly criticalThresh, got %s", got)
	}
	c.SetCurrent(cfg.CriticalThresh - 0.001)
	if got := c.Level(); got != LevelCritical {
		t.Fatalf("expected critical strictly below threshold, got %s", got)
	}
}

func TestRestModeSuspendsCostAndRecovery(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestController(cfg)
	c.SetCurrent(50)
	c.SetRestMode(true)
	before := c.Status().Current
	c.Consume(10)
	after := c.Status().Current
	if before != after {
		t.Fatalf("expected current unchanged in rest mode: before=%v after=%v", before, after)
	}
}

func TestCanReplyFalseWhenRestMode(t *testing.T) {
	c := newTestController(DefaultConfig())
	c.SetRestMode(true)
	if c.CanReply() {
		t.Fatal("expected CanReply false while rest mode is on")
	}
}

func TestCanReplyFalseWhenInsufficientStamina(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 5
	c := newTestController(cfg)
	c.SetCurrent(1)
	if c.CanReply() {
		t.Fatal("expected CanReply false below base cost")
	}
}

func TestLevelListenerFiresOnTransition(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestController(cfg)
	var transitions []string
	c.OnLevelChange(func(from, to Level) {
		transitions = append(transitions, string(from)+"->"+string(to))
	})
	c.SetCurrent(5) // forces critical
	c.Consume(0)
	if len(transitions) == 0 {
		t.Fatal("expected at least one level transition to be observed")
	}
}

func TestBackgroundTickDecaysMomentumOverTime(t *testing.T) {
	c := newTestController(DefaultConfig())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	c.Consume(20) // builds momentum
	built := c.Status().Momentum
	if built <= 0 {
		t.Fatal("expected consume to build momentum")
	}

	fixed = fixed.Add(10 * time.Second)
	c.now = func() time.Time { return fixed }
	c.Consume(0)
	decayed := c.Status().Momentum
	if decayed >= built {
		t.Fatalf("expected momentum to decay over elapsed time: before=%v after=%v", built, decayed)
	}
}
