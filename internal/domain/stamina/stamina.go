// Package stamina implements the fatigue-with-inertia model (C3) that gates
// replies at the scheduler boundary.
package stamina

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is a derived label over current/S_max, used only for observability
// and for the critical-drain policy decision in C4; no other behavior
// branches on it.
type Level string

const (
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelCritical Level = "critical"
)

// Config holds the tunable parameters of the model, all hot-reloadable.
type Config struct {
	SMax           float64
	K              float64 // base cost
	P              float64 // non-linearity exponent
	Alpha          float64 // momentum accrual
	Beta           float64 // momentum decay
	Gamma          float64 // momentum -> recovery suppression
	R              float64 // base recovery rate
	RegenInterval  time.Duration
	LowThresh      float64
	CriticalThresh float64
}

// DefaultConfig mirrors the configuration defaults enumerated for the
// scheduler's stamina section.
func DefaultConfig() Config {
	return Config{
		SMax:           100,
		K:              1,
		P:              1,
		Alpha:          0.5,
		Beta:           0.1,
		Gamma:          0.4,
		R:              5,
		RegenInterval:  time.Second,
		LowThresh:      30,
		CriticalThresh: 10,
	}
}

// Listener is notified on level transitions. No behavior elsewhere depends
// on these events; they exist purely for observers.
type Listener func(from, to Level)

// Controller owns the single process-wide StaminaState and serializes all
// access with one lock, shared by the background tick and batch consume.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	current   float64
	momentum  float64
	lastLevel Level
	lastTick  time.Time
	restMode  bool
	now       func() time.Time
	logger    *zap.Logger
	listeners []Listener

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Controller starting at full stamina.
func New(cfg Config, logger *zap.Logger) *Controller {
	now := time.Now()
	c := &Controller{
		cfg:      cfg,
		current:  cfg.SMax,
		momentum: 0,
		lastTick: now,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "stamina")),
		stopCh:   make(chan struct{}),
	}
	c.lastLevel = c.levelLocked()
	return c
}

// OnLevelChange registers a listener fired whenever the derived level
// transitions. Must be called before Start.
func (c *Controller) OnLevelChange(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start launches the background regen tick. Safe to call once.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.RegenInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.tick()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// UpdateConfig hot-swaps the model parameters (fsnotify-driven reload).
// The running ticker keeps its original period; a new RegenInterval is
// picked up only as the dt of each background step.
func (c *Controller) UpdateConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Stop halts the background tick and waits for it to exit.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) tick() {
	c.mu.Lock()
	c.applyLocked(0)
	c.mu.Unlock()
}

// Consume applies the elapsed background time since the last update and
// then a unit update with intensity = messageCount, as required by a batch
// flush. Returns the resulting level.
func (c *Controller) Consume(messageCount int) Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyElapsedLocked()
	c.applyLocked(float64(messageCount))
	return c.levelLocked()
}

// applyElapsedLocked advances the model with I=0 for whatever time has
// passed since lastTick, without resetting lastTick to now (applyLocked
// does that) — this models the background tick that would otherwise have
// fired on its own schedule.
func (c *Controller) applyElapsedLocked() {
	dt := c.now().Sub(c.lastTick).Seconds()
	if dt <= 0 {
		return
	}
	c.stepLocked(dt, 0)
}

// applyLocked performs one discrete update with the given intensity over a
// 1-second timestep (matching the spec's "dt=1" contract for batch consume
// and the ticker's fixed interval for background ticks).
func (c *Controller) applyLocked(intensity float64) {
	dt := c.cfg.RegenInterval.Seconds()
	if intensity > 0 {
		dt = 1
	}
	c.stepLocked(dt, intensity)
	c.lastTick = c.now()
}

func (c *Controller) stepLocked(dt, intensity float64) {
	cfg := c.cfg

	c.momentum = max0(c.momentum*(1-cfg.Beta*dt) + cfg.Alpha*intensity*dt)

	var consume float64
	if !c.restMode {
		consume = cfg.K * math.Pow(intensity, cfg.P) * dt
	}

	var recover float64
	if !c.restMode {
		recover = (cfg.R*(1-c.current/cfg.SMax) - cfg.Gamma*c.momentum) * dt
	}

	c.current = clamp(c.current-consume+recover, 0, cfg.SMax)

	newLevel := c.levelLocked()
	if newLevel != c.lastLevel {
		old := c.lastLevel
		c.lastLevel = newLevel
		c.logger.Info("stamina level transition", zap.String("from", string(old)), zap.String("to", string(newLevel)))
		for _, l := range c.listeners {
			l(old, newLevel)
		}
	}
}

func (c *Controller) levelLocked() Level {
	ratio := c.current / c.cfg.SMax * 100
	switch {
	case ratio >= 70:
		return LevelHigh
	case ratio >= 50:
		return LevelMedium
	case ratio >= c.cfg.CriticalThresh:
		return LevelLow
	default:
		return LevelCritical
	}
}

// Level returns the current derived level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelLocked()
}

// IsCritical reports whether the current level is critical, the condition
// C4 uses to decide between draining and leaving a stamina-blocked queue
// in place.
func (c *Controller) IsCritical() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levelLocked() == LevelCritical
}

// CanReply reports whether the controller permits a reply right now:
// rest mode is off and there's enough stamina for at least one unit.
func (c *Controller) CanReply() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restMode {
		return false
	}
	return c.current >= c.cfg.K*math.Pow(1, c.cfg.P)
}

// SetRestMode toggles rest mode: cost and recovery both suspend; momentum
// still decays.
func (c *Controller) SetRestMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restMode = on
	c.logger.Info("stamina rest mode changed", zap.Bool("rest_mode", on))
}

// SetCurrent is an admin operation (`stamina set N`).
func (c *Controller) SetCurrent(n float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = clamp(n, 0, c.cfg.SMax)
	c.logger.Info("operator set stamina", zap.Float64("current", c.current))
}

// Status is a read-only snapshot for the observability surface.
type Status struct {
	Current  float64
	Momentum float64
	SMax     float64
	Level    Level
	RestMode bool
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Current:  c.current,
		Momentum: c.momentum,
		SMax:     c.cfg.SMax,
		Level:    c.levelLocked(),
		RestMode: c.restMode,
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

