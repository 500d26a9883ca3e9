package deletion

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPause is how long a throttled job waits before checking again.
const DefaultPause = 60 * time.Second

// Window is a daily maintenance window in UTC hours. It may wrap past
// midnight.
type Window struct {
	StartHour     int
	DurationHours int
}

// DefaultWindow covers the nightly backup.
var DefaultWindow = Window{StartHour: 8, DurationHours: 9}

// Contains reports whether hour (0-23, UTC) falls inside the window. The
// part of the window on the start day and the part that wrapped into the
// next day are compared separately.
func (w Window) Contains(hour int) bool {
	end := (w.StartHour + w.DurationHours) % 24
	if hour >= w.StartHour && hour < min(w.StartHour+w.DurationHours, 24) {
		return true
	}
	return end <= w.StartHour && hour < end && hour >= end-w.DurationHours
}

// Sleeper pauses a throttled job.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer and returns early with ctx.Err()
// on cancellation.
var TimerSleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	// Enabled turns on health checks and the maintenance window.
	Enabled bool
	Window  Window
	// Pause defaults to DefaultPause.
	Pause time.Duration
	// BatchesPerSecond caps batch throughput whether or not Enabled is
	// set. Zero means unlimited.
	BatchesPerSecond float64
}

// Throttle decides whether bulk deletion may run its next batch.
type Throttle struct {
	cfg     ThrottleConfig
	health  HealthChecker
	limiter *rate.Limiter
	sleeper Sleeper
	now     func() time.Time
	logger  *slog.Logger
}

// NewThrottle creates a throttle. health may be nil, in which case only
// the maintenance window applies.
func NewThrottle(cfg ThrottleConfig, health HealthChecker) *Throttle {
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	t := &Throttle{
		cfg:     cfg,
		health:  health,
		sleeper: TimerSleeper,
		now:     time.Now,
		logger:  slog.Default(),
	}
	if cfg.BatchesPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return t
}

// Disabled returns a throttle that never pauses.
func Disabled() *Throttle {
	return NewThrottle(ThrottleConfig{}, nil)
}

// WithSleeper replaces the timer used while throttled.
func (t *Throttle) WithSleeper(s Sleeper) *Throttle {
	t.sleeper = s
	return t
}

// WithClock sets the time source used for the maintenance window.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// WithLogger sets the logger.
func (t *Throttle) WithLogger(logger *slog.Logger) *Throttle {
	t.logger = logger
	return t
}

// ShouldThrottle reports whether the next batch must wait. A health
// check that fails or cannot be reached throttles.
func (t *Throttle) ShouldThrottle(ctx context.Context) bool {
	if !t.cfg.Enabled {
		return false
	}
	if t.health != nil {
		if err := t.health.Check(ctx); err != nil {
			t.logger.Debug("health check failed", "error", err)
			return true
		}
	}
	return t.cfg.Window.Contains(t.now().UTC().Hour())
}

// Wait blocks until the next batch may run: it pauses while
// ShouldThrottle holds, then takes a token from the rate cap.
func (t *Throttle) Wait(ctx context.Context) error {
	for t.ShouldThrottle(ctx) {
		t.logger.Info("throttling deletion", "pause", t.cfg.Pause)
		if err := t.sleeper.Sleep(ctx, t.cfg.Pause); err != nil {
			return err
		}
	}
	if t.limiter != nil {
		return t.limiter.Wait(ctx)
	}
	return ctx.Err()
}
