package router

import "time"

type CooldownState string

const (
	StateAvailable   CooldownState = "available"
	StateCoolingDown CooldownState = "cooling_down"
)

// Cooldown is a per-provider availability gate with two states and
// enumerated transitions: a rate-limit signal trips it for a fixed window,
// a single success closes it immediately, and the window elapsing makes the
// provider eligible for a new attempt.
type Cooldown struct {
	Window time.Duration

	state CooldownState
	until time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &Cooldown{Window: window, state: StateAvailable}
}

func (c *Cooldown) State() CooldownState {
	return c.state
}

// Allow returns whether the provider may be attempted at this instant.
func (c *Cooldown) Allow(now time.Time) bool {
	if c.state != StateCoolingDown {
		return true
	}
	return !now.Before(c.until)
}

// Until returns the cooldown deadline; zero when available.
func (c *Cooldown) Until() time.Time {
	if c.state != StateCoolingDown {
		return time.Time{}
	}
	return c.until
}

// RecordRateLimit trips the cooldown for one window from now.
func (c *Cooldown) RecordRateLimit(now time.Time) {
	c.state = StateCoolingDown
	c.until = now.Add(c.Window)
}

// RecordSuccess clears the cooldown immediately.
func (c *Cooldown) RecordSuccess() {
	c.state = StateAvailable
	c.until = time.Time{}
}
