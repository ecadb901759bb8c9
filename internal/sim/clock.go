package sim

import (
	"log/slog"
	"sync"
	"time"
)

// GameClock maps wall-clock durations onto virtual game time at a
// configurable speed multiplier. Time only moves through Advance while the
// clock runs, so tests and the tick driver share one code path.
type GameClock struct {
	mu       sync.Mutex
	gameTime time.Time
	speed    float64
	running  bool
}

// NewGameClock creates a stopped clock positioned at start. speed is the
// ratio of game time to wall time and must be positive.
func NewGameClock(start time.Time, speed float64) (*GameClock, error) {
	if speed <= 0 {
		return nil, configErr("clock.speed", "must be > 0, got %v", speed)
	}
	return &GameClock{gameTime: start, speed: speed}, nil
}

// Start begins advancing game time. Restarting a running clock is a no-op.
func (c *GameClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	slog.Info("game clock started", "game_time", c.gameTime.Format(time.RFC3339), "speed", c.speed)
}

// Stop pauses the clock, preserving current game time. Idempotent.
func (c *GameClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	slog.Info("game clock stopped", "game_time", c.gameTime.Format(time.RFC3339))
}

// Running reports whether the clock is advancing.
func (c *GameClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Advance converts an elapsed wall duration into game time and moves the
// clock. Returns the game delta applied; zero while stopped.
func (c *GameClock) Advance(wallDelta time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0
	}
	gameDelta := time.Duration(float64(wallDelta) * c.speed)
	c.gameTime = c.gameTime.Add(gameDelta)
	return gameDelta
}

// Now returns current game time.
func (c *GameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameTime
}

// Speed returns the current multiplier.
func (c *GameClock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed changes the multiplier without restarting the clock; the next
// Advance uses the new ratio.
func (c *GameClock) SetSpeed(speed float64) error {
	if speed <= 0 {
		return configErr("clock.speed", "must be > 0, got %v", speed)
	}
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
	slog.Info("clock speed changed", "speed", speed)
	return nil
}

// SetGameTime is an administrative override. Already-resolved events stay
// resolved: resolution is keyed on status, never on timestamps, so moving
// the clock cannot re-trigger them.
func (c *GameClock) SetGameTime(t time.Time) {
	c.mu.Lock()
	c.gameTime = t
	c.mu.Unlock()
	slog.Info("game clock set", "game_time", t.Format(time.RFC3339))
}
