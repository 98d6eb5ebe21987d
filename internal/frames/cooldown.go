package frames

import (
	"sync"
	"time"
)

// Cooldown remembers the last successful alert per camera and which
// cameras have an alert in flight.
type Cooldown struct {
	period time.Duration

	mu       sync.Mutex
	last     map[string]time.Time
	inFlight map[string]bool
}

// NewCooldown creates a Cooldown with the given period.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{
		period:   period,
		last:     make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Ready reports whether an alert for cameraID may be sent at now.
func (c *Cooldown) Ready(cameraID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked(cameraID, now)
}

func (c *Cooldown) readyLocked(cameraID string, now time.Time) bool {
	if c.inFlight[cameraID] {
		return false
	}
	last, ok := c.last[cameraID]
	return !ok || now.Sub(last) >= c.period
}

// TryAcquire reserves the right to send one alert for cameraID. It fails
// while the camera is cooling down or another alert for it is in flight.
// A successful call must be followed by Commit or Release.
func (c *Cooldown) TryAcquire(cameraID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.readyLocked(cameraID, now) {
		return false
	}
	c.inFlight[cameraID] = true
	return true
}

// Commit ends a reservation after a successful send and starts the
// cooldown at t.
func (c *Cooldown) Commit(cameraID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, cameraID)
	c.last[cameraID] = t
}

// Release ends a reservation after a failed send. The cooldown is not
// started, so the next frame retries.
func (c *Cooldown) Release(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, cameraID)
}
