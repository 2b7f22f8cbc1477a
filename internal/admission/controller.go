// Package admission gates new generation work on process memory
// pressure, before any queueing or lock contention happens.
package admission

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrMemoryPressure means the process is over its memory budget and the
// job was rejected. The rejection is terminal for the attempt; backoff
// and retry scheduling belong to the caller.
var ErrMemoryPressure = errors.New("memory pressure")

// Controller performs a stateless, synchronous memory check against
// ceiling * safetyFactor.
type Controller struct {
	ceiling      uint64
	safetyFactor float64
	memUsage     func() uint64
}

// New creates a controller with the given ceiling in bytes and safety
// factor (0 < f <= 1). A zero ceiling disables admission control.
func New(ceilingBytes uint64, safetyFactor float64) *Controller {
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = 0.85
	}
	return &Controller{
		ceiling:      ceilingBytes,
		safetyFactor: safetyFactor,
		memUsage:     processMemory,
	}
}

// SetMemoryFunc replaces the memory probe. Tests use this to simulate
// pressure on either side of the threshold.
func (c *Controller) SetMemoryFunc(fn func() uint64) {
	c.memUsage = fn
}

// Threshold returns the effective admission boundary in bytes.
func (c *Controller) Threshold() uint64 {
	return uint64(float64(c.ceiling) * c.safetyFactor)
}

// Admit returns nil when the job may proceed, or ErrMemoryPressure when
// current process memory is at or over the threshold. Non-blocking.
func (c *Controller) Admit() error {
	if c.ceiling == 0 {
		return nil
	}
	used := c.memUsage()
	threshold := c.Threshold()
	if used >= threshold {
		return fmt.Errorf("%w: %d of %d bytes in use (threshold %d)",
			ErrMemoryPressure, used, c.ceiling, threshold)
	}
	return nil
}

func processMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc
}
