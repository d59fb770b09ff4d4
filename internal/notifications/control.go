package notifications

import "sync/atomic"

// Control holds the run state shared between the dispatch loop and the control surface.
// The zero value is a running (not paused) control.
type Control struct {
	paused atomic.Bool
}

// NewControl creates a control in the running state.
func NewControl() *Control {
	return &Control{}
}

// Pause stops the loop from fetching new batches. It returns false if already paused.
func (c *Control) Pause() bool {
	changed := c.paused.CompareAndSwap(false, true)
	recordPaused(true)
	return changed
}

// Resume lets the loop fetch again. It returns false if it was not paused.
func (c *Control) Resume() bool {
	changed := c.paused.CompareAndSwap(true, false)
	recordPaused(false)
	return changed
}

// Paused reports whether the loop is paused.
func (c *Control) Paused() bool {
	return c.paused.Load()
}
