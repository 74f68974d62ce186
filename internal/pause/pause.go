// Package pause provides the global pause collaborator. Producers wrap
// every buffer operation in Enter/Exit; maintenance work that needs all
// producers stopped runs through RunWhilePaused.
package pause

import "sync"

// Controller coordinates producers with pausing operations. The zero value
// is ready for use. Producer sections are cheap shared acquisitions; a
// pause takes the writer side and therefore waits for every in-flight
// section to finish.
type Controller struct {
	mu sync.RWMutex
}

// Enter marks the start of a producer section. Blocks while a pause is in
// progress.
func (c *Controller) Enter() { c.mu.RLock() }

// Exit marks the end of a producer section.
func (c *Controller) Exit() { c.mu.RUnlock() }

// RunWhilePaused stops all producers, consults pred and runs action while
// they are stopped. A nil pred always passes; a false pred vetoes the
// action. Reports whether action ran.
func (c *Controller) RunWhilePaused(pred func() bool, action func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pred != nil && !pred() {
		return false
	}
	action()
	return true
}
