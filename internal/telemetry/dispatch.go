package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/vmtel/vmeventbuf/pkg/event"
)

const kindCount = 3

func kindIndex(k event.Kind) int {
	switch k {
	case event.KindToJavaCall:
		return 0
	case event.KindClassLoad:
		return 1
	case event.KindFirstCall:
		return 2
	default:
		return -1
	}
}

// Dispatcher tracks, per notification kind, whether posting is enabled and
// which managed callback the agent registered for it. Enabled flags gate
// the producer hot path; callback names gate delivery of deferred events.
type Dispatcher struct {
	enabled [kindCount]atomic.Bool

	mu        sync.RWMutex
	callbacks [kindCount]string
}

// SetEnabled flips the posting flag for a kind. Unknown kinds are ignored
// and reported false.
func (d *Dispatcher) SetEnabled(k event.Kind, on bool) bool {
	i := kindIndex(k)
	if i < 0 {
		return false
	}
	d.enabled[i].Store(on)
	return true
}

// Enabled reports whether posting is enabled for a kind.
func (d *Dispatcher) Enabled(k event.Kind) bool {
	i := kindIndex(k)
	return i >= 0 && d.enabled[i].Load()
}

// DisableAll turns every kind off.
func (d *Dispatcher) DisableAll() {
	for i := range d.enabled {
		d.enabled[i].Store(false)
	}
}

// RegisterCallback records the managed callback for a kind. Reports false
// for unknown kinds.
func (d *Dispatcher) RegisterCallback(k event.Kind, method string) bool {
	i := kindIndex(k)
	if i < 0 {
		return false
	}
	d.mu.Lock()
	d.callbacks[i] = method
	d.mu.Unlock()
	return true
}

// Callback returns the registered callback name for a kind.
func (d *Dispatcher) Callback(k event.Kind) (string, bool) {
	i := kindIndex(k)
	if i < 0 {
		return "", false
	}
	d.mu.RLock()
	name := d.callbacks[i]
	d.mu.RUnlock()
	return name, name != ""
}

// HasCallback reports whether a callback is registered for a kind.
func (d *Dispatcher) HasCallback(k event.Kind) bool {
	_, ok := d.Callback(k)
	return ok
}
