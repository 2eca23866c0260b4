package revision

import (
	"sync"
	"time"
)

// AutosaveWindow is how long the session must stay quiet before dirty
// working state is persisted.
const AutosaveWindow = 5 * time.Second

// Debouncer coalesces rapid triggers into one deferred call. Each
// Trigger restarts the window; Cancel drops any pending call.
type Debouncer struct {
	window time.Duration
	mu     sync.Mutex
	timer  *time.Timer
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = AutosaveWindow
	}
	return &Debouncer{window: window}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, fn)
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
