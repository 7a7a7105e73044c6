package capture

import (
	"sync"
	"time"
)

// Detector ends a turn after a quiet period with no meaningful speech.
// A single timer is kept; every rearm cancels the previous one, so at
// most one quiet-period countdown is live at a time.
type Detector struct {
	quiet   time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	armed   func() bool
	onQuiet func()
}

func NewDetector(quiet time.Duration) *Detector {
	if quiet <= 0 {
		quiet = 3 * time.Second
	}
	return &Detector{quiet: quiet}
}

// Armed installs a gate consulted before arming and again when the
// timer fires. Capture pipelines gate on the stream being open.
func (d *Detector) Armed(gate func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = gate
}

// OnQuiet installs the callback invoked when the quiet period elapses.
func (d *Detector) OnQuiet(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onQuiet = callback
}

// Reset cancels any pending countdown and starts a fresh one. It is a
// no-op when the gate reports the detector should not be armed.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.armed != nil && !d.armed() {
		return
	}

	d.timer = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		gate := d.armed
		callback := d.onQuiet
		d.timer = nil
		d.mu.Unlock()

		// Re-check the gate at fire time: the stream may have closed
		// while the countdown was running.
		if gate != nil && !gate() {
			return
		}
		if callback != nil {
			callback()
		}
	})
}

// Cancel stops any pending countdown without rearming.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
