package session

import (
	"sync"
	"time"
)

// watchdog fires onIdle when touch has not been called for the configured
// timeout. Streams that go silent without a close frame would otherwise
// hold their session open forever.
type watchdog struct {
	timeout time.Duration
	onIdle  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newWatchdog(timeout time.Duration, onIdle func()) *watchdog {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &watchdog{timeout: timeout, onIdle: onIdle}
}

// touch restarts the idle countdown.
func (w *watchdog) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		fire := !w.stopped
		w.timer = nil
		w.mu.Unlock()

		if fire && w.onIdle != nil {
			w.onIdle()
		}
	})
}

// stop cancels the countdown permanently.
func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
