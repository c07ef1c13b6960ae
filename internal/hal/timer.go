package hal

import (
	"fmt"
	"sync"
	"time"
)

// tickTimer runs a TickHandler from a single goroutine, so handler
// invocations never overlap.
type tickTimer struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (t *tickTimer) start(hz int, handler TickHandler) error {
	if hz <= 0 {
		return fmt.Errorf("invalid tick rate %d", hz)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := time.NewTicker(time.Second / time.Duration(hz))

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				handler()
			}
		}
	}()

	t.stop, t.done = stop, done
	return nil
}

func (t *tickTimer) halt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *tickTimer) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// softWatchdog fires onFire every period until reset or disarmed.
type softWatchdog struct {
	mu     sync.Mutex
	timer  *time.Timer
	period time.Duration
}

func (w *softWatchdog) arm(period time.Duration, onFire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.period = period

	var t *time.Timer
	t = time.AfterFunc(period, func() {
		onFire()
		w.mu.Lock()
		if w.timer == t {
			t.Reset(period)
		}
		w.mu.Unlock()
	})
	w.timer = t
}

func (w *softWatchdog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.period)
	}
}

func (w *softWatchdog) disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
