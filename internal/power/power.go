package power

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Sleeper interface {
	Sleep(ctx context.Context, wake <-chan struct{})
}

type Scheduler struct {
	hw       Sleeper
	maxSleep time.Duration
	now      func() time.Time
}

// New returns a scheduler whose suspensions never last longer than maxSleep.
// maxSleep must stay below the watchdog period, which keeps running while
// the module sleeps.
func New(hw Sleeper, maxSleep time.Duration) *Scheduler {
	return &Scheduler{hw: hw, maxSleep: maxSleep, now: time.Now}
}

// ShouldSleep is true only when no bypass window or cooldown is running and
// nothing is waiting on the bus.
func ShouldSleep(idle, rxPending bool) bool {
	return idle && !rxPending
}

// MaybeSleep suspends when ShouldSleep allows it. beforeSleep runs first. It
// reports whether it slept.
func (s *Scheduler) MaybeSleep(ctx context.Context, idle, rxPending bool, wake <-chan struct{}, beforeSleep func()) bool {
	if !ShouldSleep(idle, rxPending) {
		return false
	}
	if beforeSleep != nil {
		beforeSleep()
	}

	sleepCtx, cancel := context.WithTimeout(ctx, s.maxSleep)
	defer cancel()

	start := s.now()
	log.Debug().Dur("max", s.maxSleep).Msg("Suspending")
	s.hw.Sleep(sleepCtx, wake)
	log.Debug().Dur("slept", s.now().Sub(start)).Msg("Woke")
	return true
}
