// Package supervisor tracks faults and the loop watchdog. The watchdog fire
// handler runs on its own goroutine; everything it touches is atomic or
// behind the fault mutex.
package supervisor

import (
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// FaultStore persists fault counters across restarts.
type FaultStore interface {
	IncrementFaultCount(kind model.FaultKind) (uint32, error)
	FaultCounts() (map[model.FaultKind]uint32, error)
}

type sqlStore struct {
	conn *sql.DB
}

func NewSQLStore(conn *sql.DB) FaultStore {
	return sqlStore{conn: conn}
}

func (s sqlStore) IncrementFaultCount(kind model.FaultKind) (uint32, error) {
	return db.IncrementFaultCount(s.conn, kind)
}

func (s sqlStore) FaultCounts() (map[model.FaultKind]uint32, error) {
	return db.GetFaultCounts(s.conn)
}

type Supervisor struct {
	store FaultStore

	triggered atomic.Bool

	mu     sync.Mutex
	counts map[model.FaultKind]uint32

	resetCause model.ResetCause
}

func New(store FaultStore) *Supervisor {
	counts := make(map[model.FaultKind]uint32, len(model.FaultKinds))
	for _, k := range model.FaultKinds {
		counts[k] = 0
	}
	return &Supervisor{store: store, counts: counts, resetCause: model.ResetPowerOn}
}

// Boot loads the durable counters and classifies the start. A previous run
// that never exited cleanly is an uncommanded reset: it is counted as a
// watchdog fault.
func (s *Supervisor) Boot(previous model.RunMarker) model.ResetCause {
	if stored, err := s.store.FaultCounts(); err != nil {
		log.Error().Err(err).Msg("Failed to load fault counters, starting from zero")
	} else {
		s.mu.Lock()
		for k, v := range stored {
			s.counts[k] = v
		}
		s.mu.Unlock()
	}

	if previous.Running {
		s.resetCause = model.ResetWatchdog
		n := s.RecordFault(model.FaultWatchdog)
		log.Warn().
			Time("previous_start", previous.StartedAt).
			Uint32("watchdog_faults", n).
			Msg("Previous run did not exit cleanly, treating start as a watchdog reset")
	} else {
		s.resetCause = model.ResetPowerOn
	}
	return s.resetCause
}

func (s *Supervisor) ResetCause() model.ResetCause {
	return s.resetCause
}

// OnWatchdogFire is the watchdog callback. Every fire is counted, even when
// the loop has not yet acted on the previous one.
func (s *Supervisor) OnWatchdogFire() {
	s.triggered.Store(true)
	n := s.RecordFault(model.FaultWatchdog)
	log.Error().Uint32("watchdog_faults", n).Msg("Loop watchdog fired")
}

// ConsumeTriggered reports whether the watchdog fired since the last call and
// clears the flag.
func (s *Supervisor) ConsumeTriggered() bool {
	return s.triggered.Swap(false)
}

func (s *Supervisor) Triggered() bool {
	return s.triggered.Load()
}

// RecordFault counts one fault of kind and returns the new count. The
// in-memory count always advances; a persistence failure is logged.
func (s *Supervisor) RecordFault(kind model.FaultKind) uint32 {
	s.mu.Lock()
	s.counts[kind]++
	n := s.counts[kind]
	s.mu.Unlock()

	if stored, err := s.store.IncrementFaultCount(kind); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to persist fault counter")
	} else if stored > n {
		s.mu.Lock()
		if stored > s.counts[kind] {
			s.counts[kind] = stored
		}
		n = s.counts[kind]
		s.mu.Unlock()
	}
	return n
}

func (s *Supervisor) Count(kind model.FaultKind) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

func (s *Supervisor) Counts() map[model.FaultKind]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.FaultKind]uint32, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
