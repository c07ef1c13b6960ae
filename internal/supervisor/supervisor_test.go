package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

type memStore struct {
	mu      sync.Mutex
	counts  map[model.FaultKind]uint32
	failInc bool
}

func newMemStore() *memStore {
	return &memStore{counts: map[model.FaultKind]uint32{}}
}

func (m *memStore) IncrementFaultCount(kind model.FaultKind) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInc {
		return 0, errors.New("disk full")
	}
	m.counts[kind]++
	return m.counts[kind], nil
}

func (m *memStore) FaultCounts() (map[model.FaultKind]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.FaultKind]uint32{}
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func TestBoot_PowerOn(t *testing.T) {
	s := New(newMemStore())

	cause := s.Boot(model.RunMarker{})

	assert.Equal(t, model.ResetPowerOn, cause)
	assert.Equal(t, model.ResetPowerOn, s.ResetCause())
	assert.Equal(t, uint32(0), s.Count(model.FaultWatchdog))
}

func TestBoot_UncleanPreviousRunIsWatchdogReset(t *testing.T) {
	store := newMemStore()
	store.counts[model.FaultWatchdog] = 4
	s := New(store)

	cause := s.Boot(model.RunMarker{Running: true, StartedAt: time.Now().Add(-time.Hour)})

	assert.Equal(t, model.ResetWatchdog, cause)
	assert.Equal(t, uint32(5), s.Count(model.FaultWatchdog), "durable count carries across restarts")
	assert.Equal(t, uint32(5), store.counts[model.FaultWatchdog])
	assert.False(t, s.Triggered(), "a reset is not a live fire")
}

func TestOnWatchdogFire(t *testing.T) {
	s := New(newMemStore())
	s.Boot(model.RunMarker{})

	s.OnWatchdogFire()

	assert.True(t, s.Triggered())
	assert.True(t, s.ConsumeTriggered())
	assert.False(t, s.ConsumeTriggered(), "flag clears once consumed")
	assert.Equal(t, uint32(1), s.Count(model.FaultWatchdog))
}

func TestOnWatchdogFire_ConsecutiveFiresEachCount(t *testing.T) {
	s := New(newMemStore())
	s.Boot(model.RunMarker{})

	s.OnWatchdogFire()
	s.OnWatchdogFire()

	assert.Equal(t, uint32(2), s.Count(model.FaultWatchdog))
	assert.True(t, s.ConsumeTriggered())
}

func TestOnWatchdogFire_Concurrent(t *testing.T) {
	s := New(newMemStore())
	s.Boot(model.RunMarker{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.OnWatchdogFire()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(20), s.Count(model.FaultWatchdog))
}

func TestRecordFault_PersistFailureStillCounts(t *testing.T) {
	store := newMemStore()
	store.failInc = true
	s := New(store)

	assert.Equal(t, uint32(1), s.RecordFault(model.FaultThermal))
	assert.Equal(t, uint32(2), s.RecordFault(model.FaultThermal))
}

func TestCounts_ReturnsCopy(t *testing.T) {
	s := New(newMemStore())
	s.RecordFault(model.FaultRegulator)

	counts := s.Counts()
	counts[model.FaultRegulator] = 99

	assert.Equal(t, uint32(1), s.Count(model.FaultRegulator))
	assert.Len(t, s.Counts(), len(model.FaultKinds))
}

func TestSQLStore(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	previous, err := db.MarkRunning(conn)
	require.NoError(t, err)

	s := New(NewSQLStore(conn))
	assert.Equal(t, model.ResetPowerOn, s.Boot(previous))
	s.OnWatchdogFire()

	// restart without a clean exit
	previous, err = db.MarkRunning(conn)
	require.NoError(t, err)
	s2 := New(NewSQLStore(conn))
	assert.Equal(t, model.ResetWatchdog, s2.Boot(previous))
	assert.Equal(t, uint32(2), s2.Count(model.FaultWatchdog))
}
