// Package command is the mailbox between the adapters that talk to the
// outside world (serial bus, MQTT, HTTP) and the control loop. Adapters run
// on their own goroutines; the loop takes what arrived once per iteration.
package command

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

type ConfigStore interface {
	SaveCellConfig(c model.CellConfig) error
}

type sqlStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) ConfigStore {
	return &sqlStore{db: conn}
}

func (s *sqlStore) SaveCellConfig(c model.CellConfig) error {
	return db.SaveCellConfig(s.db, c)
}

type Channel struct {
	store         ConfigStore
	safetyCutoffC int

	mu              sync.Mutex
	config          model.CellConfig
	settingsChanged bool
	identify        uint8
	chargeReset     bool
	status          model.Status

	wake chan struct{}
}

func New(store ConfigStore, safetyCutoffC int, current model.CellConfig) *Channel {
	return &Channel{
		store:         store,
		safetyCutoffC: safetyCutoffC,
		config:        current,
		wake:          make(chan struct{}, 1),
	}
}

// Wake is signalled whenever something arrives for the loop.
func (c *Channel) Wake() <-chan struct{} {
	return c.wake
}

// Notify signals Wake without queueing anything.
func (c *Channel) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RequestIdentify asks for the LED to be held on for n iterations. A new
// request replaces one still running.
func (c *Channel) RequestIdentify(n uint8) {
	c.mu.Lock()
	c.identify = n
	c.mu.Unlock()
	log.Info().Uint8("iterations", n).Msg("Identify requested")
	c.Notify()
}

// TakeIdentifyTick consumes one iteration of a pending identify request.
// active is false when there is nothing to show; finished is set on the
// iteration that used up the request.
func (c *Channel) TakeIdentifyTick() (active, finished bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identify == 0 {
		return false, false
	}
	c.identify--
	return true, c.identify == 0
}

// ApplySettings validates, persists and publishes a new cell configuration.
// It returns the fields that had to be clamped.
func (c *Channel) ApplySettings(cfg model.CellConfig) ([]string, error) {
	clamped := cfg.Validate(c.safetyCutoffC)
	if len(clamped) > 0 {
		log.Warn().Strs("fields", clamped).Msg("Clamped incoming cell settings")
	}

	if err := c.store.SaveCellConfig(cfg); err != nil {
		return clamped, fmt.Errorf("persist cell settings: %w", err)
	}

	c.mu.Lock()
	c.config = cfg
	c.settingsChanged = true
	c.mu.Unlock()

	log.Info().
		Float64("calibration", cfg.Calibration).
		Int("setpoint_c", cfg.BypassTemperatureSetPoint).
		Uint16("threshold_mv", cfg.BypassThresholdMV).
		Msg("Cell settings updated")
	c.Notify()
	return clamped, nil
}

// Settings returns the most recently applied configuration.
func (c *Channel) Settings() model.CellConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// TakeSettingsChanged reads and clears the settings-changed flag, returning
// the configuration to switch to when it was set.
func (c *Channel) TakeSettingsChanged() (model.CellConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.settingsChanged
	c.settingsChanged = false
	return c.config, changed
}

func (c *Channel) RequestChargeReset() {
	c.mu.Lock()
	c.chargeReset = true
	c.mu.Unlock()
	log.Info().Msg("Charge counter reset requested")
	c.Notify()
}

func (c *Channel) TakeChargeReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	reset := c.chargeReset
	c.chargeReset = false
	return reset
}

// Publish stores the loop's latest view for readers.
func (c *Channel) Publish(s model.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Channel) Status() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	if s.Faults != nil {
		faults := make(map[model.FaultKind]uint32, len(s.Faults))
		for k, v := range s.Faults {
			faults[k] = v
		}
		s.Faults = faults
	}
	return s
}
