package balance

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/internal/hal"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
	"github.com/thatsimonsguy/cell-balancer/internal/pulse"
	"github.com/thatsimonsguy/cell-balancer/internal/thermal"
)

const (
	// ActiveIterations is the length of one Active window in outer iterations.
	ActiveIterations = 50
	// CooldownIterations is the lockout after an Active window ends.
	CooldownIterations = 150
)

// Hardware is the slice of the HAL the state machine drives.
type Hardware interface {
	hal.LoadSwitch
	StartTimer(hz int, handler hal.TickHandler) error
	StopTimer()
	TimerRunning() bool
}

type Config struct {
	TickHz        int
	SafetyCutoffC int
	SetPointC     int
}

type Inputs struct {
	SettingsChanged   bool
	WatchdogTriggered bool
	InternalTempC     int16
	// Eligible is the external decision that this cell should bypass now.
	Eligible bool
}

// Outcome describes what one Step did.
type Outcome struct {
	Entered         bool
	Override        bool
	EnteredCooldown bool
	ReturnedIdle    bool

	// Stopped is set when a stop trigger ended an Active window or a
	// Cooldown. StopReason says which trigger.
	Stopped    bool
	StopReason model.StopReason
}

type Snapshot struct {
	State     model.BalanceState
	InBypass  bool
	Countdown uint16
	Cooldown  uint16
	Duty      uint8
}

// Machine is stepped once per outer iteration and is the only code that
// starts or stops the tick timer.
type Machine struct {
	cfg Config
	hw  Hardware
	gen *pulse.Generator
	reg *thermal.Regulator

	state     model.BalanceState
	inBypass  bool
	countdown uint16
	cooldown  uint16
}

func New(cfg Config, hw Hardware, gen *pulse.Generator, reg *thermal.Regulator) *Machine {
	return &Machine{
		cfg:   cfg,
		hw:    hw,
		gen:   gen,
		reg:   reg,
		state: model.StateIdle,
	}
}

// SetSetPoint changes the regulation target. Settings only change through a
// settings stop, so this is called while Idle.
func (m *Machine) SetSetPoint(c int) {
	m.cfg.SetPointC = c
}

func (m *Machine) SetPoint() int {
	return m.cfg.SetPointC
}

// Step evaluates one outer iteration. Stop triggers are checked first and end
// the iteration. The returned error is only set when the timer could not be
// started, in which case the machine is already back in Idle.
func (m *Machine) Step(in Inputs) (Outcome, error) {
	var out Outcome

	if reason, stop := m.stopTrigger(in); stop {
		if m.Stop(reason) {
			out.Stopped = true
			out.StopReason = reason
		}
		return out, nil
	}

	if m.state == model.StateIdle && in.Eligible && int(in.InternalTempC) < m.cfg.SafetyCutoffC {
		if err := m.enter(); err != nil {
			return out, err
		}
		out.Entered = true
		log.Info().
			Int16("temp_c", in.InternalTempC).
			Int("setpoint_c", m.cfg.SetPointC).
			Uint16("countdown", m.countdown).
			Msg("Bypass started")
	}

	switch m.state {
	case model.StateActive:
		res := m.reg.Regulate(m.cfg.SetPointC, in.InternalTempC)
		if res.ForceStop {
			m.Stop(model.StopRegulatorFault)
			out.Stopped = true
			out.StopReason = model.StopRegulatorFault
			return out, nil
		}
		m.gen.SetDuty(res.Duty)
		out.Override = res.Override

		m.countdown--
		if m.countdown == 0 {
			m.halt()
			m.state = model.StateCooldown
			m.cooldown = CooldownIterations
			out.EnteredCooldown = true
			log.Info().
				Int16("temp_c", in.InternalTempC).
				Uint16("cooldown", m.cooldown).
				Msg("Bypass window elapsed, cooling down")
		}

	case model.StateCooldown:
		m.cooldown--
		if m.cooldown == 0 {
			m.state = model.StateIdle
			out.ReturnedIdle = true
			log.Info().Msg("Cooldown finished")
		}
	}

	return out, nil
}

func (m *Machine) stopTrigger(in Inputs) (model.StopReason, bool) {
	switch {
	case in.SettingsChanged:
		return model.StopSettingsChanged, true
	case in.WatchdogTriggered:
		return model.StopWatchdog, true
	}
	return thermal.CheckLimits(in.InternalTempC, m.cfg.SetPointC, m.cfg.SafetyCutoffC)
}

func (m *Machine) enter() error {
	m.gen.Reset()
	m.inBypass = true
	m.countdown = ActiveIterations
	m.cooldown = 0
	m.state = model.StateActive

	if err := m.hw.StartTimer(m.cfg.TickHz, m.tick); err != nil {
		m.Stop(model.StopShutdown)
		return fmt.Errorf("start bypass timer: %w", err)
	}
	return nil
}

func (m *Machine) tick() {
	m.gen.Tick(m.hw)
}

// Stop forces the machine to Idle: timer stopped, load off, duty and the
// partial pulse window zeroed, controller cleared. The actions always run. It
// reports whether an Active window or a Cooldown was cut short.
func (m *Machine) Stop(reason model.StopReason) bool {
	wasRunning := m.state != model.StateIdle

	m.halt()
	m.cooldown = 0
	m.state = model.StateIdle

	if wasRunning {
		log.Warn().
			Str("reason", string(reason)).
			Int("setpoint_c", m.cfg.SetPointC).
			Msg("Bypass stopped")
	}
	return wasRunning
}

func (m *Machine) halt() {
	m.hw.StopTimer()
	m.hw.LoadOff()
	m.gen.Reset()
	m.reg.Clear()
	m.inBypass = false
	m.countdown = 0
}

// ClearRegulator drops the controller state without touching the bypass.
func (m *Machine) ClearRegulator() {
	m.reg.Clear()
}

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:     m.state,
		InBypass:  m.inBypass,
		Countdown: m.countdown,
		Cooldown:  m.cooldown,
		Duty:      m.gen.Duty(),
	}
}

// Idle reports whether the machine is Idle with no cooldown pending.
func (m *Machine) Idle() bool {
	return m.state == model.StateIdle && m.cooldown == 0
}
