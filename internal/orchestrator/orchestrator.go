package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/balance"
	"github.com/thatsimonsguy/cell-balancer/internal/bypass"
	"github.com/thatsimonsguy/cell-balancer/internal/charge"
	"github.com/thatsimonsguy/cell-balancer/internal/command"
	"github.com/thatsimonsguy/cell-balancer/internal/config"
	"github.com/thatsimonsguy/cell-balancer/internal/datadog"
	"github.com/thatsimonsguy/cell-balancer/internal/hal"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
	"github.com/thatsimonsguy/cell-balancer/internal/mqtt"
	"github.com/thatsimonsguy/cell-balancer/internal/notifications"
	"github.com/thatsimonsguy/cell-balancer/internal/pid"
	"github.com/thatsimonsguy/cell-balancer/internal/power"
	"github.com/thatsimonsguy/cell-balancer/internal/pulse"
	"github.com/thatsimonsguy/cell-balancer/internal/sensor"
	"github.com/thatsimonsguy/cell-balancer/internal/serial"
	"github.com/thatsimonsguy/cell-balancer/internal/supervisor"
	"github.com/thatsimonsguy/cell-balancer/internal/thermal"
)

const (
	powerOnFlashes     = 4
	powerOnFlashPeriod = 150 * time.Millisecond
	doubleTapFlashes   = 2
	doubleTapPeriod    = 50 * time.Millisecond
)

// Link is the serial bus as the loop sees it.
type Link interface {
	Pending() bool
	Poll(ctx context.Context, iterations int, interval time.Duration, handler serial.FrameHandler) int
}

type SessionStore interface {
	RecordBalanceSession(s model.BalanceSession) error
}

type sqlSessions struct {
	db *sql.DB
}

func NewSQLSessions(conn *sql.DB) SessionStore {
	return sqlSessions{db: conn}
}

func (s sqlSessions) RecordBalanceSession(session model.BalanceSession) error {
	return db.RecordBalanceSession(s.db, session)
}

// Deps are the collaborators the loop talks to. Link, Sessions and
// Notifier may be nil.
type Deps struct {
	HAL        hal.HAL
	Commands   *command.Channel
	Supervisor *supervisor.Supervisor
	Link       Link
	Publisher  mqtt.Publisher
	Sessions   SessionStore
	Notifier   notifications.Notifier
}

type session struct {
	open        bool
	startedAt   time.Time
	startCharge float32
	peakTempC   int16
}

type Orchestrator struct {
	cfg  *config.Config
	deps Deps
	hw   hal.HAL

	gen     *pulse.Generator
	charge  *charge.Integrator
	pid     *pid.Controller
	machine *balance.Machine
	sampler *sensor.Sampler
	power   *power.Scheduler

	cell model.CellConfig

	internalTempC int16
	externalTempC int16
	cellMV        uint16

	iteration uint64
	session   session

	now func() time.Time
}

func New(cfg *config.Config, deps Deps, cell model.CellConfig) *Orchestrator {
	if deps.Publisher == nil {
		deps.Publisher = mqtt.Discard{}
	}

	gen := pulse.New()
	controller := pid.New(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.PID.Hz)
	machine := balance.New(balance.Config{
		TickHz:        cfg.Module.TickHz,
		SafetyCutoffC: cfg.Module.SafetyCutoffC,
		SetPointC:     cell.BypassTemperatureSetPoint,
	}, deps.HAL, gen, thermal.NewRegulator(controller))

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		hw:      deps.HAL,
		gen:     gen,
		charge:  charge.NewIntegrator(cfg.Module.LoadResistanceOhms),
		pid:     controller,
		machine: machine,
		sampler: sensor.NewSampler(deps.HAL, sensor.Config{
			Settle:    time.Duration(cfg.ADC.SettleMs) * time.Millisecond,
			MVPerCode: cfg.ADC.MVPerCode,
		}),
		power: power.New(deps.HAL, time.Duration(cfg.Module.MaxSleepMs)*time.Millisecond),
		cell:  cell,
		now:   time.Now,
	}
}

// LoadCellConfig reads the persisted cell configuration, substituting
// defaults when it is missing or corrupt, and clamps it. Each clamp or load
// failure is counted as a configuration fault.
func LoadCellConfig(conn *sql.DB, safetyCutoffC int, sup *supervisor.Supervisor) model.CellConfig {
	cell, err := db.LoadCellConfig(conn)
	if err != nil {
		if !errors.Is(err, db.ErrNoCellConfig) {
			sup.RecordFault(model.FaultConfiguration)
		}
		log.Warn().Err(err).Msg("Using default cell configuration")
		cell = model.DefaultCellConfig()
	}

	if clamped := cell.Validate(safetyCutoffC); len(clamped) > 0 {
		n := sup.RecordFault(model.FaultConfiguration)
		log.Warn().
			Strs("fields", clamped).
			Uint32("configuration_faults", n).
			Msg("Clamped persisted cell configuration")
	}
	return cell
}

// Start prepares the hardware, announces the start and arms the watchdog.
func (o *Orchestrator) Start() error {
	if err := o.hw.ConfigurePorts(); err != nil {
		return err
	}
	o.machine.Stop(model.StopShutdown)

	if err := o.pid.ConfigError(); err != nil {
		n := o.deps.Supervisor.RecordFault(model.FaultConfiguration)
		log.Error().Err(err).Uint32("configuration_faults", n).Msg("Regulator misconfigured, bypass will stop on entry")
	}

	o.publishEvent(mqtt.EventStartup, "")
	switch o.deps.Supervisor.ResetCause() {
	case model.ResetWatchdog:
		o.flash(doubleTapFlashes, doubleTapPeriod)
		o.publishEvent(mqtt.EventWatchdogReset, "")
	default:
		o.flash(powerOnFlashes, powerOnFlashPeriod)
		o.publishEvent(mqtt.EventPowerOn, "")
	}

	o.hw.ArmWatchdog(time.Duration(o.cfg.Module.WatchdogSeconds)*time.Second, o.onWatchdogFire)

	log.Info().
		Str("reset_cause", string(o.deps.Supervisor.ResetCause())).
		Int("setpoint_c", o.cell.BypassTemperatureSetPoint).
		Uint16("threshold_mv", o.cell.BypassThresholdMV).
		Float64("calibration", o.cell.Calibration).
		Msg("Cell module started")
	return nil
}

func (o *Orchestrator) onWatchdogFire() {
	o.deps.Supervisor.OnWatchdogFire()
	datadog.Count("faults.count", 1, "kind:"+string(model.FaultWatchdog))
	o.deps.Commands.Notify()
}

// Run starts the module and iterates until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(); err != nil {
		return err
	}
	for ctx.Err() == nil {
		o.RunOnce(ctx)
		o.wait(ctx, time.Duration(o.cfg.Module.LoopIntervalMs)*time.Millisecond)
	}
	return nil
}

// RunOnce performs one outer iteration.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	o.hw.ResetWatchdog()

	if active, finished := o.deps.Commands.TakeIdentifyTick(); active {
		o.hw.LedOn()
		if finished {
			o.hw.LedOff()
		}
	}

	if o.deps.Commands.TakeChargeReset() {
		log.Info().Float32("charge_mah", o.charge.Total()).Msg("Charge counter reset")
		o.charge.Reset()
	}

	cell, settingsChanged := o.deps.Commands.TakeSettingsChanged()
	if settingsChanged {
		o.stop(model.StopSettingsChanged)
		o.cell = cell
		o.machine.SetSetPoint(cell.BypassTemperatureSetPoint)
	}

	watchdogTriggered := o.deps.Supervisor.ConsumeTriggered()
	if watchdogTriggered {
		o.flash(doubleTapFlashes, doubleTapPeriod)
		o.stop(model.StopWatchdog)
		o.publishEvent(mqtt.EventWatchdogFired, "")
	}

	o.sample()

	if !watchdogTriggered || o.rxPending() {
		o.poll(ctx)
	}

	out, err := o.machine.Step(balance.Inputs{
		SettingsChanged:   settingsChanged,
		WatchdogTriggered: watchdogTriggered,
		InternalTempC:     o.internalTempC,
		Eligible:          bypass.Eligible(o.cellMV, o.cell.BypassThresholdMV),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to start bypass")
	}
	o.handleOutcome(out)

	if onTicks := o.gen.TakeCompletedOnTicks(); onTicks > 0 {
		o.charge.Integrate(onTicks, o.cellMV)
	}

	o.iteration++
	o.report()

	o.power.MaybeSleep(ctx, o.machine.Idle(), o.rxPending(), o.deps.Commands.Wake(), o.machine.ClearRegulator)
}

func (o *Orchestrator) sample() {
	full := o.machine.Snapshot().Countdown == 0
	reading, err := o.sampler.Sample(full, o.cell.Calibration)
	if err != nil {
		// Without a trustworthy temperature the bypass has to stop.
		log.Error().Err(err).Msg("Sensor read failed, forcing thermal stop")
		o.internalTempC = int16(o.cfg.Module.SafetyCutoffC)
		return
	}

	o.internalTempC = reading.InternalTempC
	if reading.Full {
		o.externalTempC = reading.ExternalTempC
		o.cellMV = reading.CellMV
	}
}

func (o *Orchestrator) rxPending() bool {
	return o.deps.Link != nil && o.deps.Link.Pending()
}

func (o *Orchestrator) poll(ctx context.Context) {
	interval := time.Duration(o.cfg.Module.PollIntervalMs) * time.Millisecond
	if o.deps.Link == nil {
		o.wait(ctx, time.Duration(o.cfg.Module.PollIterations)*interval)
		return
	}
	o.deps.Link.Poll(ctx, o.cfg.Module.PollIterations, interval, o.deps.Commands.Handle)
}

func (o *Orchestrator) handleOutcome(out balance.Outcome) {
	snap := o.machine.Snapshot()

	if out.Entered {
		o.session = session{
			open:        true,
			startedAt:   o.now(),
			startCharge: o.charge.Total(),
			peakTempC:   o.internalTempC,
		}
	}
	if o.session.open && o.internalTempC > o.session.peakTempC {
		o.session.peakTempC = o.internalTempC
	}

	if out.Override {
		log.Debug().
			Int16("temp_c", o.internalTempC).
			Int("setpoint_c", o.cell.BypassTemperatureSetPoint).
			Msg("Far below setpoint, full duty")
	}

	switch {
	case out.Stopped:
		o.onStopped(out.StopReason)
	case out.EnteredCooldown:
		o.closeSession(model.StopCountdown)
	}

	if snap.State == model.StateActive {
		log.Debug().
			Int16("temp_c", o.internalTempC).
			Uint8("duty", snap.Duty).
			Uint16("countdown", snap.Countdown).
			Msg("Regulating")
	}
}

// Stop ends any running bypass window, as used at shutdown.
func (o *Orchestrator) Stop(reason model.StopReason) {
	o.stop(reason)
}

func (o *Orchestrator) stop(reason model.StopReason) {
	if o.machine.Stop(reason) {
		o.onStopped(reason)
	}
}

func (o *Orchestrator) onStopped(reason model.StopReason) {
	switch reason {
	case model.StopSafetyCutoff, model.StopOverSetpoint:
		o.recordFault(model.FaultThermal)
		o.publishEvent(mqtt.EventThermalStop, string(reason))
	case model.StopRegulatorFault:
		o.recordFault(model.FaultRegulator)
		o.publishEvent(mqtt.EventRegulatorFault, "")
	}
	o.closeSession(reason)
}

func (o *Orchestrator) recordFault(kind model.FaultKind) {
	n := o.deps.Supervisor.RecordFault(kind)
	datadog.Count("faults.count", 1, "kind:"+string(kind))
	log.Warn().Str("kind", string(kind)).Uint32("count", n).Msg("Fault recorded")
}

func (o *Orchestrator) closeSession(reason model.StopReason) {
	if !o.session.open {
		return
	}
	// Pulses from the closing window are accounted to this session.
	if onTicks := o.gen.TakeCompletedOnTicks(); onTicks > 0 {
		o.charge.Integrate(onTicks, o.cellMV)
	}

	s := model.BalanceSession{
		StartedAt: o.session.startedAt,
		EndedAt:   o.now(),
		Reason:    reason,
		ChargeMAh: o.charge.Total() - o.session.startCharge,
		PeakTempC: o.session.peakTempC,
	}
	o.session = session{}

	if s.ChargeMAh < 0 {
		s.ChargeMAh = 0
	}
	if o.deps.Sessions == nil {
		return
	}
	if err := o.deps.Sessions.RecordBalanceSession(s); err != nil {
		log.Error().Err(err).Msg("Failed to record balance session")
	}
}

func (o *Orchestrator) flash(times int, period time.Duration) {
	for i := 0; i < times; i++ {
		o.hw.LedOn()
		o.hw.Delay(period)
		o.hw.LedOff()
		o.hw.Delay(period)
	}
}

func (o *Orchestrator) publishEvent(name, reason string) {
	event := mqtt.Event{Timestamp: o.now(), Name: name, Reason: reason}
	if err := o.deps.Publisher.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("Failed to publish event")
	}

	if o.deps.Notifier == nil {
		return
	}
	switch name {
	case mqtt.EventThermalStop, mqtt.EventRegulatorFault, mqtt.EventWatchdogFired, mqtt.EventWatchdogReset:
		o.deps.Notifier.Alert(name, reason)
	}
}

// Status is the externally visible view after the last iteration.
func (o *Orchestrator) Status() model.Status {
	snap := o.machine.Snapshot()
	faults := o.deps.Supervisor.Counts()
	return model.Status{
		State:             snap.State,
		InBypass:          snap.InBypass,
		Duty:              snap.Duty,
		BypassCountdown:   snap.Countdown,
		CooldownRemaining: snap.Cooldown,
		ChargeMAh:         o.charge.Total(),
		InternalTempC:     o.internalTempC,
		ExternalTempC:     o.externalTempC,
		CellVoltageMV:     o.cellMV,
		WatchdogFaults:    faults[model.FaultWatchdog],
		Faults:            faults,
		Config:            o.cell,
		Iteration:         o.iteration,
		UpdatedAt:         o.now(),
	}
}

func (o *Orchestrator) report() {
	status := o.Status()
	o.deps.Commands.Publish(status)

	datadog.Gauge("cell.temperature.internal", float64(status.InternalTempC))
	datadog.Gauge("cell.temperature.external", float64(status.ExternalTempC))
	datadog.Gauge("cell.voltage_mv", float64(status.CellVoltageMV))
	datadog.Gauge("balance.duty", float64(status.Duty))
	datadog.Gauge("balance.charge_mah", float64(status.ChargeMAh))
	datadog.Gauge("balance.state", stateValue(status.State))

	every := uint64(o.cfg.Module.StatusEvery)
	if every > 0 && o.iteration%every == 0 {
		if err := o.deps.Publisher.PublishStatus(status); err != nil {
			log.Warn().Err(err).Msg("Failed to publish status")
		}
	}
}

func stateValue(s model.BalanceState) float64 {
	switch s {
	case model.StateActive:
		return 1
	case model.StateCooldown:
		return 2
	default:
		return 0
	}
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
