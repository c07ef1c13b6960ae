package model

import "time"

type BalanceState string

const (
	StateIdle     BalanceState = "idle"
	StateActive   BalanceState = "active"
	StateCooldown BalanceState = "cooldown"
)

type StopReason string

const (
	StopSettingsChanged StopReason = "settings_changed"
	StopWatchdog        StopReason = "watchdog"
	StopSafetyCutoff    StopReason = "safety_cutoff"
	StopOverSetpoint    StopReason = "over_setpoint"
	StopRegulatorFault  StopReason = "regulator_fault"
	StopCountdown       StopReason = "countdown_elapsed"
	StopShutdown        StopReason = "shutdown"
)

type FaultKind string

const (
	FaultConfiguration FaultKind = "configuration"
	FaultThermal       FaultKind = "thermal"
	FaultRegulator     FaultKind = "regulator"
	FaultWatchdog      FaultKind = "watchdog"
)

var FaultKinds = []FaultKind{FaultConfiguration, FaultThermal, FaultRegulator, FaultWatchdog}

type ResetCause string

const (
	ResetPowerOn  ResetCause = "power_on"
	ResetWatchdog ResetCause = "watchdog"
)

// Status is the externally visible view of the module, refreshed once per
// outer iteration.
type Status struct {
	State             BalanceState         `json:"state"`
	InBypass          bool                 `json:"in_bypass"`
	Duty              uint8                `json:"duty"`
	BypassCountdown   uint16               `json:"bypass_countdown"`
	CooldownRemaining uint16               `json:"cooldown_remaining"`
	ChargeMAh         float32              `json:"charge_mah"`
	InternalTempC     int16                `json:"internal_temp_c"`
	ExternalTempC     int16                `json:"external_temp_c"`
	CellVoltageMV     uint16               `json:"cell_voltage_mv"`
	WatchdogFaults    uint32               `json:"watchdog_faults"`
	Faults            map[FaultKind]uint32 `json:"faults"`
	Config            CellConfig           `json:"config"`
	Iteration         uint64               `json:"iteration"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

type RunMarker struct {
	Running   bool
	StartedAt time.Time
	ExitedAt  time.Time
}

// BalanceSession is one Active window, from entry to the stop that ended it.
type BalanceSession struct {
	StartedAt time.Time
	EndedAt   time.Time
	Reason    StopReason
	ChargeMAh float32
	PeakTempC int16
}
