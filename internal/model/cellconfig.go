package model

const (
	DefaultCalibration               = 1.0
	DefaultBypassTemperatureSetPoint = 65
	DefaultBypassThresholdMV         = 4100

	MinCalibration               = 0.8
	MaxCalibration               = 10.0
	MinBypassTemperatureSetPoint = 10
	// SetPointMargin keeps the regulation target this far under the safety cutoff.
	SetPointMargin = 10
)

// CellConfig is the per-module configuration persisted in non-volatile storage.
type CellConfig struct {
	Calibration               float64 `json:"calibration"`
	BypassTemperatureSetPoint int     `json:"bypass_temperature_setpoint"`
	BypassThresholdMV         uint16  `json:"bypass_threshold_mv"`
}

func DefaultCellConfig() CellConfig {
	return CellConfig{
		Calibration:               DefaultCalibration,
		BypassTemperatureSetPoint: DefaultBypassTemperatureSetPoint,
		BypassThresholdMV:         DefaultBypassThresholdMV,
	}
}

// Validate clamps out-of-range values in place and returns the names of the
// fields it had to change. An out-of-range value is never an error.
func (c *CellConfig) Validate(safetyCutoffC int) []string {
	var clamped []string

	// Written as a negated range check so NaN is clamped too.
	if !(c.Calibration >= MinCalibration && c.Calibration <= MaxCalibration) {
		c.Calibration = DefaultCalibration
		clamped = append(clamped, "calibration")
	}

	maxSetPoint := safetyCutoffC - SetPointMargin
	if c.BypassTemperatureSetPoint > maxSetPoint {
		c.BypassTemperatureSetPoint = maxSetPoint
		clamped = append(clamped, "bypass_temperature_setpoint")
	} else if c.BypassTemperatureSetPoint < MinBypassTemperatureSetPoint {
		c.BypassTemperatureSetPoint = MinBypassTemperatureSetPoint
		clamped = append(clamped, "bypass_temperature_setpoint")
	}

	return clamped
}
