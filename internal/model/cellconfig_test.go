package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Calibration(t *testing.T) {
	tests := []struct {
		name     string
		in       float64
		expected float64
		clamped  bool
	}{
		{"in range", 2.5, 2.5, false},
		{"lower bound", 0.8, 0.8, false},
		{"upper bound", 10.0, 10.0, false},
		{"too small", 0.5, 1.0, true},
		{"too large", 15.0, 1.0, true},
		{"zero from blank storage", 0, 1.0, true},
		{"not a number", math.NaN(), 1.0, true},
		{"positive infinity", math.Inf(1), 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCellConfig()
			cfg.Calibration = tt.in

			clamped := cfg.Validate(85)

			assert.Equal(t, tt.expected, cfg.Calibration)
			assert.Equal(t, tt.clamped, contains(clamped, "calibration"))
		})
	}
}

func TestValidate_SetPointAlwaysWithinRange(t *testing.T) {
	const cutoff = 85

	for setpoint := -40; setpoint <= 150; setpoint++ {
		cfg := DefaultCellConfig()
		cfg.BypassTemperatureSetPoint = setpoint

		cfg.Validate(cutoff)

		assert.GreaterOrEqual(t, cfg.BypassTemperatureSetPoint, MinBypassTemperatureSetPoint, "setpoint %d", setpoint)
		assert.LessOrEqual(t, cfg.BypassTemperatureSetPoint, cutoff-SetPointMargin, "setpoint %d", setpoint)

		if setpoint >= MinBypassTemperatureSetPoint && setpoint <= cutoff-SetPointMargin {
			assert.Equal(t, setpoint, cfg.BypassTemperatureSetPoint, "in-range setpoint %d must not move", setpoint)
		}
	}
}

func TestValidate_DefaultsUntouched(t *testing.T) {
	cfg := DefaultCellConfig()
	assert.Empty(t, cfg.Validate(85))
	assert.Equal(t, DefaultCellConfig(), cfg)
}

func contains(list []string, val string) bool {
	for _, s := range list {
		if s == val {
			return true
		}
	}
	return false
}
