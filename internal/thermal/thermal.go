package thermal

import (
	"github.com/thatsimonsguy/cell-balancer/internal/model"
	"github.com/thatsimonsguy/cell-balancer/internal/pulse"
)

const (
	// OvershootMargin is how far under the setpoint the regulator stops
	// regulating and runs the load flat out.
	OvershootMargin = 6
	// SetPointOverrun is how far over the setpoint the bypass is stopped.
	SetPointOverrun = 10
)

// Stepper is the feedback controller the regulator wraps.
type Stepper interface {
	Step(setpoint, feedback float64) uint8
	Clear()
	Err() bool
}

type Result struct {
	Duty uint8
	// Override is set when the duty was forced full on without a controller step.
	Override bool
	// ForceStop is set when the controller faulted. Duty is zero.
	ForceStop bool
}

type Regulator struct {
	pid Stepper
}

func NewRegulator(pid Stepper) *Regulator {
	return &Regulator{pid: pid}
}

// Regulate runs one control period. It never clears the controller itself;
// on ForceStop the caller clears it as part of the stop.
func (r *Regulator) Regulate(setpointC int, tempC int16) Result {
	if int(tempC) < setpointC-OvershootMargin {
		return Result{Duty: pulse.DutyFull, Override: true}
	}

	duty := r.pid.Step(float64(setpointC), float64(tempC))
	if r.pid.Err() {
		return Result{ForceStop: true}
	}
	return Result{Duty: duty}
}

func (r *Regulator) Clear() {
	r.pid.Clear()
}

// CheckLimits reports whether tempC forces a stop, and why. Reaching the
// absolute cutoff wins over the setpoint overrun.
func CheckLimits(tempC int16, setpointC, cutoffC int) (model.StopReason, bool) {
	switch {
	case int(tempC) >= cutoffC:
		return model.StopSafetyCutoff, true
	case int(tempC) > setpointC+SetPointOverrun:
		return model.StopOverSetpoint, true
	default:
		return "", false
	}
}
