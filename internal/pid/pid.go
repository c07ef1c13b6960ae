package pid

import (
	"fmt"
	"math"
)

const (
	OutputMin = 0
	OutputMax = 255

	// integralLimit bounds the accumulated integral term.
	integralLimit = 4 * OutputMax
	maxGain       = 255
)

// Controller takes gains per second and scales them by the step rate once, at
// construction. It is not safe for concurrent use.
type Controller struct {
	kp, ki, kd float64

	integral float64
	lastFB   float64
	haveLast bool

	cfgErr error
	err    bool
}

// New builds a controller stepped hz times per second. An invalid
// configuration is not returned as an error; the controller reports it
// through Err and outputs zero, the way it reports divergence.
func New(kp, ki, kd, hz float64) *Controller {
	c := &Controller{}
	switch {
	case hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0):
		c.cfgErr = fmt.Errorf("invalid step rate %v", hz)
	case !validGain(kp) || !validGain(ki) || !validGain(kd):
		c.cfgErr = fmt.Errorf("gains out of range: kp=%v ki=%v kd=%v", kp, ki, kd)
	default:
		c.kp = kp
		c.ki = ki / hz
		c.kd = kd * hz
	}
	c.err = c.cfgErr != nil
	return c
}

func validGain(g float64) bool {
	return g >= 0 && g <= maxGain && !math.IsNaN(g)
}

// Step returns the output for one control period.
func (c *Controller) Step(setpoint, feedback float64) uint8 {
	if c.err {
		return OutputMin
	}

	e := setpoint - feedback

	p := c.kp * e

	c.integral += c.ki * e
	if c.integral > integralLimit {
		c.integral = integralLimit
	} else if c.integral < -integralLimit {
		c.integral = -integralLimit
	}

	d := 0.0
	if c.haveLast {
		d = -c.kd * (feedback - c.lastFB)
	}
	c.lastFB = feedback
	c.haveLast = true

	out := p + c.integral + d
	if math.IsNaN(out) || math.IsInf(out, 0) {
		c.err = true
		return OutputMin
	}

	switch {
	case out < OutputMin:
		return OutputMin
	case out > OutputMax:
		return OutputMax
	default:
		return uint8(math.Round(out))
	}
}

// Clear drops the accumulated state. A divergence fault is cleared with it;
// a configuration fault is not.
func (c *Controller) Clear() {
	c.integral = 0
	c.lastFB = 0
	c.haveLast = false
	c.err = c.cfgErr != nil
}

// Err reports whether the controller is faulted.
func (c *Controller) Err() bool {
	return c.err
}

// ConfigError returns the configuration fault, if any.
func (c *Controller) ConfigError() error {
	return c.cfgErr
}

// Integral exposes the accumulated integral term for status and tests.
func (c *Controller) Integral() float64 {
	return c.integral
}
