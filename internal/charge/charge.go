package charge

import (
	"math"
	"sync/atomic"

	"github.com/thatsimonsguy/cell-balancer/internal/pulse"
)

// Integrator is owned by the outer loop. Total may be read from any goroutine.
type Integrator struct {
	resistanceOhms float64
	totalBits      atomic.Uint32
}

func NewIntegrator(loadResistanceOhms float64) *Integrator {
	return &Integrator{resistanceOhms: loadResistanceOhms}
}

// Integrate adds the charge drawn during onTicks ticks of load at cellMV. The
// voltage is the most recent sample, taken before the windows being added
// closed. It returns the delta in mAh.
func (i *Integrator) Integrate(onTicks uint32, cellMV uint16) float32 {
	if onTicks == 0 || i.resistanceOhms <= 0 {
		return 0
	}
	currentMA := float64(cellMV) / i.resistanceOhms
	delta := float32(currentMA * (float64(onTicks) / float64(pulse.WindowTicks)) * (1.0 / 3600.0))

	i.store(i.Total() + delta)
	return delta
}

func (i *Integrator) Total() float32 {
	return math.Float32frombits(i.totalBits.Load())
}

// Reset zeroes the accumulated total. Only the explicit charge reset request
// calls it.
func (i *Integrator) Reset() {
	i.store(0)
}

func (i *Integrator) store(v float32) {
	i.totalBits.Store(math.Float32bits(v))
}
