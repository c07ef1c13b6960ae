package charge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntegrate_FullWindow(t *testing.T) {
	in := NewIntegrator(4.4)

	// 4100 mV across 4.4 ohm is ~931.8 mA; 1000 on-ticks is one second.
	delta := in.Integrate(1000, 4100)

	expected := float32(4100.0 / 4.4 / 3600.0)
	assert.InDelta(t, expected, delta, 1e-6)
	assert.InDelta(t, expected, in.Total(), 1e-6)
}

func TestIntegrate_ScalesWithOnTicks(t *testing.T) {
	tests := []struct {
		name    string
		onTicks uint32
		cellMV  uint16
	}{
		{"half window", 500, 4000},
		{"single tick", 1, 3700},
		{"several windows", 2750, 4200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewIntegrator(4.4)
			delta := in.Integrate(tt.onTicks, tt.cellMV)

			expected := float64(tt.cellMV) / 4.4 * (float64(tt.onTicks) / 1000.0) / 3600.0
			assert.InDelta(t, expected, delta, 1e-6)
		})
	}
}

func TestIntegrate_ZeroOnTicksAddsNothing(t *testing.T) {
	in := NewIntegrator(4.4)
	assert.Equal(t, float32(0), in.Integrate(0, 4100))
	assert.Equal(t, float32(0), in.Total())
}

func TestIntegrate_TotalIsNonDecreasing(t *testing.T) {
	in := NewIntegrator(4.4)
	var last float32

	for i := 0; i < 200; i++ {
		in.Integrate(uint32(i%7)*100, uint16(3000+i))
		assert.GreaterOrEqual(t, in.Total(), last)
		last = in.Total()
	}
	assert.Greater(t, last, float32(0))
}

func TestReset(t *testing.T) {
	in := NewIntegrator(4.4)
	in.Integrate(1000, 4100)

	in.Reset()

	assert.Equal(t, float32(0), in.Total())
}
