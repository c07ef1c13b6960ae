package hal

import (
	"context"
	"time"
)

type Channel int

const (
	ChannelCellVoltage Channel = iota
	ChannelInternalTemp
	ChannelExternalTemp
)

func (c Channel) String() string {
	switch c {
	case ChannelCellVoltage:
		return "cell_voltage"
	case ChannelInternalTemp:
		return "internal_temp"
	case ChannelExternalTemp:
		return "external_temp"
	default:
		return "unknown"
	}
}

// TickHandler runs on the timer context. It must not block.
type TickHandler func()

// LoadSwitch is the part of the hardware the tick handler is allowed to touch.
type LoadSwitch interface {
	LoadOn()
	LoadOff()
}

type HAL interface {
	LoadSwitch

	ConfigurePorts() error

	// StartTimer runs handler hz times per second until StopTimer. Starting a
	// running timer is a no-op.
	StartTimer(hz int, handler TickHandler) error
	// StopTimer returns once no handler invocation is in flight.
	StopTimer()
	TimerRunning() bool

	LedOn()
	LedOff()
	ReferenceVoltageOn()
	ReferenceVoltageOff()
	TemperatureVoltageOn()
	TemperatureVoltageOff()

	ReadADC(ch Channel) (uint16, error)

	// Sleep blocks until wake is signalled or ctx is done.
	Sleep(ctx context.Context, wake <-chan struct{})

	// ArmWatchdog calls onFire from its own goroutine whenever period elapses
	// without a ResetWatchdog. It keeps firing every period until reset.
	ArmWatchdog(period time.Duration, onFire func())
	ResetWatchdog()
	DisarmWatchdog()

	Delay(d time.Duration)

	Close() error
}
