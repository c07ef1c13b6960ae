//go:build !linux

package hal

import (
	"context"
	"errors"
	"time"
)

var _ HAL = (*Linux)(nil)

type LinuxConfig struct {
	Chip           string
	LoadLine       int
	LedLine        int
	ReferenceLine  int
	TempEnableLine int
	ADCPaths       map[Channel]string
	SafeMode       bool
}

// Linux is not available on non-Linux platforms.
type Linux struct{}

func NewLinux(LinuxConfig) *Linux { return &Linux{} }

func (l *Linux) ConfigurePorts() error {
	return errors.New("hal: GPIO requires Linux")
}

func (l *Linux) StartTimer(int, TickHandler) error {
	return errors.New("hal: timer requires Linux")
}

func (l *Linux) StopTimer()                             {}
func (l *Linux) TimerRunning() bool                     { return false }
func (l *Linux) LoadOn()                                {}
func (l *Linux) LoadOff()                               {}
func (l *Linux) LedOn()                                 {}
func (l *Linux) LedOff()                                {}
func (l *Linux) ReferenceVoltageOn()                    {}
func (l *Linux) ReferenceVoltageOff()                   {}
func (l *Linux) TemperatureVoltageOn()                  {}
func (l *Linux) TemperatureVoltageOff()                 {}
func (l *Linux) Sleep(context.Context, <-chan struct{}) {}
func (l *Linux) ArmWatchdog(time.Duration, func())      {}
func (l *Linux) ResetWatchdog()                         {}
func (l *Linux) DisarmWatchdog()                        {}
func (l *Linux) Delay(time.Duration)                    {}
func (l *Linux) Close() error                           { return nil }

func (l *Linux) ReadADC(Channel) (uint16, error) {
	return 0, errors.New("hal: ADC requires Linux")
}
