//go:build linux

package hal

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"
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

type output int

const (
	outLoad output = iota
	outLed
	outReference
	outTempEnable
)

// Linux drives the module through the GPIO character device. In safe mode no
// line is requested and every output write is dropped.
type Linux struct {
	cfg      LinuxConfig
	chip     *gpiocdev.Chip
	lines    map[output]*gpiocdev.Line
	timer    tickTimer
	watchdog softWatchdog

	writeErrors atomic.Uint64
}

func NewLinux(cfg LinuxConfig) *Linux {
	return &Linux{cfg: cfg, lines: map[output]*gpiocdev.Line{}}
}

func (l *Linux) ConfigurePorts() error {
	if l.cfg.SafeMode {
		log.Warn().Msg("Safe mode enabled, GPIO output lines will not be driven")
		return nil
	}

	chip, err := gpiocdev.NewChip(l.cfg.Chip)
	if err != nil {
		return fmt.Errorf("open gpio chip %s: %w", l.cfg.Chip, err)
	}
	l.chip = chip

	offsets := map[output]int{
		outLoad:       l.cfg.LoadLine,
		outLed:        l.cfg.LedLine,
		outReference:  l.cfg.ReferenceLine,
		outTempEnable: l.cfg.TempEnableLine,
	}
	for out, offset := range offsets {
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			l.Close()
			return fmt.Errorf("request output line %d: %w", offset, err)
		}
		l.lines[out] = line
	}

	log.Info().Str("chip", l.cfg.Chip).Int("load_line", l.cfg.LoadLine).Msg("GPIO lines configured")
	return nil
}

func (l *Linux) set(out output, v int) {
	line, ok := l.lines[out]
	if !ok {
		return
	}
	if err := line.SetValue(v); err != nil {
		l.writeErrors.Add(1)
	}
}

func (l *Linux) StartTimer(hz int, handler TickHandler) error {
	return l.timer.start(hz, handler)
}

func (l *Linux) StopTimer() {
	l.timer.halt()
	if n := l.writeErrors.Swap(0); n > 0 {
		log.Error().Uint64("count", n).Msg("GPIO writes failed while the timer was running")
	}
}

func (l *Linux) TimerRunning() bool { return l.timer.running() }

func (l *Linux) LoadOn()                { l.set(outLoad, 1) }
func (l *Linux) LoadOff()               { l.set(outLoad, 0) }
func (l *Linux) LedOn()                 { l.set(outLed, 1) }
func (l *Linux) LedOff()                { l.set(outLed, 0) }
func (l *Linux) ReferenceVoltageOn()    { l.set(outReference, 1) }
func (l *Linux) ReferenceVoltageOff()   { l.set(outReference, 0) }
func (l *Linux) TemperatureVoltageOn()  { l.set(outTempEnable, 1) }
func (l *Linux) TemperatureVoltageOff() { l.set(outTempEnable, 0) }

// ReadADC reads one raw code from the channel's sysfs IIO file.
func (l *Linux) ReadADC(ch Channel) (uint16, error) {
	path, ok := l.cfg.ADCPaths[ch]
	if !ok || path == "" {
		return 0, fmt.Errorf("no ADC path configured for %s", ch)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", ch, err)
	}
	code, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse %s value %q: %w", ch, strings.TrimSpace(string(raw)), err)
	}
	return uint16(code), nil
}

func (l *Linux) Sleep(ctx context.Context, wake <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-wake:
	}
}

func (l *Linux) ArmWatchdog(period time.Duration, onFire func()) { l.watchdog.arm(period, onFire) }
func (l *Linux) ResetWatchdog()                                  { l.watchdog.reset() }
func (l *Linux) DisarmWatchdog()                                 { l.watchdog.disarm() }

func (l *Linux) Delay(d time.Duration) { time.Sleep(d) }

// Close stops the timer, de-asserts every output and releases the lines as
// inputs.
func (l *Linux) Close() error {
	l.timer.halt()
	l.watchdog.disarm()

	var errs []error
	for out, line := range l.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear output %d: %w", out, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output %d: %w", out, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %d: %w", out, err))
		}
		delete(l.lines, out)
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		l.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
