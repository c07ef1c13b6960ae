package hal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ HAL = (*Fake)(nil)

// Fake is an in-memory HAL. Tests drive the timer with Tick and the watchdog
// with FireWatchdog. A Fake built by NewSimulator runs both in real time.
type Fake struct {
	mu sync.Mutex

	realTime bool
	timer    tickTimer
	watchdog softWatchdog

	configured bool
	closed     bool

	load     bool
	led      bool
	ref      bool
	tempRail bool

	handler      TickHandler
	timerRunning bool
	timerHz      int
	timerStarts  int

	loadOnTicks int
	ledOns      int
	delays      []time.Duration

	adc      map[Channel]uint16
	adcErr   map[Channel]error
	adcReads map[Channel]int

	sleeps    int
	sleepHook func()

	wdPeriod time.Duration
	wdFire   func()
	wdResets int
}

func NewFake() *Fake {
	return &Fake{
		adc:      map[Channel]uint16{},
		adcErr:   map[Channel]error{},
		adcReads: map[Channel]int{},
	}
}

// NewSimulator returns a Fake whose timer, watchdog, delays and sleeps run
// against the wall clock. ADC codes must be set with SetADC.
func NewSimulator() *Fake {
	f := NewFake()
	f.realTime = true
	return f
}

func (f *Fake) ConfigurePorts() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = true
	f.load, f.led, f.ref, f.tempRail = false, false, false, false
	return nil
}

func (f *Fake) StartTimer(hz int, handler TickHandler) error {
	if hz <= 0 {
		return fmt.Errorf("invalid tick rate %d", hz)
	}

	f.mu.Lock()
	if f.timerRunning {
		f.mu.Unlock()
		return nil
	}
	f.handler = handler
	f.timerRunning = true
	f.timerHz = hz
	f.timerStarts++
	realTime := f.realTime
	f.mu.Unlock()

	if realTime {
		return f.timer.start(hz, handler)
	}
	return nil
}

func (f *Fake) StopTimer() {
	f.timer.halt()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.timerRunning = false
	f.handler = nil
}

func (f *Fake) TimerRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timerRunning
}

// Tick invokes the timer handler n times, as the hardware timer would. It does
// nothing while the timer is stopped.
func (f *Fake) Tick(n int) {
	for i := 0; i < n; i++ {
		f.mu.Lock()
		h := f.handler
		running := f.timerRunning
		f.mu.Unlock()
		if !running || h == nil {
			return
		}
		h()
	}
}

func (f *Fake) LoadOn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load = true
	f.loadOnTicks++
}

func (f *Fake) LoadOff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load = false
}

func (f *Fake) LedOn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.led = true
	f.ledOns++
}

func (f *Fake) LedOff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.led = false
}

func (f *Fake) ReferenceVoltageOn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ref = true
}

func (f *Fake) ReferenceVoltageOff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ref = false
}

func (f *Fake) TemperatureVoltageOn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempRail = true
}

func (f *Fake) TemperatureVoltageOff() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempRail = false
}

func (f *Fake) ReadADC(ch Channel) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adcReads[ch]++
	if err := f.adcErr[ch]; err != nil {
		return 0, err
	}
	code, ok := f.adc[ch]
	if !ok {
		return 0, fmt.Errorf("no ADC value scripted for %s", ch)
	}
	return code, nil
}

func (f *Fake) SetADC(ch Channel, code uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adc[ch] = code
}

func (f *Fake) SetADCError(ch Channel, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adcErr[ch] = err
}

func (f *Fake) Sleep(ctx context.Context, wake <-chan struct{}) {
	f.mu.Lock()
	f.sleeps++
	hook := f.sleepHook
	realTime := f.realTime
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !realTime {
		return
	}
	select {
	case <-ctx.Done():
	case <-wake:
	}
}

// OnSleep registers fn to run at the start of every Sleep call.
func (f *Fake) OnSleep(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleepHook = fn
}

func (f *Fake) ArmWatchdog(period time.Duration, onFire func()) {
	f.mu.Lock()
	f.wdPeriod = period
	f.wdFire = onFire
	realTime := f.realTime
	f.mu.Unlock()

	if realTime {
		f.watchdog.arm(period, onFire)
	}
}

func (f *Fake) ResetWatchdog() {
	f.mu.Lock()
	f.wdResets++
	f.mu.Unlock()
	f.watchdog.reset()
}

func (f *Fake) DisarmWatchdog() {
	f.mu.Lock()
	f.wdFire = nil
	f.mu.Unlock()
	f.watchdog.disarm()
}

// FireWatchdog calls the armed watchdog callback as if the period had elapsed.
func (f *Fake) FireWatchdog() {
	f.mu.Lock()
	fire := f.wdFire
	f.mu.Unlock()
	if fire != nil {
		fire()
	}
}

func (f *Fake) Delay(d time.Duration) {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	realTime := f.realTime
	f.mu.Unlock()
	if realTime {
		time.Sleep(d)
	}
}

func (f *Fake) Close() error {
	f.StopTimer()
	f.DisarmWatchdog()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.load = false
	f.closed = true
	return nil
}

func (f *Fake) Configured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Load() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load
}

// LoadOnTicks counts LoadOn calls since the last ResetCounters.
func (f *Fake) LoadOnTicks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadOnTicks
}

func (f *Fake) Led() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.led
}

func (f *Fake) LedFlashes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledOns
}

func (f *Fake) ReferenceVoltage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ref
}

func (f *Fake) TemperatureVoltage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tempRail
}

func (f *Fake) TimerHz() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timerHz
}

func (f *Fake) TimerStarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timerStarts
}

func (f *Fake) ADCReads(ch Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adcReads[ch]
}

func (f *Fake) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func (f *Fake) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps
}

func (f *Fake) WatchdogPeriod() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wdPeriod
}

func (f *Fake) WatchdogResets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wdResets
}

// ResetCounters zeroes the call counters without touching output state.
func (f *Fake) ResetCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadOnTicks = 0
	f.ledOns = 0
	f.delays = nil
	f.adcReads = map[Channel]int{}
	f.sleeps = 0
	f.wdResets = 0
	f.timerStarts = 0
}
