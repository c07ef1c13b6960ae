// Package pulse generates the bypass load duty cycle from the timer tick.
//
// Tick runs on the timer context and is the only writer of the window
// counters. The outer loop writes the duty setpoint and drains completed
// windows through TakeCompletedOnTicks. Every shared field is atomic, so
// neither side ever observes a torn counter.
package pulse

import (
	"sync/atomic"

	"github.com/thatsimonsguy/cell-balancer/internal/hal"
)

const (
	// Period is the number of ticks in one duty cycle.
	Period = 255
	// WindowTicks is the number of ticks aggregated into one charge window.
	WindowTicks = 1000

	DutyOff  uint8 = 0
	DutyFull uint8 = 255
)

type Generator struct {
	duty atomic.Uint32

	counter atomic.Uint32
	elapsed atomic.Uint32
	onTicks atomic.Uint32

	completedOnTicks atomic.Uint32
	windowsClosed    atomic.Uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) SetDuty(d uint8) {
	g.duty.Store(uint32(d))
}

func (g *Generator) Duty() uint8 {
	return uint8(g.duty.Load())
}

// Tick advances the generator by one timer tick and drives the load. The load
// is on while the cycle counter is below the duty setpoint, which gives exactly
// duty on-ticks per Period.
//
// A window closes when its elapsed count is exactly WindowTicks and at least
// one tick was on. A window with no on-ticks keeps counting and only comes
// round to WindowTicks again after the 16-bit counter wraps.
func (g *Generator) Tick(out hal.LoadSwitch) {
	counter := g.counter.Load()
	onTicks := g.onTicks.Load()

	if counter < g.duty.Load() {
		out.LoadOn()
		onTicks = uint32(uint16(onTicks + 1))
	} else {
		out.LoadOff()
	}

	counter++
	if counter == Period {
		counter = 0
	}
	elapsed := uint32(uint16(g.elapsed.Load() + 1))

	if elapsed == WindowTicks && onTicks != 0 {
		g.completedOnTicks.Add(onTicks)
		g.windowsClosed.Add(1)
		elapsed = 0
		onTicks = 0
	}

	g.counter.Store(counter)
	g.elapsed.Store(elapsed)
	g.onTicks.Store(onTicks)
}

// TakeCompletedOnTicks returns the on-ticks of every window closed since the
// previous call and clears the handoff.
func (g *Generator) TakeCompletedOnTicks() uint32 {
	return g.completedOnTicks.Swap(0)
}

// Reset zeroes the duty setpoint and the partial window. Call it only while
// the timer is stopped. Completed windows not yet taken are kept.
func (g *Generator) Reset() {
	g.duty.Store(0)
	g.counter.Store(0)
	g.elapsed.Store(0)
	g.onTicks.Store(0)
}

type Window struct {
	Counter uint8
	Elapsed uint16
	OnTicks uint16
	Closed  uint64
}

func (g *Generator) Window() Window {
	return Window{
		Counter: uint8(g.counter.Load()),
		Elapsed: uint16(g.elapsed.Load()),
		OnTicks: uint16(g.onTicks.Load()),
		Closed:  g.windowsClosed.Load(),
	}
}
