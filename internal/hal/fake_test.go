package hal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_TickOnlyWhileRunning(t *testing.T) {
	f := NewFake()
	var calls int
	handler := func() { calls++ }

	f.Tick(5)
	assert.Equal(t, 0, calls)

	require.NoError(t, f.StartTimer(1000, handler))
	assert.True(t, f.TimerRunning())
	assert.Equal(t, 1000, f.TimerHz())

	f.Tick(5)
	assert.Equal(t, 5, calls)

	f.StopTimer()
	assert.False(t, f.TimerRunning())
	f.Tick(5)
	assert.Equal(t, 5, calls)
}

func TestFake_StartTimerIsIdempotent(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.StartTimer(1000, func() {}))
	require.NoError(t, f.StartTimer(1000, func() {}))
	assert.Equal(t, 1, f.TimerStarts())
}

func TestFake_StartTimerRejectsZeroRate(t *testing.T) {
	f := NewFake()
	assert.Error(t, f.StartTimer(0, func() {}))
	assert.False(t, f.TimerRunning())
}

func TestFake_Outputs(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.ConfigurePorts())
	assert.True(t, f.Configured())

	f.LoadOn()
	f.LedOn()
	f.ReferenceVoltageOn()
	f.TemperatureVoltageOn()
	assert.True(t, f.Load())
	assert.True(t, f.Led())
	assert.True(t, f.ReferenceVoltage())
	assert.True(t, f.TemperatureVoltage())

	f.LoadOff()
	f.LedOff()
	f.ReferenceVoltageOff()
	f.TemperatureVoltageOff()
	assert.False(t, f.Load())
	assert.False(t, f.Led())
	assert.False(t, f.ReferenceVoltage())
	assert.False(t, f.TemperatureVoltage())

	assert.Equal(t, 1, f.LoadOnTicks())
	assert.Equal(t, 1, f.LedFlashes())
}

func TestFake_ADC(t *testing.T) {
	f := NewFake()

	_, err := f.ReadADC(ChannelCellVoltage)
	assert.Error(t, err)

	f.SetADC(ChannelCellVoltage, 4100)
	code, err := f.ReadADC(ChannelCellVoltage)
	require.NoError(t, err)
	assert.Equal(t, uint16(4100), code)

	f.SetADCError(ChannelCellVoltage, errors.New("boom"))
	_, err = f.ReadADC(ChannelCellVoltage)
	assert.EqualError(t, err, "boom")

	assert.Equal(t, 3, f.ADCReads(ChannelCellVoltage))
	assert.Equal(t, 0, f.ADCReads(ChannelInternalTemp))
}

func TestFake_Watchdog(t *testing.T) {
	f := NewFake()
	var fired int
	f.ArmWatchdog(8*time.Second, func() { fired++ })
	assert.Equal(t, 8*time.Second, f.WatchdogPeriod())

	f.FireWatchdog()
	f.FireWatchdog()
	assert.Equal(t, 2, fired)

	f.ResetWatchdog()
	assert.Equal(t, 1, f.WatchdogResets())

	f.DisarmWatchdog()
	f.FireWatchdog()
	assert.Equal(t, 2, fired)
}

func TestFake_SleepReturnsImmediately(t *testing.T) {
	f := NewFake()
	var hooked bool
	f.OnSleep(func() { hooked = true })

	f.Sleep(context.Background(), nil)

	assert.Equal(t, 1, f.Sleeps())
	assert.True(t, hooked)
}

func TestFake_CloseDeassertsLoad(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.StartTimer(1000, func() {}))
	f.LoadOn()

	require.NoError(t, f.Close())

	assert.False(t, f.Load())
	assert.False(t, f.TimerRunning())
	assert.True(t, f.Closed())
}

func TestSimulator_TimerRunsAndStopsSynchronously(t *testing.T) {
	f := NewSimulator()
	var ticks atomic.Int64

	require.NoError(t, f.StartTimer(1000, func() { ticks.Add(1) }))
	assert.Eventually(t, func() bool { return ticks.Load() > 5 }, time.Second, 5*time.Millisecond)

	f.StopTimer()
	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no tick may run after StopTimer returns")
}

func TestSimulator_SleepWakes(t *testing.T) {
	f := NewSimulator()
	wake := make(chan struct{}, 1)
	wake <- struct{}{}

	done := make(chan struct{})
	go func() {
		f.Sleep(context.Background(), wake)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not wake")
	}
}

func TestSimulator_SleepHonoursContext(t *testing.T) {
	f := NewSimulator()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	f.Sleep(ctx, nil)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSoftWatchdog_FiresRepeatedlyUntilReset(t *testing.T) {
	var w softWatchdog
	var fired atomic.Int64

	w.arm(10*time.Millisecond, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() >= 2 }, time.Second, 2*time.Millisecond)

	w.disarm()
	after := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, fired.Load(), after+1)
}

func TestSoftWatchdog_ResetPostponesFire(t *testing.T) {
	var w softWatchdog
	var fired atomic.Int64

	w.arm(50*time.Millisecond, func() { fired.Add(1) })
	defer w.disarm()

	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		w.reset()
	}
	assert.Equal(t, int64(0), fired.Load())
}

func TestChannelString(t *testing.T) {
	assert.Equal(t, "cell_voltage", ChannelCellVoltage.String())
	assert.Equal(t, "internal_temp", ChannelInternalTemp.String())
	assert.Equal(t, "external_temp", ChannelExternalTemp.String())
	assert.Equal(t, "unknown", Channel(9).String())
}
