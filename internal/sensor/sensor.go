package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/thatsimonsguy/cell-balancer/internal/hal"
)

const (
	// ADCFullScale is the largest code of an oversampled temperature reading.
	ADCFullScale = 8191
	// VoltageReadings is how many times the cell voltage is read per sample;
	// the last reading is kept once the reference has settled.
	VoltageReadings = 5

	thermistorNominalOhms = 47000.0
	thermistorFixedOhms   = 47000.0
	thermistorBeta        = 4050.0
	nominalKelvin         = 298.15
	kelvinOffset          = 273.15
)

var ErrCodeOutOfRange = errors.New("thermistor code out of range")

type Hardware interface {
	ReadADC(ch hal.Channel) (uint16, error)
	ReferenceVoltageOn()
	ReferenceVoltageOff()
	TemperatureVoltageOn()
	TemperatureVoltageOff()
	Delay(d time.Duration)
}

type Config struct {
	// Settle is the delay after switching a supply rail on.
	Settle time.Duration
	// MVPerCode scales a raw voltage code to millivolts before calibration.
	MVPerCode float64
}

type Reading struct {
	InternalTempC int16
	ExternalTempC int16
	CellMV        uint16
	// Full is set when the external temperature and the cell voltage were
	// read as well as the internal temperature.
	Full bool
}

type Sampler struct {
	hw  Hardware
	cfg Config
}

func NewSampler(hw Hardware, cfg Config) *Sampler {
	if cfg.MVPerCode <= 0 {
		cfg.MVPerCode = 1
	}
	return &Sampler{hw: hw, cfg: cfg}
}

// Sample reads the internal temperature, and when full is set the external
// temperature and the cell voltage too. Both supply rails are off again when
// it returns. On error the returned reading holds whatever was read before
// the failure.
func (s *Sampler) Sample(full bool, calibration float64) (Reading, error) {
	var r Reading

	s.hw.TemperatureVoltageOn()
	defer s.hw.TemperatureVoltageOff()
	defer s.hw.ReferenceVoltageOff()
	s.hw.Delay(s.cfg.Settle)

	internal, err := s.readTemperature(hal.ChannelInternalTemp)
	if err != nil {
		return r, err
	}
	r.InternalTempC = internal

	if !full {
		return r, nil
	}

	external, err := s.readTemperature(hal.ChannelExternalTemp)
	if err != nil {
		return r, err
	}
	r.ExternalTempC = external

	s.hw.ReferenceVoltageOn()
	s.hw.Delay(s.cfg.Settle)

	var code uint16
	for i := 0; i < VoltageReadings; i++ {
		code, err = s.hw.ReadADC(hal.ChannelCellVoltage)
		if err != nil {
			return r, fmt.Errorf("read cell voltage: %w", err)
		}
	}
	r.CellMV = CellMillivolts(code, s.cfg.MVPerCode, calibration)
	r.Full = true
	return r, nil
}

func (s *Sampler) readTemperature(ch hal.Channel) (int16, error) {
	code, err := s.hw.ReadADC(ch)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", ch, err)
	}
	c, err := ThermistorCelsius(code)
	if err != nil {
		return 0, fmt.Errorf("%s code %d: %w", ch, code, err)
	}
	return int16(math.Round(c)), nil
}

// CellMillivolts converts a raw voltage code, saturating at the uint16 range.
func CellMillivolts(code uint16, mvPerCode, calibration float64) uint16 {
	mv := math.Round(float64(code) * mvPerCode * calibration)
	switch {
	case mv < 0:
		return 0
	case mv > math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(mv)
	}
}

// ThermistorCelsius converts the code of an NTC thermistor on the low side of
// a divider with an equal fixed resistor.
func ThermistorCelsius(code uint16) (float64, error) {
	if code == 0 || code >= ADCFullScale {
		return 0, ErrCodeOutOfRange
	}
	r := thermistorFixedOhms * float64(code) / float64(ADCFullScale-code)
	invT := 1/nominalKelvin + math.Log(r/thermistorNominalOhms)/thermistorBeta
	return 1/invT - kelvinOffset, nil
}

// ThermistorCode is the inverse of ThermistorCelsius.
func ThermistorCode(celsius float64) uint16 {
	t := celsius + kelvinOffset
	r := thermistorNominalOhms * math.Exp(thermistorBeta*(1/t-1/nominalKelvin))
	return uint16(math.Round(ADCFullScale * r / (r + thermistorFixedOhms)))
}
