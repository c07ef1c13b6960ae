package command

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	OpIdentify    = "identify"
	OpSettings    = "settings"
	OpResetCharge = "reset_charge"
	OpStatus      = "status"
)

// Request is one inbound frame. Settings fields left out keep their current
// value.
type Request struct {
	Op                        string   `json:"op"`
	Count                     uint8    `json:"count,omitempty"`
	Calibration               *float64 `json:"calibration,omitempty"`
	BypassTemperatureSetPoint *int     `json:"bypass_temperature_setpoint,omitempty"`
	BypassThresholdMV         *uint16  `json:"bypass_threshold_mv,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Handle decodes a JSON request, applies it and returns the encoded reply:
// the current status on success, an error object otherwise.
func (c *Channel) Handle(frame []byte) []byte {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return encodeError(fmt.Errorf("invalid request: %w", err))
	}

	if err := c.Apply(req); err != nil {
		log.Warn().Err(err).Str("op", req.Op).Msg("Rejected command")
		return encodeError(err)
	}

	reply, err := json.Marshal(c.Status())
	if err != nil {
		return encodeError(err)
	}
	return reply
}

// Apply performs a decoded request.
func (c *Channel) Apply(req Request) error {
	switch req.Op {
	case OpIdentify:
		if req.Count == 0 {
			return fmt.Errorf("identify needs a count")
		}
		c.RequestIdentify(req.Count)
	case OpSettings:
		cfg := c.Settings()
		if req.Calibration != nil {
			cfg.Calibration = *req.Calibration
		}
		if req.BypassTemperatureSetPoint != nil {
			cfg.BypassTemperatureSetPoint = *req.BypassTemperatureSetPoint
		}
		if req.BypassThresholdMV != nil {
			cfg.BypassThresholdMV = *req.BypassThresholdMV
		}
		if _, err := c.ApplySettings(cfg); err != nil {
			return err
		}
	case OpResetCharge:
		c.RequestChargeReset()
	case OpStatus:
	default:
		return fmt.Errorf("unknown op %q", req.Op)
	}
	return nil
}

func encodeError(err error) []byte {
	b, _ := json.Marshal(ErrorResponse{Error: err.Error()})
	return b
}
