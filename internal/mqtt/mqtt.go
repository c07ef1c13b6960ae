package mqtt

import (
	"encoding/json"
	"time"

	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// Lifecycle and fault event names.
const (
	EventStartup        = "STARTUP"
	EventPowerOn        = "POWER_ON"
	EventWatchdogReset  = "WATCHDOG_RESET"
	EventWatchdogFired  = "WATCHDOG_FIRED"
	EventThermalStop    = "THERMAL_STOP"
	EventRegulatorFault = "REGULATOR_FAULT"
	EventShutdown       = "SHUTDOWN"
	EventOffline        = "OFFLINE"
)

// Publisher publishes module state to MQTT. Errors are for logging only;
// the caller never stops because of them.
type Publisher interface {
	PublishStatus(status model.Status) error
	PublishEvent(event Event) error
	Close() error
}

type Event struct {
	Timestamp time.Time
	Name      string
	Reason    string
}

type Topics struct {
	Status  string
	Events  string
	Command string
	Reply   string
}

func NewTopics(prefix string) Topics {
	return Topics{
		Status:  prefix + "/status",
		Events:  prefix + "/events",
		Command: prefix + "/command",
		Reply:   prefix + "/reply",
	}
}

type EventPayload struct {
	Event EventPayloadInner `json:"event"`
}

type EventPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
	Reason    string `json:"reason,omitempty"`
}

func FormatEvent(event Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Event: EventPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Name:      event.Name,
			Reason:    event.Reason,
		},
	})
}

func FormatStatus(status model.Status) ([]byte, error) {
	return json.Marshal(status)
}
