package shutdown

import (
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/datadog"
	"github.com/thatsimonsguy/cell-balancer/internal/hal"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
	"github.com/thatsimonsguy/cell-balancer/internal/mqtt"
	"github.com/thatsimonsguy/cell-balancer/internal/notifications"
)

// ExitFunc is replaced in tests.
var ExitFunc = os.Exit

// Target is everything that has to be put in a safe state before exit. Any
// field may be nil.
type Target struct {
	// Stop ends an active balance window through the control loop so the
	// session is recorded.
	Stop          func(reason model.StopReason)
	Hardware      hal.HAL
	DB            *sql.DB
	Publisher     mqtt.Publisher
	Notifications *notifications.Ntfy
}

// Shutdown de-asserts the load, records a clean exit and exits with code 0.
func Shutdown(t Target, reason string) {
	release(t, reason)
	ExitFunc(0)
}

func ShutdownWithError(t Target, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	release(t, msg)
	ExitFunc(1)
}

func release(t Target, reason string) {
	if t.Stop != nil {
		t.Stop(model.StopShutdown)
	}

	if t.Hardware != nil {
		t.Hardware.StopTimer()
		t.Hardware.LoadOff()
		t.Hardware.DisarmWatchdog()
		if err := t.Hardware.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release hardware")
		}
		log.Info().Msg("Bypass load de-asserted")
	}

	if t.DB != nil {
		if err := db.MarkCleanExit(t.DB); err != nil {
			log.Error().Err(err).Msg("Failed to record clean exit")
		}
	}

	if t.Publisher != nil {
		event := mqtt.Event{Timestamp: time.Now(), Name: mqtt.EventShutdown, Reason: reason}
		if err := t.Publisher.PublishEvent(event); err != nil {
			log.Warn().Err(err).Msg("Failed to publish shutdown event")
		}
		if err := t.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close MQTT publisher")
		}
	}

	if t.Notifications != nil {
		t.Notifications.Close()
	}

	datadog.Close()
}
