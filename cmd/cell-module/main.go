package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/api"
	"github.com/thatsimonsguy/cell-balancer/internal/command"
	"github.com/thatsimonsguy/cell-balancer/internal/config"
	"github.com/thatsimonsguy/cell-balancer/internal/datadog"
	"github.com/thatsimonsguy/cell-balancer/internal/hal"
	"github.com/thatsimonsguy/cell-balancer/internal/logging"
	"github.com/thatsimonsguy/cell-balancer/internal/mqtt"
	"github.com/thatsimonsguy/cell-balancer/internal/notifications"
	"github.com/thatsimonsguy/cell-balancer/internal/orchestrator"
	"github.com/thatsimonsguy/cell-balancer/internal/serial"
	"github.com/thatsimonsguy/cell-balancer/internal/supervisor"
	"github.com/thatsimonsguy/cell-balancer/system/shutdown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open log file")
	}
	defer logFile.Close()

	log.Info().
		Str("db", cfg.DBPath).
		Str("hardware", cfg.Hardware).
		Msg("Starting cell module")

	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED, output lines are not driven")
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	previous, err := db.MarkRunning(conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write run marker")
	}

	sup := supervisor.New(supervisor.NewSQLStore(conn))
	sup.Boot(previous)

	cell := orchestrator.LoadCellConfig(conn, cfg.Module.SafetyCutoffC, sup)
	cmds := command.New(command.NewSQLStore(conn), cfg.Module.SafetyCutoffC, cell)

	datadog.InitMetrics(cfg.Datadog)

	hw := newHAL(cfg)

	deps := orchestrator.Deps{
		HAL:        hw,
		Commands:   cmds,
		Supervisor: sup,
		Publisher:  mqtt.Discard{},
		Sessions:   orchestrator.NewSQLSessions(conn),
	}

	if cfg.Serial.Device != "" {
		link, err := serial.Open(cfg.Serial, cmds.Notify)
		if err != nil {
			log.Fatal().Err(err).Str("device", cfg.Serial.Device).Msg("Failed to open serial link")
		}
		defer link.Close()
		deps.Link = link
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewRealClient(cfg.MQTT, cmds.Handle)
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT unavailable, continuing without it")
		} else {
			deps.Publisher = client
		}
	}

	ntfy := notifications.NewNtfy(cfg.Notify)
	if ntfy != nil {
		deps.Notifier = ntfy
	}

	if cfg.API.Port > 0 {
		server := api.NewServer(conn, cmds)
		go func() {
			if err := server.Start(cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("REST API server stopped")
			}
		}()
	}

	o := orchestrator.New(cfg, deps, cell)
	target := shutdown.Target{
		Stop:          o.Stop,
		Hardware:      hw,
		DB:            conn,
		Publisher:     deps.Publisher,
		Notifications: ntfy,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Run(ctx); err != nil {
		shutdown.ShutdownWithError(target, err, "Cell module failed to start")
	}
	shutdown.Shutdown(target, "signal")
}

func newHAL(cfg *config.Config) hal.HAL {
	if cfg.Hardware == "sim" {
		log.Warn().Msg("Running against the simulated module")
		return hal.NewSimulator()
	}
	return hal.NewLinux(hal.LinuxConfig{
		Chip:           cfg.GPIO.Chip,
		LoadLine:       cfg.GPIO.LoadLine,
		LedLine:        cfg.GPIO.LedLine,
		ReferenceLine:  cfg.GPIO.ReferenceLine,
		TempEnableLine: cfg.GPIO.TempEnableLine,
		ADCPaths: map[hal.Channel]string{
			hal.ChannelCellVoltage:  cfg.ADC.CellVoltagePath,
			hal.ChannelInternalTemp: cfg.ADC.InternalTempPath,
			hal.ChannelExternalTemp: cfg.ADC.ExternalTempPath,
		},
		SafeMode: cfg.SafeMode,
	})
}
