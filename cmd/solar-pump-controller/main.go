package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/solar-pump-controller/db"
	"github.com/thatsimonsguy/solar-pump-controller/internal/api"
	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
	"github.com/thatsimonsguy/solar-pump-controller/internal/controller"
	"github.com/thatsimonsguy/solar-pump-controller/internal/datadog"
	"github.com/thatsimonsguy/solar-pump-controller/internal/env"
	"github.com/thatsimonsguy/solar-pump-controller/internal/logging"
	"github.com/thatsimonsguy/solar-pump-controller/internal/mqtt"
	"github.com/thatsimonsguy/solar-pump-controller/internal/notifications"
	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
	"github.com/thatsimonsguy/solar-pump-controller/internal/telemetry"
	"github.com/thatsimonsguy/solar-pump-controller/system/shutdown"
)

type notifier interface {
	Send(title, message string) error
}

func main() {
	cfg := config.Load()
	shutdown.CloseOnExit(logging.Init(cfg.LogLevel, cfg.LogFile))

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Int("relay_pin", *cfg.RelayPin).
		Int("flow_pin", *cfg.FlowPin).
		Bool("safe_mode", cfg.SafeMode).
		Msg("Starting solar pump controller")

	var notify notifier
	if cfg.NtfyTopic != "" {
		notify = notifications.New(cfg.NtfyTopic)
	}

	e, err := env.Open(cfg, notify)
	if err != nil {
		shutdown.ShutdownWithError(cfg, nil, notify, err, "Refusing to start pump controller")
		return
	}

	metrics := datadog.New(datadog.Config{
		Enabled:   cfg.EnableDatadog,
		AgentAddr: cfg.DDAgentAddr,
		Namespace: cfg.DDNamespace,
		Tags:      cfg.DDTags,
	})
	shutdown.CloseOnExit(metrics)

	eventLog := db.NewEventLog(e.DB)
	opts := []controller.Option{controller.WithObserver(eventLog)}
	if notify != nil {
		opts = append(opts, controller.WithNotifier(notify))
	}

	var publisher mqtt.Publisher
	var mqttObserver *mqtt.Observer
	if cfg.MQTTBroker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT unavailable; continuing without it")
		} else {
			publisher = pub
			mqttObserver = mqtt.NewObserver(pub)
			opts = append(opts, controller.WithObserver(mqttObserver))
		}
	}

	ctrl, err := controller.New(e.Relay, e.Sensor, e.Policy, opts...)
	if err != nil {
		shutdown.ShutdownWithError(cfg, e, notify, err, "Invalid pump policy")
		return
	}

	sources := status.Sources{
		Relay:       e.Relay,
		Temperature: e.Sensor,
		Flow:        e.Flow,
		Controller:  ctrl,
	}
	var statusPublisher telemetry.StatusPublisher
	if publisher != nil {
		statusPublisher = publisher
	}
	reporter := telemetry.NewReporter(sources, cfg.TelemetryInterval(), metrics, statusPublisher)
	server := api.NewServer(e.Relay, e.Sensor, e.Flow, ctrl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return controller.ForwardFlow(gctx, e.FlowEvents, ctrl) })
	g.Go(func() error { return controller.ForwardTemperature(gctx, e.TemperatureEvents, ctrl) })
	g.Go(func() error { return eventLog.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return server.Start(gctx, cfg.HTTPPort) })
	if mqttObserver != nil {
		g.Go(func() error { return mqttObserver.Run(gctx) })
	}

	err = g.Wait()
	if publisher != nil {
		publisher.Close()
	}
	if err != nil {
		shutdown.ShutdownWithError(cfg, e, notify, err, "Pump controller stopped")
		return
	}

	log.Info().Msg("Shutting down solar pump controller")
	shutdown.Shutdown(cfg, e, 0)
}
