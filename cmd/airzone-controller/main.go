package main

import (
	"context"
	"database/sql"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/db"
	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/api"
	"github.com/thatsimonsguy/airzone-controller/internal/bridge"
	"github.com/thatsimonsguy/airzone-controller/internal/config"
	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
	"github.com/thatsimonsguy/airzone-controller/internal/datadog"
	"github.com/thatsimonsguy/airzone-controller/internal/env"
	"github.com/thatsimonsguy/airzone-controller/internal/logging"
	"github.com/thatsimonsguy/airzone-controller/internal/metrics"
	"github.com/thatsimonsguy/airzone-controller/internal/notifications"
	"github.com/thatsimonsguy/airzone-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("scan_interval", cfg.ScanInterval).
		Msg("Starting Airzone controller")

	var steps []shutdown.Step

	opts := coordinator.Options{
		Interval:         time.Duration(cfg.ScanInterval) * time.Second,
		FailureThreshold: cfg.FailureNotifyThreshold,
		MasterResolver:   masterResolver(cfg.MasterZoneSource),
		FollowMaster:     cfg.FollowMaster,
	}

	var dbConn *sql.DB
	if cfg.DBPath != "" {
		var err error
		dbConn, err = db.Open(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
		}
		opts.Store = db.NewStore(dbConn)
	}

	notifications.Init()
	if notifications.Enabled() {
		opts.Notifier = notifications.Notifier{}
	}

	client := airzone.New(cfg.Host, cfg.Port, airzone.Options{
		Prefix:  cfg.APIPrefix,
		Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	})
	coord := coordinator.New(client, opts)

	if cfg.EnableDatadog {
		datadog.InitMetrics()
		coord.Subscribe(datadog.ReportSnapshot)
		go reportPolls(coord)
	}

	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Broker != "" {
		mqttBridge = startBridge(cfg.MQTT, coord)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(coord),
	)
	server := api.NewServer(coord, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Fatal().Err(err).Int("port", cfg.APIPort).Msg("API server failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.RequestTimeoutSeconds*4)*time.Second)
	if err := coord.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("First poll failed, will keep retrying")
	}
	cancel()

	steps = append(steps,
		shutdown.Step{Name: "api", Close: server.Shutdown},
		shutdown.Step{Name: "coordinator", Close: func(context.Context) error { return coord.Close() }},
	)
	if mqttBridge != nil {
		steps = append(steps, shutdown.Step{Name: "mqtt", Close: func(context.Context) error {
			mqttBridge.Close()
			return nil
		}})
	}
	if cfg.EnableDatadog {
		steps = append(steps, shutdown.Step{Name: "datadog", Close: func(context.Context) error {
			datadog.Close()
			return nil
		}})
	}
	if dbConn != nil {
		steps = append(steps, shutdown.Step{Name: "db", Close: func(context.Context) error { return dbConn.Close() }})
	}

	sig := shutdown.Wait()
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	shutdown.Shutdown(steps...)
}

func masterResolver(source string) coordinator.MasterResolver {
	heuristic := coordinator.MasterResolverFunc(coordinator.HeuristicMaster)
	if source == config.MasterZoneSourceSystemData {
		return coordinator.SystemFieldMaster(heuristic)
	}
	return heuristic
}

func startBridge(cfg config.MQTT, coord *coordinator.Coordinator) *bridge.Bridge {
	topics := bridge.Topics{Prefix: cfg.TopicPrefix}
	mqttOpts := bridge.ClientOptions(cfg, topics)

	var b *bridge.Bridge
	// Subscriptions are made in the connect handler so they survive reconnects.
	mqttOpts.SetOnConnectHandler(func(client mqtt.Client) {
		b.OnConnect(client)
	})
	client := mqtt.NewClient(mqttOpts)
	b = bridge.New(client, topics, coord)

	if t := client.Connect(); !t.WaitTimeout(10*time.Second) || t.Error() != nil {
		log.Error().Err(t.Error()).Str("broker", cfg.Broker).Msg("MQTT not connected yet, retrying in background")
	}
	coord.Subscribe(b.PublishSnapshot)
	return b
}

func reportPolls(coord *coordinator.Coordinator) {
	ticker := time.NewTicker(coord.Interval())
	defer ticker.Stop()
	for range ticker.C {
		st := coord.Status()
		datadog.ReportPoll(st.LastUpdateSuccess, st.ConsecutiveFailures)
	}
}
