// devicelink core: device connection registry, command dispatch and
// schedule triggers for networked home-automation devices.
//
// Devices connect over /ws/device, operators over /ws/app; REST hooks,
// Prometheus metrics and an optional MQTT event bus share the same process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/nerrad567/devicelink-core/internal/api"
	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/connection"
	"github.com/nerrad567/devicelink-core/internal/device"
	"github.com/nerrad567/devicelink-core/internal/events"
	"github.com/nerrad567/devicelink-core/internal/gateway"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink-core/internal/metrics"
	"github.com/nerrad567/devicelink-core/internal/schedule"
	"github.com/nerrad567/devicelink-core/internal/telemetry"
	"github.com/nerrad567/devicelink-core/migrations"
)

// Set at build time: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath   = "configs/config.yaml"
	startupCheckTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commandService joins the dispatcher and the log store for the REST hooks.
type commandService struct {
	*command.Dispatcher
	command.LogStore
}

// run wires every component and blocks until ctx is cancelled. Deferred
// cleanups run in reverse start order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting devicelink core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	healthChecks := map[string]api.HealthChecker{"database": db}
	registry := connection.NewRegistry()
	var cmdObservers []command.Option

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		registry.AddObserver(m)
		cmdObservers = append(cmdObservers, command.WithObserver(m))
	}

	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		healthChecks["mqtt"] = mqttClient

		publisher := events.NewPublisher(mqttClient, mqttClient.Topics(), mqttClient.QoS(), log.With("component", "events"))
		publisher.Start(ctx)
		defer publisher.Stop()
		registry.AddObserver(publisher)
		cmdObservers = append(cmdObservers, command.WithObserver(publisher))
	}

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		healthChecks["influxdb"] = influxClient
		cmdObservers = append(cmdObservers, command.WithObserver(telemetry.NewRecorder(influxClient)))
	}

	logStore := command.NewSQLiteLogStore(db.DB)
	queue := command.NewSQLitePendingQueue(db.DB)
	cmdLog := log.With("component", "dispatcher")
	cmdOpts := append([]command.Option{
		command.WithPendingTTL(cfg.Dispatch.PendingTTL),
		command.WithFlushLimit(cfg.Dispatch.FlushLimit),
		command.WithLogger(cmdLog),
	}, cmdObservers...)
	dispatcher := command.NewDispatcher(logStore, queue, registry, cmdOpts...)

	sweeper := command.NewSweeper(logStore, queue, cfg.Dispatch.SweepInterval, cfg.Dispatch.AckTimeout, cmdOpts...)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if mqttClient != nil {
		ingress := events.NewIngress(mqttClient, mqttClient.Topics(), mqttClient.QoS(), dispatcher, log.With("component", "automation-ingress"))
		if err := ingress.Start(ctx); err != nil {
			return err
		}
		defer ingress.Stop()
	}

	if cfg.Scheduler.Enabled {
		engine := newScheduleEngine(cfg.Scheduler, db, dispatcher, m, log)
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("starting schedule engine: %w", err)
		}
		defer engine.Stop()
	}

	resolver := device.NewResolver(db.DB,
		device.WithSecretVerification(cfg.Gateway.Device.VerifySecret),
		device.WithLogger(log.With("component", "resolver")))
	verifier := auth.Verifier{
		Required: cfg.Gateway.Operator.AuthRequired,
		Secret:   cfg.Security.JWT.Secret,
		Issuer:   cfg.Security.JWT.Issuer,
	}
	if !verifier.Required {
		log.Warn("operator authentication disabled: /ws/app and REST hooks accept anonymous commands")
	}
	deviceGW := gateway.NewDeviceGateway(resolver, registry, dispatcher, cfg.WebSocket, log)
	defer deviceGW.Shutdown()
	operatorGW := gateway.NewOperatorGateway(dispatcher, verifier, cfg.WebSocket, log)
	defer operatorGW.Shutdown()

	deps := api.Deps{
		Config:       cfg.API,
		Auth:         verifier,
		Logger:       log,
		Commands:     commandService{Dispatcher: dispatcher, LogStore: logStore},
		Devices:      device.NewSQLiteRepository(db.DB),
		Connections:  registry,
		DevicePath:   cfg.Gateway.Device.Path,
		DeviceWS:     deviceGW,
		OperatorPath: cfg.Gateway.Operator.Path,
		OperatorWS:   operatorGW,
		HealthChecks: healthChecks,
		Version:      version,
	}
	if m != nil {
		deps.Metrics, deps.MetricsPath, deps.HTTPObserver = m.Handler(), cfg.Metrics.Path, m
	}
	if err := healthCheck(ctx, healthChecks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"device_path", cfg.Gateway.Device.Path,
		"operator_path", cfg.Gateway.Operator.Path,
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck runs every check in name order and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	for _, name := range names {
		if err := checks[name].HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("DEVICELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT returns nil, nil when MQTT is disabled.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("MQTT connected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"prefix", client.Topics().Prefix,
	)
	return client, nil
}

// connectInflux returns nil, nil when InfluxDB is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// newScheduleEngine falls back to UTC when the configured zone cannot be
// loaded; config validation normally rules that out.
func newScheduleEngine(cfg config.SchedulerConfig, db *database.DB, disp schedule.Dispatcher, m *metrics.Metrics, log *logging.Logger) *schedule.Engine {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Warn("unknown default timezone, using UTC", "timezone", cfg.DefaultTimezone, "error", err)
		loc = time.UTC
	}
	opts := []schedule.Option{
		schedule.WithPollInterval(cfg.PollInterval),
		schedule.WithDefaultLocation(loc),
		schedule.WithLogger(log.With("component", "scheduler")),
	}
	if m != nil {
		opts = append(opts, schedule.WithObserver(m))
	}
	return schedule.NewEngine(schedule.NewSQLiteRepository(db.DB), disp, opts...)
}
