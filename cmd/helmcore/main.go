// Helm Core - Marine Lighting Command Service
//
// This is the main entry point for the Helm Core application: the
// shore-side service that queues state-change commands for embedded
// lighting controllers on boats and reconciles their delivery across
// the MQTT broker link and the HTTP poll fallback.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/itechmarine/helm-core/migrations"

	"github.com/itechmarine/helm-core/internal/api"
	"github.com/itechmarine/helm-core/internal/auth"
	"github.com/itechmarine/helm-core/internal/command"
	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/fleet"
	"github.com/itechmarine/helm-core/internal/infrastructure/config"
	"github.com/itechmarine/helm-core/internal/infrastructure/database"
	"github.com/itechmarine/helm-core/internal/infrastructure/influxdb"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
	"github.com/itechmarine/helm-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Helm Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	users := auth.NewUserRepository(db.DB)
	boats := fleet.NewSQLiteRepository(db.DB)
	devices := device.NewSQLiteRepository(db.DB)
	commands := command.NewSQLiteRepository(db.DB)

	// Connect to the MQTT broker link. The broker is the fast path, not a
	// hard dependency: without it every command still reaches its device
	// over the HTTP poll fallback.
	var mqttClient *mqtt.Client
	mqttClient, err = mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT broker unavailable, running on HTTP poll fallback only",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"error", err,
		)
		mqttClient = nil
	} else {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// Connect to InfluxDB (optional telemetry)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		if !errors.Is(err, influxdb.ErrDisabled) {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		log.Info("InfluxDB disabled")
		influxClient = nil
	} else {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Wire the command core. The hub is created before the server so the
	// dispatcher and reconciler can broadcast through it. Nil-able
	// dependencies go through typed locals so a disabled client never
	// becomes a non-nil interface holding a nil pointer.
	hub := api.NewHub(cfg.WebSocket, log)
	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}

	var broker command.Publisher
	if mqttClient != nil {
		broker = mqttClient
	}
	var telemetry command.Telemetry
	if influxClient != nil {
		telemetry = influxClient
	}

	reconciler := command.NewReconciler(commands, devices, hub, telemetry, log)
	dispatcher := command.NewDispatcher(commands, devices, broker, topics, hub, cfg.CommandTTL(), log)
	gateway := command.NewGateway(commands, devices, reconciler, cfg.Commands.PollDefault, cfg.Commands.PollMax, log)

	if mqttClient != nil {
		if bindErr := reconciler.BindBroker(mqttClient, topics); bindErr != nil {
			return fmt.Errorf("subscribing to device topics: %w", bindErr)
		}
		log.Info("broker link bound",
			"status_topic", topics.AllDeviceStatus(),
			"ack_topic", topics.AllDeviceAcks(),
		)
	}

	// Start the API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Users:      users,
		Boats:      boats,
		Devices:    devices,
		Commands:   commands,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Version:    version,
		Hub:        hub,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if connected)
	// 4. Database

	log.Info("Helm Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HELMCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HELMCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. The MQTT client is
// deliberately absent: a down broker is a degraded mode, not a failure.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
