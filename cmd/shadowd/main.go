// Shadow Core - Device Shadow Synchronisation Service
//
// This is the main entry point for the Shadow Core service. Shadow Core
// maintains a cloud-side shadow document for every registered device:
//   - Devices report observed state over MQTT or WebSocket
//   - Applications set desired state over REST or WebSocket
//   - The service computes the outstanding delta and fans changes out to
//     every connected observer
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwilde42/shadow-core/internal/api"
	"github.com/kwilde42/shadow-core/internal/bridge"
	"github.com/kwilde42/shadow-core/internal/infrastructure/config"
	"github.com/kwilde42/shadow-core/internal/infrastructure/database"
	"github.com/kwilde42/shadow-core/internal/infrastructure/influxdb"
	"github.com/kwilde42/shadow-core/internal/infrastructure/logging"
	"github.com/kwilde42/shadow-core/internal/infrastructure/mqtt"
	"github.com/kwilde42/shadow-core/internal/shadow"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Shadow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Select the shadow repository backend
	var db *database.DB
	var repo shadow.Repository
	switch cfg.Shadow.Store {
	case config.StoreSQLite:
		db, err = database.Open(database.Config{
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

		repo = shadow.NewSQLiteRepository(db.DB)
	case config.StoreMemory:
		log.Warn("using in-memory shadow store, all shadows are lost on restart")
		repo = shadow.NewMemoryRepository()
	default:
		return fmt.Errorf("unknown shadow store backend: %q", cfg.Shadow.Store)
	}

	// Create the shadow service
	service := shadow.NewService(repo)
	service.SetLogger(log)
	log.Info("shadow service initialised", "store", cfg.Shadow.Store)

	// Connect to MQTT broker and start the device bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		deviceBridge, bridgeErr := bridge.New(bridge.Config{
			Client:  mqttClient,
			Service: service,
			Logger:  log,
			QoS:     byte(cfg.MQTT.QoS),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating shadow bridge: %w", bridgeErr)
		}
		if startErr := deviceBridge.Start(); startErr != nil {
			return fmt.Errorf("starting shadow bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping shadow bridge")
			if stopErr := deviceBridge.Stop(); stopErr != nil {
				log.Error("error stopping shadow bridge", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Connect to InfluxDB and record mutation telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Every accepted mutation becomes a telemetry point. Writes are
		// batched and asynchronous, so the listener never blocks the
		// mutation path.
		service.AddListener(func(ev shadow.Event) {
			deltaSize := 0
			if ev.Shadow != nil {
				deltaSize = len(ev.Shadow.Delta())
			}
			influxClient.WriteShadowMutation(ev.DeviceID, string(ev.Substate), ev.Version, deltaSize)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the HTTP and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Service: service,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains WebSocket clients)
	// 2. InfluxDB (if enabled)
	// 3. Shadow bridge and MQTT (if enabled)
	// 4. Database (if sqlite)

	log.Info("Shadow Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHADOWCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHADOWCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (nil for the memory backend)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
