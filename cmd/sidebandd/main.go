// sidebandd attaches a pass-through filter to every hot-plugged device
// instance announced on the MQTT bus and serves the shared control channel
// through which a management process queries all attached instances.
//
// The control channel exists only while at least one instance is attached.
// Lifecycle transitions are recorded in the SQLite audit trail, exported as
// Prometheus metrics, optionally written to InfluxDB, published on MQTT and
// streamed to admin API WebSocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/sideband-filter/internal/api"
	"github.com/nerrad567/sideband-filter/internal/audit"
	"github.com/nerrad567/sideband-filter/internal/control"
	"github.com/nerrad567/sideband-filter/internal/filter"
	"github.com/nerrad567/sideband-filter/internal/hotplug"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/config"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/database"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/influxdb"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/logging"
	"github.com/nerrad567/sideband-filter/internal/infrastructure/mqtt"
	"github.com/nerrad567/sideband-filter/internal/metrics"
	"github.com/nerrad567/sideband-filter/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds detaching the remaining instances and waiting
	// for the control channel to release its socket.
	shutdownTimeout = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, waits for ctx to be cancelled and tears down
// in reverse order. Deferred closes run LIFO, so the hot-plug source and the
// filter driver are stopped before the observers they feed.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting sidebandd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	checks := make(map[string]api.HealthChecker)
	var observers []filter.Observer

	// Audit trail
	var (
		db        *database.DB
		auditRepo audit.Repository
	)
	if cfg.Audit.Enabled {
		db, err = openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		checks["database"] = db

		auditRepo = audit.NewSQLiteRepository(db.DB)
		recorder := audit.NewRecorder(auditRepo, audit.RecorderOptions{RetentionDays: cfg.Audit.RetentionDays})
		recorder.SetLogger(log.Component("audit"))
		recorder.Start()
		defer recorder.Close()
		observers = append(observers, recorder)
	} else {
		log.Info("audit trail disabled")
	}

	// Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		checks["influxdb"] = influxClient
		observers = append(observers, influxdb.NewLifecycleWriter(influxClient, cfg.Service.ID))
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT bus
	topics := mqtt.Topics{Root: cfg.Hotplug.TopicPrefix}
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, topics)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		checks["mqtt"] = mqttClient

		status := hotplug.NewStatusPublisher(mqttClient, topics)
		status.SetLogger(log.Component("status"))
		defer status.Close()
		observers = append(observers, status)
	} else {
		log.Info("MQTT disabled")
	}

	// Filter core
	factory, err := control.NewFactory(control.Config{
		SocketPath:     cfg.Control.SocketPath,
		AliasPath:      cfg.Control.AliasPath,
		Exclusive:      cfg.Control.Exclusive,
		QueueDepth:     cfg.Control.QueueDepth,
		RequestTimeout: cfg.GetRequestTimeout(),
	}, control.SymlinkNamer{})
	if err != nil {
		return fmt.Errorf("creating control channel factory: %w", err)
	}
	factory.SetLogger(log.Component("control"))

	registry := filter.NewRegistry(factory, filter.Options{MaxInstances: cfg.Filter.MaxInstances})
	registry.SetLogger(log.Component("filter"))

	collector := metrics.NewCollector(registry)
	gatherer, err := metrics.NewRegistry(collector)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	observers = append(observers, collector)

	// Admin API
	var server *api.Server
	if cfg.API.Enabled {
		server, err = newAPIServer(cfg, log, registry, factory, auditRepo, gatherer, checks, db, mqttClient)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		observers = append(observers, server.Hub())
	}

	for _, obs := range observers {
		registry.AddObserver(obs)
	}

	driver := filter.NewDriver(registry, filter.DriverOptions{DefaultSerial: cfg.Filter.DefaultSerial})
	driver.SetLogger(log.Component("filter"))

	if server != nil {
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Host adapter. Registered last so its teardown runs first.
	var source *hotplug.Source
	if cfg.Hotplug.Enabled {
		source = hotplug.NewSource(mqttClient, driver, topics, byte(cfg.Hotplug.QoS))
		source.SetLogger(log.Component("hotplug"))
		if startErr := source.Start(ctx); startErr != nil {
			return fmt.Errorf("starting hot-plug source: %w", startErr)
		}
		log.Info("hot-plug source started",
			"attach_topic", topics.HotplugAttach(),
			"detach_topic", topics.HotplugDetach(),
		)
	} else {
		log.Info("hot-plug source disabled")
	}
	defer shutdownFilter(source, driver, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openDatabase opens the SQLite file and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path)
	return db, nil
}

func newAPIServer(
	cfg *config.Config,
	log *logging.Logger,
	registry *filter.Registry,
	factory *control.Factory,
	auditRepo audit.Repository,
	gatherer prometheus.Gatherer,
	checks map[string]api.HealthChecker,
	db *database.DB,
	mqttClient *mqtt.Client,
) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: registry,
		Control:  factory,
		Audit:    auditRepo,
		Gatherer: gatherer,
		Checks:   checks,
		Version:  version,
	}
	// Typed nil pointers must not reach the interface fields.
	if db != nil {
		deps.DB = db
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	return api.New(deps)
}

// shutdownFilter detaches every instance the source attached, which deletes
// the control channel, and then closes the registry.
func shutdownFilter(source *hotplug.Source, driver *filter.Driver, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if source != nil {
		if err := source.Close(ctx); err != nil {
			log.Error("error closing hot-plug source", "error", err)
		}
	}
	if err := driver.Shutdown(ctx); err != nil {
		if errors.Is(err, filter.ErrRegistryNotEmpty) {
			log.Error("instances still attached at shutdown", "instances", driver.Registry().Count())
			return
		}
		log.Error("error shutting down filter", "error", err)
	}
}

// getConfigPath returns SIDEBAND_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("SIDEBAND_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
