// webthingd serves Web Things over HTTP and WebSocket.
//
// It hosts the demo lamp and humidity sensor, optionally persists every
// notification to SQLite, mirrors Things onto MQTT and writes numeric
// readings to InfluxDB.
//
//	webthingd                      run the server
//	webthingd token -role operator issue a bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-webthing/internal/api"
	mqttbridge "github.com/nerrad567/gray-logic-webthing/internal/bridges/mqtt"
	"github.com/nerrad567/gray-logic-webthing/internal/demo"
	"github.com/nerrad567/gray-logic-webthing/internal/history"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/worker"
	"github.com/nerrad567/gray-logic-webthing/internal/telemetry"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
	"github.com/nerrad567/gray-logic-webthing/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is read when WEBTHING_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// sinkBuffer is the notification queue size of each background sink.
	sinkBuffer = 1024

	// pruneInterval is how often history retention is enforced.
	pruneInterval = time.Hour
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting webthingd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"mode", cfg.Server.Mode,
		"level", cfg.Logging.Level,
	)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Action bodies run on a bounded pool. It gets its own context so
	// running actions can finish after the shutdown signal.
	pool := worker.NewTaskPool(cfg.Executor.Workers, cfg.Executor.QueueSize,
		worker.WithMetrics[worker.Task](metrics, "webthing_executor"),
		worker.WithLogger[worker.Task](log.Component("executor")),
	)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	if err := pool.Start(poolCtx); err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}
	defer func() {
		log.Info("stopping executor")
		if stopErr := pool.Stop(cfg.GetShutdownWait()); stopErr != nil {
			log.Warn("executor did not drain", "error", stopErr)
		}
	}()

	lamp, sensor, err := buildThings(cfg, log, pool)
	if err != nil {
		return fmt.Errorf("building things: %w", err)
	}
	registry, err := buildRegistry(cfg, lamp, sensor)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	things := registry.Things()
	log.Info("things registered", "count", len(things), "name", registry.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return demo.RunSensor(gctx, sensor, demo.DefaultSampleInterval)
	})

	checks := make(map[string]api.HealthChecker)
	var historyReader api.HistoryReader

	// History persistence (optional)
	if cfg.Database.Enabled {
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
		log.Info("database ready", "path", db.Path())

		repo := history.NewRepository(db.DB)
		recorder := history.NewRecorder(repo, things, history.RecorderConfig{
			Buffer:        sinkBuffer,
			Retention:     cfg.GetRetention(),
			PruneInterval: pruneInterval,
		})
		recorder.SetLogger(log.Component("history"))
		g.Go(func() error { return recorder.Run(gctx) })

		historyReader = repo
		checks["database"] = db
	} else {
		log.Info("history disabled")
	}

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		client.SetLogger(log.Component("mqtt"))
		client.SetOnConnect(func() { log.Info("MQTT reconnected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", client.Topics().Prefix(),
		)

		bridge, err := mqttbridge.New(mqttbridge.Options{
			Client: client,
			Topics: client.Topics(),
			QoS:    client.QoS(),
			Things: things,
			Buffer: sinkBuffer,
			Logger: log.Component("mqtt-bridge"),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		g.Go(func() error { return bridge.Run(gctx) })
		checks["mqtt"] = client
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		sink := telemetry.NewSink(influx, things, sinkBuffer)
		sink.SetLogger(log.Component("telemetry"))
		g.Go(func() error { return sink.Run(gctx) })
		checks["influxdb"] = influx
	} else {
		log.Info("InfluxDB disabled")
	}

	server, err := api.New(api.Deps{
		Config:   cfg,
		Logger:   log.Component("api"),
		Registry: registry,
		History:  historyReader,
		Metrics:  metrics,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("background task failed: %w", err)
	}

	// Remaining deferred closes run in reverse order: InfluxDB, MQTT,
	// database, then the executor drains.
	log.Info("webthingd stopped")
	return nil
}

// loadConfig reads the configuration file. WEBTHING_CONFIG selects the
// file; without it, configs/config.yaml is used when present and the
// built-in defaults otherwise.
func loadConfig() (*config.Config, string, error) {
	path := os.Getenv("WEBTHING_CONFIG")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "(defaults)", nil
		}
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// buildThings creates the demo Things and attaches the shared executor.
func buildThings(cfg *config.Config, log *logging.Logger, executor thing.Executor) (*thing.Thing, *thing.Thing, error) {
	lamp, err := demo.NewLamp(log.Component("thing").With("thing_id", demo.LampID), cfg.Things.EventCapacity)
	if err != nil {
		return nil, nil, fmt.Errorf("lamp: %w", err)
	}
	sensor, err := demo.NewHumiditySensor(log.Component("thing").With("thing_id", demo.SensorID))
	if err != nil {
		return nil, nil, fmt.Errorf("humidity sensor: %w", err)
	}
	lamp.SetExecutor(executor)
	sensor.SetExecutor(executor)
	return lamp, sensor, nil
}

// buildRegistry serves the lamp alone in single mode, or both Things in
// multiple mode.
func buildRegistry(cfg *config.Config, lamp, sensor *thing.Thing) (*thing.Registry, error) {
	if cfg.Server.Mode == config.ModeSingle {
		return thing.NewSingleRegistry(lamp)
	}
	return thing.NewMultipleRegistry(cfg.Server.Name, lamp, sensor)
}
