// Gray Logic Pioneer - AVR control bridge
//
// pioneerd polls Pioneer receivers over their telnet or RS-232 control port
// and exposes them on the Gray Logic MQTT bus and an HTTP API:
//   - State published on change, commands acknowledged per request
//   - Learned inputs and volume steps persisted in SQLite
//   - Optional InfluxDB time series and Prometheus metrics
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/api"
	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/device"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pioneer/migrations"
)

// Build metadata:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when GRAYLOGIC_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often expired state history is deleted.
const pruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, wires storage, transports and the bridge, and
// blocks until ctx is cancelled. Everything opened is released in reverse
// order on return, including on startup errors.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Pioneer", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "receivers", len(cfg.Receivers))

	var down shutdown
	defer func() { down.run(log) }()

	db, err := openDatabase(ctx, cfg, &down)
	if err != nil {
		return err
	}
	log.Info("database ready", "path", db.Path())
	store := device.NewSQLiteStore(db.DB)

	// Without MQTT the bridge is driven through the API only.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		if mqttClient, err = connectMQTT(cfg, log); err != nil {
			return err
		}
		down.push("MQTT", mqttClient.Close)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		if influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB); err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		down.push("InfluxDB", influxClient.Close)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err, "failures", influxClient.WriteFailures())
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", influxClient.Bucket())
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := metrics.New(metrics.Options{IncludeRuntime: true})

	bridge, err := newBridge(cfg, store, mqttClient, influxClient, recorder, log)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	// Pushed before Start so a failed start still stops the poll loops.
	down.push("bridge", func() error { bridge.Stop(); return nil })
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	// The broker's retained LWT stays until the bridge republishes health.
	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			if err := bridge.PublishHealth(); err != nil {
				log.Warn("failed to publish health after reconnect", "error", err)
			}
		})
	}

	if cfg.API.Enabled {
		if err := startAPI(ctx, cfg, bridge, recorder, log, &down); err != nil {
			return err
		}
	} else {
		log.Info("API disabled")
	}

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		pruned := make(chan struct{})
		go func() {
			defer close(pruned)
			pruneLoop(ctx, store, retention, log)
		}()
		down.push("history pruning", func() error { <-pruned; return nil })
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, down *shutdown) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	down.push("database", db.Close)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func startAPI(ctx context.Context, cfg *config.Config, bridge *pioneer.Bridge, recorder *metrics.Recorder, log *logging.Logger, down *shutdown) error {
	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Service:  bridge,
		Events:   bridge,
		Health:   bridge,
		Metrics:  recorder.Handler(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	down.push("API server", srv.Close)
	log.Info("API server listening", "addr", srv.Addr(), "tls", cfg.API.TLS.Enabled)
	return nil
}

// shutdown collects release steps and runs them last-in first-out, so
// the API stops before the bridge and the bridge before its transports.
type shutdown []shutdownStep

type shutdownStep struct {
	name string
	fn   func() error
}

func (s *shutdown) push(name string, fn func() error) {
	*s = append(*s, shutdownStep{name: name, fn: fn})
}

func (s shutdown) run(log *logging.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		log.Info("stopping " + s[i].name)
		if err := s[i].fn(); err != nil {
			log.Error("error stopping "+s[i].name, "error", err)
		}
	}
	log.Info("Gray Logic Pioneer stopped")
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects with the bridge's offline LWT registered, so the
// broker marks the bridge offline if the process dies.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	bridgeID := cfg.Bridge.ID
	if bridgeID == "" {
		bridgeID = pioneer.Protocol
	}
	lwt, err := json.Marshal(pioneer.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding LWT: %w", err)
	}

	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    pioneer.HealthTopic(),
		Payload:  lwt,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}

	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// newBridge wires the optional collaborators into a bridge.
// Nil clients are left as nil interfaces so the bridge can tell them apart.
func newBridge(
	cfg *config.Config,
	store *device.SQLiteStore,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	recorder *metrics.Recorder,
	log *logging.Logger,
) (*pioneer.Bridge, error) {
	opts := pioneer.BridgeOptions{
		Config:  bridgeConfig(cfg, version),
		Logger:  log.With("component", "pioneer"),
		Store:   storeAdapter{store: store},
		Metrics: recorder,
	}
	if mqttClient != nil {
		opts.MQTTClient = mqttClient
	}
	if influxClient != nil {
		opts.Series = seriesAdapter{client: influxClient}
	}
	return pioneer.NewBridge(opts)
}

// pruneLoop deletes state history older than retention until ctx ends.
func pruneLoop(ctx context.Context, store *device.SQLiteStore, retention time.Duration, log *logging.Logger) {
	prune := func() {
		n, err := store.PruneHistory(ctx, retention)
		if err != nil {
			log.Warn("history prune failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("pruned state history", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Receivers are not checked: an unreachable receiver is reported through
// bridge health rather than failing startup.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
	return nil
}
