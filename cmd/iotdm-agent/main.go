// iotdm-agent - device-management agent for the Watson IoT Platform
//
// The agent connects a device to the platform over MQTT, announces it as
// managed and answers platform-initiated requests:
//   - firmware download and update
//   - reboot and factory reset
//   - observation of the firmware resource
//
// Request outcomes are journaled in SQLite and exported as Prometheus
// metrics and, optionally, InfluxDB points. A local HTTP API exposes the
// session and drives device-initiated requests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/iotdm-agent/migrations"

	"github.com/nerrad567/iotdm-agent/internal/agent"
	"github.com/nerrad567/iotdm-agent/internal/api"
	"github.com/nerrad567/iotdm-agent/internal/dm"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/config"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/database"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/logging"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/metrics"
	"github.com/nerrad567/iotdm-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotdm-agent/internal/store"
	"github.com/nerrad567/iotdm-agent/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when IOTDM_CONFIG is unset.
	defaultConfigPath = "configs/iotdm.yaml"

	configEnvVar = "IOTDM_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting iotdm-agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("ignoring unreadable .env file", "error", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	metadata, err := encodeMetadata(cfg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	journal := store.NewSQLiteJournal(db.DB)
	checks := map[string]api.HealthChecker{"database": db}

	// InfluxDB is optional
	var influx telemetry.InfluxWriter
	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx = influxClient
		checks["influxdb"] = influxClient
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connection established", "reconnects", mqttClient.Reconnects())
	})
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	m := metrics.New(metrics.DefaultNamespace)
	recorder := telemetry.New(telemetry.Options{
		Metrics:   m,
		Influx:    influx,
		Journal:   journal,
		Retention: cfg.Database.JournalRetention,
		Logger:    log.With("component", "telemetry"),
	})

	actions := agent.New(cfg.Actions, log.With("component", "agent"))

	engine, err := dm.New(dm.Options{
		Transport:      &mqttTransport{client: mqttClient},
		Handlers:       actions.Handlers(),
		DeviceInfo:     deviceInfo(cfg.DeviceInfo),
		Metadata:       metadata,
		Firmware:       store.NewFirmwareStore(db.DB),
		Observers:      []dm.Observer{recorder},
		Logger:         log.With("component", "dm"),
		QoS:            byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		RequestTimeout: cfg.Management.RequestTimeout,
		RetryInterval:  cfg.Management.RetryInterval,
		InboundQueue:   cfg.Management.InboundQueue,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	actions.Bind(engine)
	recorder.BindSession(engine)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return recorder.Run(gctx)
	})

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Management: cfg.Management,
			Logger:     log.With("component", "api"),
			Engine:     engine,
			Journal:    journal,
			Metrics:    m.Handler(),
			Checks:     checks,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return server.Close()
			case serveErr, ok := <-server.Err():
				if ok {
					return fmt.Errorf("API server: %w", serveErr)
				}
				return nil
			}
		})
	}

	if cfg.Management.Enabled {
		g.Go(func() error {
			manage(gctx, engine, cfg.Management, log)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()

	log.Info("shutting down, waiting for device actions")
	actions.Wait()

	if err != nil {
		return err
	}
	log.Info("iotdm-agent stopped")
	return nil
}

// manage announces the device as managed. Failure is logged, not fatal:
// the device keeps publishing and the operator can retry through the API.
func manage(ctx context.Context, engine *dm.Engine, cfg config.ManagementConfig, log *logging.Logger) {
	resp, err := engine.Manage(ctx, cfg.Lifetime, cfg.DeviceActions, cfg.FirmwareActions)
	switch {
	case err == nil:
		log.Info("device managed", "req_id", resp.ReqID, "lifetime", cfg.Lifetime)
	case ctx.Err() != nil:
	default:
		log.Error("manage request failed", "rc", int(resp.Code), "error", err)
	}
}

// connectInflux returns nil when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{
		"device_type": cfg.Device.Type,
		"device_id":   cfg.Device.ID,
	})
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(writeErr error) {
		log.Warn("InfluxDB write failed", "error", writeErr)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses IOTDM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

func deviceInfo(c config.DeviceInfoConfig) dm.DeviceInfo {
	return dm.DeviceInfo{
		SerialNumber:        c.SerialNumber,
		Manufacturer:        c.Manufacturer,
		Model:               c.Model,
		DeviceClass:         c.DeviceClass,
		Description:         c.Description,
		FWVersion:           c.FWVersion,
		HWVersion:           c.HWVersion,
		DescriptiveLocation: c.DescriptiveLocation,
	}
}

// encodeMetadata renders the metadata section as the JSON object sent with
// the manage request. Empty metadata yields nil.
func encodeMetadata(md map[string]any) (json.RawMessage, error) {
	if len(md) == 0 {
		return nil, nil
	}
	return json.Marshal(md)
}

// mqttTransport adapts the MQTT client to the engine's transport.
type mqttTransport struct {
	client *mqtt.Client
}

func (t *mqttTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return t.client.Publish(topic, payload, qos, retained)
}

func (t *mqttTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return t.client.Subscribe(topic, qos, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

func (t *mqttTransport) IsConnected() bool {
	return t.client.IsConnected()
}
