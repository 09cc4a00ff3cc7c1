// Hyperion Bridge
//
// Exposes a Hyperion LED server (JSON-over-TCP, port 19444) over HTTP,
// WebSocket and MQTT so home-automation systems can switch ambient
// lighting with plain requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/hyperion-bridge/internal/api"
	"github.com/nerrad567/hyperion-bridge/internal/bridges/hyperion"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/config"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/mqtt"
)

// Version information, set at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "HYPERIONBRIDGE_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Hyperion bridge", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	client := hyperion.NewClient(hyperion.ClientConfig{
		Priority:       cfg.Hyperion.Priority,
		ConnectTimeout: cfg.GetConnectTimeout(),
		WriteTimeout:   cfg.GetHyperionWriteTimeout(),
		MaxFrameSize:   cfg.Hyperion.MaxFrameSize,
	})
	client.SetLogger(log)

	influx := connectInflux(cfg, log)
	if influx != nil {
		client.SetRecorder(influx)
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	var (
		mqttClient *mqtt.Client
		bridge     *hyperion.Bridge
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID)

		bridge, err = hyperion.NewBridge(hyperion.BridgeOptions{
			BridgeID:       cfg.MQTT.Broker.ClientID,
			Version:        version,
			MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
			Controller:     client,
			Address:        cfg.Hyperion.Address,
			Port:           cfg.Hyperion.Port,
			CommandTimeout: cfg.GetRequestTimeout(),
			HealthInterval: cfg.GetHealthInterval(),
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	client.SetOnStateChange(stateFanout(log, hub, influx, bridge))

	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer bridge.Stop()
	}

	// Registered after every state sink so the final disconnected state
	// still reaches them.
	defer func() {
		if disconnectErr := client.Disconnect(); disconnectErr != nil {
			log.Error("error disconnecting from hyperion", "error", disconnectErr)
		}
	}()

	if cfg.Hyperion.ConnectOnStart {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
		err := client.Connect(connectCtx, cfg.Hyperion.Address, cfg.Hyperion.Port)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to hyperion at %s:%d: %w", cfg.Hyperion.Address, cfg.Hyperion.Port, err)
		}
	}

	deps := api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Logger:         log,
		Hyperion:       client,
		Address:        cfg.Hyperion.Address,
		Port:           cfg.Hyperion.Port,
		RequestTimeout: cfg.GetRequestTimeout(),
		Hub:            hub,
		Version:        version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
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

	if err := healthCheck(ctx, client, mqttClient, influx); err != nil {
		log.Warn("initial health check reported problems", "error", err)
	}

	log.Info("Hyperion bridge running",
		"hyperion", fmt.Sprintf("%s:%d", cfg.Hyperion.Address, cfg.Hyperion.Port),
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the config path from HYPERIONBRIDGE_CONFIG or
// the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux returns nil when InfluxDB is disabled or unreachable;
// telemetry is optional.
func connectInflux(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	influx, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry disabled", "url", cfg.InfluxDB.URL, "error", err)
		return nil
	}
	influx.SetOnError(func(err error) {
		log.Warn("InfluxDB write failed", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return influx
}

// stateFanout builds the client's state-change callback. Every sink is
// optional.
func stateFanout(log *logging.Logger, hub *api.Hub, influx *influxdb.Client, bridge *hyperion.Bridge) func(hyperion.StateChange) {
	return func(change hyperion.StateChange) {
		reason := ""
		if change.Err != nil {
			reason = change.Err.Error()
		}
		log.Info("hyperion state changed",
			"state", change.State.String(),
			"previous", change.Previous.String(),
			"address", change.Address,
			"reason", reason)

		if hub != nil {
			hub.BroadcastStateChange(change)
		}
		if influx != nil {
			influx.RecordConnection(change.State.String(), change.Address, reason)
		}
		if bridge != nil {
			bridge.PublishState(change)
		}
	}
}

// healthCheck probes each connected component once.
func healthCheck(ctx context.Context, client *hyperion.Client, mqttClient *mqtt.Client, influx *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("hyperion: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts *mqtt.Client to hyperion.MQTTClient. Bridge
// handlers return nothing; the infrastructure client expects an error.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
