// Waterline bridge.
//
// The bridge is a transparent store-and-forward relay between one device
// agent's short-range channel and the MQTT broker. It holds no business
// logic: uplink messages are buffered while the broker is away, downlink
// commands are buffered while the device is away, and a snapshot handshake
// resynchronises state after every link reconnect.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waterline-io/waterline-core/internal/bridge"
	"github.com/waterline-io/waterline-core/internal/identity"
	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
	"github.com/waterline-io/waterline-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// defaultConfigPath is used when WATERLINE_CONFIG is not set.
const defaultConfigPath = "configs/config.yaml"

// metricsShutdownTimeout bounds the metrics listener shutdown.
const metricsShutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default("waterline-bridge")
	log.Info("starting Waterline bridge", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, "waterline-bridge", version)
	log.Info("configuration loaded", "path", configPath)

	// The bridge authenticates to the broker as the device it relays for,
	// using the provisioned credential pair.
	creds, err := identity.Load(cfg.Bridge.CredentialsPath)
	if err != nil {
		return fmt.Errorf("loading device credentials: %w", err)
	}
	cfg.MQTT.Auth.Username = creds.DeviceID
	cfg.MQTT.Auth.Password = creds.DeviceKey
	cfg.MQTT.Broker.ClientID = "waterline-bridge-" + creds.DeviceID
	log.Info("device identity loaded", "device_id", creds.DeviceID)

	broker, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := broker.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	broker.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected, buffering uplink", "error", err)
	})

	if metricsSrv := bridge.StartMetricsServer(cfg.Bridge.MetricsAddr, func(err error) {
		log.Error("metrics server error", "error", err)
	}); metricsSrv != nil {
		log.Info("metrics server started", "address", cfg.Bridge.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			//nolint:errcheck // Best-effort shutdown on exit
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	relay := bridge.New(cfg.Bridge, creds.DeviceID, broker, bridge.DialLink,
		byte(cfg.MQTT.QoS), log)

	log.Info("bridge running",
		"device_addr", cfg.Bridge.DeviceAddr,
		"uplink_buffer", cfg.Bridge.UplinkBuffer,
		"downlink_buffer", cfg.Bridge.DownlinkBuffer)
	return relay.Run(ctx)
}

// getConfigPath returns the configuration file path.
// Uses WATERLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WATERLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
