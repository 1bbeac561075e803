// Waterline device agent.
//
// The agent owns the pump. It samples the water level on a fixed period,
// applies the drain control loop against its cached thresholds,
// and speaks the framed JSON protocol over the short-range channel to
// whichever bridge is currently connected. It keeps working with no bridge
// attached; messages simply have nowhere to go until one connects.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/waterline-io/waterline-core/internal/agent"
	"github.com/waterline-io/waterline-core/internal/identity"
	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// defaultConfigPath is used when WATERLINE_CONFIG is not set.
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
func run(ctx context.Context) error {
	log := logging.Default("waterline-agent")
	log.Info("starting Waterline agent", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, "waterline-agent", version)
	log.Info("configuration loaded", "path", configPath)

	creds, err := identity.Load(cfg.Agent.CredentialsPath)
	if err != nil {
		return fmt.Errorf("loading device credentials: %w", err)
	}
	log.Info("device identity loaded", "device_id", creds.DeviceID)

	// Cached thresholds survive restarts. A missing cache is the
	// pre-provisioning state: autonomous control stays disabled until the
	// backend delivers a threshold set.
	cache := agent.NewThresholdCache(cfg.Agent.ThresholdCachePath)
	cached, err := cache.Load()
	if err != nil {
		log.Warn("discarding unreadable threshold cache", "error", err)
		cached = nil
	}
	if cached == nil {
		log.Info("no cached thresholds, autonomous control disabled until provisioned")
	} else {
		log.Info("cached thresholds loaded",
			"min_level", cached.MinLevel,
			"max_level", cached.MaxLevel,
			"version", cached.Version)
	}

	if !cfg.Agent.SimulateSensor {
		return errors.New("hardware sensor support is not built in, set agent.simulate_sensor: true")
	}
	tank := agent.NewSimulatedTank(cfg.Agent.Tank)
	reader := agent.NewLevelReader(tank, cfg.Agent.Tank)
	machine := agent.NewMachine(creds.DeviceID, tank, cached)

	srv, err := agent.New(cfg.Agent, machine, reader, cache, log)
	if err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	log.Info("agent running",
		"listen_addr", cfg.Agent.ListenAddr,
		"sample_period", cfg.Agent.GetSamplePeriod())
	return srv.Run(ctx)
}

// getConfigPath returns the configuration file path.
// Uses WATERLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WATERLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
