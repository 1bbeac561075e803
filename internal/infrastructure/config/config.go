package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Waterline.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// The same file format serves all three binaries (agent, bridge, core); each
// reads only the sections it needs.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Agent      AgentConfig      `yaml:"agent"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Controller ControllerConfig `yaml:"controller"`
}

// DatabaseConfig contains SQLite database settings for the backend controller.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
//
// The bridge ignores this section and presents the provisioned device
// credential pair instead (see the identity package).
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings for the backend controller.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket live-feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the
// water-level time series sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AgentConfig contains device agent settings.
type AgentConfig struct {
	// ListenAddr is the address the agent's short-range channel listens on.
	ListenAddr string `yaml:"listen_addr"`

	// CredentialsPath is the path to the provisioned device credential file.
	CredentialsPath string `yaml:"credentials_path"`

	// ThresholdCachePath is where the agent persists its cached threshold set
	// so it survives restarts. Empty disables persistence.
	ThresholdCachePath string `yaml:"threshold_cache_path"`

	// SamplePeriod is the fixed sampling/control period in seconds.
	SamplePeriod int `yaml:"sample_period"`

	// Tank describes the tank geometry used to convert raw sensor distance
	// into a water level.
	Tank TankConfig `yaml:"tank"`

	// SimulateSensor replaces the hardware sensor with a simulated one.
	SimulateSensor bool `yaml:"simulate_sensor"`
}

// TankConfig describes tank geometry in centimetres.
//
// The ultrasonic sensor measures the distance from the sensor head down to
// the water surface; the water level is derived from the tank height and
// the sensor's offset above the rim.
type TankConfig struct {
	HeightCM       float64 `yaml:"height_cm"`
	SensorOffsetCM float64 `yaml:"sensor_offset_cm"`
}

// BridgeConfig contains store-and-forward relay settings.
type BridgeConfig struct {
	// DeviceAddr is the address of the device agent's short-range channel.
	DeviceAddr string `yaml:"device_addr"`

	// CredentialsPath is the path to the device credential file; the bridge
	// presents the same credential pair to the broker as the device owns.
	CredentialsPath string `yaml:"credentials_path"`

	// UplinkBuffer is the capacity of the device-to-broker buffer.
	UplinkBuffer int `yaml:"uplink_buffer"`

	// DownlinkBuffer is the capacity of the broker-to-device buffer.
	DownlinkBuffer int `yaml:"downlink_buffer"`

	// TelemetryStaleness is the maximum age in seconds of buffered telemetry
	// that is still worth delivering after a broker reconnect.
	TelemetryStaleness int `yaml:"telemetry_staleness"`

	// Reconnect bounds the short-range link retry backoff.
	Reconnect BridgeReconnectConfig `yaml:"reconnect"`

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	// Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BridgeReconnectConfig bounds the short-range link retry backoff (seconds).
type BridgeReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ControllerConfig contains backend reconciliation settings.
type ControllerConfig struct {
	// ConfirmationTimeout is how long in seconds a manual pump command may
	// remain unconfirmed before its request flag is auto-cleared.
	ConfirmationTimeout int `yaml:"confirmation_timeout"`

	// HistoryLimit caps the number of telemetry rows returned per query.
	HistoryLimit int `yaml:"history_limit"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WATERLINE_SECTION_KEY
// For example: WATERLINE_DATABASE_PATH, WATERLINE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/waterline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "waterline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Agent: AgentConfig{
			ListenAddr:         "127.0.0.1:7420",
			CredentialsPath:    "./data/device.json",
			ThresholdCachePath: "./data/thresholds.json",
			SamplePeriod:       5,
			Tank: TankConfig{
				HeightCM:       100,
				SensorOffsetCM: 5,
			},
			SimulateSensor: true,
		},
		Bridge: BridgeConfig{
			DeviceAddr:         "127.0.0.1:7420",
			CredentialsPath:    "./data/device.json",
			UplinkBuffer:       256,
			DownlinkBuffer:     64,
			TelemetryStaleness: 60,
			Reconnect: BridgeReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		Controller: ControllerConfig{
			ConfirmationTimeout: 30,
			HistoryLimit:        500,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WATERLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WATERLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("WATERLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WATERLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WATERLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("WATERLINE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("WATERLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("WATERLINE_AGENT_LISTEN_ADDR"); v != "" {
		cfg.Agent.ListenAddr = v
	}
	if v := os.Getenv("WATERLINE_BRIDGE_DEVICE_ADDR"); v != "" {
		cfg.Bridge.DeviceAddr = v
	}
	if v := os.Getenv("WATERLINE_CREDENTIALS_PATH"); v != "" {
		cfg.Agent.CredentialsPath = v
		cfg.Bridge.CredentialsPath = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Agent.SamplePeriod < 1 {
		errs = append(errs, "agent.sample_period must be at least 1 second")
	}
	if c.Agent.Tank.HeightCM <= 0 {
		errs = append(errs, "agent.tank.height_cm must be positive")
	}
	if c.Agent.Tank.SensorOffsetCM < 0 {
		errs = append(errs, "agent.tank.sensor_offset_cm cannot be negative")
	}

	if c.Bridge.UplinkBuffer < 1 {
		errs = append(errs, "bridge.uplink_buffer must be at least 1")
	}
	if c.Bridge.DownlinkBuffer < 1 {
		errs = append(errs, "bridge.downlink_buffer must be at least 1")
	}
	if c.Bridge.Reconnect.InitialDelay < 1 {
		errs = append(errs, "bridge.reconnect.initial_delay must be at least 1 second")
	}
	if c.Bridge.Reconnect.MaxDelay < c.Bridge.Reconnect.InitialDelay {
		errs = append(errs, "bridge.reconnect.max_delay must be >= initial_delay")
	}

	if c.Controller.ConfirmationTimeout < 1 {
		errs = append(errs, "controller.confirmation_timeout must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetSamplePeriod returns the agent sampling period as a Duration.
func (c *AgentConfig) GetSamplePeriod() time.Duration {
	return time.Duration(c.SamplePeriod) * time.Second
}

// GetTelemetryStaleness returns the telemetry staleness window as a Duration.
func (c *BridgeConfig) GetTelemetryStaleness() time.Duration {
	return time.Duration(c.TelemetryStaleness) * time.Second
}

// GetInitialDelay returns the link reconnect initial backoff as a Duration.
func (c *BridgeReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(c.InitialDelay) * time.Second
}

// GetMaxDelay returns the link reconnect backoff cap as a Duration.
func (c *BridgeReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(c.MaxDelay) * time.Second
}

// GetConfirmationTimeout returns the manual command confirmation window as a Duration.
func (c *ControllerConfig) GetConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeout) * time.Second
}
