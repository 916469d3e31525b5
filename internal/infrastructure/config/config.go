package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for an orchestrator node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Transport  TransportConfig  `yaml:"transport"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Tree       TreeConfig       `yaml:"tree"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Provision  ProvisionConfig  `yaml:"provision"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// NodeConfig identifies this process within a deployment.
type NodeConfig struct {
	// Host is the name other nodes use to ask this node to launch devices.
	Host string `yaml:"host"`
}

// TransportConfig selects how device ports reach each other.
type TransportConfig struct {
	// Kind is "memory" (single process) or "mqtt" (via the broker).
	Kind string `yaml:"kind"`

	// DialTimeout is how long a dial waits for the remote accept (seconds).
	DialTimeout int `yaml:"dial_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for lifecycle telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the lifecycle history store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains HTTP command and status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read    int `yaml:"read"`
	Write   int `yaml:"write"`
	Idle    int `yaml:"idle"`
	Command int `yaml:"command"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains telemetry stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DispatcherConfig tunes buffered delivery of outgoing protocol events (seconds).
type DispatcherConfig struct {
	RetryPeriod  int `yaml:"retry_period"`
	RetryTimeout int `yaml:"retry_timeout"`
}

// TreeConfig tunes parent connections.
type TreeConfig struct {
	// ReconnectBackoff is the fixed delay before redialling a parent (seconds).
	ReconnectBackoff int `yaml:"reconnect_backoff"`
}

// LifecycleConfig tunes the state machine.
type LifecycleConfig struct {
	// TransitionTimeout bounds CLAIMING, PREPARING and RELEASING (seconds).
	// Individual devices may override it with lifecycle.timeout.
	TransitionTimeout int `yaml:"transition_timeout"`
}

// ProvisionConfig selects where device configuration blobs live.
type ProvisionConfig struct {
	// Store is "file", "mqtt" or "memory".
	Store string `yaml:"store"`

	// Dir holds <ref>.yaml blobs for the file store.
	Dir string `yaml:"dir"`

	// FetchTimeout bounds a blob fetch from the MQTT store (seconds).
	FetchTimeout int `yaml:"fetch_timeout"`
}

// TelemetryConfig selects which sinks receive state and schedule changes.
type TelemetryConfig struct {
	Log     bool `yaml:"log"`
	MQTT    bool `yaml:"mqtt"`
	History bool `yaml:"history"`

	// HistoryRetention is how many days of history to keep. Zero keeps
	// everything.
	HistoryRetention int `yaml:"history_retention"`
}

// DeviceConfig names a root device to launch at startup.
type DeviceConfig struct {
	Name string `yaml:"name"`
	Ref  string `yaml:"ref"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ORCHESTRATOR_SECTION_KEY
// For example: ORCHESTRATOR_MQTT_HOST, ORCHESTRATOR_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the defaults every node starts from.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Host: "local",
		},
		Transport: TransportConfig{
			Kind:        "memory",
			DialTimeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "orchestrator",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "orchestrator",
			Bucket:        "lifecycle",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/orchestrator.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:    30,
				Write:   30,
				Idle:    60,
				Command: 10,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Dispatcher: DispatcherConfig{
			RetryPeriod:  10,
			RetryTimeout: 3600,
		},
		Tree: TreeConfig{
			ReconnectBackoff: 3,
		},
		Lifecycle: LifecycleConfig{
			TransitionTimeout: 60,
		},
		Provision: ProvisionConfig{
			Store:        "file",
			Dir:          "./configs/devices",
			FetchTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			Log:              true,
			HistoryRetention: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ORCHESTRATOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATOR_NODE_HOST"); v != "" {
		cfg.Node.Host = v
	}
	if v := os.Getenv("ORCHESTRATOR_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}

	// MQTT
	if v := os.Getenv("ORCHESTRATOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ORCHESTRATOR_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ORCHESTRATOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ORCHESTRATOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ORCHESTRATOR_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("ORCHESTRATOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("ORCHESTRATOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("ORCHESTRATOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ORCHESTRATOR_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Host == "" {
		errs = append(errs, "node.host is required")
	}

	switch c.Transport.Kind {
	case "memory":
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, "transport.kind mqtt requires mqtt.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be memory or mqtt, got %q", c.Transport.Kind))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if (c.Database.Enabled || c.Telemetry.History) && c.Database.Path == "" {
		errs = append(errs, "database.path is required for lifecycle history")
	}
	if c.Telemetry.History && !c.Database.Enabled {
		errs = append(errs, "telemetry.history requires database.enabled")
	}
	if c.Telemetry.HistoryRetention < 0 {
		errs = append(errs, "telemetry.history_retention must not be negative")
	}
	if c.Telemetry.MQTT && !c.MQTT.Enabled {
		errs = append(errs, "telemetry.mqtt requires mqtt.enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Dispatcher.RetryPeriod <= 0 {
		errs = append(errs, "dispatcher.retry_period must be positive")
	}
	if c.Dispatcher.RetryTimeout < c.Dispatcher.RetryPeriod {
		errs = append(errs, "dispatcher.retry_timeout must not be shorter than retry_period")
	}
	if c.Tree.ReconnectBackoff <= 0 {
		errs = append(errs, "tree.reconnect_backoff must be positive")
	}
	if c.Lifecycle.TransitionTimeout <= 0 {
		errs = append(errs, "lifecycle.transition_timeout must be positive")
	}

	switch c.Provision.Store {
	case "memory":
	case "file":
		if c.Provision.Dir == "" {
			errs = append(errs, "provision.dir is required for the file store")
		}
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, "provision.store mqtt requires mqtt.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("provision.store must be file, mqtt or memory, got %q", c.Provision.Store))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// seconds converts a whole number of seconds into a Duration.
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RetryPeriodDuration returns the dispatcher retry period.
func (c DispatcherConfig) RetryPeriodDuration() time.Duration { return seconds(c.RetryPeriod) }

// RetryTimeoutDuration returns the dispatcher age limit.
func (c DispatcherConfig) RetryTimeoutDuration() time.Duration { return seconds(c.RetryTimeout) }

// BackoffDuration returns the parent reconnect backoff.
func (c TreeConfig) BackoffDuration() time.Duration { return seconds(c.ReconnectBackoff) }

// TimeoutDuration returns the default transition timeout.
func (c LifecycleConfig) TimeoutDuration() time.Duration { return seconds(c.TransitionTimeout) }

// DialTimeoutDuration returns the transport dial timeout.
func (c TransportConfig) DialTimeoutDuration() time.Duration { return seconds(c.DialTimeout) }

// FetchTimeoutDuration returns the MQTT store fetch timeout.
func (c ProvisionConfig) FetchTimeoutDuration() time.Duration { return seconds(c.FetchTimeout) }

// CommandTimeout returns how long the API waits for a device to answer.
func (c APIConfig) CommandTimeout() time.Duration { return seconds(c.Timeouts.Command) }

// RetentionDuration returns how long history is kept, or zero for forever.
func (c TelemetryConfig) RetentionDuration() time.Duration {
	return time.Duration(c.HistoryRetention) * 24 * time.Hour
}
