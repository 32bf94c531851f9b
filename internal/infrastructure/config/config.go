package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the sideband daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Filter    FilterConfig    `yaml:"filter"`
	Control   ControlConfig   `yaml:"control"`
	Hotplug   HotplugConfig   `yaml:"hotplug"`
	Database  DatabaseConfig  `yaml:"database"`
	Audit     AuditConfig     `yaml:"audit"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies this daemon instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// FilterConfig contains instance registry settings.
type FilterConfig struct {
	// MaxInstances bounds the registry. 0 means unbounded.
	MaxInstances int `yaml:"max_instances"`

	// DefaultSerial is recorded when an instance's serial number cannot be read.
	DefaultSerial uint32 `yaml:"default_serial"`
}

// ControlConfig contains control channel settings.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
	AliasPath  string `yaml:"alias_path"`

	// Exclusive restricts the channel socket to its owner.
	Exclusive bool `yaml:"exclusive"`

	QueueDepth     int `yaml:"queue_depth"`
	RequestTimeout int `yaml:"request_timeout"` // seconds
}

// HotplugConfig contains settings for the MQTT attach/detach notification source.
type HotplugConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuditConfig contains lifecycle audit trail settings.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains admin HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SIDEBAND_SECTION_KEY
// For example: SIDEBAND_CONTROL_SOCKET_PATH, SIDEBAND_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "sideband-001",
			Name: "Sideband Filter",
		},
		Filter: FilterConfig{
			MaxInstances:  0,
			DefaultSerial: 0xFFFFFFFF,
		},
		Control: ControlConfig{
			SocketPath:     "/run/sideband/control.sock",
			AliasPath:      "/run/sideband/dev/sideband",
			Exclusive:      false,
			QueueDepth:     64,
			RequestTimeout: 5,
		},
		Hotplug: HotplugConfig{
			Enabled:     true,
			TopicPrefix: "sideband",
			QoS:         1,
		},
		Database: DatabaseConfig{
			Path:        "./data/sideband.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sidebandd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SIDEBAND_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Control channel
	if v := os.Getenv("SIDEBAND_CONTROL_SOCKET_PATH"); v != "" {
		cfg.Control.SocketPath = v
	}
	if v := os.Getenv("SIDEBAND_CONTROL_ALIAS_PATH"); v != "" {
		cfg.Control.AliasPath = v
	}
	if v := os.Getenv("SIDEBAND_CONTROL_EXCLUSIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SIDEBAND_CONTROL_EXCLUSIVE: %w", err)
		}
		cfg.Control.Exclusive = b
	}

	// Filter
	if v := os.Getenv("SIDEBAND_FILTER_MAX_INSTANCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIDEBAND_FILTER_MAX_INSTANCES: %w", err)
		}
		cfg.Filter.MaxInstances = n
	}

	// Database
	if v := os.Getenv("SIDEBAND_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SIDEBAND_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SIDEBAND_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SIDEBAND_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SIDEBAND_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SIDEBAND_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIDEBAND_API_PORT: %w", err)
		}
		cfg.API.Port = n
	}

	// InfluxDB
	if v := os.Getenv("SIDEBAND_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SIDEBAND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	// Filter
	if c.Filter.MaxInstances < 0 {
		errs = append(errs, "filter.max_instances must not be negative")
	}

	// Control channel
	if c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required")
	}
	if c.Control.AliasPath != "" && c.Control.AliasPath == c.Control.SocketPath {
		errs = append(errs, "control.alias_path must differ from control.socket_path")
	}
	if c.Control.QueueDepth < 1 {
		errs = append(errs, "control.queue_depth must be at least 1")
	}
	if c.Control.RequestTimeout < 1 {
		errs = append(errs, "control.request_timeout must be at least 1 second")
	}

	// Hotplug needs the bus
	if c.Hotplug.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "hotplug.enabled requires mqtt.enabled")
	}
	if c.Hotplug.Enabled && c.Hotplug.TopicPrefix == "" {
		errs = append(errs, "hotplug.topic_prefix is required")
	}
	if c.Hotplug.QoS < 0 || c.Hotplug.QoS > 2 {
		errs = append(errs, "hotplug.qos must be 0, 1, or 2")
	}

	// Database
	if c.Audit.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when audit is enabled")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
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

// GetRequestTimeout returns the control channel request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Control.RequestTimeout) * time.Second
}
