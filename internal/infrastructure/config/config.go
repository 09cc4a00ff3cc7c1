package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Hyperion bridge.
// Configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Hyperion  HyperionConfig  `yaml:"hyperion" toml:"hyperion"`
	API       APIConfig       `yaml:"api" toml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" toml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Security  SecurityConfig  `yaml:"security" toml:"security"`
}

// HyperionConfig contains the Hyperion server connection settings.
type HyperionConfig struct {
	Address  string `yaml:"address" toml:"address"`
	Port     int    `yaml:"port" toml:"port"`
	Priority int    `yaml:"priority" toml:"priority"`

	// Timeouts in seconds. RequestTimeout bounds one command exchange
	// issued by the HTTP and MQTT surfaces.
	ConnectTimeout int `yaml:"connect_timeout" toml:"connect_timeout"`
	WriteTimeout   int `yaml:"write_timeout" toml:"write_timeout"`
	RequestTimeout int `yaml:"request_timeout" toml:"request_timeout"`

	// MaxFrameSize bounds one inbound line in bytes.
	MaxFrameSize int `yaml:"max_frame_size" toml:"max_frame_size"`

	// ConnectOnStart makes startup fail if the server is unreachable.
	ConnectOnStart bool `yaml:"connect_on_start" toml:"connect_on_start"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled" toml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS            int                 `yaml:"qos" toml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	HealthInterval int                 `yaml:"health_interval" toml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts" toml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" toml:"host"`
	Port     int              `yaml:"port" toml:"port"`
	TLS      TLSConfig        `yaml:"tls" toml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors" toml:"cors"`
	Routes   RoutesConfig     `yaml:"routes" toml:"routes"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle" toml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" toml:"allowed_headers"`
}

// RoutesConfig holds the paths of the short control routes served at the
// root of the HTTP server.
type RoutesConfig struct {
	Info   string `yaml:"info" toml:"info"`
	On     string `yaml:"on" toml:"on"`
	Off    string `yaml:"off" toml:"off"`
	Status string `yaml:"status" toml:"status"`
	Ping   string `yaml:"ping" toml:"ping"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level" toml:"level"`
	Format string            `yaml:"format" toml:"format"`
	Output string            `yaml:"output" toml:"output"`
	File   FileLoggingConfig `yaml:"file" toml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// An empty Path disables file logging.
type FileLoggingConfig struct {
	Path       string `yaml:"path" toml:"path"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt" toml:"jwt"`
}

// JWTConfig contains bearer token settings. Authentication is enabled
// when Secret is set.
type JWTConfig struct {
	Secret string `yaml:"secret" toml:"secret"`
	Issuer string `yaml:"issuer" toml:"issuer"`
}

// Load reads configuration from a YAML or TOML file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); skipped when path is empty
//  3. Environment variables (override file values)
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
//
// Parameters:
//   - path: Path to the configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hyperion: HyperionConfig{
			Address:        "192.168.0.1",
			Port:           19444,
			Priority:       1000,
			ConnectTimeout: 10,
			WriteTimeout:   5,
			RequestTimeout: 10,
			MaxFrameSize:   1 << 20,
			ConnectOnStart: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Routes: RoutesConfig{
				Info:   "/hyperion-info",
				On:     "/hyperion-on",
				Off:    "/hyperion-off",
				Status: "/hyperion-status",
				Ping:   "/hyperion-ping",
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hyperion-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "hyperion",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "hyperion-bridge",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
//
// The short HYPERION_* and SERVER_PORT names are honoured for existing
// deployments. Everything else follows the pattern HYPERIONBRIDGE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not an integer", name, v))
			return
		}
		*dst = n
	}
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// Hyperion
	setString("HYPERION_ADDRESS", &cfg.Hyperion.Address)
	setInt("HYPERION_PORT", &cfg.Hyperion.Port)
	setInt("HYPERION_PRIORITY", &cfg.Hyperion.Priority)

	// API
	setInt("SERVER_PORT", &cfg.API.Port)
	setString("HYPERIONBRIDGE_API_HOST", &cfg.API.Host)

	// MQTT
	if v := os.Getenv("HYPERIONBRIDGE_MQTT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("HYPERIONBRIDGE_MQTT_ENABLED=%q is not a boolean", v))
		} else {
			cfg.MQTT.Enabled = enabled
		}
	}
	setString("HYPERIONBRIDGE_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("HYPERIONBRIDGE_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("HYPERIONBRIDGE_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// InfluxDB
	setString("HYPERIONBRIDGE_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("HYPERIONBRIDGE_LOG_LEVEL", &cfg.Logging.Level)

	// Security
	setString("HYPERIONBRIDGE_JWT_SECRET", &cfg.Security.JWT.Secret)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Hyperion validation
	if strings.TrimSpace(c.Hyperion.Address) == "" {
		errs = append(errs, "hyperion.address is required")
	}
	if c.Hyperion.Port < 1 || c.Hyperion.Port > 65535 {
		errs = append(errs, "hyperion.port must be between 1 and 65535")
	}
	if c.Hyperion.Priority < 0 {
		errs = append(errs, "hyperion.priority must not be negative")
	}
	if c.Hyperion.RequestTimeout < 0 {
		errs = append(errs, "hyperion.request_timeout must not be negative")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if net.ParseIP(c.API.Host) == nil && c.API.Host != "" && c.API.Host != "localhost" {
		errs = append(errs, "api.host must be an IP address or localhost")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}
	errs = append(errs, c.API.Routes.validate()...)

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Security validation. An empty secret disables authentication; a
	// short one is rejected because it would allow forged tokens.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (r RoutesConfig) validate() []string {
	var errs []string
	seen := make(map[string]string)
	routes := []struct{ name, path string }{
		{"info", r.Info}, {"on", r.On}, {"off", r.Off}, {"status", r.Status}, {"ping", r.Ping},
	}
	for _, rt := range routes {
		name, path := rt.name, rt.path
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, fmt.Sprintf("api.routes.%s must start with /", name))
			continue
		}
		if strings.HasPrefix(path, "/api/") {
			errs = append(errs, fmt.Sprintf("api.routes.%s must not be under /api/", name))
		}
		if other, ok := seen[path]; ok {
			errs = append(errs, fmt.Sprintf("api.routes.%s duplicates api.routes.%s", name, other))
		}
		seen[path] = name
	}
	return errs
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

// GetConnectTimeout returns the Hyperion dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Hyperion.ConnectTimeout) * time.Second
}

// GetHyperionWriteTimeout returns the Hyperion frame write timeout as a Duration.
func (c *Config) GetHyperionWriteTimeout() time.Duration {
	return time.Duration(c.Hyperion.WriteTimeout) * time.Second
}

// GetRequestTimeout returns the per-command deadline used by the HTTP and
// MQTT surfaces. Zero means no deadline.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Hyperion.RequestTimeout) * time.Second
}

// GetHealthInterval returns the MQTT health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
}
