package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for relaysync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Cloud     CloudConfig     `yaml:"cloud"`
	LAN       LANConfig       `yaml:"lan"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the cloud relay broker connection settings.
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
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// CloudConfig contains cloud transport settings.
type CloudConfig struct {
	// TopicPrefix is the root of every cloud relay topic.
	TopicPrefix string `yaml:"topic_prefix"`

	// CommandTimeout bounds one command round trip (milliseconds).
	CommandTimeout int `yaml:"command_timeout"`
}

// LANConfig contains local transport settings.
type LANConfig struct {
	Enabled bool `yaml:"enabled"`

	// Port is used for device addresses configured without one.
	Port int `yaml:"port"`

	// Timeout bounds one local delivery (milliseconds).
	Timeout int `yaml:"timeout"`

	// HeartbeatInterval is the probe period (seconds).
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// AbsentAfter is the number of consecutive failed probes before a
	// device is declared absent on the LAN.
	AbsentAfter int `yaml:"absent_after"`
}

// ActuatorConfig contains actuator engine settings.
type ActuatorConfig struct {
	// RevertDelay is how long after a failed command the host-facing state
	// is re-emitted (milliseconds).
	RevertDelay int `yaml:"revert_delay"`

	// DefaultDebounce is the quiet period applied to slider targets when
	// the host does not send one (milliseconds).
	DefaultDebounce int `yaml:"default_debounce"`

	// EchoWindow is how long after a delivery a repeat of the command is
	// treated as its echo (milliseconds).
	EchoWindow int `yaml:"echo_window"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for delivery telemetry.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// DeviceConfig is one entry of the device inventory.
type DeviceConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Kind             string `yaml:"kind"`
	Family           string `yaml:"family"`
	APIKey           string `yaml:"api_key"`
	Channels         int    `yaml:"channels"`
	LocalAddress     string `yaml:"local_address"`
	LocalUnsupported bool   `yaml:"local_unsupported"`

	// OperationTime is the full-travel time in seconds (actuators).
	OperationTime float64 `yaml:"operation_time"`

	Motion          string        `yaml:"motion"`
	InitialPosition int           `yaml:"initial_position"`
	Sensor          *SensorConfig `yaml:"sensor"`
	Report          *ReportConfig `yaml:"report"`
}

// SensorConfig maps an attached sensor's reading to a position.
type SensorConfig struct {
	Param          string `yaml:"param"`
	OpenValue      any    `yaml:"open_value"`
	OpenPosition   int    `yaml:"open_position"`
	ClosedPosition int    `yaml:"closed_position"`
}

// ReportConfig names a self-reporting actuator's position fields.
type ReportConfig struct {
	Current string `yaml:"current"`
	Target  string `yaml:"target"`
}

// GetOperationTime returns the full-travel time as a Duration.
func (d DeviceConfig) GetOperationTime() time.Duration {
	return time.Duration(d.OperationTime * float64(time.Second))
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYSYNC_SECTION_KEY
// For example: RELAYSYNC_DATABASE_PATH, RELAYSYNC_MQTT_HOST
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
		Bridge: BridgeConfig{
			ID:   "relaysync-01",
			Name: "relaysync",
		},
		Database: DatabaseConfig{
			Path:        "./data/relaysync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaysync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Cloud: CloudConfig{
			TopicPrefix:    "relaysync/cloud",
			CommandTimeout: 5000,
		},
		LAN: LANConfig{
			Enabled:           true,
			Port:              8081,
			Timeout:           2000,
			HeartbeatInterval: 30,
			AbsentAfter:       3,
		},
		Actuator: ActuatorConfig{
			RevertDelay:     3000,
			DefaultDebounce: 400,
			EchoWindow:      5000,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{Issuer: "relaysync"},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"RELAYSYNC_DATABASE_PATH", &cfg.Database.Path},
		{"RELAYSYNC_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"RELAYSYNC_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"RELAYSYNC_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"RELAYSYNC_API_HOST", &cfg.API.Host},
		{"RELAYSYNC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		// Always override the JWT secret in production.
		{"RELAYSYNC_JWT_SECRET", &cfg.Security.JWT.Secret},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Cloud.TopicPrefix == "" {
		errs = append(errs, "cloud.topic_prefix is required")
	}
	if c.Cloud.CommandTimeout <= 0 {
		errs = append(errs, "cloud.command_timeout must be positive")
	}
	if c.LAN.Enabled {
		if c.LAN.Port < 1 || c.LAN.Port > 65535 {
			errs = append(errs, "lan.port must be between 1 and 65535")
		}
		if c.LAN.Timeout <= 0 {
			errs = append(errs, "lan.timeout must be positive")
		}
		if c.LAN.HeartbeatInterval <= 0 {
			errs = append(errs, "lan.heartbeat_interval must be positive")
		}
		if c.LAN.AbsentAfter < 1 {
			errs = append(errs, "lan.absent_after must be at least 1")
		}
	}
	if c.Actuator.RevertDelay < 0 || c.Actuator.DefaultDebounce < 0 || c.Actuator.EchoWindow < 0 {
		errs = append(errs, "actuator delays must not be negative")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The API drives physical doors and valves; a weak secret would let
	// anyone on the network forge host tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set RELAYSYNC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// GetLocalTimeout returns the bound on one local delivery.
func (c *Config) GetLocalTimeout() time.Duration { return millis(c.LAN.Timeout) }

// GetCloudTimeout returns the bound on one cloud round trip.
func (c *Config) GetCloudTimeout() time.Duration { return millis(c.Cloud.CommandTimeout) }

// GetHeartbeatInterval returns the LAN probe period.
func (c *Config) GetHeartbeatInterval() time.Duration { return seconds(c.LAN.HeartbeatInterval) }

// GetRevertDelay returns the delay before a failed intent is reverted.
func (c *Config) GetRevertDelay() time.Duration { return millis(c.Actuator.RevertDelay) }

// GetEchoWindow returns how long a delivered command is remembered for
// echo detection.
func (c *Config) GetEchoWindow() time.Duration { return millis(c.Actuator.EchoWindow) }

// GetDefaultDebounce returns the default slider quiet period.
func (c *Config) GetDefaultDebounce() time.Duration { return millis(c.Actuator.DefaultDebounce) }
