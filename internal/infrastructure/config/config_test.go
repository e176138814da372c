package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "bridge-test"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
cloud:
  topic_prefix: "acme/cloud"
lan:
  enabled: true
  timeout: 1500
  heartbeat_interval: 15
  absent_after: 2
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
devices:
  - id: "1000aa01"
    name: "Lounge Blind"
    kind: actuator
    family: cover
    api_key: "key-1"
    operation_time: 20.5
    local_address: "192.168.1.40:8081"
    motion: position
    report:
      current: currLocation
      target: location
  - id: "1000aa02"
    name: "Garage"
    kind: actuator
    family: garage_door
    operation_time: 15
    motion: pulse
    sensor:
      param: lock
      open_value: 1
      open_position: 100
      closed_position: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "bridge-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "bridge-test")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Cloud.TopicPrefix != "acme/cloud" {
		t.Errorf("Cloud.TopicPrefix = %q, want %q", cfg.Cloud.TopicPrefix, "acme/cloud")
	}
	if got := cfg.GetLocalTimeout(); got != 1500*time.Millisecond {
		t.Errorf("GetLocalTimeout() = %v, want 1.5s", got)
	}
	if got := cfg.GetHeartbeatInterval(); got != 15*time.Second {
		t.Errorf("GetHeartbeatInterval() = %v, want 15s", got)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	blind := cfg.Devices[0]
	if got := blind.GetOperationTime(); got != 20500*time.Millisecond {
		t.Errorf("GetOperationTime() = %v, want 20.5s", got)
	}
	if blind.Report == nil || blind.Report.Current != "currLocation" {
		t.Errorf("Report = %+v, want current field currLocation", blind.Report)
	}
	garage := cfg.Devices[1]
	if garage.Sensor == nil || garage.Sensor.Param != "lock" || garage.Sensor.OpenPosition != 100 {
		t.Errorf("Sensor = %+v, want lock sensor opening at 100", garage.Sensor)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"local timeout", cfg.GetLocalTimeout(), 2 * time.Second},
		{"cloud timeout", cfg.GetCloudTimeout(), 5 * time.Second},
		{"revert delay", cfg.GetRevertDelay(), 3 * time.Second},
		{"default debounce", cfg.GetDefaultDebounce(), 400 * time.Millisecond},
		{"echo window", cfg.GetEchoWindow(), 5 * time.Second},
		{"read timeout", cfg.GetReadTimeout(), 30 * time.Second},
		{"idle timeout", cfg.GetIdleTimeout(), 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if cfg.Cloud.TopicPrefix != "relaysync/cloud" {
		t.Errorf("Cloud.TopicPrefix = %q, want relaysync/cloud", cfg.Cloud.TopicPrefix)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "invalid: [yaml: content")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/from-file.db"
security:
  jwt:
    secret: "file-secret-that-is-long-enough-000"
`)

	t.Setenv("RELAYSYNC_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("RELAYSYNC_MQTT_HOST", "env-broker")
	t.Setenv("RELAYSYNC_JWT_SECRET", testSecret)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/from-env.db")
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "env-broker")
	}
	if cfg.Security.JWT.Secret != testSecret {
		t.Errorf("Security.JWT.Secret = %q, want env value", cfg.Security.JWT.Secret)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing bridge id", func(c *Config) { c.Bridge.ID = "" }, "bridge.id"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"empty topic prefix", func(c *Config) { c.Cloud.TopicPrefix = "" }, "cloud.topic_prefix"},
		{"zero heartbeat", func(c *Config) { c.LAN.HeartbeatInterval = 0 }, "lan.heartbeat_interval"},
		{"lan disabled skips lan checks", func(c *Config) {
			c.LAN.Enabled = false
			c.LAN.HeartbeatInterval = 0
		}, ""},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"missing secret", func(c *Config) { c.Security.JWT.Secret = "" }, "security.jwt.secret is required"},
		{"short secret", func(c *Config) { c.Security.JWT.Secret = "short" }, "at least 32 characters"},
		{"duplicate device", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "a"}, {ID: "a"}}
		}, "duplicated"},
		{"device without id", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "x"}}
		}, "devices[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = testSecret
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
