package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Values resolve in three layers:
// built-in defaults, then the YAML file, then SENSORD_* environment
// overrides.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Cloud    CloudConfig    `yaml:"cloud"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Scan     ScanConfig     `yaml:"scan"`
	History  HistoryConfig  `yaml:"history"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SENSORD_HOST"`
	Port int    `yaml:"port" env:"SENSORD_PORT"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"SENSORD_LOG_LEVEL"`
	Format     string `yaml:"format" env:"SENSORD_LOG_FORMAT"`
	Output     string `yaml:"output" env:"SENSORD_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"SENSORD_LOG_FILE_PREFIX"`
}

// DatabaseConfig configures the optional Postgres backend.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"SENSORD_DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"SENSORD_DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"SENSORD_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"SENSORD_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"SENSORD_DB_CONN_MAX_LIFETIME"`
}

// CloudConfig configures the vendor REST transport. An empty token disables
// the API transport entirely; cycles routed to it are skipped silently.
type CloudConfig struct {
	BaseURL           string `yaml:"base_url" env:"SENSORD_CLOUD_BASE_URL"`
	Token             string `yaml:"token" env:"SENSORD_CLOUD_TOKEN"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" env:"SENSORD_CLOUD_TIMEOUT"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"SENSORD_CLOUD_RPM"`
}

// MQTTConfig configures the optional MQTT presentation publisher. An empty
// broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker" env:"SENSORD_MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"SENSORD_MQTT_CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"SENSORD_MQTT_TOPIC_PREFIX"`
	Username    string `yaml:"username" env:"SENSORD_MQTT_USERNAME"`
	Password    string `yaml:"password" env:"SENSORD_MQTT_PASSWORD"`
}

// KafkaConfig configures the optional history egress. Brokers is a
// comma-separated list; empty disables the egress.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" env:"SENSORD_KAFKA_BROKERS"`
	Topic   string `yaml:"topic" env:"SENSORD_KAFKA_TOPIC"`
}

// BrokerList splits the configured brokers into addresses.
func (k KafkaConfig) BrokerList() []string {
	if strings.TrimSpace(k.Brokers) == "" {
		return nil
	}
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RefreshConfig carries the platform-wide defaults per-device settings
// inherit from.
type RefreshConfig struct {
	PeriodSeconds     int `yaml:"period_seconds" env:"SENSORD_REFRESH_PERIOD"`
	ScanWindowSeconds int `yaml:"scan_window_seconds" env:"SENSORD_SCAN_WINDOW"`
}

// ScanConfig controls the broadcast medium.
type ScanConfig struct {
	Enabled      bool   `yaml:"enabled" env:"SENSORD_SCAN_ENABLED"`
	Debug        bool   `yaml:"debug" env:"SENSORD_SCAN_DEBUG"`
	DebugAddress string `yaml:"debug_address" env:"SENSORD_SCAN_DEBUG_ADDRESS"`
}

// HistoryConfig selects the history backend and retention.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled" env:"SENSORD_HISTORY_ENABLED"`
	Backend       string `yaml:"backend" env:"SENSORD_HISTORY_BACKEND"`
	FilePath      string `yaml:"file_path" env:"SENSORD_HISTORY_FILE"`
	RetentionDays int    `yaml:"retention_days" env:"SENSORD_HISTORY_RETENTION_DAYS"`
}

// DeviceConfig is a statically configured meter, seeded into the device
// registry at startup.
type DeviceConfig struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	Address              string `yaml:"address"`
	CloudID              string `yaml:"cloud_id"`
	UseBroadcast         bool   `yaml:"use_broadcast"`
	ScanWindowSeconds    int    `yaml:"scan_window_seconds"`
	RefreshPeriodSeconds int    `yaml:"refresh_period_seconds"`
	HideTemperature      bool   `yaml:"hide_temperature"`
	HideHumidity         bool   `yaml:"hide_humidity"`
	HistoryEnabled       bool   `yaml:"history_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Cloud: CloudConfig{
			BaseURL:           "https://api.meter-cloud.example/v1.1",
			TimeoutSeconds:    10,
			RequestsPerMinute: 60,
		},
		MQTT:    MQTTConfig{ClientID: "sensord", TopicPrefix: "sensord"},
		Refresh: RefreshConfig{PeriodSeconds: 120, ScanWindowSeconds: 1},
		Scan:    ScanConfig{Enabled: true},
		History: HistoryConfig{Enabled: true, Backend: "memory", RetentionDays: 30},
	}
}

// Load reads the configuration from the path in SENSORD_CONFIG (default
// config/sensord.yaml); a missing file is not an error, the defaults apply.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv("SENSORD_CONFIG"))
	if path == "" {
		path = "config/sensord.yaml"
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finalize(Default())
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads the configuration from an explicit path, applies the
// environment overlay and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return finalize(cfg)
}

func finalize(cfg *Config) (*Config, error) {
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrInvalidTarget && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	// A zero written over the built-ins by the file or the environment falls
	// back to the defaults rather than disabling the cloud client.
	if cfg.Cloud.TimeoutSeconds <= 0 {
		cfg.Cloud.TimeoutSeconds = 10
	}
	if cfg.Cloud.RequestsPerMinute <= 0 {
		cfg.Cloud.RequestsPerMinute = 60
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the daemon relies on. It never
// mutates the config; defaulting happens in the load path.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Refresh.PeriodSeconds < 1 {
		return fmt.Errorf("refresh.period_seconds must be at least 1")
	}
	if c.Refresh.ScanWindowSeconds < 1 {
		return fmt.Errorf("refresh.scan_window_seconds must be at least 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.History.Backend)) {
	case "", "memory", "postgres", "file":
	default:
		return fmt.Errorf("history.backend %q unsupported (memory, postgres or file)", c.History.Backend)
	}
	if strings.EqualFold(c.History.Backend, "postgres") && c.Database.DSN == "" {
		return fmt.Errorf("history.backend postgres requires database.dsn")
	}
	if strings.EqualFold(c.History.Backend, "file") && strings.TrimSpace(c.History.FilePath) == "" {
		return fmt.Errorf("history.backend file requires history.file_path")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days cannot be negative")
	}

	seen := make(map[string]struct{}, len(c.Devices))
	for i, dev := range c.Devices {
		if strings.TrimSpace(dev.ID) == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if _, dup := seen[dev.ID]; dup {
			return fmt.Errorf("devices[%d]: duplicate id %s", i, dev.ID)
		}
		seen[dev.ID] = struct{}{}
		if dev.UseBroadcast && strings.TrimSpace(dev.Address) == "" {
			return fmt.Errorf("device %s: address is required for the broadcast transport", dev.ID)
		}
	}
	return nil
}
