// Package config loads the application configuration from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	BLE           BLEConfig           `yaml:"ble"`
	Store         StoreConfig         `yaml:"store"`
	Radio         RadioConfig         `yaml:"radio"`
	UI            UIConfig            `yaml:"ui"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Logging       LoggingConfig       `yaml:"logging"`
	OpenTelemetry OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     ProfilingConfig     `yaml:"profiling"`
}

// BLEConfig contains scan session configuration
type BLEConfig struct {
	DeviceName         string `yaml:"deviceName" env:"DEVICE_NAME" env-default:"Huawei FreeClip"`
	ScanTimeoutSeconds int    `yaml:"scanTimeoutSeconds" env:"SCAN_TIMEOUT_SECONDS" env-default:"30"`
	QueueSize          int    `yaml:"queueSize" env:"EVENT_QUEUE_SIZE" env-default:"256"`
}

// ScanTimeout returns how long a scan session runs before it stops itself
func (b BLEConfig) ScanTimeout() time.Duration {
	return time.Duration(b.ScanTimeoutSeconds) * time.Second
}

// StoreConfig selects where the paired device is persisted
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"file"`
	Path   string `yaml:"path" env:"STORE_PATH" env-default:"freeclip_companion.yaml"`
}

// RadioConfig contains Bluetooth adapter configuration
type RadioConfig struct {
	AdapterID     string `yaml:"adapterId" env:"BLUETOOTH_ADAPTER" env-default:"hci0"`
	CheckPowered  bool   `yaml:"checkPowered" env:"BLUETOOTH_CHECK_POWERED" env-default:"true"`
	PlatformLevel int    `yaml:"platformLevel" env:"PLATFORM_LEVEL" env-default:"31"`
}

// UIConfig selects and configures the user interface
type UIConfig struct {
	Headless        bool   `yaml:"headless" env:"HEADLESS" env-default:"false"`
	RefreshSchedule string `yaml:"refreshSchedule" env:"REFRESH_SCHEDULE" env-default:"@every 5m"`
	Listen          string `yaml:"listen" env:"WS_LISTEN" env-default:":8080"`
}

// PrometheusConfig contains Prometheus remote write configuration
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"false"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"60"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
}

// Load reads the configuration file. A missing file is not an error: the
// defaults and environment are used instead.
func Load(configPath string) (*Config, error) {
	var cfg Config

	switch _, err := os.Stat(configPath); {
	case errors.Is(err, os.ErrNotExist):
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat config: %w", err)
	default:
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate normalises and checks the configuration
func (c *Config) Validate() error {
	c.BLE.DeviceName = strings.TrimSpace(c.BLE.DeviceName)
	if c.BLE.DeviceName == "" {
		return fmt.Errorf("ble device name is required")
	}
	if c.BLE.ScanTimeoutSeconds < 1 {
		return fmt.Errorf("scan timeout must be at least 1 second")
	}
	if c.BLE.QueueSize < 1 {
		return fmt.Errorf("event queue size must be at least 1")
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver != "file" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("store driver must be 'file' or 'sqlite', got '%s'", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.Radio.AdapterID == "" {
		return fmt.Errorf("bluetooth adapter id is required")
	}

	if c.UI.Headless && c.UI.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.UI.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid refresh schedule '%s': %w", c.UI.RefreshSchedule, err)
		}
	}

	if c.Prometheus.Enabled {
		if c.Prometheus.URL == "" {
			return fmt.Errorf("prometheus URL is required when prometheus is enabled")
		}
		if c.Prometheus.PushIntervalSeconds < 1 {
			return fmt.Errorf("push interval must be at least 1 second")
		}
		if c.Prometheus.BatchSize < 1 {
			return fmt.Errorf("batch size must be at least 1")
		}
		if c.Prometheus.BufferSize < 1 {
			return fmt.Errorf("buffer size must be at least 1")
		}
	}

	if err := ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return err
	}
	return ValidateProfiling(&c.Profiling)
}

// PrintConfig logs the configuration with secrets masked
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("device_name", c.BLE.DeviceName),
		zap.Int("scan_timeout_seconds", c.BLE.ScanTimeoutSeconds),
		zap.Int("queue_size", c.BLE.QueueSize),
		zap.String("store_driver", c.Store.Driver),
		zap.String("store_path", c.Store.Path),
		zap.String("adapter_id", c.Radio.AdapterID),
		zap.Bool("check_powered", c.Radio.CheckPowered),
		zap.Int("platform_level", c.Radio.PlatformLevel),
		zap.Bool("headless", c.UI.Headless),
		zap.String("refresh_schedule", c.UI.RefreshSchedule),
		zap.String("listen", c.UI.Listen),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.String("prometheus_url", c.Prometheus.URL),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
	)
}
