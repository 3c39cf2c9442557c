package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete keypadd configuration
type Config struct {
	InstanceID       string       `yaml:"instance_id" toml:"instance_id"`
	ShutdownTimeoutS int          `yaml:"shutdown_timeout_s" toml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	StatsIntervalS   int          `yaml:"stats_interval_s" toml:"stats_interval_s"`     // Periodic stats log interval, 0 disables
	Keypad           KeypadConfig `yaml:"keypad" toml:"keypad"`
	Lines            LinesConfig  `yaml:"lines" toml:"lines"`
	MQTT             MQTTConfig   `yaml:"mqtt" toml:"mqtt"`
	Health           HealthConfig `yaml:"health" toml:"health"`
}

// KeypadConfig contains matrix scan settings
type KeypadConfig struct {
	DebounceMS     int      `yaml:"debounce_delay_ms" toml:"debounce_delay_ms"` // hardware debounce hint per row line
	ColScanDelayUS int      `yaml:"col_scan_delay_us" toml:"col_scan_delay_us"` // settle after driving a column
	SettleDelayMS  int      `yaml:"settle_delay_ms" toml:"settle_delay_ms"`     // row signal → scan delay (default: 15)
	WakeupSource   bool     `yaml:"wakeup_source" toml:"wakeup_source"`
	ReportReleases bool     `yaml:"report_releases" toml:"report_releases"`
	Keymap         []string `yaml:"keymap" toml:"keymap"` // one string per row, one rune per column
}

// LinesConfig selects and configures the GPIO backend
type LinesConfig struct {
	Driver   string   `yaml:"driver" toml:"driver"` // gpiocdev, periph, sim
	Chip     string   `yaml:"chip" toml:"chip"`     // gpiocdev only, e.g. gpiochip0
	Consumer string   `yaml:"consumer" toml:"consumer"`
	RowGPIOs []string `yaml:"row_gpios" toml:"row_gpios"` // offsets (gpiocdev) or pin names (periph)
	ColGPIOs []string `yaml:"col_gpios" toml:"col_gpios"`

	OpenRetries         int `yaml:"open_retries" toml:"open_retries"`
	OpenRetryDelayMS    int `yaml:"open_retry_delay_ms" toml:"open_retry_delay_ms"`
	OpenMaxRetryDelayMS int `yaml:"open_max_retry_delay_ms" toml:"open_max_retry_delay_ms"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker   string          `yaml:"broker" toml:"broker"`
	ClientID string          `yaml:"client_id" toml:"client_id"`
	Encoding string          `yaml:"encoding" toml:"encoding"` // json, msgpack
	Topics   MQTTTopics      `yaml:"topics" toml:"topics"`
	QoS      map[string]byte `yaml:"qos" toml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control" toml:"control"`
	Events  string `yaml:"events" toml:"events"`
	Health  string `yaml:"health" toml:"health"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Port    string `yaml:"port" toml:"port"`
}

// Load reads and parses a YAML or TOML configuration file (by extension)
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml") and validates it
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config

	switch format {
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatsInterval returns the periodic stats interval (0 = disabled)
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalS) * time.Second
}

// Rows returns the matrix row count (one per row line)
func (c *Config) Rows() int { return len(c.Lines.RowGPIOs) }

// Cols returns the matrix column count (one per column line)
func (c *Config) Cols() int { return len(c.Lines.ColGPIOs) }

// KeymapRunes converts the keymap strings into a [row][col] rune grid.
// Returns nil when no keymap is configured.
func (k KeypadConfig) KeymapRunes() [][]rune {
	if len(k.Keymap) == 0 {
		return nil
	}
	grid := make([][]rune, len(k.Keymap))
	for i, row := range k.Keymap {
		grid[i] = []rune(row)
	}
	return grid
}

// Debounce returns the row debounce hint
func (k KeypadConfig) Debounce() time.Duration {
	return time.Duration(k.DebounceMS) * time.Millisecond
}

// ColumnSettle returns the per-column settle delay
func (k KeypadConfig) ColumnSettle() time.Duration {
	return time.Duration(k.ColScanDelayUS) * time.Microsecond
}

// SettleDelay returns the signal-to-scan delay
func (k KeypadConfig) SettleDelay() time.Duration {
	return time.Duration(k.SettleDelayMS) * time.Millisecond
}
