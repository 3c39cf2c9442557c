package config

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const maxRows = 32

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Default instance_id: keypad-<short uuid>
	if cfg.InstanceID == "" {
		cfg.InstanceID = "keypad-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.StatsIntervalS < 0 {
		return fmt.Errorf("stats_interval_s must be >= 0")
	}

	if err := validateLines(&cfg.Lines); err != nil {
		return fmt.Errorf("lines: %w", err)
	}
	if err := validateKeypad(&cfg.Keypad, cfg.Rows(), cfg.Cols()); err != nil {
		return fmt.Errorf("keypad: %w", err)
	}

	if err := validateMQTT(cfg); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	return nil
}

func validateLines(l *LinesConfig) error {
	switch l.Driver {
	case "":
		l.Driver = "gpiocdev"
	case "gpiocdev", "periph", "sim":
	default:
		return fmt.Errorf("unknown driver '%s' (must be 'gpiocdev', 'periph' or 'sim')", l.Driver)
	}

	if l.Driver == "gpiocdev" && l.Chip == "" {
		l.Chip = "gpiochip0"
	}
	if l.Consumer == "" {
		l.Consumer = "matrix-keypad"
	}

	if len(l.RowGPIOs) == 0 || len(l.ColGPIOs) == 0 {
		return fmt.Errorf("number of keypad rows/columns not specified (row_gpios, col_gpios)")
	}
	if len(l.RowGPIOs) > maxRows {
		return fmt.Errorf("row_gpios: %d rows (max %d)", len(l.RowGPIOs), maxRows)
	}

	if l.OpenRetries < 0 || l.OpenRetryDelayMS < 0 || l.OpenMaxRetryDelayMS < 0 {
		return fmt.Errorf("open retry settings must be >= 0")
	}

	return nil
}

func validateKeypad(k *KeypadConfig, rows, cols int) error {
	if k.DebounceMS < 0 || k.ColScanDelayUS < 0 || k.SettleDelayMS < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if k.SettleDelayMS == 0 {
		k.SettleDelayMS = 15
	}

	if len(k.Keymap) == 0 {
		return nil
	}
	if len(k.Keymap) != rows {
		return fmt.Errorf("keymap has %d rows, want %d", len(k.Keymap), rows)
	}
	for i, row := range k.Keymap {
		if n := utf8.RuneCountInString(row); n != cols {
			return fmt.Errorf("keymap row %d has %d keys, want %d", i, n, cols)
		}
	}
	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT

	if m.ClientID == "" {
		m.ClientID = cfg.InstanceID
	}
	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown encoding '%s' (must be 'json' or 'msgpack')", m.Encoding)
	}

	// Set default topics if not provided
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("keypad/control/%s", cfg.InstanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("keypad/events/%s", cfg.InstanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("keypad/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control": 1,
			"events":  1,
			"health":  0,
		}
	}

	return nil
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
