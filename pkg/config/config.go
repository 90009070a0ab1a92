package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Directed text modes
const (
	DirectedTextPrefixed = "prefixed"
	DirectedTextOriginal = "original"
)

// maxOffset bounds the audio offset of an interface in Hz
const maxOffset = 200000

// GeneralConfig holds the timing parameters shared by all interfaces
type GeneralConfig struct {
	FragmentSize int     `yaml:"fragment_size"`
	FrameTime    float64 `yaml:"frame_time"`
	// DirectedText selects which text RX.DIRECTED carries. "prefixed" (the
	// default) sends "<CALL>: text", matching what JS8Call shows a receiving
	// station; "original" sends the request text without the sender prefix.
	DirectedText string `yaml:"directed_text"`
}

// InterfaceConfig describes one emulated station
type InterfaceConfig struct {
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`
	Callsign   string `yaml:"callsign"`
	Frequency  int64  `yaml:"frequency"`
	Offset     int64  `yaml:"offset"`
	Maidenhead string `yaml:"maidenhead"`
}

// Config represents the js8emu configuration
type Config struct {
	General    GeneralConfig     `yaml:"general"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Web struct {
		Enabled     bool   `yaml:"enabled"`
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxMessages  int    `yaml:"max_messages"`
	} `yaml:"storage"`

	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		Topic    string `yaml:"topic"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`
}

// LoadConfig loads configuration from a YAML or INI file. Files ending in
// .ini, .cfg or .conf are read as INI, everything else as YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".cfg", ".conf":
		config, err = parseINI(data)
	default:
		config, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func parseYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, err
	}
	for i := range config.Interfaces {
		if config.Interfaces[i].Name == "" {
			config.Interfaces[i].Name = fmt.Sprintf("interface_%d", i+1)
		}
	}
	return &config, nil
}

// applyDefaults fills in unset ambient settings
func (c *Config) applyDefaults() {
	if c.General.DirectedText == "" {
		c.General.DirectedText = DirectedTextPrefixed
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.Storage.MaxMessages == 0 {
		c.Storage.MaxMessages = 10000
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "js8emu/spots"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.General.FragmentSize <= 0 {
		return fmt.Errorf("%w: general fragment_size must be > 0", ErrInvalid)
	}
	if c.General.FrameTime < 0 {
		return fmt.Errorf("%w: general frame_time must be >= 0", ErrInvalid)
	}
	switch c.General.DirectedText {
	case DirectedTextPrefixed, DirectedTextOriginal:
	default:
		return fmt.Errorf("%w: general directed_text must be %q or %q, got %q",
			ErrInvalid, DirectedTextPrefixed, DirectedTextOriginal, c.General.DirectedText)
	}

	if len(c.Interfaces) == 0 {
		return fmt.Errorf("%w: no interfaces configured", ErrInvalid)
	}

	ports := make(map[int]string)
	calls := make(map[string]string)
	for _, ic := range c.Interfaces {
		if ic.Callsign == "" {
			return fmt.Errorf("%w: [%s] callsign must be non-empty", ErrInvalid, ic.Name)
		}
		if ic.Port <= 0 || ic.Port > 65535 {
			return fmt.Errorf("%w: [%s] port out of range: %d", ErrInvalid, ic.Name, ic.Port)
		}
		if ic.Frequency <= 0 {
			return fmt.Errorf("%w: [%s] frequency must be > 0", ErrInvalid, ic.Name)
		}
		if ic.Offset > maxOffset || ic.Offset < -maxOffset {
			return fmt.Errorf("%w: [%s] offset seems unreasonable: %d", ErrInvalid, ic.Name, ic.Offset)
		}
		if ic.Maidenhead == "" {
			return fmt.Errorf("%w: [%s] maidenhead must be non-empty", ErrInvalid, ic.Name)
		}

		if other, dup := ports[ic.Port]; dup {
			return fmt.Errorf("%w: duplicate port %d on [%s] and [%s]", ErrInvalid, ic.Port, other, ic.Name)
		}
		ports[ic.Port] = ic.Name

		key := strings.ToUpper(ic.Callsign)
		if other, dup := calls[key]; dup {
			return fmt.Errorf("%w: duplicate callsign %s on [%s] and [%s]", ErrInvalid, ic.Callsign, other, ic.Name)
		}
		calls[key] = ic.Name
	}

	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("%w: web port out of range: %d", ErrInvalid, c.Web.Port)
	}
	if c.Web.Enabled && ports[c.Web.Port] != "" && isLoopback(c.Web.BindAddress) {
		return fmt.Errorf("%w: web port %d collides with [%s]", ErrInvalid, c.Web.Port, ports[c.Web.Port])
	}
	if c.Storage.MaxMessages < 0 {
		return fmt.Errorf("%w: storage max_messages must be >= 0", ErrInvalid)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt broker is required when mqtt is enabled", ErrInvalid)
	}
	return nil
}

func isLoopback(addr string) bool {
	switch addr {
	case "", "0.0.0.0", "127.0.0.1", "localhost", "::", "::1":
		return true
	}
	return false
}

// Interface returns the interface config with the given name
func (c *Config) Interface(name string) (InterfaceConfig, bool) {
	for _, ic := range c.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}
