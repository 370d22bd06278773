package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "TERMLINK"

// Config holds all termlink configuration.
type Config struct {
	Profile string `envconfig:"DEDICATED_PROFILE" toml:"dedicated_profile"`
	Tag     string `envconfig:"TAG" toml:"tag"`

	Connect ConnectConfig `toml:"connect"`
	Command CommandConfig `toml:"command"`
	Log     LogConfig     `toml:"log"`
}

// ConnectConfig holds control-plane connection settings.
type ConnectConfig struct {
	Timeout          Seconds `envconfig:"TIMEOUT" toml:"timeout"`
	Socket           string  `envconfig:"SOCKET" toml:"socket"`
	URL              string  `envconfig:"URL" toml:"url"`
	Cookie           string  `envconfig:"COOKIE" toml:"cookie"`
	Key              string  `envconfig:"KEY" toml:"key"`
	CredentialHelper string  `envconfig:"CREDENTIAL_HELPER" toml:"credential_helper"`
	LaunchCommand    string  `envconfig:"LAUNCH_COMMAND" toml:"launch_command"`
	RequestsPerSec   float64 `envconfig:"RPS" toml:"rps"`
	Burst            int     `envconfig:"BURST" toml:"burst"`
}

// CommandConfig holds command execution settings.
type CommandConfig struct {
	Timeout      Seconds `envconfig:"TIMEOUT" toml:"timeout"`
	TailLines    int     `envconfig:"TAIL_LINES" toml:"tail_lines"`
	BeginWindow  int     `envconfig:"BEGIN_WINDOW" toml:"begin_window"`
	ProbeRetries int     `envconfig:"PROBE_RETRIES" toml:"probe_retries"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" toml:"level"`
	Development bool   `envconfig:"DEV" toml:"dev"`
}

// Seconds is a non-negative duration written as a float number of seconds.
// Values that fail to parse, or are negative, leave the previous value in place.
type Seconds float64

// Decode implements envconfig.Decoder.
func (s *Seconds) Decode(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*s = Seconds(f)
	return nil
}

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Tag: "termlink",
		Connect: ConnectConfig{
			Timeout:        10,
			Socket:         DefaultSocketPath(),
			URL:            "ws://localhost:1912",
			RequestsPerSec: 50,
			Burst:          20,
		},
		Command: CommandConfig{
			Timeout:      120,
			TailLines:    300,
			BeginWindow:  500,
			ProbeRetries: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultSocketPath is where a local control plane listens.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "termlink", "api.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("termlink-%d", os.Getuid()), "api.sock")
}

// DefaultFilePath is the config file consulted when TERMLINK_CONFIG is unset.
func DefaultFilePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "termlink", "config.toml")
	}
	return ""
}

// Load builds configuration from defaults, the optional config file and
// the environment.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv(EnvPrefix + "_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultFilePath()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns the defaults on error.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.Connect.Timeout < 0:
		return fmt.Errorf("config: connect timeout must be non-negative, got %v", float64(c.Connect.Timeout))
	case c.Command.Timeout <= 0:
		return fmt.Errorf("config: command timeout must be positive, got %v", float64(c.Command.Timeout))
	case c.Command.TailLines <= 0:
		return fmt.Errorf("config: tail lines must be positive, got %d", c.Command.TailLines)
	case c.Command.BeginWindow <= 0:
		return fmt.Errorf("config: begin window must be positive, got %d", c.Command.BeginWindow)
	case c.Connect.RequestsPerSec <= 0 || c.Connect.Burst <= 0:
		return fmt.Errorf("config: rate limit must be positive, got rps=%v burst=%d", c.Connect.RequestsPerSec, c.Connect.Burst)
	}
	return nil
}

// SessionTag is the identifying tag the resolver stamps on sessions it owns.
// It is stable for a given profile so repeated runs converge on one tab.
func (c *Config) SessionTag() string {
	if c.Profile == "" {
		return c.Tag
	}
	return c.Tag + ":" + c.Profile
}
