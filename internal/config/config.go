// Package config loads the optional warren configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// DefaultRoot is the sandbox root when neither the config file, a flag nor
// the environment names one.
const DefaultRoot = "/mnt/explorer"

// DefaultListen is the HTTP listen address.
const DefaultListen = ":3000"

// Config represents the optional warren configuration file. Every field is a
// pointer so unset values can be told apart from zero values and filled in
// from flags.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Scan      ScanConfig      `toml:"scan"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Theme     ThemeConfig     `toml:"theme"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen       *string `toml:"listen" validate:"omitempty,hostname_port|startswith=:"`
	Root         *string `toml:"root" validate:"omitempty,min=1"`
	ReadTimeout  *string `toml:"read_timeout"`
	WriteTimeout *string `toml:"write_timeout"`
}

// ScanConfig holds hard-link discovery settings.
type ScanConfig struct {
	MaxDepth *int     `toml:"max_depth" validate:"omitempty,min=1,max=256"`
	Workers  *int     `toml:"workers" validate:"omitempty,min=1,max=256"`
	StatRate *int     `toml:"stat_rate" validate:"omitempty,min=1"`
	Exclude  []string `toml:"exclude" validate:"dive,required"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level *string `toml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	File  *string `toml:"file"`
}

// TelemetryConfig holds OpenTelemetry tracing settings.
type TelemetryConfig struct {
	Enabled    *bool    `toml:"enabled"`
	Endpoint   *string  `toml:"endpoint" validate:"omitempty,hostname_port"`
	Insecure   *bool    `toml:"insecure"`
	SampleRate *float64 `toml:"sample_rate" validate:"omitempty,min=0,max=1"`
}

// ThemeConfig holds optional color overrides for CLI output.
type ThemeConfig struct {
	Green  *string `toml:"green" validate:"omitempty,hexcolor"`
	Yellow *string `toml:"yellow" validate:"omitempty,hexcolor"`
	Red    *string `toml:"red" validate:"omitempty,hexcolor"`
	Blue   *string `toml:"blue" validate:"omitempty,hexcolor"`
	Muted  *string `toml:"muted" validate:"omitempty,hexcolor"`
}

var validate = validator.New()

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "warren", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads and validates the config file at path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks struct tags and the duration fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	for name, v := range map[string]*string{
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,
	} {
		if _, err := parseDuration(v, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ReadTimeoutOr returns the configured read timeout or def.
func (s ServerConfig) ReadTimeoutOr(def time.Duration) time.Duration {
	d, _ := parseDuration(s.ReadTimeout, def)
	return d
}

// WriteTimeoutOr returns the configured write timeout or def.
func (s ServerConfig) WriteTimeoutOr(def time.Duration) time.Duration {
	d, _ := parseDuration(s.WriteTimeout, def)
	return d
}

func parseDuration(v *string, def time.Duration) (time.Duration, error) {
	if v == nil {
		return def, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def, err
	}
	if d <= 0 {
		return def, fmt.Errorf("duration must be positive, got %s", *v)
	}
	return d, nil
}

// RootFromEnv returns the sandbox root named by WARREN_ROOT or BASE_PATH,
// or DefaultRoot.
func RootFromEnv() string {
	for _, key := range []string{"WARREN_ROOT", "BASE_PATH"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return DefaultRoot
}
