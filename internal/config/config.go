package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

// ErrInvalidInterval is returned for intervals that are not positive whole
// seconds.
var ErrInvalidInterval = errors.New("update interval must be a positive integer")

// Config carries runtime options for pcinfo.
type Config struct {
	Interval  time.Duration
	LogDir    string
	Verbosity int
	// Protected extends the built-in termination denylist.
	Protected []string
	// Path is the config file that was consulted, if any.
	Path string
}

// Default returns the built-in settings: a 5 s interval and the Log dir.
func Default() Config {
	return Config{
		Interval: 5 * time.Second,
		LogDir:   "Log",
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pcinfo", "config.yaml")
}

// File mirrors the YAML config file. Unset keys leave defaults alone.
type File struct {
	Interval  *int     `json:"interval,omitempty"`
	LogDir    *string  `json:"logDir,omitempty"`
	Verbosity *int     `json:"verbosity,omitempty"`
	Protected []string `json:"protected,omitempty"`
}

// Env holds environment overrides; empty strings mean unset.
type Env struct {
	Interval  string `env:"PCINFO_INTERVAL"`
	LogDir    string `env:"PCINFO_LOG_DIR"`
	Verbosity string `env:"PCINFO_VERBOSITY"`
}

// ParseInterval parses a whole number of seconds.
func ParseInterval(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidInterval)
	}
	return Seconds(n)
}

// Seconds converts n to a Duration, rejecting n <= 0.
func Seconds(n int) (time.Duration, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%d: %w", n, ErrInvalidInterval)
	}
	return time.Duration(n) * time.Second, nil
}

// ReadFile loads path from fs. A missing file yields an empty File.
func ReadFile(fs afero.Fs, path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Load builds a Config from defaults, the YAML file at path and the
// environment seen through l, in that order of precedence.
func Load(ctx context.Context, fs afero.Fs, path string, l envconfig.Lookuper) (Config, error) {
	cfg := Default()
	cfg.Path = path

	f, err := ReadFile(fs, path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.applyFile(f); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	var env Env
	if err := envconfig.ProcessWith(ctx, &env, l); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.applyEnv(env); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(f File) error {
	if f.Interval != nil {
		d, err := Seconds(*f.Interval)
		if err != nil {
			return fmt.Errorf("interval: %w", err)
		}
		c.Interval = d
	}
	if f.LogDir != nil {
		c.LogDir = *f.LogDir
	}
	if f.Verbosity != nil {
		c.Verbosity = *f.Verbosity
	}
	c.Protected = append(c.Protected, f.Protected...)
	return nil
}

func (c *Config) applyEnv(e Env) error {
	if e.Interval != "" {
		d, err := ParseInterval(e.Interval)
		if err != nil {
			return fmt.Errorf("PCINFO_INTERVAL: %w", err)
		}
		c.Interval = d
	}
	if e.LogDir != "" {
		c.LogDir = e.LogDir
	}
	if e.Verbosity != "" {
		v, err := strconv.Atoi(e.Verbosity)
		if err != nil {
			return fmt.Errorf("PCINFO_VERBOSITY: %w", err)
		}
		c.Verbosity = v
	}
	return nil
}

// Flag names registered by AddFlags.
const (
	FlagConfig    = "config"
	FlagInterval  = "interval"
	FlagLogDir    = "log-dir"
	FlagVerbosity = "verbosity"
)

// AddFlags registers pcinfo's flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String(FlagConfig, DefaultPath(), "path to the YAML config file")
	fs.Int(FlagInterval, int(def.Interval/time.Second), "refresh interval in seconds")
	fs.String(FlagLogDir, def.LogDir, "directory for log files")
	fs.IntP(FlagVerbosity, "v", def.Verbosity, "log verbosity")
}

// ApplyFlags overrides c with flags the user set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	if fs.Changed(FlagInterval) {
		n, err := fs.GetInt(FlagInterval)
		if err != nil {
			return err
		}
		d, err := Seconds(n)
		if err != nil {
			return fmt.Errorf("--%s: %w", FlagInterval, err)
		}
		c.Interval = d
	}
	if fs.Changed(FlagLogDir) {
		v, err := fs.GetString(FlagLogDir)
		if err != nil {
			return err
		}
		c.LogDir = v
	}
	if fs.Changed(FlagVerbosity) {
		v, err := fs.GetInt(FlagVerbosity)
		if err != nil {
			return err
		}
		c.Verbosity = v
	}
	return nil
}

// FromFlags loads the config file named by fs, then the environment, then
// the explicitly set flags.
func FromFlags(ctx context.Context, fs *pflag.FlagSet) (Config, error) {
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(ctx, afero.NewOsFs(), path, envconfig.OsLookuper())
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return cfg, err
	}
	return cfg, nil
}
