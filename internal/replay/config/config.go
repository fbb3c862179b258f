// Package config loads runtime settings from a YAML file and SYNCREPLAY_*
// environment variables.
//
// Precedence, lowest first: Default, the YAML file, the environment.
//
// Example file:
//
//	mode: record
//	format: compact
//	log_size: 1048576
//	store: sqlite
//	store_dir: /var/tmp/syncreplay
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// Environment variables read by ApplyEnv.
const (
	EnvMode      = "SYNCREPLAY_MODE"
	EnvLogSize   = "SYNCREPLAY_LOG_SIZE"
	EnvFormat    = "SYNCREPLAY_FORMAT"
	EnvClock     = "SYNCREPLAY_CLOCK"
	EnvStore     = "SYNCREPLAY_STORE"
	EnvStoreDir  = "SYNCREPLAY_STORE_DIR"
	EnvRecording = "SYNCREPLAY_RECORDING"
	EnvDebug     = "SYNCREPLAY_DEBUG"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config holds the runtime settings.
type Config struct {
	// Mode is "off", "record" or "replay".
	Mode string `yaml:"mode"`

	// LogSize is the usable size in bytes of each thread's arena.
	LogSize int `yaml:"log_size"`

	// Format is "compact" or "verbose".
	Format string `yaml:"format"`

	// ClockPath, if set, names a file holding a shared clock page.
	ClockPath string `yaml:"clock_path,omitempty"`

	// StoreKind is "file", "sqlite" or "memory".
	StoreKind string `yaml:"store"`

	// StoreDir is the directory the store keeps its data in.
	StoreDir string `yaml:"store_dir"`

	// RecordingID selects the recording to replay. When recording it may be
	// left empty, in which case a fresh id is generated.
	RecordingID string `yaml:"recording,omitempty"`

	// Debug enables per-event debug logging.
	Debug bool `yaml:"debug"`

	// FailOnExhausted makes a replay that runs past the end of a thread's
	// log fatal. Otherwise the thread falls back to unlogged execution.
	FailOnExhausted bool `yaml:"fail_on_exhausted"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Mode:      mode.Off.String(),
		LogSize:   arena.DefaultLogSize,
		Format:    record.Compact.String(),
		StoreKind: "file",
		StoreDir:  ".syncreplay",
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty) and then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse overlays the YAML document data onto Default and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// ApplyEnv overrides fields from the SYNCREPLAY_* variables visible
// through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvMode, &c.Mode)
	str(EnvFormat, &c.Format)
	str(EnvClock, &c.ClockPath)
	str(EnvStore, &c.StoreKind)
	str(EnvStoreDir, &c.StoreDir)
	str(EnvRecording, &c.RecordingID)

	if v, ok := lookup(EnvLogSize); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvLogSize, err)
		}
		c.LogSize = n
	}
	if v, ok := lookup(EnvDebug); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate checks every field.
func (c Config) Validate() error {
	m, err := mode.Parse(c.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := record.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.LogSize <= 0 {
		return fmt.Errorf("%w: log_size %d must be positive", ErrInvalid, c.LogSize)
	}
	switch c.StoreKind {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, c.StoreKind)
	}
	if c.StoreKind != "memory" && c.StoreDir == "" {
		return fmt.Errorf("%w: store %q needs store_dir", ErrInvalid, c.StoreKind)
	}
	if m == mode.Replaying && c.RecordingID == "" {
		return fmt.Errorf("%w: replay needs a recording id", ErrInvalid)
	}
	return nil
}

// ParsedMode returns Mode as a mode.Mode. It panics on a configuration
// that does not Validate.
func (c Config) ParsedMode() mode.Mode {
	m, err := mode.Parse(c.Mode)
	if err != nil {
		panic(err)
	}
	return m
}

// ParsedFormat returns Format as a record.Format. It panics on a
// configuration that does not Validate.
func (c Config) ParsedFormat() record.Format {
	f, err := record.ParseFormat(c.Format)
	if err != nil {
		panic(err)
	}
	return f
}
