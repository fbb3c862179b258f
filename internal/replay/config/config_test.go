package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, mode.Off, cfg.ParsedMode())
	assert.Equal(t, record.Compact, cfg.ParsedFormat())
	assert.Equal(t, arena.DefaultLogSize, cfg.LogSize)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
mode: replay
format: verbose
log_size: 4096
store: sqlite
store_dir: /tmp/x
recording: rec-1
fail_on_exhausted: true
`))
	require.NoError(t, err)
	assert.Equal(t, mode.Replaying, cfg.ParsedMode())
	assert.Equal(t, record.Verbose, cfg.ParsedFormat())
	assert.Equal(t, 4096, cfg.LogSize)
	assert.Equal(t, "sqlite", cfg.StoreKind)
	assert.Equal(t, "rec-1", cfg.RecordingID)
	assert.True(t, cfg.FailOnExhausted)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("mode: record\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncreplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: record\nlog_size: 8192\n"), 0o644))

	t.Setenv(EnvLogSize, "16384")
	t.Setenv(EnvDebug, "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, mode.Recording, cfg.ParsedMode())
	assert.Equal(t, 16384, cfg.LogSize)
	assert.True(t, cfg.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvMode:      " replay ",
		EnvFormat:    "debug",
		EnvStore:     "memory",
		EnvRecording: "abc",
		EnvClock:     "/dev/shm/clock",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, mode.Replaying, cfg.ParsedMode())
	assert.Equal(t, record.Verbose, cfg.ParsedFormat())
	assert.Equal(t, "memory", cfg.StoreKind)
	assert.Equal(t, "abc", cfg.RecordingID)
	assert.Equal(t, "/dev/shm/clock", cfg.ClockPath)
}

func TestApplyEnvBadValues(t *testing.T) {
	tests := map[string]string{
		EnvLogSize: "big",
		EnvDebug:   "maybe",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(env(map[string]string{name: value}))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "rewind" }},
		{"format", func(c *Config) { c.Format = "xml" }},
		{"log size", func(c *Config) { c.LogSize = 0 }},
		{"store", func(c *Config) { c.StoreKind = "tape" }},
		{"store dir", func(c *Config) { c.StoreDir = "" }},
		{"replay without recording", func(c *Config) { c.Mode = "replay" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestMemoryStoreNeedsNoDir(t *testing.T) {
	cfg := Default()
	cfg.StoreKind = "memory"
	cfg.StoreDir = ""
	assert.NoError(t, cfg.Validate())
}
