package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"compact", Size{80, 24}},
		{"small", Size{80, 24}},
		{"Minimal", Size{80, 24}},
		{"standard", Size{120, 40}},
		{"default", Size{120, 40}},
		{"normal", Size{120, 40}},
		{"large", Size{160, 50}},
		{"wide", Size{160, 50}},
		{"xl", Size{200, 60}},
		{"extralarge", Size{200, 60}},
		{"extra-large", Size{200, 60}},
		{"100x30", Size{100, 30}},
		{"100X30", Size{100, 30}},
		{"100×30", Size{100, 30}},
		{" 100 x 30 ", Size{100, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSizeErrors(t *testing.T) {
	for _, in := range []string{"", "huge", "100", "ax30", "100xb", "0x30", "-5x10", "5000x10"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseSize(in)
			var sizeErr *SizeError
			require.True(t, errors.As(err, &sizeErr), "error %v", err)
			assert.Equal(t, in, sizeErr.Input)
		})
	}
}

func TestPresets(t *testing.T) {
	ps := Presets()
	require.Len(t, ps, 4)
	assert.Equal(t, "compact", ps[0].Name)
	assert.Equal(t, "xl", ps[3].Name)

	ps[0].Name = "changed"
	assert.Equal(t, "compact", Presets()[0].Name)
}

func TestSizeText(t *testing.T) {
	s := Size{Cols: 90, Rows: 20}
	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "90x20", string(text))

	var back Size
	require.NoError(t, back.UnmarshalText([]byte("large")))
	assert.Equal(t, Size{160, 50}, back)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termsnap.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
session_dir = "/var/tmp/snaps"
default_size = "wide"
quiet = "250ms"
history_limit = 50

[vlm]
model = "llava"
activity_timeout = "5s"

[server]
addr = "0.0.0.0:9000"
allowed_binaries = ["htop", "vim"]

[log]
level = "debug"
`), 0o600))

	t.Setenv("TERMSNAP_QUIET", "300ms")
	t.Setenv("TERMSNAP_DEFAULT_SIZE", "90x30")
	t.Setenv("TERMSNAP_VLM_MAX_TOKENS", "128")
	t.Setenv("TERMSNAP_SERVER_ALLOWED_BINARIES", "top,less")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/snaps", cfg.SessionDir)
	assert.Equal(t, Size{90, 30}, cfg.DefaultSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Quiet)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "llava", cfg.VLM.Model)
	assert.Equal(t, 128, cfg.VLM.MaxTokens)
	assert.Equal(t, 5*time.Second, cfg.VLM.ActivityTimeout)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"top", "less"}, cfg.Server.AllowedBinaries)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Ceiling)
	assert.Equal(t, "http://127.0.0.1:8080/v1/chat/completions", cfg.VLM.Endpoint)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`quiet = "soon"`), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`quiet = [`), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("TERMSNAP_HISTORY_LIMIT", "lots")
	_, err := Load("")
	assert.Error(t, err)
	assert.Equal(t, Default(), LoadOrDefault(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"size", func(c *Config) { c.DefaultSize = Size{} }},
		{"negative delay", func(c *Config) { c.Delay = -time.Second }},
		{"zero quiet", func(c *Config) { c.Quiet = 0 }},
		{"ceiling below quiet", func(c *Config) { c.Ceiling = time.Millisecond }},
		{"poll above quiet", func(c *Config) { c.PollInterval = time.Second }},
		{"scale", func(c *Config) { c.Scale = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
