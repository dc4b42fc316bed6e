package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
	assert.Equal(t, []string{"pt", "en"}, cfg.Locale.Locales)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Identity, cfg.Identity)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = 40000

[identity]
threshold = 0.7

[memory.half_lives]
high = 100.0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Setenv("FAMILIAR_IDENTITY_EPSILON", "0.1")
	t.Setenv("FAMILIAR_LOCALES", "en")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.Server.Port)
	assert.Equal(t, 0.7, cfg.Identity.Threshold)
	assert.Equal(t, 0.1, cfg.Identity.Epsilon)
	assert.Equal(t, 100.0, cfg.Memory.HalfLives.High)
	assert.Equal(t, 168.0, cfg.Memory.HalfLives.Medium)
	assert.Equal(t, []string{"en"}, cfg.Locale.Locales)
}

func TestLoadRejectsBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold zero":     func(c *Config) { c.Identity.Threshold = 0 },
		"negative weight":    func(c *Config) { c.Memory.RecencyWeight = -1 },
		"zero half life":     func(c *Config) { c.Memory.HalfLives.Low = 0 },
		"unknown analyzer":   func(c *Config) { c.Identity.Analyzer = "llm" },
		"min samples":        func(c *Config) { c.Patterns.MinSamples = 0 },
		"learning rate":      func(c *Config) { c.Identity.LearningRate = 2 },
		"consolidation zero": func(c *Config) { c.Memory.ConsolidationThreshold = 0 },
		"penalty above one":  func(c *Config) { c.Identity.AmbiguousPenalty = 1.5 },
		"negative bonus":     func(c *Config) { c.Identity.ContinuityBonus = -0.1 },
		"time share":         func(c *Config) { c.Patterns.TimeShare = 2 },
		"day share":          func(c *Config) { c.Patterns.DayShare = -1 },
		"topic share":        func(c *Config) { c.Patterns.TopicShare = 1.01 },
		"action share":       func(c *Config) { c.Patterns.ActionShare = -0.5 },
		"sequence share":     func(c *Config) { c.Patterns.SequenceShare = 3 },
		"emotion share":      func(c *Config) { c.Patterns.EmotionShare = 1.2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
