package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/cooldown"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/session"
	"github.com/nearby/radar/internal/signal"
)

func TestLoad_DefaultsMatchPackages(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, signal.DefaultWeights(), cfg.SignalWeights())
	assert.Equal(t, cooldown.DefaultConfig(), cfg.CooldownConfig())
	assert.Equal(t, safety.DefaultConfig(), cfg.SafetyConfig())
	assert.Equal(t, session.DefaultConfig(), cfg.SessionConfig())
	assert.Equal(t, 100.0, cfg.ChatConfig().EndDistance)
	assert.Equal(t, 80.0, cfg.ChatConfig().WarnDistance)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Server.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.RadarDebounce)

	sc := cfg.ServerConfig()
	assert.Equal(t, 30*time.Second, sc.Heartbeat.Interval)
	assert.Equal(t, 256, sc.WorkerPoolSize)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("W_VIBE", "12.5")
	t.Setenv("DECLINE_THRESHOLD", "5")
	t.Setenv("COOLDOWN_DURATION_MS", "60000")
	t.Setenv("CHAT_END_DISTANCE_M", "150")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.SignalWeights().Vibe)
	assert.Equal(t, 5, cfg.CooldownConfig().Threshold)
	assert.Equal(t, time.Minute, cfg.CooldownConfig().Duration)
	assert.Equal(t, 150.0, cfg.ChatConfig().EndDistance)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestLoad_FlagsOverride(t *testing.T) {
	cfg, err := Load([]string{"--weight-tag=7", "--server-listen-addr=:7000"})
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.Weights.Tag)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
}

func TestValidate(t *testing.T) {
	base, err := Load(nil)
	require.NoError(t, err)

	tests := map[string]func(c *Config){
		"zero threshold":         func(c *Config) { c.Cooldown.DeclineThreshold = 0 },
		"negative window":        func(c *Config) { c.Cooldown.DeclineWindowMS = -1 },
		"warn not below end":     func(c *Config) { c.Chat.WarnDistance = c.Chat.EndDistance },
		"positive tagless":       func(c *Config) { c.Weights.Tagless = 1 },
		"positive report weight": func(c *Config) { c.Weights.Report = 2 },
		"zero panic exclusion":   func(c *Config) { c.Safety.PanicExclusionMS = 0 },
		"precision too high":     func(c *Config) { c.Session.LocationPrecision = 12 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

func TestLoad_RejectsInvalidEnv(t *testing.T) {
	t.Setenv("CHAT_WARN_DISTANCE_M", "120")
	_, err := Load(nil)
	assert.Error(t, err)
}
