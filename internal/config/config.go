// Package config declares the radar server's runtime configuration. Values
// come from flags or environment variables, are resolved once at startup by
// kong and handed to constructors as plain structs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/nearby/radar/internal/chat"
	"github.com/nearby/radar/internal/cooldown"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/session"
	"github.com/nearby/radar/internal/signal"
	"github.com/nearby/radar/internal/ws"
)

// Weights are the signal engine's additive score terms.
type Weights struct {
	Vibe       float64 `help:"score for a matching vibe" default:"10" env:"W_VIBE"`
	Tag        float64 `help:"score per shared tag (max 3)" default:"5" env:"W_TAG"`
	Visibility float64 `help:"score for a visible target" default:"3" env:"W_VIS"`
	Tagless    float64 `help:"penalty when the viewer has no tags" default:"-2" env:"W_TAGLESS"`
	Distance   float64 `help:"score per proximity tier step" default:"4" env:"W_DIST"`
	Report     float64 `help:"penalty per unique reporter" default:"-5" env:"W_REPORT"`
}

// Cooldown holds the decline window parameters.
type Cooldown struct {
	DeclineThreshold int   `help:"declines within the window that trigger a cooldown" default:"3" env:"DECLINE_THRESHOLD"`
	DeclineWindowMS  int64 `help:"rolling decline window in milliseconds" default:"600000" env:"DECLINE_WINDOW_MS"`
	DurationMS       int64 `help:"cooldown length in milliseconds" default:"1800000" env:"COOLDOWN_DURATION_MS"`
}

// Chat holds the partner distance thresholds in meters.
type Chat struct {
	EndDistance  float64 `help:"distance that ends a chat" default:"100" env:"CHAT_END_DISTANCE_M"`
	WarnDistance float64 `help:"distance that warns chat partners" default:"80" env:"CHAT_WARN_DISTANCE_M"`
}

// Session holds session lifetime settings.
type Session struct {
	TTLMS             int64  `help:"session lifetime in milliseconds" default:"3600000" env:"SESSION_TTL_MS"`
	SweepIntervalMS   int64  `help:"expired session sweep interval in milliseconds" default:"60000" env:"SESSION_SWEEP_INTERVAL_MS"`
	TokenSecret       string `help:"HMAC secret for session tokens (random when empty)" env:"SESSION_TOKEN_SECRET"`
	LocationPrecision int    `help:"decimal places kept when coarsening locations" default:"4" env:"LOCATION_PRECISION"`
}

// Safety holds the exclusion parameters.
type Safety struct {
	ReportThreshold  int   `help:"unique reporters that exclude a session" default:"3" env:"SAFETY_REPORT_THRESHOLD"`
	ExclusionMS      int64 `help:"report-driven exclusion length in milliseconds" default:"3600000" env:"SAFETY_EXCLUSION_MS"`
	PanicExclusionMS int64 `help:"panic exclusion length in milliseconds" default:"3600000" env:"PANIC_EXCLUSION_MS"`
}

// Server holds the network and backing service settings.
type Server struct {
	ListenAddr     string        `help:"HTTP listen address" default:":8080" env:"LISTEN_ADDR"`
	WorkerPoolSize int           `help:"frame handler goroutines" default:"256" env:"WORKER_POOL_SIZE"`
	MaxConnections int           `help:"maximum concurrent WebSocket connections" default:"10000" env:"MAX_CONNECTIONS"`
	ReadTimeout    time.Duration `help:"WebSocket idle read timeout" default:"10s" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `help:"WebSocket write timeout" default:"10s" env:"WRITE_TIMEOUT"`
	Heartbeat      time.Duration `help:"WebSocket ping interval (0 disables)" default:"30s" env:"HEARTBEAT_INTERVAL"`
	RadarDebounce  time.Duration `help:"delay that coalesces radar refreshes" default:"250ms" env:"RADAR_DEBOUNCE"`
	RedisAddr      string        `help:"Redis address for rate limiting (disabled when empty)" env:"REDIS_ADDR"`
	NATSURL        string        `help:"NATS URL for safety events (disabled when empty)" env:"NATS_URL"`
}

// Config is the full radar server configuration.
type Config struct {
	Debug bool `help:"enable debug logging" env:"DEBUG"`

	Server   Server   `embed:"" prefix:"server-"`
	Session  Session  `embed:"" prefix:"session-"`
	Weights  Weights  `embed:"" prefix:"weight-"`
	Cooldown Cooldown `embed:"" prefix:"cooldown-"`
	Chat     Chat     `embed:"" prefix:"chat-"`
	Safety   Safety   `embed:"" prefix:"safety-"`
}

// Load parses args and the environment into a validated Config.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg, kong.Name("radarserver"), kong.Description("Proximity radar server."))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Cooldown.DeclineThreshold > 0, "DECLINE_THRESHOLD must be positive")
	check(c.Cooldown.DeclineWindowMS > 0, "DECLINE_WINDOW_MS must be positive")
	check(c.Cooldown.DurationMS > 0, "COOLDOWN_DURATION_MS must be positive")
	check(c.Safety.ReportThreshold > 0, "SAFETY_REPORT_THRESHOLD must be positive")
	check(c.Safety.ExclusionMS > 0, "SAFETY_EXCLUSION_MS must be positive")
	check(c.Safety.PanicExclusionMS > 0, "PANIC_EXCLUSION_MS must be positive")
	check(c.Session.TTLMS > 0, "SESSION_TTL_MS must be positive")
	check(c.Session.SweepIntervalMS > 0, "SESSION_SWEEP_INTERVAL_MS must be positive")
	check(c.Session.LocationPrecision >= 0 && c.Session.LocationPrecision <= 8, "LOCATION_PRECISION must be between 0 and 8")
	check(c.Chat.EndDistance > 0, "CHAT_END_DISTANCE_M must be positive")
	check(c.Chat.WarnDistance > 0 && c.Chat.WarnDistance < c.Chat.EndDistance, "CHAT_WARN_DISTANCE_M must be positive and below CHAT_END_DISTANCE_M")
	check(c.Weights.Tagless <= 0, "W_TAGLESS must not be positive")
	check(c.Weights.Report <= 0, "W_REPORT must not be positive")
	check(c.Server.WorkerPoolSize > 0, "WORKER_POOL_SIZE must be positive")
	check(c.Server.MaxConnections > 0, "MAX_CONNECTIONS must be positive")
	check(c.Server.Heartbeat >= 0, "HEARTBEAT_INTERVAL must not be negative")
	check(c.Server.RadarDebounce >= 0, "RADAR_DEBOUNCE must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SignalWeights converts the weights for the signal engine.
func (c *Config) SignalWeights() signal.Weights {
	return signal.Weights(c.Weights)
}

// CooldownConfig converts the cooldown settings.
func (c *Config) CooldownConfig() cooldown.Config {
	return cooldown.Config{
		Threshold: c.Cooldown.DeclineThreshold,
		Window:    ms(c.Cooldown.DeclineWindowMS),
		Duration:  ms(c.Cooldown.DurationMS),
	}
}

// ChatConfig converts the distance thresholds.
func (c *Config) ChatConfig() chat.Config {
	return chat.Config{EndDistance: c.Chat.EndDistance, WarnDistance: c.Chat.WarnDistance}
}

// SessionConfig converts the session lifetime settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		TTL:               ms(c.Session.TTLMS),
		SweepInterval:     ms(c.Session.SweepIntervalMS),
		LocationPrecision: c.Session.LocationPrecision,
	}
}

// SafetyConfig converts the exclusion settings.
func (c *Config) SafetyConfig() safety.Config {
	return safety.Config{
		ReportThreshold: c.Safety.ReportThreshold,
		ReportExclusion: ms(c.Safety.ExclusionMS),
		PanicExclusion:  ms(c.Safety.PanicExclusionMS),
	}
}

// ServerConfig converts the transport settings.
func (c *Config) ServerConfig() ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.ListenAddr = c.Server.ListenAddr
	sc.WorkerPoolSize = c.Server.WorkerPoolSize
	sc.MaxConnections = c.Server.MaxConnections
	sc.ReadTimeout = c.Server.ReadTimeout
	sc.WriteTimeout = c.Server.WriteTimeout
	sc.Heartbeat.Interval = c.Server.Heartbeat
	return sc
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
