package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/config"
	"github.com/nearby/radar/internal/gateway"
	"github.com/nearby/radar/internal/logger"
	"github.com/nearby/radar/internal/messaging"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/moderation"
	"github.com/nearby/radar/internal/radar"
	"github.com/nearby/radar/internal/ratelimit"
	"github.com/nearby/radar/internal/session"
	"github.com/nearby/radar/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.Debug)

	signer, err := tokenSigner(cfg.Session.TokenSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token signer")
	}

	opts := radar.Options{
		Session:  cfg.SessionConfig(),
		Weights:  cfg.SignalWeights(),
		Cooldown: cfg.CooldownConfig(),
		Safety:   cfg.SafetyConfig(),
		Chat:     cfg.ChatConfig(),
		Signer:   signer,
		Filter:   moderation.NewFilter(),
	}

	// --- Redis ---
	var (
		rdb     *redis.Client
		limiter *ratelimit.Limiter
	)
	if cfg.Server.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Server.RedisAddr).Msg("redis unreachable, rate limiting fails open")
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, rate limiting disabled")
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.Server.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.Server.NATSURL
		natsConfig.Name = "radarserver"
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.Server.NATSURL).Msg("failed to connect to NATS")
		}
		opts.Events = messaging.NewBus(natsClient)
	}

	svc, err := radar.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build radar service")
	}

	gw := gateway.New(svc, limiter, gateway.Config{RadarDebounce: cfg.Server.RadarDebounce})
	server := ws.NewServer(cfg.ServerConfig(), gw)
	gw.SetSender(server)
	server.Handle("POST /session", gw.SessionHandler())
	server.Handle("GET /metrics", metrics.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc.Start(ctx)

	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Bool("rate_limiting", limiter != nil).
		Bool("events", natsClient != nil).
		Dur("session_ttl", cfg.SessionConfig().TTL).
		Msg("radar server starting")

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("received signal, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	gw.Close()
	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("redis close error")
		}
	}
}

func tokenSigner(secret string) (*session.TokenSigner, error) {
	if secret == "" {
		log.Warn().Msg("SESSION_TOKEN_SECRET not set, tokens will not survive a restart")
		return session.NewRandomTokenSigner()
	}
	return session.NewTokenSigner([]byte(secret))
}
