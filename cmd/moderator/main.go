package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/logger"
	"github.com/nearby/radar/internal/messaging"
	"github.com/nearby/radar/internal/report"
)

type cli struct {
	Debug           bool   `help:"enable debug logging" env:"DEBUG"`
	DatabaseURL     string `help:"Postgres DSN for the report store" required:"" env:"DATABASE_URL"`
	NATSURL         string `help:"NATS URL to consume safety events from" default:"nats://127.0.0.1:4222" env:"NATS_URL"`
	RepeatThreshold int    `help:"reports within 24h that flag a repeat offender" default:"5" env:"REPEAT_THRESHOLD"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("moderator"), kong.Description("Persists radar safety events."))
	logger.Setup(c.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := report.Open(openCtx, c.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer db.Close()
	if err := report.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	consumer := report.NewConsumer(report.NewStore(db))
	consumer.RepeatThreshold = c.RepeatThreshold

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = c.NATSURL
	natsConfig.Name = "radar-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer natsClient.Close()

	handle := func(subject string, data []byte) {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := consumer.Handle(hctx, subject, data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("failed to record event")
		}
	}
	for _, subject := range []string{messaging.SubjectSafetyAll, messaging.SubjectCooldown} {
		if err := natsClient.Subscribe(subject, handle); err != nil {
			log.Fatal().Err(err).Str("subject", subject).Msg("failed to subscribe")
		}
	}

	log.Info().Str("nats_url", c.NATSURL).Int("repeat_threshold", c.RepeatThreshold).
		Msg("moderator running")

	<-ctx.Done()
	log.Info().Msg("received signal, shutting down")
}
