// Package messaging wraps NATS for the radar services. The radar server
// publishes safety events (reports, exclusions, panics, cooldowns) and the
// moderator consumes them.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects used between radar services.
const (
	SubjectReport    = "safety.report"
	SubjectExclusion = "safety.exclusion"
	SubjectPanic     = "safety.panic"
	SubjectCooldown  = "chat.cooldown"

	// SubjectSafetyAll matches every safety.* subject.
	SubjectSafetyAll = "safety.>"
)

// NATSClient wraps a NATS connection and tracks its subscriptions.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

// DefaultNATSConfig returns the local development settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "radar",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects with config. The initial connection must succeed.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	logger := log.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{conn: nc, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends data to subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers handler for subject. The subscription is kept for
// Close and Unsubscribe.
func (c *NATSClient) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains every subscription and the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Str("component", "nats").Str("subject", subject).Err(err).Msg("drain subscription")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Str("component", "nats").Err(err).Msg("drain connection")
	}
}
