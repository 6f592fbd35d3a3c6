package ws

import (
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace after Interval before a silent conn is dropped
}

// DefaultHeartbeatConfig returns the production heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat pings every connection on Interval and drops those that
// have been silent for longer than Interval + Timeout. It exits when the
// server shuts down.
func (s *Server) startHeartbeat(config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.checkConnections(config, time.Now())
			}
		}
	}()
}

// checkConnections runs one heartbeat pass at now and returns the number of
// connections dropped.
func (s *Server) checkConnections(config HeartbeatConfig, now time.Time) int {
	deadline := config.Interval + config.Timeout
	dropped := 0

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Info().Str("component", "ws").Str("conn_id", c.ID).Str("session_id", c.SessionID).
				Dur("idle", idle.Round(time.Second)).Msg("heartbeat timeout")
			s.RemoveConnection(c)
			dropped++
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Debug().Err(err).Str("component", "ws").Str("conn_id", c.ID).Msg("heartbeat ping failed")
			s.RemoveConnection(c)
			dropped++
		}
	}
	return dropped
}
