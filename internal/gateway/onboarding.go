package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/protocol"
	"github.com/nearby/radar/internal/proximity"
	"github.com/nearby/radar/internal/ratelimit"
	"github.com/nearby/radar/internal/session"
	"github.com/nearby/radar/internal/ws"
)

const maxOnboardingBody = 4 << 10

// CreateSessionRequest is the POST /session body. Location is optional but
// lat and lng must come together.
type CreateSessionRequest struct {
	Vibe    string   `json:"vibe"`
	Tags    []string `json:"tags"`
	Visible *bool    `json:"visible"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// CreateSessionResponse is returned with 201 Created.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Handle    string `json:"handle"`
	ExpiresAt int64  `json:"expires_at"` // unix ms
}

// params validates the request into store inputs.
func (req CreateSessionRequest) params() (session.CreateParams, error) {
	vibe, ok := session.ParseVibe(req.Vibe)
	if !ok {
		return session.CreateParams{}, errors.New("vibe must be one of chill, social, curious, thinking, adventurous")
	}
	if req.Visible == nil {
		return session.CreateParams{}, errors.New("visible must be a boolean")
	}
	if err := protocol.ValidateTags(req.Tags); err != nil {
		return session.CreateParams{}, err
	}

	p := session.CreateParams{Vibe: vibe, Tags: req.Tags, Visible: *req.Visible}
	switch {
	case req.Lat == nil && req.Lng == nil:
	case req.Lat == nil || req.Lng == nil:
		return session.CreateParams{}, errors.New("lat and lng must be sent together")
	default:
		pt := proximity.Point{Lat: *req.Lat, Lng: *req.Lng}
		if !pt.Valid() {
			return session.CreateParams{}, errors.New("location out of range")
		}
		p.Location = &pt
	}
	return p, nil
}

// SessionHandler serves POST /session.
func (g *Gateway) SessionHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.allow(clientIP(r), ratelimit.RuleCreateSession); err != nil {
			ws.WriteHTTPError(w, http.StatusTooManyRequests, err)
			return
		}

		var req CreateSessionRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOnboardingBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			ws.WriteHTTPError(w, http.StatusBadRequest, apperr.WithMessage(apperr.ErrInvalidMessage, "malformed JSON body"))
			return
		}
		params, err := req.params()
		if err != nil {
			ws.WriteHTTPError(w, http.StatusBadRequest, apperr.WithMessage(apperr.ErrInvalidMessage, err.Error()))
			return
		}

		created, err := g.svc.CreateSession(params)
		if err != nil {
			log.Error().Err(err).Str("component", "gateway").Msg("create session failed")
			ws.WriteHTTPError(w, http.StatusInternalServerError, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(CreateSessionResponse{
			SessionID: created.SessionID,
			Token:     created.Token,
			Handle:    created.Handle,
			ExpiresAt: created.ExpiresAt.UnixMilli(),
		})
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
