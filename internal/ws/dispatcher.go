package ws

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/protocol"
)

// MessageHandler handles one parsed client frame. A returned error is sent
// back to the originating connection as an error frame.
type MessageHandler func(c *Connection, msg protocol.ClientMessage) error

// MessageDispatcher routes parsed frames to handlers by type. Ping is
// answered internally.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register sets the handler for msgType, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses data and runs the registered handler.
func (d *MessageDispatcher) Dispatch(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Debug().Err(err).Str("component", "ws").Str("session_id", c.SessionID).Msg("rejected frame")
		SendError(c, apperr.WithMessage(apperr.ErrInvalidMessage, "invalid message format"))
		return
	}

	if msgType == protocol.TypePing {
		c.Touch()
		send(c, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		SendError(c, apperr.WithMessage(apperr.ErrInvalidMessage, "unsupported message type"))
		return
	}

	if err := handler(c, msg); err != nil {
		log.Debug().Err(err).Str("component", "ws").Str("session_id", c.SessionID).Str("type", msgType).Msg("action rejected")
		SendError(c, err)
	}
}

// ErrorMessage converts err into the client error payload. Errors that are
// not business failures are reported as internal.
func ErrorMessage(err error) protocol.ErrorMsg {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return protocol.ErrorMsg{Code: "internal", Message: "internal error"}
	}
	msg := protocol.ErrorMsg{Code: string(ae.Code), Message: ae.Message}
	if !ae.ExpiresAt.IsZero() {
		msg.ExpiresAt = ae.ExpiresAt.UnixMilli()
	}
	return msg
}

// SendError writes err to c as an error frame.
func SendError(c *Connection, err error) {
	send(c, protocol.TypeError, ErrorMessage(err))
}

func send(c *Connection, msgType string, payload any) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("component", "ws").Str("type", msgType).Msg("failed to build message")
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Debug().Err(err).Str("component", "ws").Str("conn_id", c.ID).Msg("write failed")
	}
}
