package gateway

import (
	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/protocol"
	"github.com/nearby/radar/internal/proximity"
	"github.com/nearby/radar/internal/ratelimit"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/ws"
)

func (g *Gateway) registerHandlers() {
	d := g.dispatcher
	d.Register(protocol.TypeLocationUpdate, g.handleLocation)
	d.Register(protocol.TypeRadarSubscribe, g.handleRadarSubscribe)
	d.Register(protocol.TypeRadarUnsubscribe, g.handleRadarUnsubscribe)
	d.Register(protocol.TypeVisibilityUpdate, g.handleVisibility)
	d.Register(protocol.TypeEmergencyContactUpdate, g.handleEmergencyContact)
	d.Register(protocol.TypeChatRequest, g.handleChatRequest)
	d.Register(protocol.TypeChatAccept, g.handleChatAccept)
	d.Register(protocol.TypeChatDecline, g.handleChatDecline)
	d.Register(protocol.TypeChatEnd, g.handleChatEnd)
	d.Register(protocol.TypeChatMessage, g.handleChatMessage)
	d.Register(protocol.TypeUserBlock, g.handleBlock)
	d.Register(protocol.TypeUserReport, g.handleReport)
	d.Register(protocol.TypePanicTrigger, g.handlePanic)
}

func (g *Gateway) handleLocation(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.LocationUpdateMsg)
	_, err := g.svc.UpdateLocation(c.SessionID, proximity.Point{Lat: *m.Lat, Lng: *m.Lng})
	return err
}

func (g *Gateway) handleRadarSubscribe(c *ws.Connection, _ protocol.ClientMessage) error {
	if err := g.PushRadar(c.SessionID); err != nil {
		return err
	}
	g.Subscribe(c.SessionID)
	return nil
}

func (g *Gateway) handleRadarUnsubscribe(c *ws.Connection, _ protocol.ClientMessage) error {
	g.Unsubscribe(c.SessionID)
	return nil
}

func (g *Gateway) handleVisibility(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.VisibilityUpdateMsg)
	if err := g.svc.UpdateVisibility(c.SessionID, *m.Visible); err != nil {
		return err
	}
	g.Notify(c.SessionID, protocol.TypeVisibilityDone, protocol.VisibilityUpdatedMsg{Visible: *m.Visible})
	return nil
}

func (g *Gateway) handleEmergencyContact(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.EmergencyContactUpdateMsg)
	return g.svc.UpdateEmergencyContact(c.SessionID, m.Contact)
}

func (g *Gateway) handleChatRequest(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.ChatRequestMsg)
	// A cooling requester learns its deadline without spending a request.
	if err := g.svc.RequestCooldown(c.SessionID); err != nil {
		return err
	}
	if err := g.allow(c.SessionID, ratelimit.RuleChatRequest); err != nil {
		return err
	}
	return g.svc.RequestChat(c.SessionID, m.TargetID)
}

func (g *Gateway) handleChatAccept(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.ChatAcceptMsg)
	return g.svc.AcceptChat(c.SessionID, m.RequesterID)
}

func (g *Gateway) handleChatDecline(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.ChatDeclineMsg)
	return g.svc.DeclineChat(c.SessionID, m.RequesterID)
}

func (g *Gateway) handleChatEnd(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.EndChatMsg)
	return g.svc.EndChat(c.SessionID, m.PartnerID)
}

func (g *Gateway) handleChatMessage(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.ChatMessageMsg)
	return g.svc.SendMessage(c.SessionID, m.Text)
}

func (g *Gateway) handleBlock(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.BlockUserMsg)
	return g.svc.Block(c.SessionID, m.TargetID)
}

func (g *Gateway) handleReport(c *ws.Connection, msg protocol.ClientMessage) error {
	m := msg.(protocol.ReportUserMsg)
	if !safety.ValidCategory(m.Category) {
		return apperr.WithMessage(apperr.ErrInvalidMessage, "unknown report category")
	}
	if g.svc.HasReported(c.SessionID, m.TargetID) {
		return apperr.ErrAlreadyReported
	}
	if err := g.allow(c.SessionID, ratelimit.RuleReport); err != nil {
		return err
	}
	_, err := g.svc.Report(c.SessionID, m.TargetID, m.Category)
	return err
}

func (g *Gateway) handlePanic(c *ws.Connection, _ protocol.ClientMessage) error {
	expiresAt, err := g.svc.Panic(c.SessionID)
	if err != nil {
		return err
	}
	g.Notify(c.SessionID, protocol.TypePanicTriggered, protocol.PanicTriggeredMsg{
		ExclusionExpiresAt: expiresAt.UnixMilli(),
	})
	return nil
}
