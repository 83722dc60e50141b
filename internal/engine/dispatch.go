package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/registry"
)

// ErrUnknownType is returned for frames whose type has no handler.
var ErrUnknownType = model.NewError(model.KindValidation, "UnknownType", "engine: unknown event type")

// session is the sender of one inbound frame.
type session struct {
	conn     registry.Conn
	identity string // empty before login
}

type handlerFunc func(e *Engine, s session, env protocol.Envelope) error

// route binds an inbound type to its handler and the event that reports
// its failures.
type route struct {
	handle    handlerFunc
	errorType string
	public    bool // allowed before login
}

var routes = map[string]route{
	protocol.TypeLogin:                {handle: (*Engine).handleLogin, errorType: protocol.TypeLoginError, public: true},
	protocol.TypeSendEmotion:          {handle: (*Engine).handleEmotion, errorType: protocol.TypeEmotionError},
	protocol.TypePlaceBet:             {handle: (*Engine).handlePlaceBet, errorType: protocol.TypeBetError},
	protocol.TypeSendMessage:          {handle: (*Engine).handleLobbyMessage, errorType: protocol.TypeChatError},
	protocol.TypeSendPrivateInvite:    {handle: (*Engine).handleInvite, errorType: protocol.TypePrivateError},
	protocol.TypeAcceptPrivateInvite:  {handle: (*Engine).handleAccept, errorType: protocol.TypePrivateError},
	protocol.TypeDeclinePrivateInvite: {handle: (*Engine).handleDecline, errorType: protocol.TypePrivateError},
	protocol.TypeSendPrivateMessage:   {handle: (*Engine).handlePrivateMessage, errorType: protocol.TypePrivateError},
	protocol.TypeLeavePrivateRoom:     {handle: (*Engine).handleLeaveRoom, errorType: protocol.TypePrivateError},
	protocol.TypeProposeAction:        {handle: (*Engine).handlePropose, errorType: protocol.TypeActionError},
	protocol.TypeVoteAction:           {handle: (*Engine).handleVote, errorType: protocol.TypeActionError},
}

// Dispatch decodes one frame from conn and runs its handler. Failures are
// reported to conn only. Must run on the loop.
func (e *Engine) Dispatch(conn registry.Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		e.reject(conn, "malformed", protocol.TypeError, err)
		return
	}

	rt, ok := routes[env.Type]
	if !ok {
		e.reject(conn, env.Type, protocol.TypeError, fmt.Errorf("%w: %s", ErrUnknownType, env.Type))
		return
	}

	start := time.Now()
	defer func() {
		metrics.HandlerLatency.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}()
	metrics.EventsHandled.WithLabelValues(env.Type).Inc()

	s := session{conn: conn}
	s.identity, _ = e.registry.IdentityOf(conn)
	if s.identity == "" && !rt.public {
		e.reject(conn, env.Type, rt.errorType, model.ErrNotLoggedIn)
		return
	}

	if err := rt.handle(e, s, env); err != nil {
		errorType := rt.errorType
		if errors.Is(err, protocol.ErrMalformedFrame) {
			errorType = protocol.TypeError
		}
		e.reject(conn, env.Type, errorType, err)
	}
}

// reject sends an error event to conn.
func (e *Engine) reject(conn registry.Conn, eventType, errorType string, err error) {
	kind := model.KindOf(err)
	metrics.EventErrors.WithLabelValues(eventType, string(kind)).Inc()
	slog.Debug("event rejected", "conn", conn.ID(), "type", eventType, "kind", kind, "err", err)
	e.bus.ToConn(conn, protocol.Message{
		Type: errorType,
		Payload: protocol.ErrorReport{
			Reason: err.Error(),
			Code:   model.CodeOf(err),
			Kind:   kind,
		},
	})
}

// DropConn handles a transport-level disconnect. A socket that is no longer
// its identity's live connection is ignored. Must run on the loop.
func (e *Engine) DropConn(conn registry.Conn) {
	identity, ok := e.registry.Disconnect(conn)
	if !ok {
		return
	}
	e.releaseIdentity(identity)
	metrics.ConnectedIdentities.Set(float64(e.registry.ConnectedCount()))
	slog.Info("identity disconnected", "identity", identity, "conn", conn.ID())
}

// releaseIdentity clears per-connection state of an identity that has gone
// offline: its room seat (the other participant is told) and any invitation
// waiting for it.
func (e *Engine) releaseIdentity(identity string) {
	e.rooms.Leave(identity)
	e.rooms.DropInvitation(identity)
}
