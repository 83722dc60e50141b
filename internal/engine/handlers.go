package engine

import (
	"log/slog"

	"github.com/atmx/crowd-engine/internal/metrics"
	"github.com/atmx/crowd-engine/internal/model"
	"github.com/atmx/crowd-engine/internal/protocol"
	"github.com/atmx/crowd-engine/internal/registry"
	"github.com/atmx/crowd-engine/internal/room"
)

// errSessionReplaced is sent to a socket evicted by a newer login.
var errSessionReplaced = model.NewError(model.KindStateConflict, "SessionReplaced",
	"session: replaced by a newer login")

// --- Login ---

func (e *Engine) handleLogin(s session, env protocol.Envelope) error {
	var req protocol.LoginRequest
	if err := env.Bind(&req); err != nil {
		return err
	}

	identity, err := e.registry.Authorize(req.Identity)
	if err != nil {
		metrics.Logins.WithLabelValues("denied").Inc()
		slog.Warn("login denied", "conn", s.conn.ID(), "identity", req.Identity)
		return err
	}

	// A socket switching identity takes its old identity offline.
	if s.identity != "" && s.identity != identity {
		e.releaseIdentity(s.identity)
	}
	// The identity's previous socket gives up its room seat before the new
	// one is registered.
	if prev, err := e.registry.Resolve(identity); err == nil && prev.ID() != s.conn.ID() {
		e.rooms.Leave(identity)
	}

	res, err := e.registry.Login(identity, s.conn)
	if err != nil {
		metrics.Logins.WithLabelValues("denied").Inc()
		return err
	}
	metrics.ConnectedIdentities.Set(float64(e.registry.ConnectedCount()))

	if res.Evicted != nil {
		metrics.Logins.WithLabelValues("evicted").Inc()
		e.bus.ToConn(res.Evicted, protocol.Message{
			Type: protocol.TypeError,
			Payload: protocol.ErrorReport{
				Reason: errSessionReplaced.Error(),
				Code:   errSessionReplaced.Code,
				Kind:   errSessionReplaced.Kind,
			},
		})
		if err := res.Evicted.Close(); err != nil {
			slog.Warn("closing evicted connection failed", "conn", res.Evicted.ID(), "err", err)
		}
		slog.Info("connection evicted", "identity", identity, "old_conn", res.Evicted.ID(), "new_conn", s.conn.ID())
	} else {
		metrics.Logins.WithLabelValues("ok").Inc()
	}

	e.welcome(s.conn, res)
	slog.Info("identity logged in",
		"identity", identity,
		"conn", s.conn.ID(),
		"first_login", res.FirstLogin,
		"balance", res.Identity.Balance.String(),
	)
	return nil
}

// welcome brings a freshly logged-in socket up to date.
func (e *Engine) welcome(conn registry.Conn, res registry.LoginResult) {
	id := res.Identity
	e.bus.ToConn(conn, protocol.Message{
		Type:    protocol.TypeLoginSuccess,
		Payload: protocol.LoginSuccess{Identity: id.ID, Balance: id.Balance},
	})
	e.bus.ToConn(conn, protocol.Message{
		Type:    protocol.TypeCurrentEmotions,
		Payload: protocol.EmotionCounters{Counters: e.emotions.Snapshot()},
	})
	e.bus.ToConn(conn, protocol.Message{
		Type:    protocol.TypeChatHistory,
		Payload: protocol.ChatHistory{Messages: e.lobby.History()},
	})

	if r, ok := e.bets.Active(); ok {
		e.bus.ToConn(conn, protocol.Message{Type: protocol.TypeNewBetProposal, Payload: r.Proposal()})
		e.bus.ToConn(conn, protocol.Message{
			Type:    protocol.TypeBetUpdate,
			Payload: protocol.BetUpdate{ID: r.ID, Pot: r.Pot},
		})
	}

	if a, ok := e.actions.Active(); ok {
		e.bus.ToConn(conn, protocol.Message{Type: protocol.TypeActionUpdate, Payload: a.State()})
	} else if a, ok := e.actions.LastCompleted(); ok {
		typ := protocol.TypeActionExpired
		if a.Status == model.ActionSucceeded {
			typ = protocol.TypeActionSuccess
		}
		e.bus.ToConn(conn, protocol.Message{Type: typ, Payload: a.State()})
	}

	if inv, ok := e.rooms.Pending(id.ID); ok {
		e.bus.ToConn(conn, protocol.Message{
			Type:    protocol.TypePrivateInvite,
			Payload: protocol.PrivateInvite{InviterID: inv.InviterID, RoomID: inv.RoomID},
		})
	}
}

// --- Emotions, betting, lobby ---

func (e *Engine) handleEmotion(s session, env protocol.Envelope) error {
	var req protocol.EmotionRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	return e.emotions.Activate(s.identity, req.EmotionName)
}

func (e *Engine) handlePlaceBet(s session, env protocol.Envelope) error {
	var req protocol.PlaceBetRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	return e.bets.PlaceStake(s.identity, req.BetID, req.Option, req.Amount)
}

func (e *Engine) handleLobbyMessage(s session, env protocol.Envelope) error {
	var req protocol.TextRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	_, err := e.lobby.Send(s.identity, req.Text)
	return err
}

// --- Private rooms ---

func (e *Engine) handleInvite(s session, env protocol.Envelope) error {
	var req protocol.InviteRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	return e.rooms.Invite(s.identity, req.TargetID)
}

func (e *Engine) handleAccept(s session, env protocol.Envelope) error {
	var req protocol.InvitationRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	return e.rooms.Accept(s.identity, req.InviterID, req.RoomID)
}

func (e *Engine) handleDecline(s session, env protocol.Envelope) error {
	var req protocol.InvitationRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	e.rooms.Decline(s.identity, req.InviterID, req.RoomID)
	return nil
}

func (e *Engine) handlePrivateMessage(s session, env protocol.Envelope) error {
	var req protocol.TextRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	_, err := e.rooms.SendMessage(s.identity, req.Text)
	return err
}

func (e *Engine) handleLeaveRoom(s session, _ protocol.Envelope) error {
	roomID, ok := e.rooms.Leave(s.identity)
	if !ok {
		return room.ErrNotInRoom
	}
	e.bus.ToConn(s.conn, protocol.Message{
		Type:    protocol.TypePrivateLeft,
		Payload: protocol.PrivateLeft{RoomID: roomID},
	})
	return nil
}

// --- Collective actions ---

func (e *Engine) handlePropose(s session, env protocol.Envelope) error {
	var req protocol.TextRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	_, err := e.actions.Propose(s.identity, req.Text)
	return err
}

func (e *Engine) handleVote(s session, env protocol.Envelope) error {
	var req protocol.VoteRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	return e.actions.Vote(s.identity, req.Choice)
}
