package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/core"
	"github.com/probelab/scoutrelay/internal/domain"
	"github.com/probelab/scoutrelay/internal/protocol"
)

// connState lives on the readPump goroutine only.
type connState struct {
	sessionID domain.SessionID
	role      domain.Role
	joined    bool
}

func (ctl *RelayWSController) handleEnvelope(ctx context.Context, c *WsRelayConn, state *connState, data core.Frame) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(ctx, c, state, data)
	case protocol.TypeRelayScreenFrame:
		ctl.handleScreenFrame(c, state, data)
	case protocol.TypeRelayTelemetry:
		ctl.handleTelemetry(c, state, data)
	case protocol.TypeTriggerReport:
		ctl.handleTriggerReport(ctx, c, state, data)
	case "ping":
		ctl.sendJSON(c, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message")
	}
}

func (ctl *RelayWSController) handleJoin(ctx context.Context, c *WsRelayConn, state *connState, data core.Frame) {
	var p protocol.JoinRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	sessionID, err := domain.ValidateSessionID(p.SessionID)
	if err != nil {
		ctl.sendError(c, "invalid session id")
		return
	}
	if state.joined {
		ctl.sendError(c, "already joined")
		return
	}
	if !ctl.Limiter.Allow(c.id) {
		ctl.sendError(c, "too many join attempts")
		return
	}

	requested := domain.RoleHost
	if p.Role == string(domain.RoleViewer) {
		requested = domain.RoleViewer
	}

	ms := core.NewMemberSession(domain.NewParticipant(c.id, requested), c)
	role, err := ctl.Coord.Join(ctx, sessionID, requested, ms)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("session", string(sessionID)).Msg("join refused")
		ctl.sendJSON(c, protocol.JoinResponse{
			Type:    protocol.TypeJoined,
			Status:  "error",
			Message: err.Error(),
		})
		return
	}

	state.sessionID = sessionID
	state.role = role
	state.joined = true
	ctl.sendJSON(c, protocol.JoinResponse{
		Type:   protocol.TypeJoined,
		Status: "joined",
		Role:   string(role),
	})
}

// handleAudio relays one binary PCM16 chunk. Audio from a connection
// that never joined is dropped without ceremony.
func (ctl *RelayWSController) handleAudio(c *WsRelayConn, state *connState, data []byte) {
	if !state.joined {
		return
	}
	_ = ctl.Coord.RelayAudio(state.sessionID, c.id, data)
}

func (ctl *RelayWSController) handleScreenFrame(c *WsRelayConn, state *connState, data core.Frame) {
	if !state.joined {
		ctl.sendError(c, "join first")
		return
	}
	var p protocol.ScreenFrame
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad screen frame payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	_ = ctl.Coord.RelayScreenFrame(state.sessionID, c.id, p.Frame, data)
}

func (ctl *RelayWSController) handleTelemetry(c *WsRelayConn, state *connState, data core.Frame) {
	if !state.joined {
		ctl.sendError(c, "join first")
		return
	}
	_ = ctl.Coord.RelayTelemetry(state.sessionID, c.id, data)
}

// handleTriggerReport always acknowledges with queued: a broken issue
// pipeline must never surface into the live session.
func (ctl *RelayWSController) handleTriggerReport(ctx context.Context, c *WsRelayConn, state *connState, data core.Frame) {
	if !state.joined {
		ctl.sendError(c, "join first")
		return
	}
	var p protocol.TriggerReport
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad trigger report payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.Coord.TriggerReport(ctx, state.sessionID, "manual-report", p.Context)
	ctl.sendJSON(c, map[string]any{"type": protocol.TypeQueued, "status": "queued"})
}

func (ctl *RelayWSController) sendJSON(c *WsRelayConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *RelayWSController) sendError(c *WsRelayConn, message string) {
	ctl.sendJSON(c, map[string]any{"type": protocol.TypeError, "error": message})
}
