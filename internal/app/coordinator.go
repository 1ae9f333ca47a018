// Package app holds the session room coordinator: the single source of
// truth for which sessions are live, who hosts them, and where their
// traffic goes.
package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/bridge"
	"github.com/probelab/scoutrelay/internal/core"
	"github.com/probelab/scoutrelay/internal/domain"
	"github.com/probelab/scoutrelay/internal/protocol"
	"github.com/probelab/scoutrelay/internal/queue"
	"github.com/probelab/scoutrelay/internal/store"
)

const (
	defaultSnapshotTimeout = 5 * time.Second
	telemetryRingSize      = 16
	transcriptMaxDeltas    = 256
)

type roomEntry struct {
	room    core.RoomService
	host    domain.ConnID
	session domain.Session
	bridge  bridge.Conduit // nil until dialed, stays nil when unavailable
	ended   bool

	transcript []string
	telemetry  []json.RawMessage
	pending    int // outstanding snapshot requests

	warnedNoBridge map[core.RelayKind]bool
}

// Coordinator arbitrates join/leave, host vs viewer roles, relay and
// broadcast for every live session. The registry map is the only
// mutable state shared across connections.
type Coordinator struct {
	mu     sync.RWMutex
	rooms  map[domain.SessionID]*roomEntry
	byConn map[domain.ConnID]domain.SessionID

	store           store.SessionStore
	lifecycle       *Lifecycle
	handoff         *Handoff
	dial            bridge.DialFunc
	policy          Policy
	snapshotTimeout time.Duration
}

func NewCoordinator(st store.SessionStore, jq queue.JobQueue, dial bridge.DialFunc) *Coordinator {
	return &Coordinator{
		rooms:           make(map[domain.SessionID]*roomEntry),
		byConn:          make(map[domain.ConnID]domain.SessionID),
		store:           st,
		lifecycle:       NewLifecycle(st),
		handoff:         NewHandoff(jq),
		dial:            dial,
		policy:          SimplePolicy{},
		snapshotTimeout: defaultSnapshotTimeout,
	}
}

// SetSnapshotTimeout overrides how long a late joiner's snapshot
// request may stay unanswered before it is forgotten.
func (c *Coordinator) SetSnapshotTimeout(d time.Duration) {
	if d > 0 {
		c.snapshotTimeout = d
	}
}

// Join admits a connection to a session room. The first connection to
// reach an inactive session becomes host and brings the room up
// (session fetch, bridge dial, lifecycle RUNNING); everyone after that
// is a viewer regardless of the requested role. A viewer join against
// an inactive session fails without creating anything.
func (c *Coordinator) Join(ctx context.Context, sessionID domain.SessionID, requested domain.Role, ms core.MemberSession) (domain.Role, error) {
	connID := ms.Meta().Conn

	var (
		sess    domain.Session
		fetched bool
	)

	c.mu.Lock()
	for {
		entry, ok := c.rooms[sessionID]
		if ok {
			ms.Meta().Role = domain.RoleViewer
			entry.room.AddMember(connID, ms)
			c.byConn[connID] = sessionID
			entry.pending++
			host := entry.host
			room := entry.room
			c.mu.Unlock()

			c.requestSnapshot(sessionID, room, host)
			log.Info().Str("module", "app.coordinator").Str("session", string(sessionID)).Str("conn", string(connID)).Msg("viewer joined")
			return domain.RoleViewer, nil
		}

		if requested == domain.RoleViewer {
			c.mu.Unlock()
			return "", core.ErrSessionNotActive
		}
		if fetched {
			break
		}

		// Store fetch happens off the lock; the loop re-checks the
		// registry afterwards so two hosts racing for the same session
		// resolve to one host and one viewer.
		c.mu.Unlock()
		var err error
		sess, err = c.store.FindSession(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("session lookup failed")
			return "", core.ErrSessionNotActive
		}
		fetched = true
		c.mu.Lock()
	}

	ms.Meta().Role = domain.RoleHost
	entry := &roomEntry{
		room:           core.NewRoomService(sessionID),
		host:           connID,
		session:        sess,
		warnedNoBridge: make(map[core.RelayKind]bool),
	}
	entry.room.AddMember(connID, ms)
	c.rooms[sessionID] = entry
	c.byConn[connID] = sessionID
	c.mu.Unlock()

	status := c.lifecycle.Advance(ctx, sessionID, sess.Status, domain.StatusRunning)
	c.mu.Lock()
	entry.session.Status = status
	c.mu.Unlock()

	// The bridge handshake must never block the registry; the entry is
	// already visible with a nil bridge and relay calls degrade until
	// the dial lands.
	go c.attachBridge(ctx, sessionID, entry.session.Mission)

	log.Info().Str("module", "app.coordinator").Str("session", string(sessionID)).Str("conn", string(connID)).Msg("host joined, room created")
	return domain.RoleHost, nil
}

func (c *Coordinator) attachBridge(ctx context.Context, sessionID domain.SessionID, mission domain.Mission) {
	conduit, err := c.dial(ctx, sessionID, mission)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("bridge dial failed, session continues without ai")
		return
	}

	c.mu.Lock()
	entry, ok := c.rooms[sessionID]
	if !ok || entry.ended {
		c.mu.Unlock()
		conduit.Close()
		return
	}
	entry.bridge = conduit
	c.mu.Unlock()

	go c.pumpBridge(ctx, sessionID, conduit)
}

func (c *Coordinator) requestSnapshot(sessionID domain.SessionID, room core.RoomService, host domain.ConnID) {
	frame, err := protocol.Encode(protocol.RequestSnapshot{Type: protocol.TypeRequestSnapshot})
	if err != nil {
		return
	}
	if err := room.SendTo(host, core.Frame(frame)); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("snapshot request not delivered")
	}

	time.AfterFunc(c.snapshotTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entry, ok := c.rooms[sessionID]
		if !ok || entry.pending == 0 {
			return
		}
		entry.pending--
		log.Warn().Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("host never answered snapshot request, viewer proceeds with live traffic")
	})
}

// RelayAudio feeds a PCM16 chunk into the session's AI bridge. Audio is
// never broadcast to viewers.
func (c *Coordinator) RelayAudio(sessionID domain.SessionID, sender domain.ConnID, pcm []byte) error {
	c.mu.RLock()
	entry, ok := c.rooms[sessionID]
	c.mu.RUnlock()
	if !ok {
		c.logMissing(sessionID, core.KindAudio)
		return core.ErrRelayTargetMissing
	}
	if b := c.bridgeOrWarn(entry, sessionID, core.KindAudio); b != nil {
		b.SendAudio(pcm)
	}
	return nil
}

// RelayScreenFrame forwards the JPEG into the bridge and rebroadcasts
// the original wire envelope to every other room member.
func (c *Coordinator) RelayScreenFrame(sessionID domain.SessionID, sender domain.ConnID, jpeg []byte, wire core.Frame) error {
	c.mu.RLock()
	entry, ok := c.rooms[sessionID]
	c.mu.RUnlock()
	if !ok {
		c.logMissing(sessionID, core.KindScreenFrame)
		return core.ErrRelayTargetMissing
	}
	if b := c.bridgeOrWarn(entry, sessionID, core.KindScreenFrame); b != nil {
		b.SendImage(jpeg)
	}
	c.broadcast(entry, sender, wire)
	return nil
}

// RelayTelemetry rebroadcasts an ordered DOM-event batch to the other
// room members and keeps a short ring of recent batches for issue
// hand-off context. The bridge does not consume DOM events.
func (c *Coordinator) RelayTelemetry(sessionID domain.SessionID, sender domain.ConnID, wire core.Frame) error {
	c.mu.Lock()
	entry, ok := c.rooms[sessionID]
	if !ok {
		c.mu.Unlock()
		c.logMissing(sessionID, core.KindTelemetryBatch)
		return core.ErrRelayTargetMissing
	}
	entry.telemetry = append(entry.telemetry, json.RawMessage(wire))
	if len(entry.telemetry) > telemetryRingSize {
		entry.telemetry = entry.telemetry[len(entry.telemetry)-telemetryRingSize:]
	}
	if sender == entry.host && entry.pending > 0 {
		// Any host batch satisfies outstanding snapshot requests.
		entry.pending = 0
	}
	c.mu.Unlock()

	c.broadcast(entry, sender, wire)
	return nil
}

// TriggerReport enqueues an issue job on behalf of a connection's
// explicit report. Enqueue failure is logged here and never surfaced to
// the live session.
func (c *Coordinator) TriggerReport(ctx context.Context, sessionID domain.SessionID, trigger string, reportCtx json.RawMessage) {
	job := c.buildJob(sessionID, trigger)
	if len(reportCtx) > 0 {
		job.Telemetry = append(job.Telemetry, reportCtx)
	}
	if err := c.handoff.Report(ctx, job); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("trigger report not enqueued")
	}
}

// Disconnect removes a connection. A host disconnect tears the whole
// room down: bridge close, session-ended broadcast, lifecycle
// COMPLETED, entry removal. Racing disconnects collapse to exactly one
// teardown.
func (c *Coordinator) Disconnect(ctx context.Context, connID domain.ConnID) {
	c.mu.Lock()
	sessionID, ok := c.byConn[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byConn, connID)

	entry, ok := c.rooms[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if connID != entry.host {
		entry.room.RemoveMember(connID)
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("session", string(sessionID)).Str("conn", string(connID)).Msg("viewer left")
		return
	}

	entry.ended = true
	delete(c.rooms, sessionID)
	for _, m := range entry.room.MembersSnapshot() {
		delete(c.byConn, m.Conn)
	}
	b := entry.bridge
	status := entry.session.Status
	c.mu.Unlock()

	c.finishSession(ctx, sessionID, entry, b, status, "host disconnected")
}

// End tears a session down explicitly, with the same cascade as a host
// disconnect.
func (c *Coordinator) End(ctx context.Context, sessionID domain.SessionID, reason string) {
	c.mu.Lock()
	entry, ok := c.rooms[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.ended = true
	delete(c.rooms, sessionID)
	for _, m := range entry.room.MembersSnapshot() {
		delete(c.byConn, m.Conn)
	}
	b := entry.bridge
	status := entry.session.Status
	c.mu.Unlock()

	c.finishSession(ctx, sessionID, entry, b, status, reason)
}

func (c *Coordinator) finishSession(ctx context.Context, sessionID domain.SessionID, entry *roomEntry, b bridge.Conduit, status domain.Status, reason string) {
	if b != nil {
		b.Close()
	}

	if frame, err := protocol.Encode(protocol.SessionEnded{Type: protocol.TypeSessionEnded, Reason: reason}); err == nil {
		entry.room.Broadcast(entry.host, core.Frame(frame))
	}
	entry.room.RemoveMember(entry.host)

	c.lifecycle.Advance(ctx, sessionID, status, domain.StatusCompleted)
	log.Info().Str("module", "app.coordinator").Str("session", string(sessionID)).Str("reason", reason).Msg("session ended")
}

// pumpBridge fans the bridge's event stream out to the room (host and
// viewers alike) until the stream closes.
func (c *Coordinator) pumpBridge(ctx context.Context, sessionID domain.SessionID, conduit bridge.Conduit) {
	for ev := range conduit.Events() {
		c.mu.RLock()
		entry, ok := c.rooms[sessionID]
		c.mu.RUnlock()
		if !ok {
			continue // room torn down, drain remaining events
		}

		switch ev := ev.(type) {
		case bridge.AudioDelta:
			c.fanOut(entry, protocol.AIAudio{Type: protocol.TypeAIAudio, Audio: ev.PCM})
		case bridge.TextDelta:
			c.appendTranscript(entry, ev.Text)
			c.fanOut(entry, protocol.AIText{Type: protocol.TypeAIText, Text: ev.Text})
		case bridge.InterventionTrigger:
			c.appendTranscript(entry, ev.Text)
			c.fanOut(entry, protocol.AIIntervention{Type: protocol.TypeAIIntervention, Trigger: ev.Token})
			if err := c.handoff.Report(ctx, c.buildJob(sessionID, ev.Token)); err != nil {
				log.Error().Err(err).Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("intervention not enqueued")
			}
		case bridge.TurnComplete:
			log.Debug().Str("module", "app.coordinator").Str("session", string(sessionID)).Msg("ai turn complete")
		}
	}
}

// fanOut delivers an AI message to every member, host included.
func (c *Coordinator) fanOut(entry *roomEntry, msg any) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("encode ai message")
		return
	}
	// The zero ConnID matches no member, so nobody is excluded.
	res := entry.room.Broadcast("", core.Frame(frame))
	c.handleDropped(entry, res)
}

func (c *Coordinator) broadcast(entry *roomEntry, from domain.ConnID, wire core.Frame) {
	res := entry.room.Broadcast(from, wire)
	c.handleDropped(entry, res)
}

func (c *Coordinator) handleDropped(entry *roomEntry, res core.PublishResult) {
	for _, slow := range res.Dropped {
		meta := slow.Meta()
		switch c.policy.OnBackpressure(meta.Role) {
		case KickMember:
			log.Warn().Str("module", "app.coordinator").Str("session", string(entry.room.SessionID())).Str("conn", string(meta.Conn)).Msg("kicking slow viewer")
			entry.room.RemoveMember(meta.Conn)
			c.mu.Lock()
			delete(c.byConn, meta.Conn)
			c.mu.Unlock()
			slow.Signal().Close()
		case DropFrame, NoAction:
		}
	}
}

func (c *Coordinator) appendTranscript(entry *roomEntry, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.transcript = append(entry.transcript, text)
	if len(entry.transcript) > transcriptMaxDeltas {
		entry.transcript = entry.transcript[len(entry.transcript)-transcriptMaxDeltas:]
	}
}

func (c *Coordinator) buildJob(sessionID domain.SessionID, trigger string) queue.IssueJob {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job := queue.IssueJob{
		SessionID: sessionID,
		Trigger:   trigger,
		Timestamp: time.Now().UTC(),
	}
	if entry, ok := c.rooms[sessionID]; ok {
		job.Transcript = joinTranscript(entry.transcript)
		job.Telemetry = append(job.Telemetry, entry.telemetry...)
	}
	return job
}

func (c *Coordinator) bridgeOrWarn(entry *roomEntry, sessionID domain.SessionID, kind core.RelayKind) bridge.Conduit {
	c.mu.RLock()
	b := entry.bridge
	c.mu.RUnlock()
	if b != nil {
		return b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.bridge != nil {
		return entry.bridge
	}
	if !entry.warnedNoBridge[kind] {
		entry.warnedNoBridge[kind] = true
		log.Warn().Err(core.ErrBridgeUnavailable).Str("module", "app.coordinator").Str("session", string(sessionID)).Str("kind", string(kind)).Msg("dropping input")
	}
	return nil
}

func (c *Coordinator) logMissing(sessionID domain.SessionID, kind core.RelayKind) {
	log.Debug().Str("module", "app.coordinator").Str("session", string(sessionID)).Str("kind", string(kind)).Msg("relay for inactive session dropped")
}

func joinTranscript(deltas []string) string {
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(d)
	}
	return sb.String()
}
