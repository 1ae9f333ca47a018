package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/scoutrelay/internal/bridge"
	"github.com/probelab/scoutrelay/internal/core"
	"github.com/probelab/scoutrelay/internal/domain"
	"github.com/probelab/scoutrelay/internal/protocol"
	"github.com/probelab/scoutrelay/internal/queue"
	"github.com/probelab/scoutrelay/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	cp := make(core.Frame, len(fr))
	copy(cp, fr)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// countType decodes every captured frame and counts envelope types.
func (f *fakeConn) countType(t *testing.T, want string) int {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		if env.Type == want {
			n++
		}
	}
	return n
}

type fakeConduit struct {
	mu     sync.Mutex
	audio  [][]byte
	images [][]byte
	events chan bridge.Event
	once   sync.Once
}

func newFakeConduit() *fakeConduit {
	return &fakeConduit{events: make(chan bridge.Event, 16)}
}

func (f *fakeConduit) SendAudio(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.audio = append(f.audio, cp)
}

func (f *fakeConduit) SendImage(jpeg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(jpeg))
	copy(cp, jpeg)
	f.images = append(f.images, cp)
}

func (f *fakeConduit) Events() <-chan bridge.Event { return f.events }
func (f *fakeConduit) Close()                      { f.once.Do(func() { close(f.events) }) }

func (f *fakeConduit) audioChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

type fixture struct {
	coord   *Coordinator
	store   *store.MemoryStore
	queue   *queue.MemoryQueue
	conduit *fakeConduit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateSession(context.Background(), domain.Session{
		ID:      "s1",
		Status:  domain.StatusPending,
		Mission: domain.Mission{URL: "https://shop.example", Context: "checkout flow"},
	}))

	jq := queue.NewMemoryQueue()
	conduit := newFakeConduit()
	dial := func(ctx context.Context, sessionID domain.SessionID, mission domain.Mission) (bridge.Conduit, error) {
		return conduit, nil
	}
	return &fixture{
		coord:   NewCoordinator(st, jq, dial),
		store:   st,
		queue:   jq,
		conduit: conduit,
	}
}

func member(id string, role domain.Role) (core.MemberSession, *fakeConn) {
	conn := &fakeConn{}
	return core.NewMemberSession(domain.NewParticipant(domain.ConnID(id), role), conn), conn
}

func (fx *fixture) waitBridge(t *testing.T, sessionID domain.SessionID) {
	t.Helper()
	require.Eventually(t, func() bool {
		fx.coord.mu.RLock()
		defer fx.coord.mu.RUnlock()
		entry, ok := fx.coord.rooms[sessionID]
		return ok && entry.bridge != nil
	}, time.Second, 5*time.Millisecond, "bridge never attached")
}

func TestHostJoinCreatesRoomAndRuns(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)

	role, err := fx.coord.Join(context.Background(), "s1", domain.RoleHost, host)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, role)

	sess, err := fx.store.FindSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, sess.Status)
}

func TestViewerJoinInactiveSessionFails(t *testing.T) {
	fx := newFixture(t)
	viewer, _ := member("v", domain.RoleViewer)

	_, err := fx.coord.Join(context.Background(), "s1", domain.RoleViewer, viewer)
	assert.ErrorIs(t, err, core.ErrSessionNotActive)

	// No entry may have been created: a second viewer fails identically.
	viewer2, _ := member("v2", domain.RoleViewer)
	_, err = fx.coord.Join(context.Background(), "s1", domain.RoleViewer, viewer2)
	assert.ErrorIs(t, err, core.ErrSessionNotActive)

	sess, err := fx.store.FindSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, sess.Status)
}

func TestUnknownSessionHostJoinFails(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	_, err := fx.coord.Join(context.Background(), "missing", domain.RoleHost, host)
	assert.ErrorIs(t, err, core.ErrSessionNotActive)
}

func TestAtMostOneHostUnderConcurrentJoins(t *testing.T) {
	fx := newFixture(t)

	const n = 16
	roles := make(chan domain.Role, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ms, _ := member(fmt.Sprintf("c%d", i), domain.RoleHost)
			role, err := fx.coord.Join(context.Background(), "s1", domain.RoleHost, ms)
			if err == nil {
				roles <- role
			}
		}(i)
	}
	wg.Wait()
	close(roles)

	hosts := 0
	for role := range roles {
		if role == domain.RoleHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts, "exactly one connection may win the host role")
}

func TestViewerJoinTriggersSnapshotRequest(t *testing.T) {
	fx := newFixture(t)
	host, hostConn := member("h", domain.RoleHost)
	viewer, _ := member("v", domain.RoleViewer)

	_, err := fx.coord.Join(context.Background(), "s1", domain.RoleHost, host)
	require.NoError(t, err)

	role, err := fx.coord.Join(context.Background(), "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, role)

	assert.Equal(t, 1, hostConn.countType(t, protocol.TypeRequestSnapshot))
}

func TestSecondHostRequestBecomesViewer(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	late, _ := member("h2", domain.RoleHost)

	_, err := fx.coord.Join(context.Background(), "s1", domain.RoleHost, host)
	require.NoError(t, err)

	role, err := fx.coord.Join(context.Background(), "s1", domain.RoleHost, late)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, role)
}

func TestHostTelemetryClearsPendingSnapshot(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	viewer, _ := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)

	wire, _ := protocol.Encode(protocol.TelemetryBatch{Type: protocol.TypeRelayTelemetry, Snapshot: true})
	require.NoError(t, fx.coord.RelayTelemetry("s1", "h", core.Frame(wire)))

	fx.coord.mu.RLock()
	pending := fx.coord.rooms["s1"].pending
	fx.coord.mu.RUnlock()
	assert.Equal(t, 0, pending)
}

func TestAudioGoesToBridgeOnlyInOrder(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	viewer, viewerConn := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	for i := 0; i < 10; i++ {
		require.NoError(t, fx.coord.RelayAudio("s1", "h", []byte{byte(i)}))
	}

	chunks := fx.conduit.audioChunks()
	require.Len(t, chunks, 10)
	for i, chunk := range chunks {
		assert.Equal(t, []byte{byte(i)}, chunk, "chunk %d out of order", i)
	}

	// Raw input audio is consumed by the bridge, never broadcast.
	viewerConn.mu.Lock()
	frames := len(viewerConn.frames)
	viewerConn.mu.Unlock()
	assert.Zero(t, frames)
}

func TestScreenFrameGoesToBridgeAndPeers(t *testing.T) {
	fx := newFixture(t)
	host, hostConn := member("h", domain.RoleHost)
	viewer, viewerConn := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	jpeg := []byte{0xFF, 0xD8, 0xFF}
	wire, _ := protocol.Encode(protocol.ScreenFrame{Type: protocol.TypeRelayScreenFrame, Frame: jpeg})
	require.NoError(t, fx.coord.RelayScreenFrame("s1", "h", jpeg, core.Frame(wire)))

	fx.conduit.mu.Lock()
	images := len(fx.conduit.images)
	fx.conduit.mu.Unlock()
	assert.Equal(t, 1, images)

	assert.Equal(t, 1, viewerConn.countType(t, protocol.TypeRelayScreenFrame))
	assert.Zero(t, hostConn.countType(t, protocol.TypeRelayScreenFrame), "sender must not echo")
}

func TestTelemetryBroadcastOnly(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	viewer, viewerConn := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	wire, _ := protocol.Encode(protocol.TelemetryBatch{Type: protocol.TypeRelayTelemetry})
	require.NoError(t, fx.coord.RelayTelemetry("s1", "h", core.Frame(wire)))

	assert.Equal(t, 1, viewerConn.countType(t, protocol.TypeRelayTelemetry))
	fx.conduit.mu.Lock()
	defer fx.conduit.mu.Unlock()
	assert.Empty(t, fx.conduit.audio)
	assert.Empty(t, fx.conduit.images)
}

func TestRelayToInactiveSessionDropsSilently(t *testing.T) {
	fx := newFixture(t)
	err := fx.coord.RelayAudio("ghost", "h", []byte{1})
	assert.ErrorIs(t, err, core.ErrRelayTargetMissing)
}

func TestBridgeDialFailureDegradesGracefully(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateSession(context.Background(), domain.Session{ID: "s1"}))
	coord := NewCoordinator(st, queue.NewMemoryQueue(), func(ctx context.Context, id domain.SessionID, m domain.Mission) (bridge.Conduit, error) {
		return nil, errors.New("endpoint unreachable")
	})

	host, _ := member("h", domain.RoleHost)
	role, err := coord.Join(context.Background(), "s1", domain.RoleHost, host)
	require.NoError(t, err, "join must succeed even when the ai endpoint is down")
	assert.Equal(t, domain.RoleHost, role)

	// Relay calls become no-ops, not errors or panics.
	assert.NoError(t, coord.RelayAudio("s1", "h", []byte{1}))
	wire, _ := protocol.Encode(protocol.ScreenFrame{Type: protocol.TypeRelayScreenFrame})
	assert.NoError(t, coord.RelayScreenFrame("s1", "h", nil, core.Frame(wire)))
}

func TestBridgeEventsFanOutToEveryone(t *testing.T) {
	fx := newFixture(t)
	host, hostConn := member("h", domain.RoleHost)
	viewer, viewerConn := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	fx.conduit.events <- bridge.AudioDelta{PCM: []byte{9, 9}}
	fx.conduit.events <- bridge.TextDelta{Text: "looks healthy"}

	require.Eventually(t, func() bool {
		return hostConn.countType(t, protocol.TypeAIText) == 1 &&
			viewerConn.countType(t, protocol.TypeAIText) == 1 &&
			hostConn.countType(t, protocol.TypeAIAudio) == 1 &&
			viewerConn.countType(t, protocol.TypeAIAudio) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInterventionEnqueuesJobWithContext(t *testing.T) {
	fx := newFixture(t)
	host, hostConn := member("h", domain.RoleHost)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	fx.conduit.events <- bridge.TextDelta{Text: "the cart page "}
	fx.conduit.events <- bridge.InterventionTrigger{Token: "[INTERVENTION]", Text: "tester is stuck [INTERVENTION]"}

	require.Eventually(t, func() bool {
		return len(fx.queue.Jobs()) == 1
	}, time.Second, 5*time.Millisecond)

	job := fx.queue.Jobs()[0]
	assert.Equal(t, domain.SessionID("s1"), job.SessionID)
	assert.Equal(t, "[INTERVENTION]", job.Trigger)
	assert.Contains(t, job.Transcript, "the cart page")
	assert.False(t, job.Timestamp.IsZero())

	// The trigger is announced to the room instead of plain text.
	assert.Equal(t, 1, hostConn.countType(t, protocol.TypeAIIntervention))
}

func TestTriggerReportSwallowsQueueFailure(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)

	fx.queue.FailWith(errors.New("redis down"))
	assert.NotPanics(t, func() {
		fx.coord.TriggerReport(ctx, "s1", "manual", json.RawMessage(`{"note":"observed hang"}`))
	})
	assert.Empty(t, fx.queue.Jobs())
}

func TestHostDisconnectEndsSessionExactlyOnce(t *testing.T) {
	fx := newFixture(t)
	host, _ := member("h", domain.RoleHost)
	viewerA, connA := member("va", domain.RoleViewer)
	viewerB, connB := member("vb", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewerA)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewerB)
	require.NoError(t, err)
	fx.waitBridge(t, "s1")

	// Racing disconnect events for the same host connection.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.coord.Disconnect(ctx, "h")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, connA.countType(t, protocol.TypeSessionEnded))
	assert.Equal(t, 1, connB.countType(t, protocol.TypeSessionEnded))

	sess, err := fx.store.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, sess.Status)

	// Rejoin as viewer now fails: the entry is gone.
	viewer, _ := member("vc", domain.RoleViewer)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	assert.ErrorIs(t, err, core.ErrSessionNotActive)
}

func TestViewerDisconnectLeavesRoomIntact(t *testing.T) {
	fx := newFixture(t)
	host, hostConn := member("h", domain.RoleHost)
	viewer, _ := member("v", domain.RoleViewer)
	ctx := context.Background()

	_, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)

	fx.coord.Disconnect(ctx, "v")

	assert.Zero(t, hostConn.countType(t, protocol.TypeSessionEnded))
	sess, err := fx.store.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, sess.Status)
}

// TestFullSessionScenario walks the whole lifecycle end to end with the
// in-memory collaborators.
func TestFullSessionScenario(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	host, hostConn := member("h", domain.RoleHost)
	role, err := fx.coord.Join(ctx, "s1", domain.RoleHost, host)
	require.NoError(t, err)
	require.Equal(t, domain.RoleHost, role)
	sess, _ := fx.store.FindSession(ctx, "s1")
	require.Equal(t, domain.StatusRunning, sess.Status)

	viewer, viewerConn := member("v", domain.RoleViewer)
	role, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, viewer)
	require.NoError(t, err)
	require.Equal(t, domain.RoleViewer, role)
	require.Equal(t, 1, hostConn.countType(t, protocol.TypeRequestSnapshot))

	fx.waitBridge(t, "s1")
	for i := 0; i < 10; i++ {
		require.NoError(t, fx.coord.RelayAudio("s1", "h", []byte{byte(i)}))
	}
	require.Len(t, fx.conduit.audioChunks(), 10)

	fx.conduit.events <- bridge.InterventionTrigger{Token: "[INTERVENTION]", Text: "stuck [INTERVENTION]"}
	require.Eventually(t, func() bool { return len(fx.queue.Jobs()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, domain.SessionID("s1"), fx.queue.Jobs()[0].SessionID)

	fx.coord.Disconnect(ctx, "h")
	require.Equal(t, 1, viewerConn.countType(t, protocol.TypeSessionEnded))
	sess, _ = fx.store.FindSession(ctx, "s1")
	require.Equal(t, domain.StatusCompleted, sess.Status)

	late, _ := member("v2", domain.RoleViewer)
	_, err = fx.coord.Join(ctx, "s1", domain.RoleViewer, late)
	require.ErrorIs(t, err, core.ErrSessionNotActive)
}
