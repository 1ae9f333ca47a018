package core

import "github.com/probelab/scoutrelay/internal/domain"

// Frame is a raw outbound payload (JSON envelope or binary audio).
type Frame []byte

// RelayKind discriminates what a connection is relaying into a room.
type RelayKind string

const (
	KindAudio          RelayKind = "audio"
	KindScreenFrame    RelayKind = "screenFrame"
	KindTelemetryBatch RelayKind = "telemetryBatch"
)

// SignalConnection abstracts the messaging transport of one participant.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a domain.Participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Conn domain.ConnID `json:"conn"`
	Role domain.Role   `json:"role"`
}

// RoomService is the core-facing API of a session room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	SessionID() domain.SessionID
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(conn domain.ConnID, ms MemberSession)
	RemoveMember(conn domain.ConnID)
	Broadcast(from domain.ConnID, data Frame) PublishResult
	SendTo(to domain.ConnID, data Frame) error
}
