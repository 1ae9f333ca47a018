package domain

import "errors"

const MaxSessionIDLen = 64

var ErrSessionIDInvalid = errors.New("session id empty or too long")

// Role of a connection inside a session room.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// ConnID identifies one transport endpoint (one websocket).
type ConnID string

// Participant represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Participant struct {
	Conn ConnID
	Role Role
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(conn ConnID, role Role) *Participant {
	return &Participant{Conn: conn, Role: role}
}

// ValidateSessionID bounds what adapters accept as a room key.
func ValidateSessionID(raw string) (SessionID, error) {
	if len(raw) == 0 || len(raw) > MaxSessionIDLen {
		return "", ErrSessionIDInvalid
	}
	return SessionID(raw), nil
}
