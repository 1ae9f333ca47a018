package core

import "github.com/probelab/scoutrelay/internal/domain"

type memberSession struct {
	meta   *domain.Participant
	signal SignalConnection
}

// NewMemberSession binds participation meta to its transport endpoint.
func NewMemberSession(meta *domain.Participant, signal SignalConnection) MemberSession {
	return &memberSession{meta: meta, signal: signal}
}

func (m *memberSession) Meta() *domain.Participant { return m.meta }
func (m *memberSession) Signal() SignalConnection  { return m.signal }
