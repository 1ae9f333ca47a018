package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/domain"
)

var ErrMemberMissing = errors.New("member not in room")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	sessionID domain.SessionID
	mu        sync.RWMutex
	byConn    map[domain.ConnID]MemberSession
}

func NewRoomService(sessionID domain.SessionID) RoomService {
	return &roomImpl{
		sessionID: sessionID,
		byConn:    make(map[domain.ConnID]MemberSession),
	}
}

func (r *roomImpl) SessionID() domain.SessionID { return r.sessionID }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

func (r *roomImpl) AddMember(conn domain.ConnID, ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[conn] = ms
	log.Info().Str("module", "core.room").Str("session", string(r.sessionID)).Str("conn", string(conn)).Str("role", string(ms.Meta().Role)).Msg("member added")
}

func (r *roomImpl) RemoveMember(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, conn)
	log.Info().Str("module", "core.room").Str("session", string(r.sessionID)).Str("conn", string(conn)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from domain.ConnID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for conn, m := range r.byConn {
		if conn == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("session", string(r.sessionID)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(to domain.ConnID, data Frame) error {
	r.mu.RLock()
	ms, ok := r.byConn[to]
	r.mu.RUnlock()
	if !ok {
		return ErrMemberMissing
	}
	return ms.Signal().TrySend(data)
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byConn))
	for conn, ms := range r.byConn {
		out = append(out, MemberDTO{Conn: conn, Role: ms.Meta().Role})
	}
	return out
}
