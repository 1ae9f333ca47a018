package app

import "github.com/probelab/scoutrelay/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackpressure(role domain.Role) BackpressureAction
}

// SimplePolicy kicks slow viewers and sheds frames for the host: a
// viewer can rejoin, but kicking the host would end the session.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(role domain.Role) BackpressureAction {
	if role == domain.RoleHost {
		return DropFrame
	}
	return KickMember
}
