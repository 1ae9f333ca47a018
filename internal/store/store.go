// Package store is the narrow contract to the session store. The relay
// only reads one session row per host join and writes status patches.
package store

import (
	"context"
	"errors"

	"github.com/probelab/scoutrelay/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionStore interface {
	FindSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	UpdateStatus(ctx context.Context, id domain.SessionID, status domain.Status) error
}
