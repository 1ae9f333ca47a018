package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/domain"
	"github.com/probelab/scoutrelay/internal/store"
)

// Lifecycle persists monotonic status transitions to the session store.
// A refused regression and a failed write both leave the live room
// untouched; neither is worth crashing a tester's session over.
type Lifecycle struct {
	store store.SessionStore
}

func NewLifecycle(st store.SessionStore) *Lifecycle {
	return &Lifecycle{store: st}
}

// Advance moves the session from one status to the next and returns the
// status the session is now in. Regressions are refused.
func (l *Lifecycle) Advance(ctx context.Context, id domain.SessionID, from, to domain.Status) domain.Status {
	if !from.CanAdvanceTo(to) {
		log.Warn().Str("module", "app.lifecycle").Str("session", string(id)).Str("from", string(from)).Str("to", string(to)).Msg("refusing status regression")
		return from
	}
	if err := l.store.UpdateStatus(ctx, id, to); err != nil {
		log.Error().Err(err).Str("module", "app.lifecycle").Str("session", string(id)).Str("to", string(to)).Msg("status not persisted")
	}
	log.Info().Str("module", "app.lifecycle").Str("session", string(id)).Str("from", string(from)).Str("to", string(to)).Msg("status transition")
	return to
}
