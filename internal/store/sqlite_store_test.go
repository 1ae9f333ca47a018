package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/scoutrelay/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteFindUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSQLiteCreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateSession(ctx, domain.Session{
		ID:      "s1",
		Mission: domain.Mission{URL: "https://shop.example", Context: "checkout flow"},
	})
	require.NoError(t, err)

	sess, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, sess.Status)
	assert.Equal(t, "https://shop.example", sess.Mission.URL)
	assert.Equal(t, "checkout flow", sess.Mission.Context)
}

func TestSQLiteUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, domain.Session{ID: "s1"}))

	require.NoError(t, s.UpdateStatus(ctx, "s1", domain.StatusRunning))
	sess, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, sess.Status)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", domain.StatusCompleted), ErrSessionNotFound)
}
