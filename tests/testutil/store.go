// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/queue"
	"github.com/nhle/mail-outbox/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "creating test store")

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// OpenQueues loads the entity and global queues persisted in s. Calling it
// again on the same store simulates a restart.
func OpenQueues(t *testing.T, s *store.SQLiteStore, opts ...queue.Option) (entity, global *queue.Queue) {
	t.Helper()
	ctx := context.Background()

	entity, err := queue.Open(ctx, s.QueueBackend(store.EntityQueue), opts...)
	require.NoError(t, err, "opening entity queue")
	global, err = queue.Open(ctx, s.QueueBackend(store.GlobalQueue), opts...)
	require.NoError(t, err, "opening global queue")

	return entity, global
}

// SeedDraft saves d and returns it as stored.
func SeedDraft(t *testing.T, s *store.SQLiteStore, d model.Draft) model.Draft {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveDraft(ctx, d), "seeding draft %s", d.ID)
	got, err := s.GetDraft(ctx, d.ID)
	require.NoError(t, err)

	return *got
}
