package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/queue"
	"github.com/nhle/mail-outbox/internal/store"
	"github.com/nhle/mail-outbox/tests/testutil"
)

func TestQueueBackendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	entity := s.QueueBackend(store.EntityQueue)
	global := s.QueueBackend(store.GlobalQueue)

	elems := []queue.Element{
		{ID: "b", Payload: []byte(`{"n":2}`)},
		{ID: "a", Payload: []byte(`{"n":1}`)},
	}
	require.NoError(t, entity.Save(ctx, elems))
	require.NoError(t, global.Save(ctx, []queue.Element{{ID: "g", Payload: []byte("x")}}))

	got, err := entity.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, elems, got)

	require.NoError(t, entity.Save(ctx, elems[1:]))
	got, err = entity.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, elems[1:], got)

	got, err = global.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g", got[0].ID)

	assert.Empty(t, entity.Location())
}

func TestQueueBackendEmpty(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)

	got, err := s.QueueBackend("unused").Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueueSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)

	q, err := queue.Open(ctx, s.QueueBackend(store.EntityQueue))
	require.NoError(t, err)
	first, err := q.Add(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = q.Add(ctx, []byte("two"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q, err = queue.Open(ctx, s.QueueBackend(store.EntityQueue))
	require.NoError(t, err)
	assert.Equal(t, 2, q.Count())

	head, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, first, head.ID)
	assert.Equal(t, path, s.QueueBackend(store.EntityQueue).Location())
}

func TestDraftLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	d := model.Draft{
		ID:      "d1",
		OwnerID: "u1",
		From:    "me@example.com",
		To:      []string{"you@example.com"},
		Cc:      []string{"cc@example.com"},
		Subject: "hello",
		Body:    "body",
	}
	require.NoError(t, s.SaveDraft(ctx, d))

	att, err := s.AddAttachment(ctx, model.Attachment{DraftID: "d1", Filename: "a.txt", Data: []byte("hi")})
	require.NoError(t, err)
	assert.NotEmpty(t, att.ID)
	assert.Equal(t, "application/octet-stream", att.ContentType)

	require.NoError(t, s.SetDraftRemoteUID(ctx, "d1", 42))

	d.Subject = "edited"
	require.NoError(t, s.SaveDraft(ctx, d))

	got, err := s.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Subject)
	assert.Equal(t, uint32(42), got.RemoteUID, "save must not reset the remote uid")
	assert.Equal(t, []string{"you@example.com"}, got.To)
	assert.Equal(t, []string{"you@example.com", "cc@example.com"}, got.Recipients())
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, []byte("hi"), got.Attachments[0].Data)

	require.NoError(t, s.MarkAttachmentUploaded(ctx, att.ID, true))
	a, err := s.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.True(t, a.Uploaded)

	list, err := s.ListDrafts(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.MarkDraftSent(ctx, "d1"))
	list, err = s.ListDrafts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.DeleteDraft(ctx, "d1"))
	_, err = s.GetDraft(ctx, "d1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAttachment(ctx, att.ID)
	require.ErrorIs(t, err, store.ErrNotFound, "attachments cascade with the draft")
}

func TestDraftNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	assert.ErrorIs(t, s.DeleteDraft(ctx, "nope"), store.ErrNotFound)
	assert.ErrorIs(t, s.MarkDraftSent(ctx, "nope"), store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAttachment(ctx, "nope"), store.ErrNotFound)
	assert.Error(t, s.SaveDraft(ctx, model.Draft{ID: "x"}))
}
