package store

import (
	"context"
	"errors"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/queue"
)

// ErrNotFound is returned when a draft or attachment does not exist.
var ErrNotFound = errors.New("not found")

// Queue names used as partitions of the queue_elements table.
const (
	EntityQueue = "entity"
	GlobalQueue = "global"
)

// DraftStore is the local data store the UI writes drafts into and the
// outbox handler reads them from.
type DraftStore interface {
	SaveDraft(ctx context.Context, d model.Draft) error
	GetDraft(ctx context.Context, id string) (*model.Draft, error)
	ListDrafts(ctx context.Context, ownerID string) ([]model.Draft, error)
	DeleteDraft(ctx context.Context, id string) error
	SetDraftRemoteUID(ctx context.Context, id string, uid uint32) error
	MarkDraftSent(ctx context.Context, id string) error

	AddAttachment(ctx context.Context, a model.Attachment) (model.Attachment, error)
	GetAttachment(ctx context.Context, id string) (*model.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
	MarkAttachmentUploaded(ctx context.Context, id string, uploaded bool) error
}

// Store is everything the outbox persists locally.
type Store interface {
	DraftStore

	// QueueBackend returns the durable queue backend for the named queue.
	QueueBackend(name string) queue.Backend

	Close() error
}
