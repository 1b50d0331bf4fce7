package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mail-outbox/internal/model"
	"github.com/nhle/mail-outbox/internal/outbox"
	"github.com/nhle/mail-outbox/internal/store"
)

// draftKinds are the entity-scoped kinds that become pointless once a draft
// has been sent.
var draftKinds = []model.ActionKind{
	model.KindSaveDraft,
	model.KindUploadAttachment,
	model.KindUploadPublicKey,
	model.KindDeleteAttachment,
	model.KindUpdateAttKeyPacket,
	model.KindSend,
}

// Handler executes one account's tasks against its IMAP and SMTP servers.
// Item IDs in tasks are IMAP UIDs; label IDs are mailbox names.
type Handler struct {
	account model.AccountConfig
	remote  Remote
	sender  Sender
	drafts  store.DraftStore
	logger  *slog.Logger
	now     func() time.Time

	onSignOut func(ctx context.Context, ownerID string) error
	onDetail  func(entityID string, msg *ParsedMessage)
}

var _ outbox.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the time source used for message dates.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithSignOutHook registers fn to run when the account's sign-out marker is
// dispatched.
func WithSignOutHook(fn func(ctx context.Context, ownerID string) error) Option {
	return func(h *Handler) {
		h.onSignOut = fn
	}
}

// WithDetailSink registers fn to receive messages fetched by
// fetchMessageDetail tasks.
func WithDetailSink(fn func(entityID string, msg *ParsedMessage)) Option {
	return func(h *Handler) {
		h.onDetail = fn
	}
}

// NewHandler creates a handler for account over the given remote and sender.
func NewHandler(
	account model.AccountConfig,
	remote Remote,
	sender Sender,
	drafts store.DraftStore,
	opts ...Option,
) *Handler {
	h := &Handler{
		account: account,
		remote:  remote,
		sender:  sender,
		drafts:  drafts,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewAccountHandler creates a handler that talks to the account's real
// servers with password.
func NewAccountHandler(
	account model.AccountConfig,
	password string,
	drafts store.DraftStore,
	opts ...Option,
) *Handler {
	remote := NewIMAPClient(account.IMAPHost, account.IMAPPort, account.Email, password, account.TLS)
	sender := NewSMTPSender(SMTPConfig{
		Host:     account.SMTPHost,
		Port:     account.SMTPPort,
		Username: account.Email,
		Password: password,
		TLS:      account.TLS,
	})
	return NewHandler(account, remote, sender, drafts, opts...)
}

// OwnerID returns the owner ID the handler should be registered under.
func (h *Handler) OwnerID() string {
	return h.account.ID
}

// Handle executes task and maps the result onto a coordinator outcome.
func (h *Handler) Handle(ctx context.Context, task model.Task) outbox.Result {
	switch a := task.Action.(type) {
	case model.SaveDraft:
		return h.saveDraft(ctx, draftID(a.MessageObjectID, task))
	case model.UploadAttachment:
		return h.uploadAttachment(ctx, task.EntityID, a.AttachmentObjectID)
	case model.UploadPublicKey:
		return h.uploadAttachment(ctx, task.EntityID, a.AttachmentObjectID)
	case model.DeleteAttachment:
		return h.deleteAttachment(ctx, task.EntityID, a.AttachmentObjectID)
	case model.UpdateAttKeyPacket:
		return h.saveDraft(ctx, draftID(a.MessageObjectID, task))
	case model.Send:
		return h.send(ctx, draftID(a.MessageObjectID, task))

	case model.MarkRead:
		return h.setSeen(ctx, task, h.account.DefaultMailbox, a.ItemIDs, a.ObjectIDs, true)
	case model.MarkUnread:
		return h.setSeen(ctx, task, h.mailbox(a.CurrentLabelID), a.ItemIDs, a.ObjectIDs, false)
	case model.Delete:
		src := h.account.DefaultMailbox
		if a.CurrentLabelID != nil {
			src = h.mailbox(*a.CurrentLabelID)
		}
		return h.delete(ctx, src, a.ItemIDs)
	case model.EmptyTrash:
		return Classify(h.remote.Purge(ctx, h.account.TrashMailbox))
	case model.EmptySpam:
		return Classify(h.remote.Purge(ctx, h.account.SpamMailbox))
	case model.EmptyFolder:
		if a.CurrentLabelID == "" {
			return Classify(fmt.Errorf("%w: empty folder without a label", ErrMalformedTask))
		}
		return Classify(h.remote.Purge(ctx, a.CurrentLabelID))
	case model.ApplyLabel:
		return h.withUIDs(a.ItemIDs, a.ObjectIDs, func(uids []uint32) error {
			return h.remote.Copy(ctx, h.account.DefaultMailbox, a.CurrentLabelID, uids)
		})
	case model.RemoveLabel:
		return h.withUIDs(a.ItemIDs, a.ObjectIDs, func(uids []uint32) error {
			return h.remote.Expunge(ctx, a.CurrentLabelID, uids)
		})
	case model.MoveToFolder:
		return h.withUIDs(a.ItemIDs, a.ObjectIDs, func(uids []uint32) error {
			return h.remote.Move(ctx, h.account.DefaultMailbox, a.NextLabelID, uids)
		})

	case model.UpdateLabel:
		if a.Name == "" || a.Name == a.LabelID {
			// Colors have no IMAP representation.
			return outbox.Success()
		}
		return Classify(h.remote.RenameMailbox(ctx, a.LabelID, a.Name))
	case model.CreateLabel:
		if a.Name == "" {
			return Classify(fmt.Errorf("%w: label without a name", ErrMalformedTask))
		}
		return Classify(h.remote.CreateMailbox(ctx, a.Name))
	case model.DeleteLabel:
		return Classify(h.remote.DeleteMailbox(ctx, a.LabelID))

	case model.SignOut:
		if h.onSignOut == nil {
			return outbox.Success()
		}
		return Classify(h.onSignOut(ctx, task.OwnerID))
	case model.SignIn:
		return outbox.Success()
	case model.FetchDetail:
		return h.fetchDetail(ctx, task.EntityID)
	}

	return Classify(fmt.Errorf("%w: no executor for %q", ErrMalformedTask, task.Kind()))
}

func draftID(fromAction string, task model.Task) string {
	if fromAction != "" {
		return fromAction
	}
	return task.EntityID
}

func (h *Handler) mailbox(labelID string) string {
	if labelID == "" {
		return h.account.DefaultMailbox
	}
	return labelID
}

// loadDraft returns the draft, or a terminal result when there is nothing
// left to sync.
func (h *Handler) loadDraft(ctx context.Context, id string) (*model.Draft, *outbox.Result) {
	d, err := h.drafts.GetDraft(ctx, id)
	if err != nil {
		res := Classify(err)
		return nil, &res
	}
	if d.Sent {
		h.logger.InfoContext(ctx, "draft already sent", slog.String("draft_id", id))
		res := outbox.RemoveDoubleSent(d.ID, draftKinds...)
		return nil, &res
	}
	return d, nil
}

func (h *Handler) saveDraft(ctx context.Context, id string) outbox.Result {
	d, res := h.loadDraft(ctx, id)
	if res != nil {
		return *res
	}
	return Classify(h.syncDraft(ctx, d))
}

// syncDraft replaces the remote copy of d with its current local state.
func (h *Handler) syncDraft(ctx context.Context, d *model.Draft) error {
	msg, err := BuildDraft(*d, h.now())
	if err != nil {
		return fmt.Errorf("building draft %s: %w", d.ID, err)
	}

	uid, err := h.remote.Append(ctx, h.account.DraftsMailbox, []imap.Flag{imap.FlagDraft, imap.FlagSeen}, msg)
	if err != nil {
		return fmt.Errorf("appending draft %s: %w", d.ID, err)
	}

	h.dropRemoteCopy(ctx, d)

	if err := h.drafts.SetDraftRemoteUID(ctx, d.ID, uid); err != nil {
		return fmt.Errorf("recording draft %s uid: %w", d.ID, err)
	}
	return nil
}

// dropRemoteCopy expunges the previously appended copy of d. A failure only
// leaves a stale copy behind, so it is logged and not returned.
func (h *Handler) dropRemoteCopy(ctx context.Context, d *model.Draft) {
	if d.RemoteUID == 0 {
		return
	}
	if err := h.remote.Expunge(ctx, h.account.DraftsMailbox, []uint32{d.RemoteUID}); err != nil {
		h.logger.WarnContext(ctx, "removing stale draft copy failed",
			slog.String("draft_id", d.ID),
			slog.Any("uid", d.RemoteUID),
			slog.Any("error", err))
	}
}

func (h *Handler) uploadAttachment(ctx context.Context, draftID, attachmentID string) outbox.Result {
	d, res := h.loadDraft(ctx, draftID)
	if res != nil {
		return *res
	}

	att, err := h.drafts.GetAttachment(ctx, attachmentID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted locally before it was uploaded.
		return outbox.Success()
	}
	if err != nil {
		return Classify(err)
	}
	if att.DraftID != d.ID {
		return Classify(fmt.Errorf("%w: attachment %s belongs to draft %s", ErrMalformedTask, att.ID, att.DraftID))
	}

	if !att.Uploaded {
		if err := h.drafts.MarkAttachmentUploaded(ctx, att.ID, true); err != nil {
			return Classify(err)
		}
		for i := range d.Attachments {
			if d.Attachments[i].ID == att.ID {
				d.Attachments[i].Uploaded = true
			}
		}
	}
	return Classify(h.syncDraft(ctx, d))
}

func (h *Handler) deleteAttachment(ctx context.Context, draftID, attachmentID string) outbox.Result {
	if err := h.drafts.DeleteAttachment(ctx, attachmentID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Classify(err)
	}
	return h.saveDraft(ctx, draftID)
}

func (h *Handler) send(ctx context.Context, id string) outbox.Result {
	d, res := h.loadDraft(ctx, id)
	if res != nil {
		return *res
	}

	msg, err := BuildDraft(*d, h.now())
	if err != nil {
		return Classify(fmt.Errorf("building message %s: %w", d.ID, err))
	}
	if err := h.sender.Send(ctx, h.account.Email, d.Recipients(), msg); err != nil {
		return Classify(fmt.Errorf("sending draft %s: %w", d.ID, err))
	}
	if err := h.drafts.MarkDraftSent(ctx, d.ID); err != nil {
		// Delivered already; a retry would send twice.
		h.logger.ErrorContext(ctx, "marking draft sent failed",
			slog.String("draft_id", d.ID), slog.Any("error", err))
	}
	h.dropRemoteCopy(ctx, d)
	return outbox.Success()
}

func (h *Handler) setSeen(
	ctx context.Context,
	task model.Task,
	mailbox string,
	itemIDs, objectIDs []string,
	seen bool,
) outbox.Result {
	res := h.withUIDs(itemIDs, objectIDs, func(uids []uint32) error {
		return h.remote.StoreFlags(ctx, mailbox, uids, []imap.Flag{imap.FlagSeen}, seen)
	})
	if res.Outcome == outbox.OutcomeSuccess && task.IsAggregate && task.EntityID != "" {
		// The whole conversation is now in the requested state, so later
		// flag changes of the same kind on it are redundant.
		return outbox.BatchCheck()
	}
	return res
}

func (h *Handler) delete(ctx context.Context, src string, itemIDs []string) outbox.Result {
	return h.withUIDs(itemIDs, nil, func(uids []uint32) error {
		if src == h.account.TrashMailbox {
			return h.remote.Expunge(ctx, src, uids)
		}
		return h.remote.Move(ctx, src, h.account.TrashMailbox, uids)
	})
}

func (h *Handler) fetchDetail(ctx context.Context, entityID string) outbox.Result {
	uid, err := parseUID(entityID)
	if err != nil {
		return Classify(err)
	}
	msg, err := h.remote.FetchMessage(ctx, h.account.DefaultMailbox, uid)
	if err != nil {
		return Classify(err)
	}
	h.logger.DebugContext(ctx, "message detail fetched",
		slog.String("message_id", msg.Envelope.MessageID),
		slog.String("from", msg.Envelope.From),
		slog.Int("attachments", len(msg.Attachments)))
	if h.onDetail != nil {
		h.onDetail(entityID, msg)
	}
	return outbox.Success()
}

// withUIDs parses item IDs (falling back to object IDs) and runs fn.
func (h *Handler) withUIDs(itemIDs, objectIDs []string, fn func([]uint32) error) outbox.Result {
	ids := itemIDs
	if len(ids) == 0 {
		ids = objectIDs
	}
	uids := make([]uint32, 0, len(ids))
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			return Classify(err)
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return outbox.Success()
	}
	return Classify(fn(uids))
}

// parseUID converts an item ID to a uint32 UID.
func parseUID(itemID string) (uint32, error) {
	uid, err := strconv.ParseUint(itemID, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: invalid UID %q", ErrMalformedTask, itemID)
	}
	return uint32(uid), nil
}
