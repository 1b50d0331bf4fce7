package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mail-outbox/internal/model"
)

const draftColumns = `id, owner_id, from_addr, to_addrs, cc_addrs, bcc_addrs,
	subject, body, in_reply_to, remote_uid, sent, created_at, updated_at`

// SaveDraft inserts a draft or replaces the editable fields of an existing
// one. Generates a UUID if ID is empty. The remote UID and sent flag are
// owned by the outbox handler and are left untouched on update.
func (s *SQLiteStore) SaveDraft(ctx context.Context, d model.Draft) error {
	if strings.TrimSpace(d.OwnerID) == "" {
		return fmt.Errorf("draft owner must not be empty")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	to, err := encodeAddrs(d.To)
	if err != nil {
		return err
	}
	cc, err := encodeAddrs(d.Cc)
	if err != nil {
		return err
	}
	bcc, err := encodeAddrs(d.Bcc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (
			id, owner_id, from_addr, to_addrs, cc_addrs, bcc_addrs,
			subject, body, in_reply_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_addr = excluded.from_addr,
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			subject = excluded.subject,
			body = excluded.body,
			in_reply_to = excluded.in_reply_to,
			updated_at = excluded.updated_at`,
		d.ID, d.OwnerID, d.From, to, cc, bcc,
		d.Subject, d.Body, d.InReplyTo, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving draft %s: %w", d.ID, err)
	}
	return nil
}

// GetDraft retrieves a draft with its attachments.
func (s *SQLiteStore) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+draftColumns+" FROM drafts WHERE id = ?", id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting draft %s: %w", id, err)
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, draft_id, filename, content_type, data, public_key, uploaded, created_at
		FROM attachments WHERE draft_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("loading attachments for draft %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		d.Attachments = append(d.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachments: %w", err)
	}

	return &d, nil
}

// ListDrafts returns every unsent draft of one owner, newest first, without
// attachments.
func (s *SQLiteStore) ListDrafts(ctx context.Context, ownerID string) ([]model.Draft, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+draftColumns+" FROM drafts WHERE owner_id = ? AND sent = 0 ORDER BY updated_at DESC",
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	defer rows.Close()

	var drafts []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drafts: %w", err)
	}
	return drafts, nil
}

// DeleteDraft removes a draft by ID. Cascades to attachments.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM drafts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", id, err)
	}
	return expectOne(result, "draft", id)
}

// SetDraftRemoteUID records the UID of the draft's remote copy.
func (s *SQLiteStore) SetDraftRemoteUID(ctx context.Context, id string, uid uint32) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE drafts SET remote_uid = ?, updated_at = ? WHERE id = ?",
		uid, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating remote uid of draft %s: %w", id, err)
	}
	return expectOne(result, "draft", id)
}

// MarkDraftSent flags a draft as delivered.
func (s *SQLiteStore) MarkDraftSent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE drafts SET sent = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking draft %s sent: %w", id, err)
	}
	return expectOne(result, "draft", id)
}

// AddAttachment stores an attachment for an existing draft and returns it
// with its generated ID.
func (s *SQLiteStore) AddAttachment(ctx context.Context, a model.Attachment) (model.Attachment, error) {
	if strings.TrimSpace(a.Filename) == "" {
		return model.Attachment{}, fmt.Errorf("attachment filename must not be empty")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	if a.Data == nil {
		a.Data = []byte{}
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (
			id, draft_id, filename, content_type, data, public_key, uploaded, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DraftID, a.Filename, a.ContentType, a.Data,
		boolToInt(a.PublicKey), boolToInt(a.Uploaded), a.CreatedAt,
	)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("adding attachment to draft %s: %w", a.DraftID, err)
	}
	return a, nil
}

// GetAttachment retrieves one attachment.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, draft_id, filename, content_type, data, public_key, uploaded, created_at
		FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAttachment removes one attachment.
func (s *SQLiteStore) DeleteAttachment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting attachment %s: %w", id, err)
	}
	return expectOne(result, "attachment", id)
}

// MarkAttachmentUploaded sets the uploaded flag of one attachment.
func (s *SQLiteStore) MarkAttachmentUploaded(ctx context.Context, id string, uploaded bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE attachments SET uploaded = ? WHERE id = ?", boolToInt(uploaded), id)
	if err != nil {
		return fmt.Errorf("updating attachment %s: %w", id, err)
	}
	return expectOne(result, "attachment", id)
}

func expectOne(result sql.Result, what, id string) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func encodeAddrs(addrs []string) (string, error) {
	if addrs == nil {
		addrs = []string{}
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return "", fmt.Errorf("marshaling addresses: %w", err)
	}
	return string(b), nil
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var (
	_ rowScanner = (*sqlx.Row)(nil)
	_ rowScanner = (*sqlx.Rows)(nil)
)

// scanDraft scans a draft row selected with draftColumns.
func scanDraft(row rowScanner) (model.Draft, error) {
	var (
		d           model.Draft
		to, cc, bcc string
		sent        int
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&d.ID, &d.OwnerID, &d.From, &to, &cc, &bcc,
		&d.Subject, &d.Body, &d.InReplyTo, &d.RemoteUID, &sent,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return model.Draft{}, fmt.Errorf("scanning draft row: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst *[]string
	}{{to, &d.To}, {cc, &d.Cc}, {bcc, &d.Bcc}} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return model.Draft{}, fmt.Errorf("unmarshaling addresses: %w", err)
		}
	}

	d.Sent = sent != 0
	d.CreatedAt = createdAt
	d.UpdatedAt = updatedAt
	return d, nil
}

// scanAttachment scans an attachment row.
func scanAttachment(row rowScanner) (model.Attachment, error) {
	var (
		a         model.Attachment
		publicKey int
		uploaded  int
	)

	err := row.Scan(
		&a.ID, &a.DraftID, &a.Filename, &a.ContentType, &a.Data,
		&publicKey, &uploaded, &a.CreatedAt,
	)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("scanning attachment row: %w", err)
	}

	a.PublicKey = publicKey != 0
	a.Uploaded = uploaded != 0
	return a, nil
}
