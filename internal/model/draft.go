package model

import "time"

// Draft is a locally composed message. The outbox handler reads drafts from
// the local store when it runs saveDraft and send tasks.
type Draft struct {
	ID        string   `json:"id" db:"id"`
	OwnerID   string   `json:"owner_id" db:"owner_id"`
	From      string   `json:"from" db:"from_addr"`
	To        []string `json:"to" db:"-"`
	Cc        []string `json:"cc,omitempty" db:"-"`
	Bcc       []string `json:"bcc,omitempty" db:"-"`
	Subject   string   `json:"subject" db:"subject"`
	Body      string   `json:"body" db:"body"`
	InReplyTo string   `json:"in_reply_to,omitempty" db:"in_reply_to"`

	// RemoteUID is the UID of the copy last appended to the drafts mailbox.
	// Zero until the first successful save.
	RemoteUID uint32 `json:"remote_uid" db:"remote_uid"`

	// Sent is set once delivery has been accepted by the server.
	Sent bool `json:"sent" db:"sent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Attachments is populated by GetDraft.
	Attachments []Attachment `json:"attachments,omitempty" db:"-"`
}

// Recipients returns every envelope recipient of the draft.
func (d Draft) Recipients() []string {
	out := make([]string, 0, len(d.To)+len(d.Cc)+len(d.Bcc))
	out = append(out, d.To...)
	out = append(out, d.Cc...)
	return append(out, d.Bcc...)
}

// Attachment belongs to one draft and is deleted with it.
type Attachment struct {
	ID          string `json:"id" db:"id"`
	DraftID     string `json:"draft_id" db:"draft_id"`
	Filename    string `json:"filename" db:"filename"`
	ContentType string `json:"content_type" db:"content_type"`
	Data        []byte `json:"-" db:"data"`

	// PublicKey marks the sender's public key attached by uploadPubkey.
	PublicKey bool `json:"public_key" db:"public_key"`

	// Uploaded is set once the attachment is part of the remote draft.
	Uploaded bool `json:"uploaded" db:"uploaded"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
