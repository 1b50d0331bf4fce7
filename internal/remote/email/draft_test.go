package email

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-outbox/internal/model"
)

func TestBuildDraft(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	d := model.Draft{
		ID:        "d1",
		OwnerID:   "acct",
		From:      "Ann <ann@example.com>",
		To:        []string{"bob@example.com", "Carol <carol@example.com>"},
		Cc:        []string{"dave@example.com"},
		Bcc:       []string{"eve@example.com"},
		Subject:   "Quarterly numbers",
		Body:      "See attached.",
		InReplyTo: "abc@example.com",
		Attachments: []model.Attachment{
			{ID: "a1", Filename: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF"), Uploaded: true},
			{ID: "a2", Filename: "pending.txt", Data: []byte("later")},
		},
	}

	raw, err := BuildDraft(d, now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "carol@example.com", to[1].Address)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, now.Equal(date))

	assert.Equal(t, "<abc@example.com>", mr.Header.Get("In-Reply-To"))
	assert.Empty(t, mr.Header.Get("Bcc"), "bcc recipients must not leak into headers")
	assert.NotEmpty(t, mr.Header.Get("Message-Id"))
	require.NoError(t, mr.Close())

	text, html, atts := parseMIMEBody(raw)
	assert.Equal(t, "See attached.", text)
	assert.Empty(t, html)
	assert.Equal(t, []string{"report.pdf"}, atts, "only uploaded attachments are included")
}

func TestBuildDraftRejectsBadAddress(t *testing.T) {
	t.Parallel()

	_, err := BuildDraft(model.Draft{From: "ann@example.com", To: []string{"not an address"}}, time.Now())
	require.ErrorIs(t, err, ErrMalformedTask)
}

func TestParseMIMEBodyFallsBackToRaw(t *testing.T) {
	t.Parallel()

	text, html, atts := parseMIMEBody([]byte("no headers here"))
	assert.Equal(t, "no headers here", text)
	assert.Empty(t, html)
	assert.Nil(t, atts)
}
