package email

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail-outbox/internal/model"
)

// BuildDraft renders d as an RFC 5322 message. Attachments are included only
// when they are marked uploaded, so the remote copy reflects what the
// handler has already synced.
func BuildDraft(d model.Draft, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(d.Subject)

	from, err := parseAddresses([]string{d.From})
	if err != nil {
		return nil, fmt.Errorf("parsing from address: %w", err)
	}
	h.SetAddressList("From", from)

	for _, field := range []struct {
		key   string
		addrs []string
	}{
		{"To", d.To},
		{"Cc", d.Cc},
	} {
		if len(field.addrs) == 0 {
			continue
		}
		list, err := parseAddresses(field.addrs)
		if err != nil {
			return nil, fmt.Errorf("parsing %s addresses: %w", field.key, err)
		}
		h.SetAddressList(field.key, list)
	}

	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	if d.InReplyTo != "" {
		ref := "<" + strings.Trim(d.InReplyTo, "<>") + ">"
		h.Set("In-Reply-To", ref)
		h.Set("References", ref)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := w.Write([]byte(d.Body)); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}

	for _, att := range d.Attachments {
		if !att.Uploaded {
			continue
		}
		var ah mail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(att.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddresses(raw []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("%w: address %q: %v", ErrMalformedTask, s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
