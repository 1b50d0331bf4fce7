package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// Remote is the set of mailbox operations the task handler performs against
// the server. Every call opens its own session.
type Remote interface {
	Append(ctx context.Context, mailbox string, flags []imap.Flag, msg []byte) (uint32, error)
	StoreFlags(ctx context.Context, mailbox string, uids []uint32, flags []imap.Flag, add bool) error
	Move(ctx context.Context, from, to string, uids []uint32) error
	Copy(ctx context.Context, from, to string, uids []uint32) error
	Expunge(ctx context.Context, mailbox string, uids []uint32) error
	Purge(ctx context.Context, mailbox string) error
	CreateMailbox(ctx context.Context, name string) error
	DeleteMailbox(ctx context.Context, name string) error
	RenameMailbox(ctx context.Context, from, to string) error
	FetchMessage(ctx context.Context, mailbox string, uid uint32) (*ParsedMessage, error)
	Verify(ctx context.Context) error
}

// IMAPClient wraps go-imap v2 for connecting to and mutating IMAP mailboxes.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
}

var _ Remote = (*IMAPClient)(nil)

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string, tls bool,
) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(
	ctx context.Context,
) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Account: c.username,
			Message: fmt.Sprintf("IMAP login rejected: %v", err),
		}
	}

	return client, nil
}

// withMailbox connects, selects mailbox (unless empty) and runs fn.
func (c *IMAPClient) withMailbox(
	ctx context.Context,
	mailbox string,
	fn func(client *imapclient.Client) error,
) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if mailbox != "" {
		if _, err := client.Select(mailbox, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", mailbox, err)
		}
	}
	return fn(client)
}

// Verify checks that the credentials are accepted and INBOX can be selected.
func (c *IMAPClient) Verify(ctx context.Context) error {
	return c.withMailbox(ctx, "INBOX", func(*imapclient.Client) error { return nil })
}

// Append stores msg in mailbox and returns the UID the server assigned, or
// 0 when the server does not report one.
func (c *IMAPClient) Append(
	ctx context.Context, mailbox string, flags []imap.Flag, msg []byte,
) (uint32, error) {
	var uid uint32
	err := c.withMailbox(ctx, "", func(client *imapclient.Client) error {
		cmd := client.Append(mailbox, int64(len(msg)), &imap.AppendOptions{
			Flags: flags,
			Time:  time.Now(),
		})
		if _, err := cmd.Write(msg); err != nil {
			_ = cmd.Close()
			return fmt.Errorf("writing message to %s: %w", mailbox, err)
		}
		if err := cmd.Close(); err != nil {
			return fmt.Errorf("closing append to %s: %w", mailbox, err)
		}
		data, err := cmd.Wait()
		if err != nil {
			return fmt.Errorf("appending to %s: %w", mailbox, err)
		}
		uid = uint32(data.UID)
		return nil
	})
	return uid, err
}

// StoreFlags adds or removes flags on the given messages.
func (c *IMAPClient) StoreFlags(
	ctx context.Context,
	mailbox string,
	uids []uint32,
	flags []imap.Flag,
	add bool,
) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		op := imap.StoreFlagsAdd
		if !add {
			op = imap.StoreFlagsDel
		}

		storeCmd := client.Store(uidSet(uids), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  flags,
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("storing flags in %s: %w", mailbox, err)
		}
		return nil
	})
}

// Move moves messages between mailboxes.
func (c *IMAPClient) Move(
	ctx context.Context, from, to string, uids []uint32,
) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withMailbox(ctx, from, func(client *imapclient.Client) error {
		if _, err := client.Move(uidSet(uids), to).Wait(); err != nil {
			return fmt.Errorf("moving %s -> %s: %w", from, to, err)
		}
		return nil
	})
}

// Copy copies messages into another mailbox, leaving the originals.
func (c *IMAPClient) Copy(
	ctx context.Context, from, to string, uids []uint32,
) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withMailbox(ctx, from, func(client *imapclient.Client) error {
		if _, err := client.Copy(uidSet(uids), to).Wait(); err != nil {
			return fmt.Errorf("copying %s -> %s: %w", from, to, err)
		}
		return nil
	})
}

// Expunge permanently removes the given messages from mailbox.
func (c *IMAPClient) Expunge(
	ctx context.Context, mailbox string, uids []uint32,
) error {
	if len(uids) == 0 {
		return nil
	}
	return c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		return deleteUIDs(client, mailbox, uidSet(uids))
	})
}

// Purge permanently removes every message in mailbox.
func (c *IMAPClient) Purge(ctx context.Context, mailbox string) error {
	return c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching %s: %w", mailbox, err)
		}
		all := searchData.AllUIDs()
		if len(all) == 0 {
			return nil
		}
		return deleteUIDs(client, mailbox, imap.UIDSetNum(all...))
	})
}

// CreateMailbox creates a mailbox. An existing mailbox is not an error.
func (c *IMAPClient) CreateMailbox(ctx context.Context, name string) error {
	return c.withMailbox(ctx, "", func(client *imapclient.Client) error {
		if err := client.Create(name, nil).Wait(); err != nil {
			if isAlreadyExists(err) {
				return nil
			}
			return fmt.Errorf("creating mailbox %s: %w", name, err)
		}
		return nil
	})
}

// DeleteMailbox deletes a mailbox.
func (c *IMAPClient) DeleteMailbox(ctx context.Context, name string) error {
	return c.withMailbox(ctx, "", func(client *imapclient.Client) error {
		if err := client.Delete(name).Wait(); err != nil {
			return fmt.Errorf("deleting mailbox %s: %w", name, err)
		}
		return nil
	})
}

// RenameMailbox creates to, moves every message of from into it and deletes
// from.
func (c *IMAPClient) RenameMailbox(ctx context.Context, from, to string) error {
	return c.withMailbox(ctx, "", func(client *imapclient.Client) error {
		if err := client.Create(to, nil).Wait(); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("creating mailbox %s: %w", to, err)
		}

		if _, err := client.Select(from, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", from, err)
		}
		searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching %s: %w", from, err)
		}
		if all := searchData.AllUIDs(); len(all) > 0 {
			if _, err := client.Move(imap.UIDSetNum(all...), to).Wait(); err != nil {
				return fmt.Errorf("moving %s -> %s: %w", from, to, err)
			}
		}
		if err := client.Unselect().Wait(); err != nil {
			return fmt.Errorf("unselecting %s: %w", from, err)
		}

		if err := client.Delete(from).Wait(); err != nil {
			return fmt.Errorf("deleting mailbox %s: %w", from, err)
		}
		return nil
	})
}

// FetchMessage fetches and parses the full message for the given UID.
func (c *IMAPClient) FetchMessage(
	ctx context.Context, mailbox string, uid uint32,
) (*ParsedMessage, error) {
	var parsed *ParsedMessage
	err := c.withMailbox(ctx, mailbox, func(client *imapclient.Client) error {
		bodySection := &imap.FetchItemBodySection{
			Peek: true,
		}

		fetchOpts := &imap.FetchOptions{
			Envelope:    true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		}

		fetchCmd := client.Fetch(uidSet([]uint32{uid}), fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("message UID %d in %s: %w", uid, mailbox, ErrMessageNotFound)
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		parsed = &ParsedMessage{
			Envelope: envelopeFromBuffer(buf),
		}
		if rawBody := buf.FindBodySection(bodySection); rawBody != nil {
			parsed.TextBody, parsed.HTMLBody, parsed.Attachments = parseMIMEBody(rawBody)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("closing fetch: %w", err)
		}
		return nil
	})
	return parsed, err
}

// deleteUIDs flags set as deleted in the selected mailbox and expunges.
func deleteUIDs(client *imapclient.Client, mailbox string, set imap.UIDSet) error {
	storeCmd := client.Store(set, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging deleted in %s: %w", mailbox, err)
	}
	if err := client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", mailbox, err)
	}
	return nil
}

func uidSet(uids []uint32) imap.UIDSet {
	set := make([]imap.UID, len(uids))
	for i, uid := range uids {
		set[i] = imap.UID(uid)
	}
	return imap.UIDSetNum(set...)
}

func isAlreadyExists(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeAlreadyExists
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = from.Name
			} else {
				env.From = from.Addr()
			}
		}
	}

	return env
}

// parseMIMEBody parses a raw RFC 5322 message and extracts the text/plain
// body, the text/html body and attachment filenames.
func parseMIMEBody(raw []byte) (
	textBody string, htmlBody string, attachments []string,
) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF ends the walk as well.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			attachments = append(attachments, filename)
		}
	}

	return textBody, htmlBody, attachments
}
