package email

// Envelope identifies a fetched message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string
	UID       uint32
}

// ParsedMessage is a message fetched for a detail view. Attachments lists
// attachment filenames; their content is not downloaded.
type ParsedMessage struct {
	Envelope    Envelope
	TextBody    string
	HTMLBody    string
	Attachments []string
}

// SMTPConfig holds the SMTP server settings for sending drafts.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}
