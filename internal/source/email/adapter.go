package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/source"
)

// Adapter implements source.Mailbox over IMAP (read) and SMTP (send).
type Adapter struct {
	imapClient *IMAPClient
	smtpConfig SMTPConfig
	folder     string
	username   string
	log        zerolog.Logger

	// uids maps message ids from the last fetch to IMAP UIDs so that
	// MarkAnswered can address them.
	mu   sync.Mutex
	uids map[string]uint32
}

// Config holds everything NewAdapter needs. The password is resolved by
// the caller (environment or keyring) and passed in explicitly.
type Config struct {
	IMAPHost string
	IMAPPort string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	TLS      bool
	Folder   string
	Logger   zerolog.Logger
}

// NewAdapter creates a new email mailbox adapter.
func NewAdapter(cfg Config) *Adapter {
	folder := cfg.Folder
	if folder == "" {
		folder = model.DefaultMailboxFolder
	}

	return &Adapter{
		imapClient: NewIMAPClient(
			cfg.IMAPHost, cfg.IMAPPort, cfg.Username, cfg.Password, cfg.TLS,
		),
		smtpConfig: SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			TLS:      cfg.TLS,
		},
		folder:   folder,
		username: cfg.Username,
		log:      cfg.Logger,
		uids:     make(map[string]uint32),
	}
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the configured folder.
func (a *Adapter) ValidateConnection(ctx context.Context) error {
	client, err := a.imapClient.Connect(ctx)
	if err != nil {
		return fmt.Errorf("validating email connection: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(a.folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", a.folder, err)
	}

	return nil
}

// CurrentUser returns the authenticated account. IMAP has no profile
// endpoint, so the login name doubles as display name and address.
func (a *Adapter) CurrentUser(ctx context.Context) (source.User, error) {
	if err := a.ValidateConnection(ctx); err != nil {
		return source.User{}, source.NewServiceError(source.KindMailbox, "current user", err)
	}
	return source.User{DisplayName: a.username, Address: a.username}, nil
}

// FetchInbox retrieves the latest page of messages, optionally limited
// to one sender.
func (a *Adapter) FetchInbox(
	ctx context.Context,
	opts source.FetchOptions,
) ([]source.RawMessage, error) {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = model.DefaultPageSize
	}

	fetched, err := a.imapClient.FetchMessages(ctx, a.folder, opts.FromSender, pageSize)
	if err != nil {
		return nil, source.NewServiceError(source.KindMailbox, "fetch inbox", err)
	}
	if len(fetched) == 0 {
		return nil, nil
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		if opts.OrderBy == source.OrderOldestFirst {
			return fetched[i].Envelope.Date.Before(fetched[j].Envelope.Date)
		}
		return fetched[i].Envelope.Date.After(fetched[j].Envelope.Date)
	})

	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]source.RawMessage, 0, len(fetched))
	for _, f := range fetched {
		msg := toRawMessage(f)
		a.uids[msg.MessageID] = f.Envelope.UID
		messages = append(messages, msg)
	}

	return messages, nil
}

// Send composes a plain-text message with go-message and delivers it
// via SMTP.
func (a *Adapter) Send(ctx context.Context, reply model.Reply) error {
	body, err := buildMessage(a.smtpConfig.Username, reply, time.Now())
	if err != nil {
		return fmt.Errorf("composing reply: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := sendMessage(a.smtpConfig, reply.Recipient, body, a.log); err != nil {
		return source.NewServiceError(source.KindMailbox, "send", err)
	}

	return nil
}

// MarkAnswered sets \Answered on a message seen in the last fetch.
func (a *Adapter) MarkAnswered(ctx context.Context, messageID string) error {
	a.mu.Lock()
	uid, ok := a.uids[messageID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("message %q was not part of the last fetch", messageID)
	}

	return a.imapClient.SetFlags(ctx, a.folder, uid, []imap.Flag{imap.FlagAnswered})
}

// toRawMessage converts a fetched IMAP message to a source.Message.
func toRawMessage(f FetchedMessage) *source.Message {
	id := f.Envelope.MessageID
	if id == "" {
		id = fmt.Sprintf("uid-%d", f.Envelope.UID)
	}

	read := false
	for _, flag := range f.Envelope.Flags {
		if flag == string(imap.FlagSeen) {
			read = true
		}
	}

	return &source.Message{
		MessageID: id,
		HTML:      f.HTMLBody,
		Subj:      f.Envelope.Subject,
		From:      f.Envelope.From,
		Read:      read,
		Received:  f.Envelope.Date,
	}
}

// buildMessage renders reply as an RFC 5322 message.
func buildMessage(from string, reply model.Reply, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: reply.Recipient}})
	h.SetSubject(reply.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating Message-ID: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(reply.Body)); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}

	return buf.Bytes(), nil
}

// sendMessage delivers an already-rendered message over SMTP.
func sendMessage(cfg SMTPConfig, to string, body []byte, log zerolog.Logger) error {
	addr := cfg.Host + ":" + cfg.Port

	if cfg.TLS && cfg.Port == "465" {
		return sendSMTPWithTLS(addr, cfg, cfg.Username, to, body, log)
	}

	return sendSMTPWithStartTLS(addr, cfg, cfg.Username, to, body, log)
}

// sendSMTPWithTLS sends an email over an implicit TLS connection.
func sendSMTPWithTLS(
	addr string, cfg SMTPConfig,
	from, to string, body []byte, log zerolog.Logger,
) error {
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := client.Auth(auth); err != nil {
		return &source.AuthError{Provider: "smtp", Message: err.Error()}
	}

	return sendMailViaSMTPClient(client, from, to, body, log)
}

// sendSMTPWithStartTLS sends an email using STARTTLS.
func sendSMTPWithStartTLS(
	addr string, cfg SMTPConfig,
	from, to string, body []byte, log zerolog.Logger,
) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := client.Auth(auth); err != nil {
		return &source.AuthError{Provider: "smtp", Message: err.Error()}
	}

	return sendMailViaSMTPClient(client, from, to, body, log)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client. The message counts as delivered once the server accepts
// the DATA; a failed QUIT after that is only logged.
func sendMailViaSMTPClient(
	client *smtp.Client, from, to string, body []byte, log zerolog.Logger,
) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(strings.TrimSpace(to)); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	if err := client.Quit(); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("SMTP QUIT failed after delivery")
	}
	return nil
}
