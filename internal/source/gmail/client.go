package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/source"
)

const user = "me"

// Config locates the OAuth files. Prompt and In are used for the
// one-time browser authorization when no token is cached yet.
type Config struct {
	CredentialsFile string
	TokenFile       string
	Prompt          io.Writer
	In              io.Reader
}

// Client implements source.Mailbox over the Gmail REST API.
type Client struct {
	srv *gmail.Service
}

// NewClient authorizes against Gmail and builds the API service.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmail.GmailModifyScope, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	httpClient, err := oauthClient(ctx, oauthConfig, cfg)
	if err != nil {
		return nil, err
	}
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// NewClientWithService wraps an existing service, e.g. one pointed at a
// test server with option.WithEndpoint.
func NewClientWithService(srv *gmail.Service) *Client {
	return &Client{srv: srv}
}

func oauthClient(ctx context.Context, config *oauth2.Config, cfg Config) (*http.Client, error) {
	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		tok, err = tokenFromWeb(ctx, config, cfg.Prompt, cfg.In)
		if err != nil {
			return nil, err
		}
		if err := saveToken(cfg.TokenFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

func tokenFromWeb(ctx context.Context, config *oauth2.Config, prompt io.Writer, in io.Reader) (*oauth2.Token, error) {
	if prompt == nil || in == nil {
		return nil, &source.AuthError{Provider: "gmail", Message: "no cached token and no terminal to authorize"}
	}
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(prompt, "Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)
	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	tok, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, &source.AuthError{Provider: "gmail", Message: err.Error()}
	}
	return tok, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// FetchInbox lists the latest inbox messages and retrieves each in full.
// Gmail lists newest first; OrderOldestFirst reverses the page.
func (c *Client) FetchInbox(ctx context.Context, opts source.FetchOptions) ([]source.RawMessage, error) {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = model.DefaultPageSize
	}

	query := "in:inbox"
	if opts.FromSender != "" {
		query += " from:" + opts.FromSender
	}

	list, err := c.srv.Users.Messages.List(user).
		MaxResults(int64(pageSize)).
		Q(query).
		Context(ctx).
		Do()
	if err != nil {
		return nil, source.NewServiceError(source.KindMailbox, "list messages", err)
	}
	if len(list.Messages) == 0 {
		return nil, nil
	}

	messages := make([]source.RawMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		full, err := c.srv.Users.Messages.Get(user, m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, source.NewServiceError(source.KindMailbox, "get message "+m.Id, err)
		}
		messages = append(messages, toRawMessage(full))
	}

	if opts.OrderBy == source.OrderOldestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

// Send delivers reply as a raw RFC 5322 message.
func (c *Client) Send(ctx context.Context, reply model.Reply) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", reply.Recipient))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", reply.Subject))
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(reply.Body)

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(sb.String())),
	}
	if _, err := c.srv.Users.Messages.Send(user, msg).Context(ctx).Do(); err != nil {
		return source.NewServiceError(source.KindMailbox, "send", err)
	}
	return nil
}

// CurrentUser returns the authenticated Gmail address.
func (c *Client) CurrentUser(ctx context.Context) (source.User, error) {
	profile, err := c.srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return source.User{}, source.NewServiceError(source.KindMailbox, "get profile", err)
	}
	return source.User{DisplayName: profile.EmailAddress, Address: profile.EmailAddress}, nil
}

// MarkAnswered removes the UNREAD label from the notification.
func (c *Client) MarkAnswered(ctx context.Context, messageID string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	_, err := c.srv.Users.Messages.Modify(user, messageID, req).Context(ctx).Do()
	return err
}

func toRawMessage(msg *gmail.Message) *source.Message {
	out := &source.Message{
		MessageID: msg.Id,
		Received:  time.UnixMilli(msg.InternalDate),
		Read:      true,
	}
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			out.Read = false
		}
	}
	if msg.Payload == nil {
		return out
	}
	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			out.Subj = header.Value
		case "From":
			out.From = header.Value
		}
	}
	out.HTML = htmlBody(msg.Payload)
	return out
}

// htmlBody returns the first text/html part, searching depth first.
func htmlBody(payload *gmail.MessagePart) string {
	if strings.EqualFold(payload.MimeType, "text/html") && payload.Body != nil && payload.Body.Data != "" {
		data, err := decodeBody(payload.Body.Data)
		if err == nil {
			return string(data)
		}
	}
	for _, part := range payload.Parts {
		if body := htmlBody(part); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody accepts both padded and unpadded base64url.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
