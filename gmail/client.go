package gmail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/bassamadnan/mailpilot/breaker"
	"github.com/bassamadnan/mailpilot/logger"
)

const user = "me"

// Label ids mutated by the agent.
const (
	LabelUnread = "UNREAD"
	LabelInbox  = "INBOX"
)

// Client is a thin Gmail API adapter. Every call goes through a circuit
// breaker; idempotent calls are retried on 429 and 5xx.
type Client struct {
	srv *gmail.Service
	br  *breaker.Breaker
	log *zap.Logger
}

// NewClient creates a Gmail client. Pass option.WithHTTPClient with an
// authorized client in production.
func NewClient(ctx context.Context, log *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	log = logger.OrDefault(log)
	return &Client{
		srv: srv,
		br:  breaker.New("gmail-api", breaker.Options{}, log),
		log: log,
	}, nil
}

// Profile returns the authenticated mailbox address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := c.br.Do(ctx, "users.getProfile", func(ctx context.Context) error {
		var err error
		profile, err = c.srv.Users.GetProfile(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetching profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// ListUnread returns up to maxResults message ids matching query, in the
// order the provider returns them.
func (c *Client) ListUnread(ctx context.Context, query string, maxResults int64) ([]string, error) {
	var resp *gmail.ListMessagesResponse
	err := c.br.Do(ctx, "messages.list", func(ctx context.Context) error {
		var err error
		resp, err = c.srv.Users.Messages.List(user).
			Q(query).
			MaxResults(maxResults).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetFull fetches a message with headers and body parts.
func (c *Client) GetFull(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.br.Do(ctx, "messages.get", func(ctx context.Context) error {
		var err error
		msg, err = c.srv.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return msg, nil
}

// ThreadID looks up a message's thread with a metadata-only request.
func (c *Client) ThreadID(ctx context.Context, id string) (string, error) {
	var msg *gmail.Message
	err := c.br.Do(ctx, "messages.get", func(ctx context.Context) error {
		var err error
		msg, err = c.srv.Users.Messages.Get(user, id).Format("metadata").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("getting metadata for %s: %w", id, err)
	}
	return msg.ThreadId, nil
}

// Send submits a base64url-encoded RFC 5322 message in threadID. Sends are
// not retried: a 5xx may still have delivered the mail.
func (c *Client) Send(ctx context.Context, raw, threadID string) (string, error) {
	var sent *gmail.Message
	err := c.br.DoOnce(ctx, "messages.send", func(ctx context.Context) error {
		var err error
		sent, err = c.srv.Users.Messages.Send(user, &gmail.Message{
			Raw:      raw,
			ThreadId: threadID,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return sent.Id, nil
}

// ModifyLabels adds and removes label ids on a message.
func (c *Client) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	err := c.br.Do(ctx, "messages.modify", func(ctx context.Context) error {
		_, err := c.srv.Users.Messages.Modify(user, id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("modifying labels for %s: %w", id, err)
	}
	return nil
}
