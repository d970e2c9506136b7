package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"

	"github.com/bassamadnan/mailpilot/logger"
)

// API is the subset of Client the Fetcher needs.
type API interface {
	ListUnread(ctx context.Context, query string, maxResults int64) ([]string, error)
	GetFull(ctx context.Context, id string) (*gmail.Message, error)
}

// Fetcher lists unread candidates and decodes full messages.
type Fetcher struct {
	api   API
	query string
	log   *zap.Logger
}

// NewFetcher creates a Fetcher that lists messages matching query.
func NewFetcher(api API, query string, log *zap.Logger) *Fetcher {
	if query == "" {
		query = "is:unread"
	}
	return &Fetcher{api: api, query: query, log: logger.OrDefault(log)}
}

// ListUnread returns at most limit candidate ids. An empty result is not an
// error.
func (f *Fetcher) ListUnread(ctx context.Context, limit int) ([]string, error) {
	ids, err := f.api.ListUnread(ctx, f.query, int64(limit))
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// FetchFull retrieves and decodes one message. Failures never propagate: the
// returned Message carries only the id and Err.
func (f *Fetcher) FetchFull(ctx context.Context, id string) Message {
	raw, err := f.api.GetFull(ctx, id)
	if err != nil {
		f.log.Error("unable to retrieve message", zap.String("message_id", id), zap.Error(err))
		return Message{ID: id, Err: err}
	}
	msg, err := parseMessage(raw)
	if err != nil {
		f.log.Error("unable to decode message", zap.String("message_id", id), zap.Error(err))
		return Message{ID: id, Err: err}
	}
	msg.ID = id
	return msg
}

var errNoPayload = errors.New("message has no payload")

func parseMessage(raw *gmail.Message) (Message, error) {
	if raw == nil || raw.Payload == nil {
		return Message{}, errNoPayload
	}
	msg := Message{
		ID:       raw.Id,
		ThreadID: raw.ThreadId,
		Snippet:  raw.Snippet,
	}
	for _, header := range raw.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "subject":
			msg.Subject = header.Value
		case "from":
			msg.From = header.Value
		case "to":
			msg.To = header.Value
		case "date":
			msg.Date = header.Value
		case "message-id":
			msg.MessageIDHeader = header.Value
		}
	}
	msg.FromEmail = ExtractEmailAddress(msg.From)
	msg.Body = bodyText(raw.Payload)
	return msg, nil
}

// bodyText prefers the first text/plain part anywhere in the tree, then the
// first text/html part with tags stripped, then "".
func bodyText(payload *gmail.MessagePart) string {
	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	if html := findPart(payload, "text/html"); html != "" {
		return stripHTML(html)
	}
	// Single-part messages sometimes omit the mime type.
	if payload.MimeType == "" && len(payload.Parts) == 0 && payload.Body != nil {
		if data, ok := decodeBody(payload.Body.Data); ok {
			return data
		}
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		if data, ok := decodeBody(part.Body.Data); ok {
			return data
		}
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) (string, bool) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	return "", false
}

var tagPattern = regexp.MustCompile(`<[^<]+?>`)

func stripHTML(html string) string {
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		return strings.TrimSpace(tagPattern.ReplaceAllString(html, ""))
	}
	return text
}

var (
	angleAddr = regexp.MustCompile(`<([^>]+)>`)
	looseAddr = regexp.MustCompile(`[\w.\-+]+@[\w.\-]+`)
)

// ExtractEmailAddress returns the bare address from a From header: the
// angle-bracket form if present, else the first address-looking token, else
// the header unchanged.
func ExtractEmailAddress(from string) string {
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	if m := looseAddr.FindString(from); m != "" {
		return m
	}
	return from
}
