// Package classifier asks an external reasoning service to classify a
// message and turns its answer into a Result. It never fails: any problem
// yields SafeDefault.
package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/logger"
)

// ChatRequest is one completion request.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// ChatCompleter returns the service's text answer to a request.
type ChatCompleter interface {
	ChatComplete(ctx context.Context, req ChatRequest) (string, error)
}

// Options configures a Client.
type Options struct {
	Model     string
	MaxTokens int
	// TimeZone is the zone the service assumes for times without an offset.
	TimeZone string
	// Signature is appended to reply instructions when set.
	Signature string
}

// Client classifies messages through a ChatCompleter.
type Client struct {
	chat ChatCompleter
	opts Options
	log  *zap.Logger
}

// New creates a classification client.
func New(chat ChatCompleter, opts Options, log *zap.Logger) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "Asia/Kolkata"
	}
	return &Client{chat: chat, opts: opts, log: logger.OrDefault(log)}
}

// Classify returns the service's judgment for one message, or SafeDefault on
// transport, timeout or parse failure. It does not retry.
func (c *Client) Classify(ctx context.Context, subject, from, body string) Result {
	text, err := c.chat.ChatComplete(ctx, ChatRequest{
		Model:        c.opts.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt(subject, from, body, c.opts.TimeZone, c.opts.Signature),
		MaxTokens:    c.opts.MaxTokens,
	})
	if err != nil {
		c.log.Error("classification request failed", zap.Error(err))
		return SafeDefault()
	}

	res, dropped, err := parse(text)
	if err != nil {
		c.log.Error("error parsing model output", zap.Error(err), zap.Int("length", len(text)))
		return SafeDefault()
	}
	if dropped != "" {
		c.log.Warn("calendar event discarded", zap.String("reason", dropped))
	}
	return res
}

// wireResult mirrors the JSON the service is instructed to emit.
type wireResult struct {
	Category      string   `json:"category"`
	Confidence    *float64 `json:"confidence"`
	Summary       string   `json:"summary"`
	Action        string   `json:"action"`
	ReplyTemplate *struct {
		ShouldReply bool    `json:"should_reply"`
		Subject     *string `json:"subject"`
		Body        *string `json:"body"`
	} `json:"reply_template"`
	Metadata *struct {
		CalendarEvent *struct {
			Summary     *string `json:"summary"`
			Start       *string `json:"start"`
			End         *string `json:"end"`
			Location    *string `json:"location"`
			Description *string `json:"description"`
		} `json:"calendar_event"`
	} `json:"metadata"`
}

// Parse turns service text into a Result. Code fences are stripped;
// unknown enum values map to other/no_action; a calendar event survives
// only for interviews and meetings with valid start and end times.
func Parse(text string) (Result, error) {
	res, _, err := parse(text)
	return res, err
}

// parse is Parse that also explains why a proposed calendar event was
// discarded. dropped is empty when nothing was discarded.
func parse(text string) (res Result, dropped string, err error) {
	text = StripFences(text)

	var w wireResult
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return Result{}, "", fmt.Errorf("decoding classification: %w", err)
	}

	res = Result{
		Category: ParseCategory(w.Category),
		Summary:  strings.TrimSpace(w.Summary),
		Action:   ParseAction(w.Action),
	}
	if w.Confidence != nil && !math.IsNaN(*w.Confidence) {
		res.Confidence = math.Min(1, math.Max(0, *w.Confidence))
	}
	if rt := w.ReplyTemplate; rt != nil {
		res.Reply = ReplyTemplate{
			ShouldReply: rt.ShouldReply,
			Subject:     nonBlank(rt.Subject),
			Body:        nonBlank(rt.Body),
		}
	}
	if w.Metadata == nil || w.Metadata.CalendarEvent == nil {
		return res, "", nil
	}

	ev := w.Metadata.CalendarEvent
	start, end := deref(ev.Start), deref(ev.End)
	switch {
	case !res.Category.Schedulable():
		dropped = "category " + string(res.Category) + " does not take events"
	case !validEventTime(start):
		dropped = fmt.Sprintf("invalid start time %q", start)
	case !validEventTime(end):
		dropped = fmt.Sprintf("invalid end time %q", end)
	default:
		res.CalendarEvent = &CalendarEvent{
			Summary:     deref(ev.Summary),
			Start:       start,
			End:         end,
			Location:    deref(ev.Location),
			Description: deref(ev.Description),
		}
	}
	return res, dropped, nil
}

// StripFences removes an optional ```json ... ``` wrapper.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimPrefix(text, "JSON")
		text = strings.TrimSpace(text)
	}
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}
	return text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
