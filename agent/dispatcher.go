package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/calendar"
	"github.com/bassamadnan/mailpilot/classifier"
	"github.com/bassamadnan/mailpilot/gmail"
	"github.com/bassamadnan/mailpilot/logger"
	"github.com/bassamadnan/mailpilot/store"
)

// DefaultReplyBody is sent when the classifier asked for a reply but gave no
// body.
const DefaultReplyBody = "Thank you for your email. I have received it and will get back to you shortly."

const (
	statusReplySent   = "Sent automated reply."
	statusArchived    = "Email processed and archived."
	statusMarkedRead  = "Email processed, marked as read."
	statusEventMade   = "Calendar event created."
	defaultTimeZone   = "Asia/Kolkata"
	replyContentType  = "text/plain"
	replyTransferCode = "quoted-printable"
)

// Mailbox is the part of the mail provider the dispatcher writes to.
type Mailbox interface {
	ThreadID(ctx context.Context, id string) (string, error)
	Send(ctx context.Context, raw, threadID string) (string, error)
	ModifyLabels(ctx context.Context, id string, add, remove []string) error
}

// Calendar creates events.
type Calendar interface {
	InsertEvent(ctx context.Context, ev calendar.Event) (string, error)
}

// Outcome is what happened to one message. Each step fails independently.
type Outcome struct {
	// Reply is the resolved reply when one was requested, sent or not.
	Reply     *store.Reply
	EventLink string
	Archived  bool

	CalendarErr error
	ReplyErr    error
	LabelErr    error

	// Status is the human-readable narrative persisted with the log entry.
	Status string
}

// Dispatcher performs the side effects of a classification.
type Dispatcher struct {
	mailbox  Mailbox
	calendar Calendar
	from     string
	timeZone string
	log      *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. from is the authenticated address used
// as the reply sender; timeZone is attached to created events.
func NewDispatcher(mailbox Mailbox, cal Calendar, from, timeZone string, log *zap.Logger) *Dispatcher {
	if timeZone == "" {
		timeZone = defaultTimeZone
	}
	return &Dispatcher{
		mailbox:  mailbox,
		calendar: cal,
		from:     from,
		timeZone: timeZone,
		log:      logger.OrDefault(log),
		now:      time.Now,
	}
}

// Dispatch runs calendar creation, reply send and label mutation in that
// order. A failing step is logged and noted in the narrative; it never stops
// the steps after it.
func (d *Dispatcher) Dispatch(ctx context.Context, msg gmail.Message, res classifier.Result) Outcome {
	var out Outcome
	log := d.log.With(zap.String("message_id", msg.ID))

	eventCreated := false
	if ev := res.CalendarEvent; ev != nil && ev.Start != "" && ev.End != "" {
		link, err := d.calendar.InsertEvent(ctx, calendar.Event{
			Summary:     ev.Summary,
			Location:    ev.Location,
			Description: ev.Description,
			Start:       ev.Start,
			End:         ev.End,
			TimeZone:    d.timeZone,
			Attendees:   []string{msg.FromEmail},
		})
		if err != nil {
			log.Error("calendar event creation failed", zap.Error(err))
			out.CalendarErr = err
		} else {
			eventCreated = true
			out.EventLink = link
		}
	}

	var narrative []string
	if res.Reply.ShouldReply {
		reply := ResolveReply(res.Reply, msg.Subject)
		out.Reply = &reply
		if err := d.sendReply(ctx, msg, reply); err != nil {
			log.Error("reply send failed", zap.Error(err))
			out.ReplyErr = err
			narrative = append(narrative, fmt.Sprintf("Failed to send reply: %v", err))
		} else {
			narrative = append(narrative, statusReplySent)
		}
	}

	remove := []string{gmail.LabelUnread}
	out.Archived = res.Archives()
	if out.Archived {
		remove = append(remove, gmail.LabelInbox)
	}
	if err := d.mailbox.ModifyLabels(ctx, msg.ID, nil, remove); err != nil {
		log.Error("label update failed", zap.Error(err), zap.Strings("remove", remove))
		out.LabelErr = err
		narrative = append(narrative, fmt.Sprintf("Failed to update labels: %v.", err))
	} else if out.Archived {
		narrative = append(narrative, statusArchived)
	} else {
		narrative = append(narrative, statusMarkedRead)
	}

	if eventCreated {
		narrative = append(narrative, statusEventMade)
	} else if out.CalendarErr != nil {
		narrative = append(narrative, fmt.Sprintf("Failed to create calendar event: %v.", out.CalendarErr))
	}

	out.Status = strings.Join(narrative, " ")
	return out
}

// ResolveReply fills in the subject and body the classifier left out.
func ResolveReply(t classifier.ReplyTemplate, originalSubject string) store.Reply {
	r := store.Reply{
		Subject: "Re: " + originalSubject,
		Body:    DefaultReplyBody,
	}
	if t.Subject != nil && *t.Subject != "" {
		r.Subject = *t.Subject
	}
	if t.Body != nil && *t.Body != "" {
		r.Body = *t.Body
	}
	return r
}

func (d *Dispatcher) sendReply(ctx context.Context, msg gmail.Message, reply store.Reply) error {
	threadID, err := d.mailbox.ThreadID(ctx, msg.ID)
	if err != nil || threadID == "" {
		d.log.Warn("thread lookup failed, using fetched thread id",
			zap.String("message_id", msg.ID), zap.Error(err))
		threadID = msg.ThreadID
	}

	raw, err := d.composeReply(msg, reply)
	if err != nil {
		return err
	}
	_, err = d.mailbox.Send(ctx, raw, threadID)
	return err
}

// composeReply builds the RFC 5322 reply and returns it base64url-encoded.
func (d *Dispatcher) composeReply(msg gmail.Message, reply store.Reply) (string, error) {
	var h mail.Header
	h.SetDate(d.now())
	if d.from != "" {
		h.SetAddressList("From", []*mail.Address{{Address: d.from}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: msg.FromEmail}})
	h.SetSubject(reply.Subject)
	if msg.MessageIDHeader != "" {
		h.Set("In-Reply-To", msg.MessageIDHeader)
		h.Set("References", msg.MessageIDHeader)
	}
	h.SetContentType(replyContentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", replyTransferCode)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", fmt.Errorf("composing reply: %w", err)
	}
	if _, err := io.WriteString(w, reply.Body); err != nil {
		return "", fmt.Errorf("writing reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing reply: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}
