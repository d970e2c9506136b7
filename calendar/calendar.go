// Package calendar creates events on the operator's primary Google Calendar.
package calendar

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/bassamadnan/mailpilot/breaker"
	"github.com/bassamadnan/mailpilot/logger"
)

const primaryCalendar = "primary"

// Event is a calendar entry extracted from a message. Start and End are
// RFC 3339 date-times.
type Event struct {
	Summary     string
	Location    string
	Description string
	Start       string
	End         string
	TimeZone    string
	Attendees   []string
}

// Client inserts events through the Calendar API.
type Client struct {
	srv *calendar.Service
	br  *breaker.Breaker
	log *zap.Logger
}

// NewClient creates a Calendar client.
func NewClient(ctx context.Context, log *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	log = logger.OrDefault(log)
	return &Client{
		srv: srv,
		br:  breaker.New("calendar-api", breaker.Options{}, log),
		log: log,
	}, nil
}

// InsertEvent creates ev on the primary calendar and returns its link.
// Inserts are not retried so a slow 5xx cannot produce duplicate events.
func (c *Client) InsertEvent(ctx context.Context, ev Event) (string, error) {
	var created *calendar.Event
	err := c.br.DoOnce(ctx, "events.insert", func(ctx context.Context) error {
		var err error
		created, err = c.srv.Events.Insert(primaryCalendar, toAPIEvent(ev)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("creating calendar event: %w", err)
	}
	c.log.Info("calendar event created", zap.String("link", created.HtmlLink))
	return created.HtmlLink, nil
}

func toAPIEvent(ev Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start, TimeZone: ev.TimeZone},
		End:         &calendar.EventDateTime{DateTime: ev.End, TimeZone: ev.TimeZone},
	}
	if out.Summary == "" {
		out.Summary = "New Event"
	}
	if out.Location == "" {
		out.Location = "Online"
	}
	for _, email := range ev.Attendees {
		if email != "" {
			out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: email})
		}
	}
	return out
}
