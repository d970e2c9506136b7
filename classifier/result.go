package classifier

import (
	"strings"
	"time"
)

// Category is the kind of message the service judged it to be.
type Category string

const (
	CategoryInterview      Category = "interview"
	CategoryMeeting        Category = "meeting"
	CategoryImportantEmail Category = "important_email"
	CategoryNotImportant   Category = "not_important"
	CategoryOther          Category = "other"
)

// Categories lists every Category in a stable order.
func Categories() []Category {
	return []Category{CategoryInterview, CategoryMeeting, CategoryImportantEmail, CategoryNotImportant, CategoryOther}
}

// ParseCategory maps service output onto a Category. Anything unknown is
// CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryInterview, CategoryMeeting, CategoryImportantEmail, CategoryNotImportant, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// Schedulable reports whether a calendar event may accompany the category.
func (c Category) Schedulable() bool {
	return c == CategoryInterview || c == CategoryMeeting
}

// Action is what the service recommends doing with the message.
type Action string

const (
	ActionReply     Action = "reply"
	ActionArchive   Action = "archive"
	ActionLabelOnly Action = "label_only"
	ActionNoAction  Action = "no_action"
)

// ParseAction maps service output onto an Action. Anything unknown is
// ActionNoAction.
func ParseAction(s string) Action {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionReply, ActionArchive, ActionLabelOnly, ActionNoAction:
		return a
	default:
		return ActionNoAction
	}
}

// ReplyTemplate is the proposed reply. Subject and Body are nil when the
// service left them out.
type ReplyTemplate struct {
	ShouldReply bool
	Subject     *string
	Body        *string
}

// CalendarEvent holds event details extracted from the message.
type CalendarEvent struct {
	Summary     string
	Start       string
	End         string
	Location    string
	Description string
}

// Result is the structured judgment for one message.
type Result struct {
	Category      Category
	Confidence    float64
	Summary       string
	Action        Action
	Reply         ReplyTemplate
	CalendarEvent *CalendarEvent
	// Fallback is set when Result is the safe default rather than service
	// output.
	Fallback bool
}

// Archives reports whether the message should leave the inbox.
func (r Result) Archives() bool {
	return r.Action == ActionArchive || r.Category == CategoryNotImportant
}

// SafeDefault is the do-nothing result used whenever classification fails.
func SafeDefault() Result {
	return Result{
		Category:   CategoryOther,
		Confidence: 0.0,
		Summary:    "Could not parse model output",
		Action:     ActionNoAction,
		Reply:      ReplyTemplate{ShouldReply: false},
		Fallback:   true,
	}
}

// eventTimeLayouts are the ISO 8601 date-times accepted for events. A time
// without an offset is read in the event's configured time zone by the
// calendar provider. Fractional seconds are accepted by both layouts.
var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// validEventTime reports whether s is an ISO 8601 date-time, with or
// without a UTC offset.
func validEventTime(s string) bool {
	if s == "" {
		return false
	}
	for _, layout := range eventTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
