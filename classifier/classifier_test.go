package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubChat struct {
	text string
	err  error
	req  ChatRequest
	n    int
}

func (s *stubChat) ChatComplete(_ context.Context, req ChatRequest) (string, error) {
	s.n++
	s.req = req
	return s.text, s.err
}

const meetingJSON = `{
  "category": "meeting",
  "confidence": 0.92,
  "summary": "Project sync on Thursday",
  "action": "reply",
  "reply_template": {"should_reply": true, "subject": "Re: Sync", "body": "See you there."},
  "metadata": {
    "calendar_event": {
      "summary": "Project sync",
      "start": "2025-09-18T10:00:00+05:30",
      "end": "2025-09-18T11:00:00+05:30",
      "location": "Room 4",
      "description": null
    }
  }
}`

func TestClassifyParsesFencedOutput(t *testing.T) {
	chat := &stubChat{text: "```json\n" + meetingJSON + "\n```"}
	c := New(chat, Options{Model: "gpt-test", Signature: "Akhil"}, zap.NewNop())

	res := c.Classify(context.Background(), "Sync", "boss@corp.example", "Thursday 10am")

	be.Equal(t, res.Category, CategoryMeeting)
	be.Equal(t, res.Action, ActionReply)
	be.Equal(t, res.Confidence, 0.92)
	be.True(t, !res.Fallback)
	be.True(t, res.Reply.ShouldReply)
	be.Equal(t, *res.Reply.Subject, "Re: Sync")
	be.True(t, res.CalendarEvent != nil)
	be.Equal(t, res.CalendarEvent.Start, "2025-09-18T10:00:00+05:30")
	be.Equal(t, res.CalendarEvent.Location, "Room 4")
	be.Equal(t, res.CalendarEvent.Description, "")

	be.Equal(t, chat.req.Model, "gpt-test")
	be.Equal(t, chat.req.MaxTokens, 500)
	be.True(t, strings.Contains(chat.req.UserPrompt, "Thursday 10am"))
	be.True(t, strings.Contains(chat.req.UserPrompt, "boss@corp.example"))
	be.True(t, strings.Contains(chat.req.UserPrompt, "Akhil"))
	be.True(t, strings.Contains(chat.req.UserPrompt, "Asia/Kolkata"))
	be.True(t, strings.Contains(chat.req.SystemPrompt, "EXACTLY one JSON object"))
}

func TestClassifyTransportFailureReturnsSafeDefault(t *testing.T) {
	chat := &stubChat{err: errors.New("dial tcp: connection refused")}
	c := New(chat, Options{}, zap.NewNop())

	res := c.Classify(context.Background(), "s", "f", "b")

	be.Equal(t, res.Category, CategoryOther)
	be.Equal(t, res.Action, ActionNoAction)
	be.Equal(t, res.Confidence, 0.0)
	be.True(t, !res.Reply.ShouldReply)
	be.True(t, res.CalendarEvent == nil)
	be.True(t, res.Fallback)
	be.Equal(t, chat.n, 1)
}

func TestClassifyGarbageReturnsSafeDefault(t *testing.T) {
	c := New(&stubChat{text: "Sure! Here is the JSON you asked for."}, Options{}, zap.NewNop())

	res := c.Classify(context.Background(), "s", "f", "b")
	be.Equal(t, res, SafeDefault())
}

func TestParseUnknownValues(t *testing.T) {
	res, err := Parse(`{"category":"spam","action":"delete","confidence":7}`)
	be.Err(t, err, nil)
	be.Equal(t, res.Category, CategoryOther)
	be.Equal(t, res.Action, ActionNoAction)
	be.Equal(t, res.Confidence, 1.0)
	be.True(t, !res.Reply.ShouldReply)
}

func TestParseNullReplyFields(t *testing.T) {
	res, err := Parse(`{"category":"not_important","action":"archive","reply_template":{"should_reply":true,"subject":null,"body":"  "}}`)
	be.Err(t, err, nil)
	be.True(t, res.Reply.ShouldReply)
	be.True(t, res.Reply.Subject == nil)
	be.True(t, res.Reply.Body == nil)
	be.True(t, res.Archives())
}

func TestParseDropsEventsOutsideMeetings(t *testing.T) {
	res, err := Parse(strings.Replace(meetingJSON, `"category": "meeting"`, `"category": "important_email"`, 1))
	be.Err(t, err, nil)
	be.True(t, res.CalendarEvent == nil)
}

func TestParseDropsEventsWithoutTimes(t *testing.T) {
	res, err := Parse(`{"category":"interview","metadata":{"calendar_event":{"summary":"Interview","start":null,"end":"2025-09-18T11:00:00+05:30"}}}`)
	be.Err(t, err, nil)
	be.True(t, res.CalendarEvent == nil)

	res, err = Parse(`{"category":"interview","metadata":{"calendar_event":{"start":"next Tuesday","end":"2025-09-18T11:00:00+05:30"}}}`)
	be.Err(t, err, nil)
	be.True(t, res.CalendarEvent == nil)
}

func TestParseKeepsEventsWithoutOffset(t *testing.T) {
	tests := []struct {
		start, end string
	}{
		{"2025-09-18T10:00:00", "2025-09-18T11:00:00"},
		{"2025-09-18T10:00:00.000", "2025-09-18T11:00:00.000"},
		{"2025-09-18T10:00:00Z", "2025-09-18T11:00:00.5+05:30"},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			res, err := Parse(`{"category":"meeting","metadata":{"calendar_event":{"start":"` + tt.start + `","end":"` + tt.end + `"}}}`)
			be.Err(t, err, nil)
			be.True(t, res.CalendarEvent != nil)
			be.Equal(t, res.CalendarEvent.Start, tt.start)
			be.Equal(t, res.CalendarEvent.End, tt.end)
		})
	}
}

func TestClassifyLogsDiscardedEvent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	chat := &stubChat{text: `{"category":"interview","metadata":{"calendar_event":{"start":"next Tuesday","end":"2025-09-18T11:00:00"}}}`}
	c := New(chat, Options{}, zap.New(core))

	res := c.Classify(context.Background(), "s", "f", "b")
	be.True(t, res.CalendarEvent == nil)

	entries := logs.FilterMessage("calendar event discarded").All()
	be.Equal(t, len(entries), 1)
	be.True(t, strings.Contains(entries[0].ContextMap()["reason"].(string), "next Tuesday"))
}

func TestStripFences(t *testing.T) {
	be.Equal(t, StripFences("```json\n{}\n```"), "{}")
	be.Equal(t, StripFences("```\n{}\n```"), "{}")
	be.Equal(t, StripFences("  {}  "), "{}")
}

func TestParseCategoryAndAction(t *testing.T) {
	be.Equal(t, ParseCategory(" Interview "), CategoryInterview)
	be.Equal(t, ParseCategory("NOT_IMPORTANT"), CategoryNotImportant)
	be.Equal(t, ParseCategory(""), CategoryOther)
	be.Equal(t, ParseAction("label_only"), ActionLabelOnly)
	be.Equal(t, ParseAction("forward"), ActionNoAction)
}

func TestArchives(t *testing.T) {
	be.True(t, Result{Category: CategoryOther, Action: ActionArchive}.Archives())
	be.True(t, Result{Category: CategoryNotImportant, Action: ActionReply}.Archives())
	be.True(t, !Result{Category: CategoryMeeting, Action: ActionReply}.Archives())
	be.True(t, !SafeDefault().Archives())
}
