package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bassamadnan/mailpilot/calendar"
	"github.com/bassamadnan/mailpilot/classifier"
	"github.com/bassamadnan/mailpilot/gmail"
	"github.com/bassamadnan/mailpilot/store"
)

type fakeFetcher struct {
	ids     []string
	listErr error
	msgs    map[string]gmail.Message
	fetched []string
}

func (f *fakeFetcher) ListUnread(_ context.Context, limit int) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.ids) > limit {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}

func (f *fakeFetcher) FetchFull(_ context.Context, id string) gmail.Message {
	f.fetched = append(f.fetched, id)
	if m, ok := f.msgs[id]; ok {
		return m
	}
	return gmail.Message{
		ID:              id,
		ThreadID:        "thread-" + id,
		From:            "Alice <alice@example.com>",
		FromEmail:       "alice@example.com",
		To:              "me@example.com",
		Subject:         "Hello " + id,
		Body:            "body " + id,
		MessageIDHeader: "<" + id + "@mail.example.com>",
	}
}

type fakeClassifier struct {
	result classifier.Result
	byID   map[string]classifier.Result
	panics map[string]bool
	calls  []string
}

func (c *fakeClassifier) Classify(_ context.Context, subject, _, _ string) classifier.Result {
	c.calls = append(c.calls, subject)
	for id, r := range c.byID {
		if subject == "Hello "+id {
			return r
		}
	}
	for id := range c.panics {
		if subject == "Hello "+id {
			panic("boom")
		}
	}
	return c.result
}

type sentMail struct {
	raw      string
	threadID string
}

type labelCall struct {
	id     string
	remove []string
}

type fakeMailbox struct {
	threadID  string
	threadErr error
	sendErr   error
	labelErr  error
	sent      []sentMail
	labels    []labelCall
}

func (m *fakeMailbox) ThreadID(_ context.Context, id string) (string, error) {
	if m.threadErr != nil {
		return "", m.threadErr
	}
	if m.threadID != "" {
		return m.threadID, nil
	}
	return "thread-" + id, nil
}

func (m *fakeMailbox) Send(_ context.Context, raw, threadID string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, sentMail{raw: raw, threadID: threadID})
	return "sent-id", nil
}

func (m *fakeMailbox) ModifyLabels(_ context.Context, id string, _, remove []string) error {
	m.labels = append(m.labels, labelCall{id: id, remove: remove})
	return m.labelErr
}

type fakeCalendar struct {
	err    error
	events []calendar.Event
}

func (c *fakeCalendar) InsertEvent(_ context.Context, ev calendar.Event) (string, error) {
	c.events = append(c.events, ev)
	if c.err != nil {
		return "", c.err
	}
	return "https://calendar.example.com/event", nil
}

var errUnavailable = errors.New("unavailable")

type fakeProcessed struct {
	mu      sync.Mutex
	done    map[string]bool
	errFor  map[string]bool
	markErr error
	marked  []string
}

func newFakeProcessed(ids ...string) *fakeProcessed {
	p := &fakeProcessed{done: map[string]bool{}, errFor: map[string]bool{}}
	for _, id := range ids {
		p.done[id] = true
	}
	return p
}

func (p *fakeProcessed) IsProcessed(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errFor[id] {
		return false, errUnavailable
	}
	return p.done[id], nil
}

func (p *fakeProcessed) MarkProcessed(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.markErr != nil {
		return p.markErr
	}
	p.marked = append(p.marked, id)
	p.done[id] = true
	return nil
}

type fakeActivity struct {
	entries []store.EmailLog
}

func (a *fakeActivity) AppendLog(_ context.Context, entry store.EmailLog) error {
	a.entries = append(a.entries, entry)
	return nil
}

type fakeFilter struct {
	sender string
}

func (f fakeFilter) Match(from, _, _ string) (string, bool) {
	if f.sender != "" && from == f.sender {
		return "sender:" + f.sender, true
	}
	return "", false
}

// harness wires an Agent to fakes and records every sleep.
type harness struct {
	fetcher    *fakeFetcher
	classifier *fakeClassifier
	mailbox    *fakeMailbox
	calendar   *fakeCalendar
	processed  *fakeProcessed
	activity   *fakeActivity
	sleeps     []time.Duration
	agent      *Agent
}

func newHarness(ids ...string) *harness {
	h := &harness{
		fetcher:    &fakeFetcher{ids: ids, msgs: map[string]gmail.Message{}},
		classifier: &fakeClassifier{result: classifier.Result{Category: classifier.CategoryOther, Action: classifier.ActionNoAction}},
		mailbox:    &fakeMailbox{},
		calendar:   &fakeCalendar{},
		processed:  newFakeProcessed(),
		activity:   &fakeActivity{},
	}
	h.build(nil)
	return h
}

func (h *harness) build(filter Filter) {
	disp := NewDispatcher(h.mailbox, h.calendar, "me@example.com", "Asia/Kolkata", nil)
	disp.now = func() time.Time { return time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC) }
	h.agent = New(Deps{
		Fetcher:    h.fetcher,
		Classifier: h.classifier,
		Dispatcher: disp,
		Processed:  h.processed,
		Activity:   h.activity,
		Filter:     filter,
	}, Options{
		BatchSize:    20,
		PollInterval: 20 * time.Second,
		MessageDelay: 2 * time.Second,
		ErrorBackoff: 10 * time.Second,
	}, nil)
	h.agent.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
}

func strPtr(s string) *string { return &s }
