// Package agent runs the inbox pipeline: list unread messages, skip the ones
// already handled, then fetch, classify, dispatch and record the rest.
package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/breaker"
	"github.com/bassamadnan/mailpilot/classifier"
	"github.com/bassamadnan/mailpilot/gmail"
	"github.com/bassamadnan/mailpilot/logger"
	"github.com/bassamadnan/mailpilot/store"
)

// State is the poll loop's current step.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StateDispatching
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateClassifying:
		return "CLASSIFYING"
	case StateDispatching:
		return "DISPATCHING"
	case StateRecording:
		return "RECORDING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Fetcher lists and reads mailbox messages.
type Fetcher interface {
	ListUnread(ctx context.Context, limit int) ([]string, error)
	FetchFull(ctx context.Context, id string) gmail.Message
}

// Classifier judges a message. It must always return a usable Result.
type Classifier interface {
	Classify(ctx context.Context, subject, from, body string) classifier.Result
}

// Filter reports whether a message matches an ignore rule.
type Filter interface {
	Match(from, subject, body string) (rule string, matched bool)
}

// Deps are the collaborators of an Agent.
type Deps struct {
	Fetcher    Fetcher
	Classifier Classifier
	Dispatcher *Dispatcher
	Processed  store.ProcessedStore
	Activity   store.ActivityLog
	// Filter is optional. Matching messages are archived without asking the
	// classifier.
	Filter Filter
}

// Options tune the loop's pacing.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	MessageDelay time.Duration
	ErrorBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 20 * time.Second
	}
	if o.MessageDelay < 0 {
		o.MessageDelay = 0
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 10 * time.Second
	}
	return o
}

// Cycle summarizes one pass over the unread list.
type Cycle struct {
	Listed  int
	Skipped int
	Handled int
	Failed  int
}

// Agent is the poll loop. Messages are handled one at a time in the order
// the provider lists them.
type Agent struct {
	deps  Deps
	opts  Options
	log   *zap.Logger
	state atomic.Int32
	sleep func(context.Context, time.Duration) error
}

// New creates an Agent.
func New(deps Deps, opts Options, log *zap.Logger) *Agent {
	return &Agent{
		deps:  deps,
		opts:  opts.withDefaults(),
		log:   logger.OrDefault(log),
		sleep: breaker.Sleep,
	}
}

// State returns the step the loop is in.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	if State(a.state.Swap(int32(s))) != s {
		a.log.Debug("state", zap.Stringer("state", s))
	}
}

// Run repeats RunOnce until ctx is cancelled. A failed cycle waits
// ErrorBackoff; a cycle that handled nothing waits PollInterval.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent started",
		zap.Int("batch_size", a.opts.BatchSize),
		zap.Duration("poll_interval", a.opts.PollInterval))

	for {
		c, err := a.RunOnce(ctx)
		if ctx.Err() != nil {
			a.log.Info("agent stopped")
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			a.log.Error("poll cycle failed", zap.Error(err), zap.Duration("backoff", a.opts.ErrorBackoff))
			wait = a.opts.ErrorBackoff
		case c.Handled == 0:
			a.log.Debug("nothing to do", zap.Int("listed", c.Listed), zap.Duration("sleep", a.opts.PollInterval))
			wait = a.opts.PollInterval
		}
		if wait > 0 {
			if err := a.sleep(ctx, wait); err != nil {
				a.log.Info("agent stopped")
				return nil
			}
		}
	}
}

// RunOnce performs one cycle. It returns an error only when the cycle as a
// whole could not run; per-message failures are logged and counted.
func (a *Agent) RunOnce(ctx context.Context) (Cycle, error) {
	var c Cycle
	defer a.setState(StateIdle)

	a.setState(StateFetching)
	ids, err := a.deps.Fetcher.ListUnread(ctx, a.opts.BatchSize)
	if err != nil {
		return c, fmt.Errorf("listing unread messages: %w", err)
	}
	c.Listed = len(ids)
	if len(ids) == 0 {
		return c, nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return c, err
		}

		done, err := a.deps.Processed.IsProcessed(ctx, id)
		if err != nil {
			a.log.Warn("processed check failed, skipping for this cycle",
				zap.String("message_id", id), zap.Error(err))
			c.Skipped++
			continue
		}
		if done {
			c.Skipped++
			continue
		}

		if a.handle(ctx, id) {
			c.Handled++
		} else {
			c.Failed++
		}

		if err := a.sleep(ctx, a.opts.MessageDelay); err != nil {
			return c, err
		}
	}

	a.log.Info("poll cycle done",
		zap.Int("listed", c.Listed),
		zap.Int("skipped", c.Skipped),
		zap.Int("handled", c.Handled),
		zap.Int("failed", c.Failed))
	return c, nil
}

// handle takes one message through the pipeline and reports whether it was
// marked processed.
func (a *Agent) handle(ctx context.Context, id string) (ok bool) {
	log := a.log.With(zap.String("message_id", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling message", zap.Any("panic", r), zap.Stack("stack"))
			ok = false
		}
	}()

	a.setState(StateFetching)
	msg := a.deps.Fetcher.FetchFull(ctx, id)
	if msg.Unreadable() {
		log.Warn("message unreadable, will retry next cycle", zap.Error(msg.Err))
		return false
	}

	a.setState(StateClassifying)
	res := a.classify(ctx, msg)
	log.Info("message classified",
		zap.String("category", string(res.Category)),
		zap.String("action", string(res.Action)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("fallback", res.Fallback))

	a.setState(StateDispatching)
	out := a.deps.Dispatcher.Dispatch(ctx, msg, res)

	a.setState(StateRecording)
	entry := store.EmailLog{
		MessageID:    msg.ID,
		From:         msg.From,
		To:           msg.To,
		Date:         msg.Date,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Category:     string(res.Category),
		Summary:      res.Summary,
		Confidence:   res.Confidence,
		Reply:        out.Reply,
		ActionStatus: out.Status,
	}
	if err := a.deps.Activity.AppendLog(ctx, entry); err != nil {
		log.Error("writing email log failed", zap.Error(err))
	}
	if err := a.deps.Processed.MarkProcessed(ctx, msg.ID); err != nil {
		log.Error("marking message processed failed", zap.Error(err))
		return false
	}

	log.Info("message processed", zap.String("status", out.Status))
	return true
}

func (a *Agent) classify(ctx context.Context, msg gmail.Message) classifier.Result {
	if a.deps.Filter != nil {
		if rule, ok := a.deps.Filter.Match(msg.From, msg.Subject, msg.Body); ok {
			a.log.Info("message matched filter", zap.String("message_id", msg.ID), zap.String("rule", rule))
			return classifier.Result{
				Category:   classifier.CategoryNotImportant,
				Confidence: 1,
				Summary:    "Matched filter " + rule,
				Action:     classifier.ActionArchive,
			}
		}
	}
	return a.deps.Classifier.Classify(ctx, msg.Subject, msg.From, msg.Body)
}
