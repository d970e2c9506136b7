// Package store persists which messages have been handled and an audit log
// of what was done with each. Both collections are append-only.
package store

import (
	"context"
	"errors"
	"time"
)

// ProcessedStore is the idempotency store. Once MarkProcessed succeeds,
// IsProcessed reports true for that id forever.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

// ActivityLog records one EmailLog per processed message.
type ActivityLog interface {
	AppendLog(ctx context.Context, entry EmailLog) error
}

// LogReader serves the audit history.
type LogReader interface {
	// ListLogs returns up to limit entries, newest first.
	ListLogs(ctx context.Context, limit int) ([]EmailLog, error)
	Stats(ctx context.Context) (Stats, error)
}

// Store is a backend holding both collections.
type Store interface {
	ProcessedStore
	ActivityLog
	LogReader
	Close() error
}

// Reply is the reply that was resolved for a message.
type Reply struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailLog is the audit record for one processed message.
type EmailLog struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Date         string    `json:"date"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Category     string    `json:"ai_category"`
	Summary      string    `json:"ai_summary"`
	Confidence   float64   `json:"ai_confidence"`
	Reply        *Reply    `json:"ai_reply"`
	ActionStatus string    `json:"action_status"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Stats counts logged messages.
type Stats struct {
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

// Error is returned when a backend operation fails, typically on
// connectivity loss.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// ErrUnsupportedURI is returned by Open for an unknown scheme.
var ErrUnsupportedURI = errors.New("unsupported store URI")
