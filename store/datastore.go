package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/logger"
)

const (
	kindProcessed = "ProcessedMessage"
	kindEmailLog  = "EmailLog"
)

// DatastoreStore keeps both collections as Cloud Datastore kinds.
type DatastoreStore struct {
	client *datastore.Client
	log    *zap.Logger
}

var _ Store = (*DatastoreStore)(nil)

// NewDatastoreStore connects to the project's default database using
// application default credentials.
func NewDatastoreStore(ctx context.Context, projectID string, log *zap.Logger) (*DatastoreStore, error) {
	log = logger.OrDefault(log)
	client, err := datastore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	// NewClient dials lazily; a lookup surfaces bad credentials or an unknown
	// project before the agent starts.
	if err := pingDatastore(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	log.Info("connected to datastore", zap.String("project", projectID))
	return &DatastoreStore{client: client, log: log}, nil
}

// pingKey names an entity that is never written.
const pingKey = "__mailpilot_ping__"

type entityGetter interface {
	Get(ctx context.Context, key *datastore.Key, dst interface{}) error
}

// pingDatastore does one keyed lookup. A missing entity means the service
// answered.
func pingDatastore(ctx context.Context, g entityGetter) error {
	var p dsProcessed
	err := g.Get(ctx, datastore.NameKey(kindProcessed, pingKey, nil), &p)
	if err == nil || errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil
	}
	return fmt.Errorf("pinging datastore: %w", err)
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

type dsProcessed struct {
	ProcessedAt time.Time `datastore:"processed_at"`
}

func (s *DatastoreStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var p dsProcessed
	err := s.client.Get(ctx, datastore.NameKey(kindProcessed, id, nil), &p)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	var mismatch *datastore.ErrFieldMismatch
	if err != nil && !errors.As(err, &mismatch) {
		return false, wrap("is processed", err)
	}
	return true, nil
}

// MarkProcessed overwrites any existing entity with the same key, so a
// repeated call leaves the id marked.
func (s *DatastoreStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.client.Put(ctx, datastore.NameKey(kindProcessed, id, nil), &dsProcessed{ProcessedAt: time.Now()})
	return wrap("mark processed", err)
}

type dsEmailLog struct {
	MessageID    string    `datastore:"message_id"`
	From         string    `datastore:"from"`
	To           string    `datastore:"to,noindex"`
	Date         string    `datastore:"date,noindex"`
	Subject      string    `datastore:"subject,noindex"`
	Body         string    `datastore:"body,noindex"`
	Category     string    `datastore:"ai_category"`
	Summary      string    `datastore:"ai_summary,noindex"`
	Confidence   float64   `datastore:"ai_confidence,noindex"`
	HasReply     bool      `datastore:"has_reply,noindex"`
	ReplySubject string    `datastore:"reply_subject,noindex"`
	ReplyBody    string    `datastore:"reply_body,noindex"`
	ActionStatus string    `datastore:"action_status,noindex"`
	ProcessedAt  time.Time `datastore:"processed_at"`
}

func (s *DatastoreStore) AppendLog(ctx context.Context, entry EmailLog) error {
	entry = withDefaults(entry)
	e := dsEmailLog{
		MessageID:    entry.MessageID,
		From:         entry.From,
		To:           entry.To,
		Date:         entry.Date,
		Subject:      entry.Subject,
		Body:         entry.Body,
		Category:     entry.Category,
		Summary:      entry.Summary,
		Confidence:   entry.Confidence,
		ActionStatus: entry.ActionStatus,
		ProcessedAt:  entry.ProcessedAt,
	}
	if entry.Reply != nil {
		e.HasReply = true
		e.ReplySubject = entry.Reply.Subject
		e.ReplyBody = entry.Reply.Body
	}
	_, err := s.client.Put(ctx, datastore.NameKey(kindEmailLog, entry.ID, nil), &e)
	return wrap("append log", err)
}

func (s *DatastoreStore) ListLogs(ctx context.Context, limit int) ([]EmailLog, error) {
	q := datastore.NewQuery(kindEmailLog).Order("-processed_at").Limit(limit)
	var entities []dsEmailLog
	keys, err := s.client.GetAll(ctx, q, &entities)
	if err != nil {
		return nil, wrap("list logs", err)
	}

	logs := make([]EmailLog, 0, len(entities))
	for i, e := range entities {
		entry := EmailLog{
			ID:           keys[i].Name,
			MessageID:    e.MessageID,
			From:         e.From,
			To:           e.To,
			Date:         e.Date,
			Subject:      e.Subject,
			Body:         e.Body,
			Category:     e.Category,
			Summary:      e.Summary,
			Confidence:   e.Confidence,
			ActionStatus: e.ActionStatus,
			ProcessedAt:  e.ProcessedAt.UTC(),
		}
		if e.HasReply {
			entry.Reply = &Reply{Subject: e.ReplySubject, Body: e.ReplyBody}
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// Stats runs a projection over the indexed category property; Datastore has
// no server-side grouping.
func (s *DatastoreStore) Stats(ctx context.Context) (Stats, error) {
	q := datastore.NewQuery(kindEmailLog).Project("ai_category")
	var rows []struct {
		Category string `datastore:"ai_category"`
	}
	if _, err := s.client.GetAll(ctx, q, &rows); err != nil {
		return Stats{}, wrap("stats", err)
	}

	st := Stats{Categories: map[string]int{}}
	for _, r := range rows {
		st.Categories[r.Category]++
		st.Total++
	}
	return st, nil
}
