package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps both collections in a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL mode
// and applies pending migrations. ":memory:" gives a private in-memory store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: the agent is sequential, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM processed_messages WHERE id = ?", id)
	if err != nil {
		return false, wrap("is processed", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_messages (id, processed_at) VALUES (?, ?)",
		id, time.Now().Unix(),
	)
	return wrap("mark processed", err)
}

type logRow struct {
	ID           string         `db:"id"`
	MessageID    string         `db:"message_id"`
	From         string         `db:"from_addr"`
	To           string         `db:"to_addr"`
	Date         string         `db:"date"`
	Subject      string         `db:"subject"`
	Body         string         `db:"body"`
	Category     string         `db:"category"`
	Summary      string         `db:"summary"`
	Confidence   float64        `db:"confidence"`
	ReplySubject sql.NullString `db:"reply_subject"`
	ReplyBody    sql.NullString `db:"reply_body"`
	ActionStatus string         `db:"action_status"`
	ProcessedAt  int64          `db:"processed_at"`
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry EmailLog) error {
	entry = withDefaults(entry)
	row := logRow{
		ID:           entry.ID,
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
		ProcessedAt:  entry.ProcessedAt.Unix(),
	}
	if entry.Reply != nil {
		row.ReplySubject = sql.NullString{String: entry.Reply.Subject, Valid: true}
		row.ReplyBody = sql.NullString{String: entry.Reply.Body, Valid: true}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO email_logs (
			id, message_id, from_addr, to_addr, date,
			subject, body, category, summary, confidence,
			reply_subject, reply_body, action_status, processed_at
		) VALUES (
			:id, :message_id, :from_addr, :to_addr, :date,
			:subject, :body, :category, :summary, :confidence,
			:reply_subject, :reply_body, :action_status, :processed_at
		)`, row)
	return wrap("append log", err)
}

func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]EmailLog, error) {
	var rows []logRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM email_logs ORDER BY processed_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, wrap("list logs", err)
	}

	logs := make([]EmailLog, 0, len(rows))
	for _, r := range rows {
		entry := EmailLog{
			ID:           r.ID,
			MessageID:    r.MessageID,
			From:         r.From,
			To:           r.To,
			Date:         r.Date,
			Subject:      r.Subject,
			Body:         r.Body,
			Category:     r.Category,
			Summary:      r.Summary,
			Confidence:   r.Confidence,
			ActionStatus: r.ActionStatus,
			ProcessedAt:  time.Unix(r.ProcessedAt, 0).UTC(),
		}
		if r.ReplySubject.Valid || r.ReplyBody.Valid {
			entry.Reply = &Reply{Subject: r.ReplySubject.String, Body: r.ReplyBody.String}
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var counts []struct {
		Category string `db:"category"`
		N        int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &counts,
		"SELECT category, COUNT(*) AS n FROM email_logs GROUP BY category")
	if err != nil {
		return Stats{}, wrap("stats", err)
	}

	st := Stats{Categories: make(map[string]int, len(counts))}
	for _, c := range counts {
		st.Categories[c.Category] = c.N
		st.Total += c.N
	}
	return st, nil
}

// withDefaults fills the id and timestamp of a new entry.
func withDefaults(entry EmailLog) EmailLog {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now()
	}
	return entry
}
