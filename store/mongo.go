package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/logger"
)

const (
	mongoDatabase        = "email_agent_db"
	mongoProcessedColl   = "processed_messages"
	mongoLogsColl        = "email_logs"
	mongoDisconnectAfter = 10 * time.Second
)

// MongoStore keeps both collections in MongoDB.
type MongoStore struct {
	client    *mongo.Client
	processed *mongo.Collection
	logs      *mongo.Collection
	log       *zap.Logger
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to uri and pings the primary so that a bad URI or
// unreachable server fails at startup.
func NewMongoStore(ctx context.Context, uri string, log *zap.Logger) (*MongoStore, error) {
	log = logger.OrDefault(log)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	log.Info("connected to mongodb", zap.String("database", mongoDatabase))
	return newMongoStore(client, log), nil
}

func newMongoStore(client *mongo.Client, log *zap.Logger) *MongoStore {
	db := client.Database(mongoDatabase)
	return &MongoStore{
		client:    client,
		processed: db.Collection(mongoProcessedColl),
		logs:      db.Collection(mongoLogsColl),
		log:       log,
	}
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectAfter)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	err := s.processed.FindOne(ctx, bson.M{"_id": id}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, wrap("is processed", err)
	}
	return true, nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.processed.InsertOne(ctx, bson.M{"_id": id, "processed_at": time.Now().Unix()})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return wrap("mark processed", err)
}

type mongoReply struct {
	Subject string `bson:"subject"`
	Body    string `bson:"body"`
}

type mongoEmailLog struct {
	ID           string      `bson:"_id"`
	MessageID    string      `bson:"message_id"`
	From         string      `bson:"from"`
	To           string      `bson:"to"`
	Date         string      `bson:"date"`
	Subject      string      `bson:"subject"`
	Body         string      `bson:"body"`
	Category     string      `bson:"ai_category"`
	Summary      string      `bson:"ai_summary"`
	Confidence   float64     `bson:"ai_confidence"`
	Reply        *mongoReply `bson:"ai_reply"`
	ActionStatus string      `bson:"action_status"`
	ProcessedAt  int64       `bson:"processed_at"`
}

func toMongoLog(entry EmailLog) mongoEmailLog {
	doc := mongoEmailLog{
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
		doc.Reply = &mongoReply{Subject: entry.Reply.Subject, Body: entry.Reply.Body}
	}
	return doc
}

func (d mongoEmailLog) toEmailLog() EmailLog {
	entry := EmailLog{
		ID:           d.ID,
		MessageID:    d.MessageID,
		From:         d.From,
		To:           d.To,
		Date:         d.Date,
		Subject:      d.Subject,
		Body:         d.Body,
		Category:     d.Category,
		Summary:      d.Summary,
		Confidence:   d.Confidence,
		ActionStatus: d.ActionStatus,
		ProcessedAt:  time.Unix(d.ProcessedAt, 0).UTC(),
	}
	if d.Reply != nil {
		entry.Reply = &Reply{Subject: d.Reply.Subject, Body: d.Reply.Body}
	}
	return entry
}

func (s *MongoStore) AppendLog(ctx context.Context, entry EmailLog) error {
	_, err := s.logs.InsertOne(ctx, toMongoLog(withDefaults(entry)))
	return wrap("append log", err)
}

func (s *MongoStore) ListLogs(ctx context.Context, limit int) ([]EmailLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "processed_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.logs.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrap("list logs", err)
	}

	var docs []mongoEmailLog
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list logs", err)
	}
	logs := make([]EmailLog, 0, len(docs))
	for _, d := range docs {
		logs = append(logs, d.toEmailLog())
	}
	return logs, nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$ai_category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.logs.Aggregate(ctx, pipeline)
	if err != nil {
		return Stats{}, wrap("stats", err)
	}

	var groups []struct {
		Category string `bson:"_id"`
		Count    int    `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return Stats{}, wrap("stats", err)
	}

	st := Stats{Categories: make(map[string]int, len(groups))}
	for _, g := range groups {
		st.Categories[g.Category] = g.Count
		st.Total += g.Count
	}
	return st, nil
}
