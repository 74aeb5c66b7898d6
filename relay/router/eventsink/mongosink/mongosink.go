// Package mongosink provides a durable, append-only relay/external.EventSink
// backed by MongoDB.
//
// Grounded on the teacher's llm/tools/audit.go — specifically its
// AuditLogger/AuditBackend split and the DatabaseAuditBackend interface's
// own comment naming MongoDB as a valid backend choice, plus its
// LogAsync bounded-queue-with-drop pattern for never blocking the router
// on a slow write. Reshaped from tool-call audit entries onto router
// events, and from a generic multi-backend fan-out onto one fixed Mongo
// collection.
package mongosink

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"github.com/relaycore/relay/relay/external"
)

// eventDocument is the durable shape of one router event.
type eventDocument struct {
	ConversationID string    `bson:"conversation_id"`
	MessageID      string    `bson:"message_id"`
	Kind           string    `bson:"kind"`
	ProviderID     string    `bson:"provider_id"`
	AttemptNumber  int       `bson:"attempt_number"`
	LatencyMs      *int64    `bson:"latency_ms,omitempty"`
	ErrorKind      *string   `bson:"error_kind,omitempty"`
	ErrorMessage   string    `bson:"error_message,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
}

// Sink is a relay/external.EventSink that appends every event to a Mongo
// collection from a small pool of background workers, so a slow or
// unreachable Mongo deployment never adds latency to a request in
// flight. The queue drops events rather than blocking when full.
type Sink struct {
	collection *mongo.Collection
	queue      chan eventDocument
	wg         sync.WaitGroup
	logger     *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Config configures Sink.
type Config struct {
	Database       string
	Collection     string
	QueueSize      int
	Workers        int
}

// New starts a Sink writing to cfg.Database/cfg.Collection via client. A
// zero QueueSize/Workers defaults to 10000/4, matching the audit logger's
// own defaults.
func New(client *mongo.Client, cfg Config, logger *zap.Logger) *Sink {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 10000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sink{
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		queue:      make(chan eventDocument, cfg.QueueSize),
		logger:     logger.With(zap.String("component", "mongo_event_sink")),
		closed:     make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// EnsureIndexes creates the indexes a durable event log is queried by:
// conversation_id and timestamp. Call once at startup.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	return err
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for doc := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.collection.InsertOne(ctx, doc)
		cancel()
		if err != nil {
			s.logger.Warn("failed to write router event",
				zap.String("conversation_id", doc.ConversationID),
				zap.String("kind", doc.Kind),
				zap.Error(err),
			)
		}
	}
}

// Log implements relay/external.EventSink. It never blocks: if the queue
// is full the event is dropped and a warning logged.
func (s *Sink) Log(ctx context.Context, event external.RouterEvent) {
	doc := eventDocument{
		ConversationID: event.ConversationID,
		MessageID:      event.MessageID,
		Kind:           string(event.Kind),
		ProviderID:     event.ProviderID,
		AttemptNumber:  event.AttemptNumber,
		LatencyMs:      event.LatencyMs,
		ErrorKind:      event.ErrorKind,
		ErrorMessage:   event.ErrorMessage,
		Timestamp:      event.Timestamp,
	}

	select {
	case s.queue <- doc:
	default:
		s.logger.Warn("event queue full, dropping router event",
			zap.String("conversation_id", doc.ConversationID),
			zap.String("kind", doc.Kind),
		)
	}
}

// Close stops accepting new writes and waits for queued events to flush.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
		close(s.closed)
	})
}
