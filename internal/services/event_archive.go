package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"tradegpt-backend/internal/models"
)

const archiveWriteTimeout = 5 * time.Second

// EventArchive journals every published event into MongoDB. It is an audit
// trail only; the ledger is never rebuilt from it.
type EventArchive struct {
	collection *mongo.Collection
	queue      chan bson.M
	done       chan struct{}
	logger     *zap.Logger
	now        func() time.Time
}

func NewEventArchive(collection *mongo.Collection, logger *zap.Logger) *EventArchive {
	return &EventArchive{
		collection: collection,
		queue:      make(chan bson.M, 512),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

// Run drains the queue until ctx is cancelled.
func (a *EventArchive) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case doc := <-a.queue:
			writeCtx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
			if _, err := a.collection.InsertOne(writeCtx, doc); err != nil {
				a.logger.Warn("archive event", zap.Any("type", doc["type"]), zap.Error(err))
			}
			cancel()
		}
	}
}

// Wait blocks until Run has returned.
func (a *EventArchive) Wait() { <-a.done }

func (a *EventArchive) Notify(event models.Event) {
	select {
	case a.queue <- archiveDocument(event, a.now()):
	default:
		a.logger.Warn("archive queue full, event dropped", zap.String("type", string(event.Type)))
	}
}

func archiveDocument(event models.Event, at time.Time) bson.M {
	doc := bson.M{
		"type":        string(event.Type),
		"payload":     event.Payload,
		"recorded_at": at,
	}
	switch p := event.Payload.(type) {
	case models.Trade:
		doc["trade_id"] = p.ID
		doc["user_id"] = p.UserID
		doc["status"] = string(p.Status)
	case models.StopLossTrigger:
		doc["trade_id"] = p.ID
		doc["user_id"] = p.UserID
		doc["status"] = string(p.Status)
		doc["triggered_at_price"] = p.TriggeredAtPrice
	}
	return doc
}
