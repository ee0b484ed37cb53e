package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"academy-attendance/internal/model"
)

// EventStore is the append-only device event log. There is no update or
// delete.
type EventStore struct {
	events *mongo.Collection
}

func NewEventStore(ctx context.Context, db *MongoDB) (*EventStore, error) {
	events := db.Collection("attendance_events")

	if _, err := events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "person_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "device_id", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create attendance_events indexes: %w", err)
	}

	return &EventStore{events: events}, nil
}

func (s *EventStore) AppendEvent(ctx context.Context, ev *model.RawAttendanceEvent) error {
	res, err := s.events.InsertOne(ctx, ev)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	ev.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// LatestClassifiedBefore returns the person's most recent classified event
// strictly earlier than before, or nil.
func (s *EventStore) LatestClassifiedBefore(ctx context.Context, personID string, before time.Time) (*model.RawAttendanceEvent, error) {
	filter := bson.M{
		"person_id":  personID,
		"timestamp":  bson.M{"$lt": before},
		"punch_type": bson.M{"$in": bson.A{model.PunchIn, model.PunchOut}},
		"status":     bson.M{"$in": bson.A{model.EventStatusApplied, model.EventStatusRejected}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	var ev model.RawAttendanceEvent
	err := s.events.FindOne(ctx, filter, opts).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest event: %w", err)
	}
	return &ev, nil
}

// ListUnresolved returns quarantined events (unresolved, malformed or failed), newest first.
func (s *EventStore) ListUnresolved(ctx context.Context, limit int) ([]*model.RawAttendanceEvent, error) {
	filter := bson.M{"status": bson.M{"$in": bson.A{model.EventStatusUnresolved, model.EventStatusMalformed, model.EventStatusFailed}}}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find unresolved events: %w", err)
	}
	var results []*model.RawAttendanceEvent
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return results, nil
}
