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

type AttendanceStore struct {
	attendance *mongo.Collection
}

func NewAttendanceStore(ctx context.Context, db *MongoDB) (*AttendanceStore, error) {
	attendance := db.Collection("attendance")

	if _, err := attendance.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "person_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create attendance indexes: %w", err)
	}

	return &AttendanceStore{attendance: attendance}, nil
}

// GetRecord returns the person's record for a day, or nil if not found.
func (s *AttendanceStore) GetRecord(ctx context.Context, personID, date string) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	err := s.attendance.FindOne(ctx, bson.M{
		"person_id": personID,
		"date":      date,
	}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &record, nil
}

// CreateRecord inserts a new record and sets the ID on the struct. A second
// record for the same (person, date) fails with ErrDuplicate.
func (s *AttendanceStore) CreateRecord(ctx context.Context, record *model.AttendanceRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Version = 1
	res, err := s.attendance.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("insert attendance: %w", mapWriteErr(err))
	}
	record.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// UpdateRecord replaces the record if nobody else changed it since it was
// read. The version is bumped on success; a mismatch yields ErrStale.
func (s *AttendanceStore) UpdateRecord(ctx context.Context, record *model.AttendanceRecord) error {
	prev := record.Version
	record.Version++
	record.UpdatedAt = time.Now()
	res, err := s.attendance.ReplaceOne(ctx, bson.M{"_id": record.ID, "version": prev}, record)
	if err != nil {
		record.Version = prev
		return fmt.Errorf("replace attendance: %w", err)
	}
	if res.MatchedCount == 0 {
		record.Version = prev
		return ErrStale
	}
	return nil
}

// ListRecords returns a person's records within [from, to] (inclusive day keys), oldest first.
func (s *AttendanceStore) ListRecords(ctx context.Context, personID, from, to string) ([]*model.AttendanceRecord, error) {
	filter := bson.M{
		"person_id": personID,
		"date":      bson.M{"$gte": from, "$lte": to},
	}
	cursor, err := s.attendance.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	var results []*model.AttendanceRecord
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode attendance: %w", err)
	}
	return results, nil
}
