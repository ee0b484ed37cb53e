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

type DeviceStore struct {
	devices *mongo.Collection
}

func NewDeviceStore(ctx context.Context, db *MongoDB) (*DeviceStore, error) {
	devices := db.Collection("devices")

	if _, err := devices.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "delivery", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("create devices indexes: %w", err)
	}

	return &DeviceStore{devices: devices}, nil
}

func (s *DeviceStore) CreateDevice(ctx context.Context, d *model.BiometricDevice) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	res, err := s.devices.InsertOne(ctx, d)
	if err != nil {
		return fmt.Errorf("insert device: %w", mapWriteErr(err))
	}
	d.ID = res.InsertedID.(bson.ObjectID)
	return nil
}

// UpdateDevice replaces the administrator-editable part of a device.
// Watermark, status and failure counters are left alone; those have their
// own writers.
func (s *DeviceStore) UpdateDevice(ctx context.Context, d *model.BiometricDevice) error {
	d.UpdatedAt = time.Now()
	res, err := s.devices.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
		"name":            d.Name,
		"delivery":        d.Delivery,
		"identity":        d.Identity,
		"address":         d.Address,
		"credential":      d.Credential,
		"credential_hash": d.CredentialHash,
		"timezone":        d.Timezone,
		"updated_at":      d.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("update device: %w", mapWriteErr(err))
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DeviceStore) DeleteDevice(ctx context.Context, id bson.ObjectID) error {
	res, err := s.devices.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDevice returns the device or nil if not found.
func (s *DeviceStore) GetDevice(ctx context.Context, id bson.ObjectID) (*model.BiometricDevice, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetDeviceByIdentity returns the device with the given serial/callback identity, or nil.
func (s *DeviceStore) GetDeviceByIdentity(ctx context.Context, identity string) (*model.BiometricDevice, error) {
	return s.findOne(ctx, bson.M{"identity": identity})
}

func (s *DeviceStore) findOne(ctx context.Context, filter bson.M) (*model.BiometricDevice, error) {
	var d model.BiometricDevice
	err := s.devices.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	return &d, nil
}

// ListDevices returns devices, optionally filtered by delivery model and status.
func (s *DeviceStore) ListDevices(ctx context.Context, delivery model.DeliveryModel, status model.DeviceStatus) ([]*model.BiometricDevice, error) {
	filter := bson.M{}
	if delivery != "" {
		filter["delivery"] = delivery
	}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := s.devices.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}
	var results []*model.BiometricDevice
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return results, nil
}

// MarkSynced advances the watermark, marks the device active and clears
// the failure counter.
func (s *DeviceStore) MarkSynced(ctx context.Context, id bson.ObjectID, at time.Time) error {
	return s.set(ctx, id, bson.M{
		"last_sync_at":         at,
		"status":               model.DeviceStatusActive,
		"consecutive_failures": 0,
		"updated_at":           time.Now(),
	})
}

// RecordSyncFailure bumps the consecutive failure counter and returns the
// new value.
func (s *DeviceStore) RecordSyncFailure(ctx context.Context, id bson.ObjectID) (int, error) {
	var d model.BiometricDevice
	err := s.devices.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"consecutive_failures": 1}, "$set": bson.M{"updated_at": time.Now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record sync failure: %w", err)
	}
	return d.ConsecutiveFailures, nil
}

func (s *DeviceStore) SetDeviceStatus(ctx context.Context, id bson.ObjectID, status model.DeviceStatus) error {
	return s.set(ctx, id, bson.M{"status": status, "updated_at": time.Now()})
}

// SetProbeResult records a reachability probe outcome.
func (s *DeviceStore) SetProbeResult(ctx context.Context, id bson.ObjectID, status model.DeviceStatus, at time.Time) error {
	return s.set(ctx, id, bson.M{"status": status, "last_probe_at": at, "updated_at": time.Now()})
}

func (s *DeviceStore) set(ctx context.Context, id bson.ObjectID, fields bson.M) error {
	res, err := s.devices.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
