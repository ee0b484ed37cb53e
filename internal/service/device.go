package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"

	"academy-attendance/internal/model"
	"academy-attendance/internal/store"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceUnauthorized = errors.New("device credential rejected")
	ErrDeviceExists       = errors.New("device identity already registered")
	ErrInvalidDevice      = errors.New("invalid device")
)

type DeviceStore interface {
	CreateDevice(ctx context.Context, d *model.BiometricDevice) error
	UpdateDevice(ctx context.Context, d *model.BiometricDevice) error
	DeleteDevice(ctx context.Context, id bson.ObjectID) error
	GetDevice(ctx context.Context, id bson.ObjectID) (*model.BiometricDevice, error)
	GetDeviceByIdentity(ctx context.Context, identity string) (*model.BiometricDevice, error)
	ListDevices(ctx context.Context, delivery model.DeliveryModel, status model.DeviceStatus) ([]*model.BiometricDevice, error)
	MarkSynced(ctx context.Context, id bson.ObjectID, at time.Time) error
	RecordSyncFailure(ctx context.Context, id bson.ObjectID) (int, error)
	SetDeviceStatus(ctx context.Context, id bson.ObjectID, status model.DeviceStatus) error
	SetProbeResult(ctx context.Context, id bson.ObjectID, status model.DeviceStatus, at time.Time) error
}

// DeviceService is the biometric device registry.
type DeviceService struct {
	store            DeviceStore
	webhookSecret    string
	failureThreshold int
	logger           *slog.Logger
}

func NewDeviceService(store DeviceStore, webhookSecret string, failureThreshold int, logger *slog.Logger) *DeviceService {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &DeviceService{store: store, webhookSecret: webhookSecret, failureThreshold: failureThreshold, logger: logger}
}

// DeviceInput is the administrator-supplied part of a device.
type DeviceInput struct {
	Name       string              `json:"name"`
	Delivery   model.DeliveryModel `json:"delivery"`
	Identity   string              `json:"identity"`
	Address    string              `json:"address"`
	Credential string              `json:"credential"`
	Timezone   string              `json:"timezone"`
}

func (in DeviceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if strings.TrimSpace(in.Identity) == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidDevice)
	}
	switch in.Delivery {
	case model.DeliveryPush:
	case model.DeliveryPull:
		if in.Address == "" {
			return fmt.Errorf("%w: pull devices need an address", ErrInvalidDevice)
		}
	default:
		return fmt.Errorf("%w: delivery must be push or pull", ErrInvalidDevice)
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return fmt.Errorf("%w: timezone: %v", ErrInvalidDevice, err)
		}
	}
	return nil
}

// apply copies the input onto d. Push credentials are kept only as a bcrypt
// hash; pull credentials must be presented to the device and stay readable.
func (in DeviceInput) apply(d *model.BiometricDevice) error {
	d.Name = strings.TrimSpace(in.Name)
	d.Delivery = in.Delivery
	d.Identity = strings.TrimSpace(in.Identity)
	d.Address = in.Address
	d.Timezone = in.Timezone
	d.Credential = ""
	d.CredentialHash = ""
	if in.Credential == "" {
		return nil
	}
	if in.Delivery == model.DeliveryPull {
		d.Credential = in.Credential
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Credential), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	d.CredentialHash = string(hash)
	return nil
}

func (s *DeviceService) Register(ctx context.Context, in DeviceInput) (*model.BiometricDevice, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	d := &model.BiometricDevice{Status: model.DeviceStatusActive}
	if err := in.apply(d); err != nil {
		return nil, err
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDeviceExists
		}
		return nil, fmt.Errorf("create device: %w", err)
	}
	s.logger.Info("device registered", "device_id", d.ID.Hex(), "identity", d.Identity, "delivery", d.Delivery)
	return d, nil
}

func (s *DeviceService) Update(ctx context.Context, id bson.ObjectID, in DeviceInput) (*model.BiometricDevice, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(d); err != nil {
		return nil, err
	}
	if err := s.store.UpdateDevice(ctx, d); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrDeviceNotFound
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrDeviceExists
		}
		return nil, fmt.Errorf("update device: %w", err)
	}
	return d, nil
}

// Delete removes the device. Its events stay in the log.
func (s *DeviceService) Delete(ctx context.Context, id bson.ObjectID) error {
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("delete device: %w", err)
	}
	s.logger.Info("device deleted", "device_id", id.Hex())
	return nil
}

func (s *DeviceService) Get(ctx context.Context, id bson.ObjectID) (*model.BiometricDevice, error) {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if d == nil {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}

func (s *DeviceService) List(ctx context.Context, delivery model.DeliveryModel, status model.DeviceStatus) ([]*model.BiometricDevice, error) {
	return s.store.ListDevices(ctx, delivery, status)
}

// Authenticate checks the token a pushing device presents. A registered
// device with its own credential must present it; every other device must
// present the shared webhook secret. Pull devices are refused: a push must
// not move their watermark. Unknown devices that pass are registered as
// active push devices.
func (s *DeviceService) Authenticate(ctx context.Context, identity, token string) (*model.BiometricDevice, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: missing device identity", ErrDeviceUnauthorized)
	}
	d, err := s.store.GetDeviceByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	switch {
	case d != nil && d.HasCredential():
		if bcrypt.CompareHashAndPassword([]byte(d.CredentialHash), []byte(token)) != nil {
			return nil, ErrDeviceUnauthorized
		}
	case s.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookSecret)) != 1:
		return nil, ErrDeviceUnauthorized
	}
	if d != nil && d.Delivery != model.DeliveryPush {
		return nil, fmt.Errorf("%w: %s is a pull device", ErrDeviceUnauthorized, d.Identity)
	}

	if d != nil {
		return d, nil
	}
	return s.ensurePushDevice(ctx, identity)
}

func (s *DeviceService) ensurePushDevice(ctx context.Context, identity string) (*model.BiometricDevice, error) {
	d := &model.BiometricDevice{
		Name:     identity,
		Delivery: model.DeliveryPush,
		Identity: identity,
		Status:   model.DeviceStatusActive,
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Registered concurrently by another push.
			existing, err := s.store.GetDeviceByIdentity(ctx, identity)
			if err != nil {
				return nil, fmt.Errorf("get device: %w", err)
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("auto-register device: %w", err)
	}
	s.logger.Info("push device auto-registered", "device_id", d.ID.Hex(), "identity", identity)
	return d, nil
}

// MarkSynced advances the device watermark and marks it active.
func (s *DeviceService) MarkSynced(ctx context.Context, id bson.ObjectID, at time.Time) error {
	return s.store.MarkSynced(ctx, id, at)
}

// RecordSyncFailure counts a failed sync and deactivates the device once
// the consecutive failure threshold is reached.
func (s *DeviceService) RecordSyncFailure(ctx context.Context, id bson.ObjectID) error {
	n, err := s.store.RecordSyncFailure(ctx, id)
	if err != nil {
		return err
	}
	if n >= s.failureThreshold {
		s.logger.Warn("device deactivated after repeated sync failures", "device_id", id.Hex(), "failures", n)
		return s.store.SetDeviceStatus(ctx, id, model.DeviceStatusInactive)
	}
	return nil
}

// SetProbeResult flips the device active or inactive after a reachability test.
func (s *DeviceService) SetProbeResult(ctx context.Context, id bson.ObjectID, reachable bool, at time.Time) error {
	status := model.DeviceStatusInactive
	if reachable {
		status = model.DeviceStatusActive
	}
	return s.store.SetProbeResult(ctx, id, status, at)
}
