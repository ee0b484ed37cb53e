package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
	"academy-attendance/internal/store/memstore"
)

func TestDeviceService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewDeviceService(memstore.New(), "", 3, discardLogger())

	tests := []struct {
		name string
		in   DeviceInput
	}{
		{"missing name", DeviceInput{Identity: "SN-1", Delivery: model.DeliveryPush}},
		{"missing identity", DeviceInput{Name: "Front door", Delivery: model.DeliveryPush}},
		{"bad delivery", DeviceInput{Name: "Front door", Identity: "SN-1", Delivery: "carrier-pigeon"}},
		{"pull without address", DeviceInput{Name: "Front door", Identity: "SN-1", Delivery: model.DeliveryPull}},
		{"bad timezone", DeviceInput{Name: "Front door", Identity: "SN-1", Delivery: model.DeliveryPush, Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			assert.ErrorIs(t, err, ErrInvalidDevice)
		})
	}
}

func TestDeviceService_RegisterAndUpdate(t *testing.T) {
	ctx := context.Background()
	svc := NewDeviceService(memstore.New(), "", 3, discardLogger())

	d, err := svc.Register(ctx, DeviceInput{Name: "Lobby", Identity: "SN-1", Delivery: model.DeliveryPush, Credential: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStatusActive, d.Status)
	assert.Empty(t, d.Credential)
	assert.NotEqual(t, "s3cret", d.CredentialHash)
	assert.True(t, d.HasCredential())

	_, err = svc.Register(ctx, DeviceInput{Name: "Dup", Identity: "SN-1", Delivery: model.DeliveryPush})
	assert.ErrorIs(t, err, ErrDeviceExists)

	updated, err := svc.Update(ctx, d.ID, DeviceInput{Name: "Lobby", Identity: "SN-1", Delivery: model.DeliveryPull, Address: "http://10.0.0.5", Credential: "token"})
	require.NoError(t, err)
	assert.Equal(t, "token", updated.Credential)
	assert.False(t, updated.HasCredential())

	pulls, err := svc.List(ctx, model.DeliveryPull, "")
	require.NoError(t, err)
	assert.Len(t, pulls, 1)

	require.NoError(t, svc.Delete(ctx, d.ID))
	_, err = svc.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, d.ID), ErrDeviceNotFound)
}

func TestDeviceService_Authenticate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewDeviceService(st, "shared", 3, discardLogger())

	own, err := svc.Register(ctx, DeviceInput{Name: "Lobby", Identity: "SN-1", Delivery: model.DeliveryPush, Credential: "own-token"})
	require.NoError(t, err)

	t.Run("own credential", func(t *testing.T) {
		d, err := svc.Authenticate(ctx, "SN-1", "own-token")
		require.NoError(t, err)
		assert.Equal(t, own.ID, d.ID)
	})

	t.Run("shared secret rejected for device with credential", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "SN-1", "shared")
		assert.ErrorIs(t, err, ErrDeviceUnauthorized)
	})

	t.Run("unknown device auto-registered", func(t *testing.T) {
		d, err := svc.Authenticate(ctx, "SN-NEW", "shared")
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryPush, d.Delivery)
		assert.Equal(t, model.DeviceStatusActive, d.Status)

		again, err := svc.Authenticate(ctx, "SN-NEW", "shared")
		require.NoError(t, err)
		assert.Equal(t, d.ID, again.ID)
	})

	t.Run("unknown device wrong secret", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "SN-X", "guess")
		assert.ErrorIs(t, err, ErrDeviceUnauthorized)
		d, err := st.GetDeviceByIdentity(ctx, "SN-X")
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("missing identity", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "  ", "shared")
		assert.ErrorIs(t, err, ErrDeviceUnauthorized)
	})

	t.Run("pull device refused", func(t *testing.T) {
		_, err := svc.Register(ctx, DeviceInput{Name: "Gate", Identity: "GATE-1", Delivery: model.DeliveryPull, Address: "http://gate"})
		require.NoError(t, err)
		_, err = svc.Authenticate(ctx, "GATE-1", "shared")
		assert.ErrorIs(t, err, ErrDeviceUnauthorized)
	})

	t.Run("secret prefix rejected", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "SN-Y", "shar")
		assert.ErrorIs(t, err, ErrDeviceUnauthorized)
	})
}

func TestDeviceService_AuthenticateWithoutSecret(t *testing.T) {
	svc := NewDeviceService(memstore.New(), "", 3, discardLogger())
	_, err := svc.Authenticate(context.Background(), "SN-1", "")
	assert.ErrorIs(t, err, ErrDeviceUnauthorized)
}

func TestDeviceService_FailureThreshold(t *testing.T) {
	ctx := context.Background()
	svc := NewDeviceService(memstore.New(), "", 2, discardLogger())
	d, err := svc.Register(ctx, DeviceInput{Name: "Gate", Identity: "SN-2", Delivery: model.DeliveryPull, Address: "http://gate"})
	require.NoError(t, err)

	require.NoError(t, svc.RecordSyncFailure(ctx, d.ID))
	got, _ := svc.Get(ctx, d.ID)
	assert.Equal(t, model.DeviceStatusActive, got.Status)

	require.NoError(t, svc.RecordSyncFailure(ctx, d.ID))
	got, _ = svc.Get(ctx, d.ID)
	assert.Equal(t, model.DeviceStatusInactive, got.Status)
	assert.Equal(t, 2, got.ConsecutiveFailures)

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, svc.MarkSynced(ctx, d.ID, now))
	got, _ = svc.Get(ctx, d.ID)
	assert.Equal(t, model.DeviceStatusActive, got.Status)
	assert.Zero(t, got.ConsecutiveFailures)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, now.Equal(*got.LastSyncAt))

	require.NoError(t, svc.SetProbeResult(ctx, d.ID, false, now))
	got, _ = svc.Get(ctx, d.ID)
	assert.Equal(t, model.DeviceStatusInactive, got.Status)
	require.NotNil(t, got.LastProbeAt)
}
