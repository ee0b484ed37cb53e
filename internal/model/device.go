package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DeliveryModel is how a device hands its events to the server.
type DeliveryModel string

const (
	DeliveryPush DeliveryModel = "push"
	DeliveryPull DeliveryModel = "pull"
)

type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
)

type BiometricDevice struct {
	ID                  bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                string        `bson:"name" json:"name"`
	Delivery            DeliveryModel `bson:"delivery" json:"delivery"`
	Identity            string        `bson:"identity" json:"identity"` // serial number or callback identity
	Address             string        `bson:"address,omitempty" json:"address,omitempty"`
	Credential          string        `bson:"credential,omitempty" json:"-"`      // presented to pull devices
	CredentialHash      string        `bson:"credential_hash,omitempty" json:"-"` // bcrypt, checked on push
	Timezone            string        `bson:"timezone,omitempty" json:"timezone,omitempty"`
	Status              DeviceStatus  `bson:"status" json:"status"`
	LastSyncAt          *time.Time    `bson:"last_sync_at,omitempty" json:"last_sync_at"`
	LastProbeAt         *time.Time    `bson:"last_probe_at,omitempty" json:"last_probe_at,omitempty"`
	ConsecutiveFailures int           `bson:"consecutive_failures" json:"consecutive_failures"`
	CreatedAt           time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `bson:"updated_at" json:"updated_at"`
}

// HasCredential reports whether the device was registered with a push secret.
func (d *BiometricDevice) HasCredential() bool { return d.CredentialHash != "" }
