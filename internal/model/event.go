package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type PunchType string

const (
	PunchIn  PunchType = "in"
	PunchOut PunchType = "out"
)

// VerifyMode is how the device verified the person.
type VerifyMode string

const (
	VerifyPassword    VerifyMode = "password"
	VerifyFingerprint VerifyMode = "fingerprint"
	VerifyCard        VerifyMode = "card"
	VerifyFace        VerifyMode = "face"
	VerifyPalm        VerifyMode = "palm"
	VerifyManual      VerifyMode = "manual"
)

type EventSource string

const (
	EventSourcePush EventSource = "push"
	EventSourcePull EventSource = "pull"
)

// EventStatus is the outcome of feeding a device event through the pipeline.
type EventStatus string

const (
	EventStatusApplied    EventStatus = "applied"
	EventStatusRejected   EventStatus = "rejected"
	EventStatusUnresolved EventStatus = "unresolved"
	EventStatusMalformed  EventStatus = "malformed"
	EventStatusFailed     EventStatus = "failed"
)

// RawAttendanceEvent is an append-only log entry for one biometric capture.
// PersonID and DeviceID are plain references: removing a person or device
// leaves the log untouched.
type RawAttendanceEvent struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	PersonID     string        `bson:"person_id,omitempty" json:"person_id,omitempty"`
	DeviceID     bson.ObjectID `bson:"device_id" json:"device_id"`
	Timestamp    time.Time     `bson:"timestamp" json:"timestamp"`
	PunchType    PunchType     `bson:"punch_type,omitempty" json:"punch_type,omitempty"`
	VerifyMode   VerifyMode    `bson:"verify_mode,omitempty" json:"verify_mode,omitempty"`
	EmployeeCode string        `bson:"employee_code,omitempty" json:"employee_code,omitempty"`
	ReportedName string        `bson:"reported_name,omitempty" json:"reported_name,omitempty"`
	Source       EventSource   `bson:"source" json:"source"`
	Status       EventStatus   `bson:"status" json:"status"`
	Reason       string        `bson:"reason,omitempty" json:"reason,omitempty"`
	ResolvedBy   string        `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	Candidates   []string      `bson:"candidates,omitempty" json:"candidates,omitempty"`
	Raw          []byte        `bson:"raw" json:"-"`
	ReceivedAt   time.Time     `bson:"received_at" json:"received_at"`
}

// Classified reports whether the event carries a punch type the classifier
// may use as history.
func (e *RawAttendanceEvent) Classified() bool {
	return e.PunchType != "" && (e.Status == EventStatusApplied || e.Status == EventStatusRejected)
}
