package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type AttendanceStatus string

const (
	AttendanceStatusNotPunchedIn AttendanceStatus = "not_punched_in"
	AttendanceStatusWorking      AttendanceStatus = "punched_in"
	AttendanceStatusBreak        AttendanceStatus = "on_break"
	AttendanceStatusCompleted    AttendanceStatus = "punched_out"
)

// DayOf returns the attendance day key (YYYY-MM-DD) for t. Days are
// bounded at UTC midnight.
func DayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// GeoPoint is a reported capture location.
type GeoPoint struct {
	Latitude  float64  `bson:"lat" json:"latitude"`
	Longitude float64  `bson:"lng" json:"longitude"`
	Accuracy  *float64 `bson:"accuracy,omitempty" json:"accuracy,omitempty"`
}

// Capture is the optional evidence attached to a punch. Photos are stored
// elsewhere; only the returned reference is kept here.
type Capture struct {
	PhotoRef     string         `bson:"photo_ref,omitempty" json:"photo_ref,omitempty"`
	Verification string         `bson:"verification,omitempty" json:"verification,omitempty"`
	VerifyMode   VerifyMode     `bson:"verify_mode,omitempty" json:"verify_mode,omitempty"`
	DeviceID     *bson.ObjectID `bson:"device_id,omitempty" json:"device_id,omitempty"`
	Location     *GeoPoint      `bson:"location,omitempty" json:"location,omitempty"`
}

// BreakInterval represents a single break period with a reason.
type BreakInterval struct {
	Start  time.Time  `bson:"start" json:"start"`
	End    *time.Time `bson:"end,omitempty" json:"end,omitempty"`
	Reason string     `bson:"reason,omitempty" json:"reason,omitempty"`
}

// Open reports whether the break has not ended yet.
func (b BreakInterval) Open() bool { return b.End == nil }

type AttendanceRecord struct {
	ID              bson.ObjectID    `bson:"_id,omitempty" json:"id"`
	PersonID        string           `bson:"person_id" json:"person_id"`
	Date            string           `bson:"date" json:"date"` // YYYY-MM-DD, UTC
	PunchInAt       *time.Time       `bson:"punch_in_at,omitempty" json:"punch_in_at"`
	PunchInCapture  *Capture         `bson:"punch_in_capture,omitempty" json:"punch_in_capture,omitempty"`
	PunchOutAt      *time.Time       `bson:"punch_out_at,omitempty" json:"punch_out_at"`
	PunchOutCapture *Capture         `bson:"punch_out_capture,omitempty" json:"punch_out_capture,omitempty"`
	Breaks          []BreakInterval  `bson:"breaks" json:"breaks"`
	EffectiveHours  *float64         `bson:"effective_hours,omitempty" json:"effective_hours"`
	HoursAnomaly    bool             `bson:"hours_anomaly,omitempty" json:"hours_anomaly,omitempty"`
	Status          AttendanceStatus `bson:"status" json:"status"`
	Version         int64            `bson:"version" json:"-"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
}

// OpenBreak returns the unterminated break, if any.
func (r *AttendanceRecord) OpenBreak() *BreakInterval {
	for i := len(r.Breaks) - 1; i >= 0; i-- {
		if r.Breaks[i].Open() {
			return &r.Breaks[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (r *AttendanceRecord) Clone() *AttendanceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PunchInAt = cloneTime(r.PunchInAt)
	c.PunchOutAt = cloneTime(r.PunchOutAt)
	c.PunchInCapture = r.PunchInCapture.clone()
	c.PunchOutCapture = r.PunchOutCapture.clone()
	if r.EffectiveHours != nil {
		h := *r.EffectiveHours
		c.EffectiveHours = &h
	}
	c.Breaks = make([]BreakInterval, len(r.Breaks))
	for i, b := range r.Breaks {
		c.Breaks[i] = BreakInterval{Start: b.Start, End: cloneTime(b.End), Reason: b.Reason}
	}
	return &c
}

func (c *Capture) clone() *Capture {
	if c == nil {
		return nil
	}
	out := *c
	if c.DeviceID != nil {
		id := *c.DeviceID
		out.DeviceID = &id
	}
	if c.Location != nil {
		loc := *c.Location
		if c.Location.Accuracy != nil {
			acc := *c.Location.Accuracy
			loc.Accuracy = &acc
		}
		out.Location = &loc
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
