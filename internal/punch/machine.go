// Package punch holds the daily attendance state machine:
//
//	not_punched_in -> punched_in -> [on_break -> punched_in]* -> punched_out
//
// Every transition takes the as-of timestamp explicitly. Nothing in this
// package reads the clock, so the day boundary and all durations are
// deterministic for a given input.
package punch

import (
	"time"

	"academy-attendance/internal/model"
)

// StateOf derives the state of a record. A nil record has not punched in.
func StateOf(r *model.AttendanceRecord) model.AttendanceStatus {
	switch {
	case r == nil || r.PunchInAt == nil:
		return model.AttendanceStatusNotPunchedIn
	case r.PunchOutAt != nil:
		return model.AttendanceStatusCompleted
	case r.OpenBreak() != nil:
		return model.AttendanceStatusBreak
	default:
		return model.AttendanceStatusWorking
	}
}

// NewRecord returns an empty record for the person on the day containing at.
func NewRecord(personID string, at time.Time) *model.AttendanceRecord {
	return &model.AttendanceRecord{
		PersonID: personID,
		Date:     model.DayOf(at),
		Breaks:   []model.BreakInterval{},
		Status:   model.AttendanceStatusNotPunchedIn,
	}
}

// PunchIn starts the attendance session.
func PunchIn(r *model.AttendanceRecord, at time.Time, capture *model.Capture) error {
	if StateOf(r) != model.AttendanceStatusNotPunchedIn {
		return ErrAlreadyPunchedIn
	}
	at = at.UTC()
	r.PunchInAt = &at
	r.PunchInCapture = capture
	r.Status = StateOf(r)
	return nil
}

// PunchOut closes the session and fixes the effective working hours. An
// open break must be ended first.
func PunchOut(r *model.AttendanceRecord, at time.Time, capture *model.Capture) error {
	switch StateOf(r) {
	case model.AttendanceStatusNotPunchedIn:
		return ErrNotPunchedInYet
	case model.AttendanceStatusCompleted:
		return ErrAlreadyPunchedOut
	case model.AttendanceStatusBreak:
		return ErrBreakStillOpen
	}
	at = at.UTC()
	if at.Before(lastMark(r)) {
		return ErrTimeOutOfOrder
	}

	hours, anomaly := EffectiveHours(*r.PunchInAt, at, r.Breaks)
	r.PunchOutAt = &at
	r.PunchOutCapture = capture
	r.EffectiveHours = &hours
	r.HoursAnomaly = anomaly
	r.Status = StateOf(r)
	return nil
}

// BreakIn opens a new break interval.
func BreakIn(r *model.AttendanceRecord, at time.Time, reason string) error {
	switch StateOf(r) {
	case model.AttendanceStatusNotPunchedIn:
		return ErrNotPunchedInYet
	case model.AttendanceStatusCompleted:
		return ErrAlreadyPunchedOut
	case model.AttendanceStatusBreak:
		return ErrAlreadyOnBreak
	}
	at = at.UTC()
	if at.Before(lastMark(r)) {
		return ErrTimeOutOfOrder
	}

	r.Breaks = append(r.Breaks, model.BreakInterval{Start: at, Reason: reason})
	r.Status = StateOf(r)
	return nil
}

// BreakOut closes the open break.
func BreakOut(r *model.AttendanceRecord, at time.Time) error {
	if r == nil || r.PunchInAt == nil {
		return ErrNoActiveBreak
	}
	open := r.OpenBreak()
	if open == nil {
		return ErrNoActiveBreak
	}
	at = at.UTC()
	if at.Before(open.Start) {
		return ErrTimeOutOfOrder
	}

	open.End = &at
	r.Status = StateOf(r)
	return nil
}

// lastMark is the latest timestamp already on the record. New transitions
// may not precede it, which keeps breaks ordered and non-overlapping.
func lastMark(r *model.AttendanceRecord) time.Time {
	mark := *r.PunchInAt
	for _, b := range r.Breaks {
		if b.Start.After(mark) {
			mark = b.Start
		}
		if b.End != nil && b.End.After(mark) {
			mark = *b.End
		}
	}
	return mark
}
