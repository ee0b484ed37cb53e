package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"academy-attendance/internal/model"
	"academy-attendance/internal/punch"
	"academy-attendance/internal/store"
)

// RecordStore persists one attendance record per (person, date).
type RecordStore interface {
	GetRecord(ctx context.Context, personID, date string) (*model.AttendanceRecord, error)
	CreateRecord(ctx context.Context, record *model.AttendanceRecord) error
	UpdateRecord(ctx context.Context, record *model.AttendanceRecord) error
	ListRecords(ctx context.Context, personID, from, to string) ([]*model.AttendanceRecord, error)
}

// AttendanceService applies punch transitions. Calls for the same person
// and day are serialised; different keys run in parallel.
type AttendanceService struct {
	store  RecordStore
	locks  *KeyedMutex
	logger *slog.Logger
}

func NewAttendanceService(store RecordStore, logger *slog.Logger) *AttendanceService {
	return &AttendanceService{store: store, locks: NewKeyedMutex(), logger: logger}
}

// RecordView is a record plus the fields derived at read time.
type RecordView struct {
	*model.AttendanceRecord
	State        model.AttendanceStatus `json:"state"`
	WorkedHours  float64                `json:"worked_hours"`
	BreakMinutes float64                `json:"break_minutes"`
}

// View derives the read-time fields of r as of now. A nil record yields the
// not-punched-in view.
func View(r *model.AttendanceRecord, now time.Time) *RecordView {
	v := &RecordView{AttendanceRecord: r, State: punch.StateOf(r)}
	if r == nil {
		return v
	}
	end := now
	if r.PunchOutAt != nil {
		end = *r.PunchOutAt
	}
	v.WorkedHours = punch.WorkedSoFar(r, now)
	v.BreakMinutes = float64(punch.BreakTotal(r.Breaks, end).Round(time.Second)) / float64(time.Minute)
	return v
}

func (s *AttendanceService) PunchIn(ctx context.Context, personID string, at time.Time, capture *model.Capture) (*model.AttendanceRecord, error) {
	date := model.DayOf(at)
	unlock := s.locks.Lock(personID + "|" + date)
	defer unlock()

	record, err := s.store.GetRecord(ctx, personID, date)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if record != nil {
		return record, punch.ErrAlreadyPunchedIn
	}

	record = punch.NewRecord(personID, at)
	if err := punch.PunchIn(record, at, capture); err != nil {
		return nil, err
	}
	if err := s.store.CreateRecord(ctx, record); err != nil {
		// Another process won the insert race.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, punch.ErrAlreadyPunchedIn
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.logger.Info("punched in", "person_id", personID, "date", date, "at", at)
	return record, nil
}

func (s *AttendanceService) PunchOut(ctx context.Context, personID string, at time.Time, capture *model.Capture) (*model.AttendanceRecord, error) {
	record, err := s.mutate(ctx, personID, at, func(r *model.AttendanceRecord) error {
		return punch.PunchOut(r, at, capture)
	})
	if err != nil {
		return record, err
	}
	if record.HoursAnomaly {
		s.logger.Warn("break time exceeds elapsed time", "person_id", personID, "date", record.Date)
	}
	s.logger.Info("punched out", "person_id", personID, "date", record.Date, "hours", *record.EffectiveHours)
	return record, nil
}

func (s *AttendanceService) BreakIn(ctx context.Context, personID string, at time.Time, reason string) (*model.AttendanceRecord, error) {
	return s.mutate(ctx, personID, at, func(r *model.AttendanceRecord) error {
		return punch.BreakIn(r, at, reason)
	})
}

func (s *AttendanceService) BreakOut(ctx context.Context, personID string, at time.Time) (*model.AttendanceRecord, error) {
	return s.mutate(ctx, personID, at, func(r *model.AttendanceRecord) error {
		if r == nil {
			return punch.ErrNoActiveBreak
		}
		return punch.BreakOut(r, at)
	})
}

// mutate loads the day's record under the per-record lock, applies fn and
// writes it back. On a state conflict the unchanged record is returned
// alongside the error.
func (s *AttendanceService) mutate(ctx context.Context, personID string, at time.Time, fn func(*model.AttendanceRecord) error) (*model.AttendanceRecord, error) {
	date := model.DayOf(at)
	unlock := s.locks.Lock(personID + "|" + date)
	defer unlock()

	record, err := s.store.GetRecord(ctx, personID, date)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if record == nil {
		if err := fn(nil); err != nil && !errors.Is(err, punch.ErrNotPunchedInYet) {
			return nil, err
		}
		return nil, punch.ErrNotPunchedInYet
	}

	before := record.Clone()
	if err := fn(record); err != nil {
		return before, err
	}
	if err := s.store.UpdateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return record, nil
}

// Today returns the person's record for the day containing at, or nil.
func (s *AttendanceService) Today(ctx context.Context, personID string, at time.Time) (*model.AttendanceRecord, error) {
	record, err := s.store.GetRecord(ctx, personID, model.DayOf(at))
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// History returns records between two day keys, inclusive.
func (s *AttendanceService) History(ctx context.Context, personID, from, to string) ([]*model.AttendanceRecord, error) {
	if _, err := time.Parse(time.DateOnly, from); err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	if _, err := time.Parse(time.DateOnly, to); err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	if from > to {
		return nil, fmt.Errorf("%w: from after to", ErrInvalidRange)
	}
	records, err := s.store.ListRecords(ctx, personID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

var ErrInvalidRange = errors.New("invalid date range")
