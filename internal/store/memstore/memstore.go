// Package memstore is an in-process implementation of the attendance
// stores. It backs STORE=memory and the package tests; every method mirrors
// the MongoDB store in internal/store, including its sentinel errors.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"academy-attendance/internal/model"
	"academy-attendance/internal/store"
)

type Store struct {
	mu       sync.Mutex
	records  map[string]*model.AttendanceRecord // person|date
	events   []*model.RawAttendanceEvent
	devices  map[bson.ObjectID]*model.BiometricDevice
	persons  map[string]model.Person
	captures map[string][]byte

	// FailAppend, when set, is returned by AppendEvent. Tests use it to
	// simulate an unavailable event log.
	FailAppend error
}

func New() *Store {
	return &Store{
		records:  make(map[string]*model.AttendanceRecord),
		devices:  make(map[bson.ObjectID]*model.BiometricDevice),
		persons:  make(map[string]model.Person),
		captures: make(map[string][]byte),
	}
}

func recordKey(personID, date string) string { return personID + "|" + date }

func (s *Store) Ping(context.Context) error { return nil }

// Records

func (s *Store) GetRecord(_ context.Context, personID, date string) (*model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[recordKey(personID, date)].Clone(), nil
}

func (s *Store) CreateRecord(_ context.Context, r *model.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(r.PersonID, r.Date)
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("insert attendance: %w", store.ErrDuplicate)
	}
	now := time.Now()
	r.ID = bson.NewObjectID()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	s.records[key] = r.Clone()
	return nil
}

func (s *Store) UpdateRecord(_ context.Context, r *model.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(r.PersonID, r.Date)
	cur, ok := s.records[key]
	if !ok || cur.ID != r.ID || cur.Version != r.Version {
		return store.ErrStale
	}
	r.Version++
	r.UpdatedAt = time.Now()
	s.records[key] = r.Clone()
	return nil
}

func (s *Store) ListRecords(_ context.Context, personID, from, to string) ([]*model.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AttendanceRecord
	for _, r := range s.records {
		if r.PersonID == personID && r.Date >= from && r.Date <= to {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Events

func (s *Store) AppendEvent(_ context.Context, ev *model.RawAttendanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return s.FailAppend
	}
	ev.ID = bson.NewObjectID()
	s.events = append(s.events, cloneEvent(ev))
	return nil
}

// cloneEvent copies ev including its slices, so the log never shares
// memory with callers.
func cloneEvent(ev *model.RawAttendanceEvent) *model.RawAttendanceEvent {
	cp := *ev
	cp.Raw = slices.Clone(ev.Raw)
	cp.Candidates = slices.Clone(ev.Candidates)
	return &cp
}

func (s *Store) LatestClassifiedBefore(_ context.Context, personID string, before time.Time) (*model.RawAttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.RawAttendanceEvent
	for _, ev := range s.events {
		if ev.PersonID != personID || !ev.Classified() || !ev.Timestamp.Before(before) {
			continue
		}
		// Ties go to the later append, matching the _id tiebreak in Mongo.
		if best == nil || !ev.Timestamp.Before(best.Timestamp) {
			best = ev
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneEvent(best), nil
}

func (s *Store) ListUnresolved(_ context.Context, limit int) ([]*model.RawAttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RawAttendanceEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		switch ev.Status {
		case model.EventStatusUnresolved, model.EventStatusMalformed, model.EventStatusFailed:
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

// Events returns a copy of the whole log in append order.
func (s *Store) Events() []model.RawAttendanceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RawAttendanceEvent, len(s.events))
	for i, ev := range s.events {
		out[i] = *cloneEvent(ev)
	}
	return out
}

// Devices

func (s *Store) CreateDevice(_ context.Context, d *model.BiometricDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.devices {
		if existing.Identity == d.Identity {
			return fmt.Errorf("insert device: %w", store.ErrDuplicate)
		}
	}
	now := time.Now()
	d.ID = bson.NewObjectID()
	d.CreatedAt = now
	d.UpdatedAt = now
	cp := *d
	s.devices[d.ID] = &cp
	return nil
}

func (s *Store) UpdateDevice(_ context.Context, d *model.BiometricDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.devices[d.ID]
	if !ok {
		return store.ErrNotFound
	}
	for id, existing := range s.devices {
		if id != d.ID && existing.Identity == d.Identity {
			return fmt.Errorf("update device: %w", store.ErrDuplicate)
		}
	}
	cur.Name = d.Name
	cur.Delivery = d.Delivery
	cur.Identity = d.Identity
	cur.Address = d.Address
	cur.Credential = d.Credential
	cur.CredentialHash = d.CredentialHash
	cur.Timezone = d.Timezone
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteDevice(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.devices, id)
	return nil
}

func (s *Store) GetDevice(_ context.Context, id bson.ObjectID) (*model.BiometricDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetDeviceByIdentity(_ context.Context, identity string) (*model.BiometricDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Identity == identity {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListDevices(_ context.Context, delivery model.DeliveryModel, status model.DeviceStatus) ([]*model.BiometricDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.BiometricDevice
	for _, d := range s.devices {
		if (delivery == "" || d.Delivery == delivery) && (status == "" || d.Status == status) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, id bson.ObjectID, at time.Time) error {
	return s.withDevice(id, func(d *model.BiometricDevice) {
		d.LastSyncAt = &at
		d.Status = model.DeviceStatusActive
		d.ConsecutiveFailures = 0
	})
}

func (s *Store) RecordSyncFailure(_ context.Context, id bson.ObjectID) (int, error) {
	var n int
	err := s.withDevice(id, func(d *model.BiometricDevice) {
		d.ConsecutiveFailures++
		n = d.ConsecutiveFailures
	})
	return n, err
}

func (s *Store) SetDeviceStatus(_ context.Context, id bson.ObjectID, status model.DeviceStatus) error {
	return s.withDevice(id, func(d *model.BiometricDevice) { d.Status = status })
}

func (s *Store) SetProbeResult(_ context.Context, id bson.ObjectID, status model.DeviceStatus, at time.Time) error {
	return s.withDevice(id, func(d *model.BiometricDevice) {
		d.Status = status
		d.LastProbeAt = &at
	})
}

func (s *Store) withDevice(id bson.ObjectID, fn func(*model.BiometricDevice)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(d)
	d.UpdatedAt = time.Now()
	return nil
}

// Persons

// AddPerson seeds the directory.
func (s *Store) AddPerson(p model.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[p.ID] = p
}

func (s *Store) FindByIdentifier(_ context.Context, code string) (*model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.sortedPersons() {
		if p.ExternalID == code || p.Email == code || p.Phone == code {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetPerson(_ context.Context, id string) (*model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.persons[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListEmployees(context.Context) ([]model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Person
	for _, p := range s.sortedPersons() {
		if p.Role.EmployeeLike() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) sortedPersons() []model.Person {
	out := make([]model.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Captures

func (s *Store) SavePhoto(_ context.Context, personID, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := "mem:" + personID + "-" + bson.NewObjectID().Hex()
	s.captures[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *Store) OpenPhoto(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.captures[ref]
	if !ok || !strings.HasPrefix(ref, "mem:") {
		return nil, store.ErrNotFound
	}
	return data, nil
}
