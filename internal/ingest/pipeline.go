// Package ingest turns raw biometric device captures into attendance
// transitions. Pushed payloads and pulled device logs share one path:
// parse, resolve the person, classify IN/OUT, apply to the day's record and
// append the outcome to the event log. Every capture is logged, including
// the ones that could not be parsed, resolved or applied.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"academy-attendance/internal/classifier"
	"academy-attendance/internal/device"
	"academy-attendance/internal/model"
	"academy-attendance/internal/punch"
	"academy-attendance/internal/resolver"
	"academy-attendance/internal/service"
)

var (
	ErrNotPullDevice = errors.New("device does not support pull sync")
	// ErrEventNotLogged means a capture could not be written to the event
	// log at all, so only a re-fetch from the device can recover it.
	ErrEventNotLogged = errors.New("event not logged")
)

// EventLog is the append-only store of device captures.
type EventLog interface {
	AppendEvent(ctx context.Context, ev *model.RawAttendanceEvent) error
	LatestClassifiedBefore(ctx context.Context, personID string, before time.Time) (*model.RawAttendanceEvent, error)
	ListUnresolved(ctx context.Context, limit int) ([]*model.RawAttendanceEvent, error)
}

// LogSource reaches pull devices. device.Client implements it.
type LogSource interface {
	FetchLogs(ctx context.Context, d *model.BiometricDevice, since *time.Time) ([]json.RawMessage, error)
	Probe(ctx context.Context, d *model.BiometricDevice) error
}

type Options struct {
	// Concurrency bounds how many devices SyncAll pulls at once.
	Concurrency int
	// Location interprets naive device timestamps when the device has no
	// timezone of its own.
	Location *time.Location
}

type Pipeline struct {
	attendance *service.AttendanceService
	devices    *service.DeviceService
	events     EventLog
	resolver   *resolver.Resolver
	classifier *classifier.Classifier
	source     LogSource
	persons    *service.KeyedMutex
	opts       Options
	logger     *slog.Logger
}

func NewPipeline(
	attendance *service.AttendanceService,
	devices *service.DeviceService,
	events EventLog,
	directory resolver.Directory,
	source LogSource,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		attendance: attendance,
		devices:    devices,
		events:     events,
		resolver:   resolver.New(directory),
		classifier: classifier.New(events),
		source:     source,
		persons:    service.NewKeyedMutex(),
		opts:       opts,
		logger:     logger,
	}
}

// HandlePush ingests one webhook payload. When identity is empty it is
// taken from the payload. The returned event carries the outcome; an error
// is returned only for authentication or storage failures.
func (p *Pipeline) HandlePush(ctx context.Context, identity, token string, raw []byte, receivedAt time.Time) (*model.RawAttendanceEvent, error) {
	if identity == "" {
		peek, _ := device.ParsePayload(raw, nil)
		identity = peek.DeviceIdentity
	}
	dev, err := p.devices.Authenticate(ctx, identity, token)
	if err != nil {
		return nil, err
	}

	ev, err := p.ingest(ctx, dev, raw, model.EventSourcePush, receivedAt)
	if err != nil {
		return ev, err
	}
	if err := p.devices.MarkSynced(ctx, dev.ID, receivedAt); err != nil {
		p.logger.Error("mark push device synced", "device_id", dev.ID.Hex(), "error", err)
	}
	return ev, nil
}

// SyncReport summarises one pull of a device log.
type SyncReport struct {
	RunID      string        `json:"run_id"`
	DeviceID   bson.ObjectID `json:"device_id"`
	DeviceName string        `json:"device_name"`
	Fetched    int           `json:"fetched"`
	Applied    int           `json:"applied"`
	Rejected   int           `json:"rejected"`
	Unresolved int           `json:"unresolved"`
	Malformed  int           `json:"malformed"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	Advanced   bool          `json:"watermark_advanced"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (r *SyncReport) count(ev *model.RawAttendanceEvent, err error) {
	if err != nil {
		r.Failed++
		return
	}
	switch ev.Status {
	case model.EventStatusApplied:
		r.Applied++
	case model.EventStatusRejected:
		r.Rejected++
	case model.EventStatusUnresolved:
		r.Unresolved++
	case model.EventStatusMalformed:
		r.Malformed++
	default:
		r.Failed++
	}
}

// SyncDevice pulls everything the device recorded since its watermark and
// applies it in retrieval order. Per-event problems are counted in the
// report and logged with their status; failed events show up in the
// quarantine list. On completion the watermark moves to now, unless some
// capture could not be written to the event log: then the batch counts as
// a failed sync and is fetched again next run. A device that cannot be
// reached counts as a failed sync and the error is returned with the report.
func (p *Pipeline) SyncDevice(ctx context.Context, id bson.ObjectID, now time.Time) (*SyncReport, error) {
	dev, err := p.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev.Delivery != model.DeliveryPull {
		return nil, ErrNotPullDevice
	}

	report := &SyncReport{
		RunID:      uuid.NewString(),
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		StartedAt:  now,
	}
	logger := p.logger.With("run_id", report.RunID, "device_id", dev.ID.Hex())

	logs, err := p.source.FetchLogs(ctx, dev, dev.LastSyncAt)
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = time.Now()
		if ferr := p.devices.RecordSyncFailure(ctx, dev.ID); ferr != nil {
			logger.Error("record sync failure", "error", ferr)
		}
		logger.Warn("device sync failed", "error", err)
		return report, fmt.Errorf("sync device %s: %w", dev.Name, err)
	}
	report.Fetched = len(logs)

	notLogged := 0
	for _, raw := range logs {
		ev, err := p.ingest(ctx, dev, raw, model.EventSourcePull, now)
		if err != nil {
			logger.Error("ingest pulled event", "error", err)
			if errors.Is(err, ErrEventNotLogged) {
				notLogged++
			}
		}
		report.count(ev, err)
	}

	if notLogged == 0 {
		if err := p.devices.MarkSynced(ctx, dev.ID, now); err != nil {
			return report, fmt.Errorf("advance watermark: %w", err)
		}
		report.Advanced = true
	} else {
		logger.Warn("watermark kept, events missing from the log", "not_logged", notLogged)
		if ferr := p.devices.RecordSyncFailure(ctx, dev.ID); ferr != nil {
			logger.Error("record sync failure", "error", ferr)
		}
	}
	report.FinishedAt = time.Now()

	logger.Info("device synced",
		"fetched", report.Fetched,
		"applied", report.Applied,
		"rejected", report.Rejected,
		"unresolved", report.Unresolved,
		"malformed", report.Malformed,
		"failed", report.Failed,
	)
	return report, nil
}

// SyncAll pulls every active pull device in parallel. A failing device only
// shows up in its own report.
func (p *Pipeline) SyncAll(ctx context.Context, now time.Time) ([]*SyncReport, error) {
	devices, err := p.devices.List(ctx, model.DeliveryPull, model.DeviceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list pull devices: %w", err)
	}

	reports := make([]*SyncReport, len(devices))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, dev := range devices {
		g.Go(func() error {
			report, err := p.SyncDevice(ctx, dev.ID, now)
			if report == nil {
				report = &SyncReport{DeviceID: dev.ID, DeviceName: dev.Name, StartedAt: now, FinishedAt: time.Now()}
			}
			if err != nil && report.Error == "" {
				report.Error = err.Error()
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

// ProbeResult is the outcome of a reachability test.
type ProbeResult struct {
	DeviceID  bson.ObjectID      `json:"device_id"`
	Reachable bool               `json:"reachable"`
	Status    model.DeviceStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Probe tests whether the device answers and flips it active or inactive.
// Nothing else about the device changes.
func (p *Pipeline) Probe(ctx context.Context, id bson.ObjectID, now time.Time) (*ProbeResult, error) {
	dev, err := p.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := &ProbeResult{DeviceID: dev.ID, Reachable: true, Status: model.DeviceStatusActive, CheckedAt: now}
	if perr := p.source.Probe(ctx, dev); perr != nil {
		result.Reachable = false
		result.Status = model.DeviceStatusInactive
		result.Error = perr.Error()
	}
	if err := p.devices.SetProbeResult(ctx, dev.ID, result.Reachable, now); err != nil {
		return nil, fmt.Errorf("store probe result: %w", err)
	}
	p.logger.Info("device probed", "device_id", dev.ID.Hex(), "reachable", result.Reachable)
	return result, nil
}

// Unresolved lists the most recent quarantined events: unresolved,
// malformed and failed captures awaiting manual reconciliation.
func (p *Pipeline) Unresolved(ctx context.Context, limit int) ([]*model.RawAttendanceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return p.events.ListUnresolved(ctx, limit)
}

func (p *Pipeline) location(dev *model.BiometricDevice) *time.Location {
	if dev.Timezone != "" {
		if loc, err := time.LoadLocation(dev.Timezone); err == nil {
			return loc
		}
	}
	return p.opts.Location
}

// ingest runs one capture through the pipeline and appends it to the log.
// Domain outcomes are reported through the event status; the error is set
// only when something unexpected failed.
func (p *Pipeline) ingest(ctx context.Context, dev *model.BiometricDevice, raw []byte, source model.EventSource, receivedAt time.Time) (*model.RawAttendanceEvent, error) {
	parsed, perr := device.ParsePayload(raw, p.location(dev))
	ev := &model.RawAttendanceEvent{
		DeviceID:     dev.ID,
		Timestamp:    parsed.Timestamp,
		VerifyMode:   parsed.VerifyMode,
		EmployeeCode: parsed.EmployeeCode,
		ReportedName: parsed.Name,
		Source:       source,
		Raw:          parsed.Raw,
		ReceivedAt:   receivedAt,
	}
	if perr != nil {
		ev.Status = model.EventStatusMalformed
		ev.Reason = perr.Error()
		return ev, p.append(ctx, ev)
	}

	res, err := p.resolver.Resolve(ctx, parsed.EmployeeCode, parsed.Name)
	if err != nil {
		var amb *resolver.AmbiguityError
		switch {
		case errors.As(err, &amb):
			ev.Status = model.EventStatusUnresolved
			ev.Reason = err.Error()
			ev.Candidates = amb.Candidates
			return ev, p.append(ctx, ev)
		case errors.Is(err, resolver.ErrPersonNotResolved):
			ev.Status = model.EventStatusUnresolved
			ev.Reason = err.Error()
			return ev, p.append(ctx, ev)
		}
		return p.fail(ctx, ev, fmt.Errorf("resolve person: %w", err))
	}
	ev.PersonID = res.Person.ID
	ev.ResolvedBy = string(res.Method)

	// Classification reads the log that apply then appends to.
	unlock := p.persons.Lock(ev.PersonID)
	defer unlock()

	ev.PunchType = parsed.Punch
	if ev.PunchType == "" {
		if ev.PunchType, err = p.classifier.Classify(ctx, ev.PersonID, ev.Timestamp); err != nil {
			ev.PunchType = ""
			return p.fail(ctx, ev, err)
		}
	}

	capture := &model.Capture{VerifyMode: parsed.VerifyMode, DeviceID: &ev.DeviceID}
	switch ev.PunchType {
	case model.PunchIn:
		_, err = p.attendance.PunchIn(ctx, ev.PersonID, ev.Timestamp, capture)
	case model.PunchOut:
		_, err = p.attendance.PunchOut(ctx, ev.PersonID, ev.Timestamp, capture)
	}
	switch {
	case err == nil:
		ev.Status = model.EventStatusApplied
	case punch.IsConflict(err):
		ev.Status = model.EventStatusRejected
		ev.Reason = err.Error()
	default:
		return p.fail(ctx, ev, fmt.Errorf("apply %s: %w", ev.PunchType, err))
	}

	if err := p.append(ctx, ev); err != nil {
		return ev, err
	}
	p.logger.Debug("device event ingested",
		"person_id", ev.PersonID,
		"punch", ev.PunchType,
		"status", ev.Status,
		"resolved_by", ev.ResolvedBy,
	)
	return ev, nil
}

func (p *Pipeline) fail(ctx context.Context, ev *model.RawAttendanceEvent, cause error) (*model.RawAttendanceEvent, error) {
	ev.Status = model.EventStatusFailed
	ev.Reason = cause.Error()
	if err := p.append(ctx, ev); err != nil {
		return ev, fmt.Errorf("%w; %w", cause, err)
	}
	return ev, cause
}

func (p *Pipeline) append(ctx context.Context, ev *model.RawAttendanceEvent) error {
	if err := p.events.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("%w: append event: %v", ErrEventNotLogged, err)
	}
	return nil
}
