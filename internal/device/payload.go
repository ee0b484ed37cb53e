package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"academy-attendance/internal/model"
)

var ErrMalformedPayload = errors.New("malformed device payload")

// PayloadError names the field that made a payload unusable.
type PayloadError struct {
	Field  string
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedPayload, e.Field, e.Reason)
}

func (e *PayloadError) Unwrap() error { return ErrMalformedPayload }

// Event is the typed view of one device capture. Raw keeps the payload
// exactly as received for the audit log.
type Event struct {
	DeviceIdentity string
	EmployeeCode   string
	Name           string
	Timestamp      time.Time
	VerifyMode     model.VerifyMode
	Punch          model.PunchType // set only when the device reports it
	Raw            []byte
}

// Field aliases seen across vendor firmwares.
var (
	deviceKeys = []string{"device_id", "serial_number", "sn", "device_sn"}
	codeKeys   = []string{"employee_code", "user_id", "pin", "emp_code", "badge"}
	nameKeys   = []string{"name", "user_name", "employee_name"}
	timeKeys   = []string{"timestamp", "time", "check_time", "punch_time"}
	verifyKeys = []string{"verify_mode", "verify_type", "verify"}
	punchKeys  = []string{"punch", "punch_type", "state"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
}

// ParsePayload extracts the typed fields from a raw device payload.
// Timestamps without a zone are read in loc. On a malformed payload both a
// partially filled Event and a *PayloadError are returned so the event can
// still be quarantined with whatever identity it carried.
func ParsePayload(raw []byte, loc *time.Location) (*Event, error) {
	if loc == nil {
		loc = time.UTC
	}
	ev := &Event{Raw: append([]byte(nil), raw...)}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return ev, &PayloadError{Field: "body", Reason: err.Error()}
	}

	ev.DeviceIdentity = stringField(fields, deviceKeys)
	ev.EmployeeCode = stringField(fields, codeKeys)
	ev.Name = stringField(fields, nameKeys)

	if ev.EmployeeCode == "" && ev.Name == "" {
		return ev, &PayloadError{Field: "employee_code", Reason: "neither code nor name present"}
	}

	tsVal, ok := lookup(fields, timeKeys)
	if !ok {
		return ev, &PayloadError{Field: "timestamp", Reason: "missing"}
	}
	ts, err := parseTimestamp(tsVal, loc)
	if err != nil {
		return ev, &PayloadError{Field: "timestamp", Reason: err.Error()}
	}
	ev.Timestamp = ts

	if v, ok := lookup(fields, verifyKeys); ok {
		mode, err := parseVerifyMode(v)
		if err != nil {
			return ev, &PayloadError{Field: "verify_mode", Reason: err.Error()}
		}
		ev.VerifyMode = mode
	}

	if v, ok := lookup(fields, punchKeys); ok {
		ev.Punch = parsePunch(v)
	}

	return ev, nil
}

func lookup(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, keys []string) string {
	v, ok := lookup(fields, keys)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func parseTimestamp(v any, loc *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid unix time %q", x)
		}
		return fromEpoch(n)
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time %q", s)
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}

// Epoch values from 1e12 up are milliseconds; from 1e15 up they are rejected.
const (
	epochMillis = 1_000_000_000_000
	epochLimit  = 1_000_000_000_000_000
)

func fromEpoch(n int64) (time.Time, error) {
	switch {
	case n < 0 || n >= epochLimit:
		return time.Time{}, fmt.Errorf("unix time %d out of range", n)
	case n >= epochMillis:
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// ZKTeco-style numeric verify codes.
var verifyCodes = map[int64]model.VerifyMode{
	0:  model.VerifyPassword,
	1:  model.VerifyFingerprint,
	2:  model.VerifyCard,
	3:  model.VerifyPassword,
	4:  model.VerifyCard,
	15: model.VerifyFace,
	25: model.VerifyPalm,
}

var verifyNames = map[string]model.VerifyMode{
	"password":    model.VerifyPassword,
	"pin":         model.VerifyPassword,
	"fingerprint": model.VerifyFingerprint,
	"finger":      model.VerifyFingerprint,
	"fp":          model.VerifyFingerprint,
	"card":        model.VerifyCard,
	"rfid":        model.VerifyCard,
	"face":        model.VerifyFace,
	"palm":        model.VerifyPalm,
}

func parseVerifyMode(v any) (model.VerifyMode, error) {
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if mode, ok := verifyCodes[n]; ok {
			return mode, nil
		}
		return "", fmt.Errorf("unknown verify code %d", n)
	}
	if mode, ok := verifyNames[s]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("unknown verify mode %q", s)
}

// parsePunch maps a reported punch state. ZKTeco states are 0 check in,
// 1 check out, 2 break out, 3 break in, 4 overtime in, 5 overtime out.
// Break states and unknown values yield "", leaving the decision to the
// classifier.
func parsePunch(v any) model.PunchType {
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
	case "in", "checkin", "check-in", "check_in", "0", "4":
		return model.PunchIn
	case "out", "checkout", "check-out", "check_out", "1", "5":
		return model.PunchOut
	}
	return ""
}
