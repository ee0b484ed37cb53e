package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
)

func TestParsePayload(t *testing.T) {
	ict := time.FixedZone("ICT", 7*60*60)

	tests := []struct {
		name     string
		raw      string
		want     Event
		loc      *time.Location
		errField string
	}{
		{
			name: "rfc3339 with mode name",
			raw:  `{"device_id":"SN-1","employee_code":"EMP001","timestamp":"2026-03-02T09:00:00Z","verify_mode":"fingerprint"}`,
			want: Event{DeviceIdentity: "SN-1", EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), VerifyMode: model.VerifyFingerprint},
		},
		{
			name: "naive time in device zone with numeric codes",
			raw:  `{"sn":"SN-2","pin":1042,"check_time":"2026-03-02 16:00:00","verify_type":15,"state":1}`,
			loc:  ict,
			want: Event{DeviceIdentity: "SN-2", EmployeeCode: "1042", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), VerifyMode: model.VerifyFace, Punch: model.PunchOut},
		},
		{
			name: "unix seconds and name only",
			raw:  `{"name":"Alice","timestamp":1772442000,"punch":"in"}`,
			want: Event{Name: "Alice", Timestamp: time.Unix(1772442000, 0).UTC(), Punch: model.PunchIn},
		},
		{name: "missing timestamp", raw: `{"employee_code":"EMP001"}`, errField: "timestamp"},
		{name: "bad timestamp", raw: `{"employee_code":"EMP001","timestamp":"yesterday"}`, errField: "timestamp"},
		{name: "bad verify mode", raw: `{"employee_code":"EMP001","timestamp":"2026-03-02T09:00:00Z","verify_mode":"retina"}`, errField: "verify_mode"},
		{
			name: "unix milliseconds",
			raw:  `{"pin":"EMP001","timestamp":1772442000250}`,
			want: Event{EmployeeCode: "EMP001", Timestamp: time.UnixMilli(1772442000250).UTC()},
		},
		{
			name: "unix milliseconds as string",
			raw:  `{"pin":"EMP001","timestamp":"1772442000000"}`,
			want: Event{EmployeeCode: "EMP001", Timestamp: time.Unix(1772442000, 0).UTC()},
		},
		{name: "unix time out of range", raw: `{"pin":"EMP001","timestamp":1772442000000000}`, errField: "timestamp"},
		{name: "negative unix time", raw: `{"pin":"EMP001","timestamp":-5}`, errField: "timestamp"},
		{name: "break out state left to classifier", raw: `{"pin":"EMP001","timestamp":"2026-03-02T09:00:00Z","state":2}`, want: Event{EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}},
		{name: "break in state left to classifier", raw: `{"pin":"EMP001","timestamp":"2026-03-02T09:00:00Z","state":3}`, want: Event{EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}},
		{name: "overtime in state", raw: `{"pin":"EMP001","timestamp":"2026-03-02T09:00:00Z","state":4}`, want: Event{EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), Punch: model.PunchIn}},
		{name: "overtime out state", raw: `{"pin":"EMP001","timestamp":"2026-03-02T09:00:00Z","state":"5"}`, want: Event{EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), Punch: model.PunchOut}},
		{name: "unknown punch left to classifier", raw: `{"pin":"EMP001","timestamp":"2026-03-02T09:00:00Z","punch":"sideways"}`, want: Event{EmployeeCode: "EMP001", Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}},
		{name: "no identity", raw: `{"timestamp":"2026-03-02T09:00:00Z"}`, errField: "employee_code"},
		{name: "not json", raw: `nope`, errField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParsePayload([]byte(tt.raw), tt.loc)
			require.NotNil(t, ev)
			assert.Equal(t, tt.raw, string(ev.Raw))

			if tt.errField != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				var pe *PayloadError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.errField, pe.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.DeviceIdentity, ev.DeviceIdentity)
			assert.Equal(t, tt.want.EmployeeCode, ev.EmployeeCode)
			assert.Equal(t, tt.want.Name, ev.Name)
			assert.True(t, tt.want.Timestamp.Equal(ev.Timestamp), "timestamp %s", ev.Timestamp)
			assert.Equal(t, tt.want.VerifyMode, ev.VerifyMode)
			assert.Equal(t, tt.want.Punch, ev.Punch)
		})
	}
}

func TestParsePayload_MalformedKeepsIdentity(t *testing.T) {
	ev, err := ParsePayload([]byte(`{"device_id":"SN-9","employee_code":"EMP7"}`), nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Equal(t, "SN-9", ev.DeviceIdentity)
	assert.Equal(t, "EMP7", ev.EmployeeCode)
}
