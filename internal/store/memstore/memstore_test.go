package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
)

func TestAppendEvent_CopiesSlices(t *testing.T) {
	ctx := context.Background()
	st := New()

	ev := &model.RawAttendanceEvent{
		Timestamp:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Status:     model.EventStatusUnresolved,
		Raw:        []byte(`{"name":"Alice"}`),
		Candidates: []string{"p1", "p2"},
	}
	require.NoError(t, st.AppendEvent(ctx, ev))

	ev.Raw[2] = 'X'
	ev.Candidates[0] = "p9"

	logged, err := st.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, `{"name":"Alice"}`, string(logged[0].Raw))
	assert.Equal(t, []string{"p1", "p2"}, logged[0].Candidates)

	logged[0].Candidates[1] = "p8"
	assert.Equal(t, []string{"p1", "p2"}, st.Events()[0].Candidates)
}

func TestListUnresolved_IncludesFailed(t *testing.T) {
	ctx := context.Background()
	st := New()
	for _, status := range []model.EventStatus{
		model.EventStatusApplied,
		model.EventStatusRejected,
		model.EventStatusUnresolved,
		model.EventStatusMalformed,
		model.EventStatusFailed,
	} {
		require.NoError(t, st.AppendEvent(ctx, &model.RawAttendanceEvent{Status: status}))
	}

	quarantined, err := st.ListUnresolved(ctx, 10)
	require.NoError(t, err)
	var statuses []model.EventStatus
	for _, ev := range quarantined {
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []model.EventStatus{model.EventStatusFailed, model.EventStatusMalformed, model.EventStatusUnresolved}, statuses)
}
