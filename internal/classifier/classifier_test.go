package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
	"academy-attendance/internal/store/memstore"
)

func ts(hhmm string) time.Time {
	t, _ := time.Parse(time.DateTime, "2026-03-02 "+hhmm+":00")
	return t
}

func appendEvent(t *testing.T, s *memstore.Store, person string, at time.Time, typ model.PunchType, status model.EventStatus) {
	t.Helper()
	require.NoError(t, s.AppendEvent(context.Background(), &model.RawAttendanceEvent{
		PersonID:  person,
		Timestamp: at,
		PunchType: typ,
		Status:    status,
	}))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("no history is in", func(t *testing.T) {
		c := New(memstore.New())
		got, err := c.Classify(ctx, "p1", ts("09:00"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchIn, got)
	})

	t.Run("after in is out", func(t *testing.T) {
		s := memstore.New()
		appendEvent(t, s, "p1", ts("09:00"), model.PunchIn, model.EventStatusApplied)
		got, err := New(s).Classify(ctx, "p1", ts("09:05"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchOut, got)
	})

	t.Run("after out is in", func(t *testing.T) {
		s := memstore.New()
		appendEvent(t, s, "p1", ts("09:00"), model.PunchIn, model.EventStatusApplied)
		appendEvent(t, s, "p1", ts("12:00"), model.PunchOut, model.EventStatusApplied)
		got, err := New(s).Classify(ctx, "p1", ts("13:00"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchIn, got)
	})

	t.Run("only strictly earlier events count", func(t *testing.T) {
		s := memstore.New()
		appendEvent(t, s, "p1", ts("09:00"), model.PunchIn, model.EventStatusApplied)
		got, err := New(s).Classify(ctx, "p1", ts("09:00"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchIn, got)
	})

	t.Run("other persons and unclassified events ignored", func(t *testing.T) {
		s := memstore.New()
		appendEvent(t, s, "p2", ts("09:00"), model.PunchIn, model.EventStatusApplied)
		appendEvent(t, s, "p1", ts("09:01"), "", model.EventStatusMalformed)
		got, err := New(s).Classify(ctx, "p1", ts("09:05"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchIn, got)
	})

	t.Run("rejected events still alternate", func(t *testing.T) {
		s := memstore.New()
		appendEvent(t, s, "p1", ts("09:00"), model.PunchIn, model.EventStatusRejected)
		got, err := New(s).Classify(ctx, "p1", ts("09:05"))
		require.NoError(t, err)
		assert.Equal(t, model.PunchOut, got)
	})
}
