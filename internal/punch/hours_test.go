package punch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"academy-attendance/internal/model"
)

func TestEffectiveHours(t *testing.T) {
	end := func(s string) *time.Time { v := at(s); return &v }

	tests := []struct {
		name    string
		in, out string
		breaks  []model.BreakInterval
		want    float64
		anomaly bool
	}{
		{"no breaks", "09:00", "17:00", nil, 8, false},
		{"one break", "09:00", "17:00", []model.BreakInterval{{Start: at("11:00"), End: end("11:30")}}, 7.5, false},
		{"two breaks", "09:00", "18:00", []model.BreakInterval{
			{Start: at("10:00"), End: end("10:10")},
			{Start: at("13:00"), End: end("13:45")},
		}, 8.08, false},
		{"rounding", "09:00", "09:20", nil, 0.33, false},
		{"break exceeds elapsed", "09:00", "10:00", []model.BreakInterval{{Start: at("08:00"), End: end("10:00")}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, anomaly := EffectiveHours(at(tt.in), at(tt.out), tt.breaks)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.anomaly, anomaly)
		})
	}
}

func TestBreakTotal_OpenBreakCountsToNow(t *testing.T) {
	breaks := []model.BreakInterval{{Start: at("12:00")}}
	assert.Equal(t, 30*time.Minute, BreakTotal(breaks, at("12:30")))
}

func TestWorkedSoFar(t *testing.T) {
	assert.Zero(t, WorkedSoFar(nil, at("10:00")))

	r := NewRecord("p1", at("09:00"))
	_ = PunchIn(r, at("09:00"), nil)
	_ = BreakIn(r, at("10:00"), "")
	assert.Equal(t, 1.0, WorkedSoFar(r, at("10:30")))

	_ = BreakOut(r, at("10:30"))
	_ = PunchOut(r, at("12:30"), nil)
	assert.Equal(t, 3.0, WorkedSoFar(r, at("23:00")))
}
