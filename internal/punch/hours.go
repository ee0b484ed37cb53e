package punch

import (
	"math"
	"time"

	"academy-attendance/internal/model"
)

// BreakTotal sums break durations. Breaks still open are counted up to now.
func BreakTotal(breaks []model.BreakInterval, now time.Time) time.Duration {
	var total time.Duration
	for _, b := range breaks {
		end := now
		if b.End != nil {
			end = *b.End
		}
		if end.After(b.Start) {
			total += end.Sub(b.Start)
		}
	}
	return total
}

// EffectiveHours is (out - in) minus break time, in hours rounded to two
// decimals. A negative result is clamped to zero and reported as an anomaly.
func EffectiveHours(in, out time.Time, breaks []model.BreakInterval) (float64, bool) {
	worked := out.Sub(in) - BreakTotal(breaks, out)
	if worked < 0 {
		return 0, true
	}
	return roundHours(worked), false
}

// WorkedSoFar returns the effective hours of r as of now. Completed records
// report their stored value.
func WorkedSoFar(r *model.AttendanceRecord, now time.Time) float64 {
	if r == nil || r.PunchInAt == nil {
		return 0
	}
	if r.EffectiveHours != nil {
		return *r.EffectiveHours
	}
	h, _ := EffectiveHours(*r.PunchInAt, now, r.Breaks)
	return h
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
