// Package classifier decides whether a device capture is an IN or OUT
// punch by alternating on the person's previous capture. It never looks at
// the attendance record, so the state machine may still reject the result.
package classifier

import (
	"context"
	"fmt"
	"time"

	"academy-attendance/internal/model"
)

// History is the slice of the event log the classifier needs.
type History interface {
	LatestClassifiedBefore(ctx context.Context, personID string, before time.Time) (*model.RawAttendanceEvent, error)
}

type Classifier struct {
	history History
}

func New(history History) *Classifier {
	return &Classifier{history: history}
}

// Classify returns IN when the person has no earlier capture or the latest
// earlier one was OUT, and OUT otherwise.
func (c *Classifier) Classify(ctx context.Context, personID string, at time.Time) (model.PunchType, error) {
	prev, err := c.history.LatestClassifiedBefore(ctx, personID, at)
	if err != nil {
		return "", fmt.Errorf("previous event: %w", err)
	}
	if prev == nil || prev.PunchType == model.PunchOut {
		return model.PunchIn, nil
	}
	return model.PunchOut, nil
}
