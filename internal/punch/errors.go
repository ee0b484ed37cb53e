package punch

import "errors"

// State conflicts. Callers on the manual endpoints see these as rejected
// requests; device events that hit them are logged as rejected.
var (
	ErrAlreadyPunchedIn  = errors.New("already punched in")
	ErrAlreadyPunchedOut = errors.New("already punched out")
	ErrNotPunchedInYet   = errors.New("not punched in yet")
	ErrAlreadyOnBreak    = errors.New("already on break")
	ErrNoActiveBreak     = errors.New("no active break")
	ErrBreakStillOpen    = errors.New("break still open")
	ErrTimeOutOfOrder    = errors.New("timestamp precedes the last recorded punch")
)

var conflicts = []error{
	ErrAlreadyPunchedIn,
	ErrAlreadyPunchedOut,
	ErrNotPunchedInYet,
	ErrAlreadyOnBreak,
	ErrNoActiveBreak,
	ErrBreakStillOpen,
	ErrTimeOutOfOrder,
}

// IsConflict reports whether err is an expected state conflict rather than
// an infrastructure failure.
func IsConflict(err error) bool {
	for _, c := range conflicts {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}
