package call

import "time"

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateEnding
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

type StateChange struct {
	From State
	To   State
	Err  error
	At   time.Time
}
