// internal/status/snapshot.go
package status

import "time"

// Snapshot is the bus-side view of one controller.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Controller          string
	State               ControllerState
	Attached            bool
	Revision            int
	ConsecutiveFailures int
	LastError           string
	ErrorSince          time.Time // zero while healthy
	LastSuccess         time.Time
}

// Health derives the coarse health code published alongside the state.
func (s Snapshot) Health() uint16 {
	switch {
	case !s.Attached:
		return HealthDisabled
	case s.State == Backoff:
		return HealthStale
	case s.State == Error || s.ConsecutiveFailures > 0:
		return HealthError
	case s.LastSuccess.IsZero():
		return HealthUnknown
	default:
		return HealthOK
	}
}

// SecondsInError is how long the controller has been failing, saturated to 16 bits.
func (s Snapshot) SecondsInError(now time.Time) uint16 {
	if s.ErrorSince.IsZero() {
		return 0
	}
	d := now.Sub(s.ErrorSince) / time.Second
	if d > 0xFFFF {
		return 0xFFFF
	}
	if d < 0 {
		return 0
	}
	return uint16(d)
}
