// internal/status/encode.go
package status

import (
	"encoding/json"
	"time"
)

type wire struct {
	Controller          string    `json:"controller"`
	State               string    `json:"state"`
	Health              uint16    `json:"health"`
	Attached            bool      `json:"attached"`
	Revision            int       `json:"revision"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	SecondsInError      uint16    `json:"seconds_in_error"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// Encode converts a Snapshot into its published JSON document.
// No IO. No side effects.
func Encode(s Snapshot, now time.Time) ([]byte, error) {
	return json.Marshal(wire{
		Controller:          s.Controller,
		State:               s.State.String(),
		Health:              s.Health(),
		Attached:            s.Attached,
		Revision:            s.Revision,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastError:           s.LastError,
		SecondsInError:      s.SecondsInError(now),
		LastSuccess:         s.LastSuccess,
	})
}
