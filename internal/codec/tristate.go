// internal/codec/tristate.go
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TriState is the value of a two-bit port override field.
// Unset leaves the port untouched when written.
type TriState uint8

const (
	Unset TriState = 0b00
	Off   TriState = 0b10
	On    TriState = 0b11
)

func (s TriState) String() string {
	switch s {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "unset"
	}
}

// Bool returns the tri-state as a nullable boolean.
func (s TriState) Bool() *bool {
	switch s {
	case On:
		v := true
		return &v
	case Off:
		v := false
		return &v
	default:
		return nil
	}
}

// TriStateOf maps a nullable boolean to a tri-state.
func TriStateOf(b *bool) TriState {
	switch {
	case b == nil:
		return Unset
	case *b:
		return On
	default:
		return Off
	}
}

func (s TriState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Bool())
}

func (s *TriState) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true":
		*s = On
	case "false":
		*s = Off
	case "null":
		*s = Unset
	default:
		return fmt.Errorf("tristate: want true, false or null, got %s", b)
	}
	return nil
}
