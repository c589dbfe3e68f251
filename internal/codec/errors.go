// internal/codec/errors.go
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding = errors.New("codec: encoding error")
	ErrDecoding = errors.New("codec: decoding error")
)

// Error carries the register a conversion failed on.
type Error struct {
	Register string
	Kind     error // ErrEncoding or ErrDecoding
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: register %q: %s", e.Kind, e.Register, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func encodingErr(reg, format string, args ...any) error {
	return &Error{Register: reg, Kind: ErrEncoding, Reason: fmt.Sprintf(format, args...)}
}

func decodingErr(reg, format string, args ...any) error {
	return &Error{Register: reg, Kind: ErrDecoding, Reason: fmt.Sprintf(format, args...)}
}
