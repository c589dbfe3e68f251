// internal/poller/errors.go
package poller

import (
	"errors"
	"fmt"
)

var (
	ErrBusy              = errors.New("poller: request queue full")
	ErrExpired           = errors.New("poller: request expired before dispatch")
	ErrPollFailed        = errors.New("poller: poll failed")
	ErrClosed            = errors.New("poller: arbiter closed")
	ErrUnknownController = errors.New("poller: unknown controller")
	ErrUnknownRegister   = errors.New("poller: unknown register")
	ErrNotWritable       = errors.New("poller: register not writable")
)

// PollFailedError is reported to observers when a scheduled poll fails.
// It never reaches Submit callers.
type PollFailedError struct {
	Controller string
	Group      string
	Attempt    int
	Err        error
}

func (e *PollFailedError) Error() string {
	return fmt.Sprintf("poller: poll failed: controller=%s group=%s attempt=%d: %v", e.Controller, e.Group, e.Attempt, e.Err)
}

func (e *PollFailedError) Unwrap() []error { return []error{ErrPollFailed, e.Err} }
