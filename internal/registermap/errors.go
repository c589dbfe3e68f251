// internal/registermap/errors.go
package registermap

import "errors"

// Catalog errors are fatal at load time.
var (
	ErrDuplicateRegister = errors.New("registermap: duplicate register")
	ErrUnknownConversion = errors.New("registermap: unknown conversion")
	ErrAddressOverlap    = errors.New("registermap: address overlap")
	ErrUnknownRevision   = errors.New("registermap: unknown revision")
	ErrBadThresholds     = errors.New("registermap: thresholds out of order")
	ErrUnknownKind       = errors.New("registermap: unknown controller kind")
)
