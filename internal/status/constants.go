// internal/status/constants.go
package status

// Controller lifecycle and arbiter states.
// The numeric values are exported on the metrics endpoint and MUST NOT change.

// ---- CONTROLLER STATES ----

// ControllerState is the per-controller lifecycle position.
type ControllerState uint8

const (
	Uninitialized ControllerState = iota
	Connecting
	ReadingStatic
	Polling
	Error
	Backoff
)

var controllerStateNames = [...]string{
	Uninitialized: "UNINITIALIZED",
	Connecting:    "CONNECTING",
	ReadingStatic: "READING_STATIC",
	Polling:       "POLLING",
	Error:         "ERROR",
	Backoff:       "BACKOFF",
}

func (s ControllerState) String() string {
	if int(s) < len(controllerStateNames) {
		return controllerStateNames[s]
	}
	return "UNKNOWN"
}

// ---- ARBITER STATES ----

// ArbiterState is the global dispatch position.
type ArbiterState uint8

const (
	Idle ArbiterState = iota
	Dispatching
	AwaitingResult
)

var arbiterStateNames = [...]string{
	Idle:           "IDLE",
	Dispatching:    "DISPATCHING",
	AwaitingResult: "AWAITING_RESULT",
}

func (s ArbiterState) String() string {
	if int(s) < len(arbiterStateNames) {
		return arbiterStateNames[s]
	}
	return "UNKNOWN"
}

// ---- HEALTH CODES ----

// HealthUnknown represents a controller not yet read.
const HealthUnknown uint16 = 0

// HealthOK represents a controller answering its polls.
const HealthOK uint16 = 1

// HealthError represents a controller failing its polls.
const HealthError uint16 = 2

// HealthStale represents a controller whose data is no longer refreshed.
const HealthStale uint16 = 3

// HealthDisabled represents a controller detached from polling.
const HealthDisabled uint16 = 4
