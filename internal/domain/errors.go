package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DecodeError reports a feed message that could not be turned into an envelope.
// Decode errors are recovered locally: the envelope is dropped and logged.
type DecodeError struct {
	Stage string // "envelope", "payload" or "order"
	Err   error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Stage + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	// ErrOrderNotFound is returned by local intents targeting an id absent from the live set.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotOpen is returned when a user action requires an Open order.
	ErrOrderNotOpen = errors.New("order is not open")

	// ErrInvalidPrice is returned when a price or size would become negative.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrUnknownKind marks an envelope kind the engine does not handle.
	ErrUnknownKind = errors.New("unknown envelope kind")

	// ErrReconnectExhausted is reported once the supervisor gives up reconnecting.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrTransportClosed is returned when sending on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
