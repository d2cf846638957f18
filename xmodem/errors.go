package xmodem

import "fmt"

// Error represents an XModem protocol error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string
}

// ErrorType categorizes XModem errors
type ErrorType int

const (
	// ErrProtocol indicates a protocol violation
	ErrProtocol ErrorType = iota

	// ErrIntegrity indicates a checksum, CRC, or complement mismatch
	ErrIntegrity

	// ErrTimeout indicates a read timed out with no data
	ErrTimeout

	// ErrIO indicates an I/O error on the channel
	ErrIO

	// ErrCancelled indicates the peer cancelled the transfer (CAN)
	ErrCancelled

	// ErrHandshake indicates no start-of-transfer signal was observed
	ErrHandshake

	// ErrRetriesExhausted indicates the retry budget ran out
	ErrRetriesExhausted
)

func (e *Error) Error() string {
	return fmt.Sprintf("xmodem %s: %s", e.Type, e.Message)
}

func (t ErrorType) String() string {
	switch t {
	case ErrProtocol:
		return "protocol error"
	case ErrIntegrity:
		return "integrity error"
	case ErrTimeout:
		return "timeout"
	case ErrIO:
		return "I/O error"
	case ErrCancelled:
		return "cancelled"
	case ErrHandshake:
		return "handshake failed"
	case ErrRetriesExhausted:
		return "retries exhausted"
	default:
		return "unknown error"
	}
}

// NewError creates a new XModem error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrTimeout
	}
	return false
}

// IsCancelled checks if an error indicates cancellation by the peer
func IsCancelled(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrCancelled
	}
	return false
}

// IsIntegrity checks if an error is an integrity error
func IsIntegrity(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrIntegrity
	}
	return false
}

// IsRetriesExhausted checks if an error indicates an exhausted retry budget
func IsRetriesExhausted(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrRetriesExhausted
	}
	return false
}
