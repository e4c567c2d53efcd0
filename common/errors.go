package common

import (
	"errors"
	"fmt"
)

type VLogErrorCode int

const (
	// LogClosedError indicates an attempt to write to the value log after
	// the logger has been shut down.
	LogClosedError VLogErrorCode = iota
	// BufferFullError is returned when a record does not fit into the
	// remaining capacity of a shard's log buffer. The in-progress
	// transaction is left untouched.
	BufferFullError
	// PayloadTooLargeError indicates a record payload that cannot be
	// described by the single-byte size field of the wire format.
	PayloadTooLargeError
	// InvalidShardError indicates a thread id outside [0, thread count).
	InvalidShardError
	// CommitTimestampMismatchError is returned when records of the same
	// transaction carry different commit timestamps.
	CommitTimestampMismatchError
	// CorruptedLogError indicates a shard whose bytes violate the block
	// format (length mismatch, unknown record type).
	CorruptedLogError
	// TruncatedLogError indicates a shard that ends in the middle of a block.
	TruncatedLogError
	// InvalidConfigError is returned by Validate on bad configuration.
	InvalidConfigError
	// TransactionInProgressError is returned when a thread begins a
	// transaction while its previous one is still open.
	TransactionInProgressError
)

func (ec VLogErrorCode) String() string {
	switch ec {
	case LogClosedError:
		return "LogClosedError"
	case BufferFullError:
		return "BufferFullError"
	case PayloadTooLargeError:
		return "PayloadTooLargeError"
	case InvalidShardError:
		return "InvalidShardError"
	case CommitTimestampMismatchError:
		return "CommitTimestampMismatchError"
	case CorruptedLogError:
		return "CorruptedLogError"
	case TruncatedLogError:
		return "TruncatedLogError"
	case InvalidConfigError:
		return "InvalidConfigError"
	case TransactionInProgressError:
		return "TransactionInProgressError"
	}
	return "unknown"
}

// VLogError is the custom error type for the value log.
// It wraps a specific VLogErrorCode with a detailed message so that the
// transaction manager can tell backpressure (BufferFullError) apart from
// failures that require shutting the shard down.
type VLogError struct {
	Code      VLogErrorCode
	ErrString string
}

func (e VLogError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// Errorf builds a VLogError with a formatted message.
func Errorf(code VLogErrorCode, format string, args ...any) VLogError {
	return VLogError{Code: code, ErrString: fmt.Sprintf(format, args...)}
}

// IsCode reports whether any error in err's chain is a VLogError with the given code.
func IsCode(err error, code VLogErrorCode) bool {
	var vErr VLogError
	if errors.As(err, &vErr) {
		return vErr.Code == code
	}
	return false
}
