package transfer

import (
	"errors"
	"fmt"
	"time"
)

// ParseError represents a malformed "source|destination" entry. The entry is
// skipped and the batch continues.
type ParseError struct {
	Entry  string // Raw entry as it was configured
	Reason string // Human-readable explanation of why the entry is invalid
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid download entry %q: %s", e.Entry, e.Reason)
}

// ResolutionError represents a source that cannot be turned into a fetch plan,
// such as a hub URL that does not match the resolve pattern. It is terminal
// for the item.
type ResolutionError struct {
	URL    string // Source URL that failed to resolve
	Reason string // Human-readable explanation of the failure
	Err    error  // Underlying error, if any
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %s", e.URL, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransferError represents a network, HTTP status or write failure during one
// attempt. It is retryable.
type TransferError struct {
	URL        string // Source URL being fetched
	Attempt    int    // 1-based attempt number
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transfer of %s failed on attempt %d (HTTP %d)", e.URL, e.Attempt, e.StatusCode)
	}

	return fmt.Sprintf("transfer of %s failed on attempt %d: %v", e.URL, e.Attempt, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// LockTimeoutError is returned when a peer holds the acquisition lock longer
// than the allowed wait.
type LockTimeoutError struct {
	Path    string        // Lock file path
	Timeout time.Duration // Maximum wait that elapsed
	Err     error         // Underlying error, if any
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock %s", e.Timeout, e.Path)
}

func (e *LockTimeoutError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	var te *TransferError

	return errors.As(err, &te)
}
