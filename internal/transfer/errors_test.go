package transfer

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestParseError_Error verifies error message formatting
func TestParseError_Error(t *testing.T) {
	err := &ParseError{
		Entry:  "novalueseparator",
		Reason: "missing | separator",
	}

	expected := `invalid download entry "novalueseparator": missing | separator`
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestTransferError_Error verifies error message formatting
func TestTransferError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *TransferError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &TransferError{
				URL:        "https://example.com/a.bin",
				Attempt:    2,
				StatusCode: 503,
			},
			wantFormat: "transfer of https://example.com/a.bin failed on attempt 2 (HTTP 503)",
		},
		{
			name: "without HTTP status code",
			err: &TransferError{
				URL:     "https://example.com/a.bin",
				Attempt: 1,
				Err:     errors.New("connection reset"),
			},
			wantFormat: "transfer of https://example.com/a.bin failed on attempt 1: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestLockTimeoutError_Error verifies error message formatting
func TestLockTimeoutError_Error(t *testing.T) {
	err := &LockTimeoutError{
		Path:    "/tmp/models/a.bin.lock",
		Timeout: 5 * time.Minute,
	}

	expected := "timed out after 5m0s waiting for lock /tmp/models/a.bin.lock"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestResolutionError_Unwrap verifies error chain traversal
func TestResolutionError_Unwrap(t *testing.T) {
	cause := errors.New("no filename")
	err := &ResolutionError{
		URL:    "https://example.com/",
		Reason: "cannot infer file name",
		Err:    cause,
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestTransferError_As verifies programmatic error type detection
func TestTransferError_As(t *testing.T) {
	originalErr := &TransferError{
		URL:        "https://example.com/a.bin",
		Attempt:    3,
		StatusCode: 404,
	}

	wrapped := fmt.Errorf("context: %w", originalErr)

	var target *TransferError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract TransferError from wrapped chain")
	}

	if target.Attempt != 3 {
		t.Errorf("Attempt = %d, want %d", target.Attempt, 3)
	}
	if target.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 404)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transfer error", err: &TransferError{URL: "u", Attempt: 1}, want: true},
		{name: "wrapped transfer error", err: fmt.Errorf("attempt: %w", &TransferError{URL: "u", Attempt: 1}), want: true},
		{name: "resolution error", err: &ResolutionError{URL: "u", Reason: "bad"}, want: false},
		{name: "lock timeout", err: &LockTimeoutError{Path: "p", Timeout: time.Second}, want: false},
		{name: "parse error", err: &ParseError{Entry: "e", Reason: "bad"}, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
