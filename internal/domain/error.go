package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobLocked         = errors.New("job is claimed by another worker")
	ErrCorruptCheckpoint = errors.New("checkpoint file is corrupt or truncated")
	ErrNonRecoverable    = errors.New("remote batch is not recoverable")

	// Infra plumbing
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
)

// EmptyInputError is returned by the splitter for inputs without a single record.
type EmptyInputError struct {
	Path string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty input: %s has no records", e.Path)
}

// ChunkTooLargeError reports a part that still exceeds the byte ceiling after
// line-based splitting, which only happens when a single record is larger than
// the ceiling.
type ChunkTooLargeError struct {
	Path           string
	Part           int
	Size           int64
	Ceiling        int64
	SuggestedParts int
}

func (e *ChunkTooLargeError) Error() string {
	return fmt.Sprintf("chunk %d of %s is %d bytes, ceiling is %d bytes (try --parts=%d or raise the ceiling)",
		e.Part, e.Path, e.Size, e.Ceiling, e.SuggestedParts)
}

// MisalignedInputError is returned when correlated streams disagree on their line count.
type MisalignedInputError struct {
	Path     string
	Lines    int
	Expected int
}

func (e *MisalignedInputError) Error() string {
	return fmt.Sprintf("correlated input %s has %d lines, expected %d", e.Path, e.Lines, e.Expected)
}

// QuotaExceededError means the remote service is already running its maximum
// number of concurrent batches. Callers retry later; nothing was uploaded.
type QuotaExceededError struct {
	Active int
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("remote batch quota exceeded: %d active, limit %d", e.Active, e.Limit)
}

// UploadTimeoutError discloses how far the submission got before the deadline.
// When Uploaded is true the file exists remotely under InputRef and must not be
// uploaded again.
type UploadTimeoutError struct {
	Path     string
	Timeout  time.Duration
	Uploaded bool
	InputRef string
	Err      error
}

func (e *UploadTimeoutError) Error() string {
	if e.Uploaded {
		return fmt.Sprintf("batch creation timed out after %s (input already uploaded as %s)", e.Timeout, e.InputRef)
	}
	return fmt.Sprintf("upload of %s timed out after %s (nothing uploaded)", e.Path, e.Timeout)
}

func (e *UploadTimeoutError) Unwrap() error { return e.Err }

// BatchCreateError is returned when the upload succeeded but the batch could
// not be created, leaving an orphaned input file.
type BatchCreateError struct {
	InputRef string
	Err      error
}

func (e *BatchCreateError) Error() string {
	return fmt.Sprintf("create batch for uploaded input %s: %v", e.InputRef, e.Err)
}

func (e *BatchCreateError) Unwrap() error { return e.Err }

// ItemError is a non-2xx answer from the downstream per-item API.
type ItemError struct {
	StatusCode int
	Message    string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("downstream returned %d: %s", e.StatusCode, e.Message)
}

// CorrelationIDError is returned by the strict correlation ID parser.
type CorrelationIDError struct {
	Input  string
	Reason string
}

func (e *CorrelationIDError) Error() string {
	return fmt.Sprintf("malformed correlation id %q: %s", e.Input, e.Reason)
}

// SourceError wraps a failure to read a job's source data. It is fatal for
// the invocation but the job stays resumable.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, rate limiting and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie.StatusCode == 429 || ie.StatusCode == 408 || ie.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}
