package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrJobNotFound is returned when no job exists for an id or storage key.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrJobActive is returned when a pipeline for the job is already queued or running.
	ErrJobActive = errors.New("job is active")

	// ErrQueueFull is returned when the work queue cannot accept another job.
	ErrQueueFull = errors.New("job queue is full")

	// ErrHeaderTimeout is returned when header discovery exceeds its bounded wait.
	ErrHeaderTimeout = errors.New("header discovery timed out")

	// ErrTransient marks storage failures worth retrying.
	ErrTransient = errors.New("transient storage error")

	// ErrDuplicate marks uniqueness-constraint failures.
	ErrDuplicate = errors.New("duplicate key")

	// ErrUploadIncomplete is returned when a chunk arrives for an unknown upload.
	ErrUploadIncomplete = errors.New("upload not found")

	// ErrInvalidChunk is returned for chunk indices outside [0, totalChunks).
	ErrInvalidChunk = errors.New("invalid chunk index")

	// ErrNoFile is returned when a chunk request carries no file.
	ErrNoFile = errors.New("no file provided")

	// ErrEmptyFile is returned when no header line can be read from a file.
	ErrEmptyFile = errors.New("empty file")

	// ErrInvalidMapping is returned when a mapping names unknown fields or no fields at all.
	ErrInvalidMapping = errors.New("invalid field mapping")
)

// BulkWriteError reports a partially applied bulk insert.
type BulkWriteError struct {
	Inserted int
	Failed   int
	Err      error
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write: %d inserted, %d failed: %v", e.Inserted, e.Failed, e.Err)
}

func (e *BulkWriteError) Unwrap() error { return e.Err }

// StreamFatalError wraps a failure of the source byte stream. It ends the job
// as FAILED.
type StreamFatalError struct {
	Err error
}

func (e *StreamFatalError) Error() string {
	return "source stream: " + e.Err.Error()
}

func (e *StreamFatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a connectivity failure that may succeed
// on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsDuplicate reports whether err is a uniqueness-constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
