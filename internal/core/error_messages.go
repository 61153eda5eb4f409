package core

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up. Code families:
//
//	JOB  job lifecycle          HDR  header discovery
//	DB   document store         FILE stored files and chunk bodies
//	UPL  chunked uploads        REQ  malformed requests
//	RATE rate limiting          ERR000 nothing matched
//
// Errors from this package are matched by identity with errors.Is. Errors
// from drivers and the HTTP stack are matched by case-insensitive substring,
// first hit wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ingest/internal/blob"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type catalogEntry struct {
	target   error
	patterns []string
	msg      UserMessage
}

func entry(code, message, action string, target error, patterns ...string) catalogEntry {
	return catalogEntry{
		target:   target,
		patterns: patterns,
		msg:      UserMessage{Message: message, Action: action, Code: code},
	}
}

// Order matters: ErrHeaderTimeout must precede context.DeadlineExceeded and
// the generic "timeout" pattern.
var catalog = []catalogEntry{
	entry("JOB001", "Ingestion job not found", "Check the job id or list recent jobs", ErrJobNotFound),
	entry("JOB002", "This job is already queued or running", "Wait for it to finish before resuming or deleting it", ErrJobActive),
	entry("JOB003", "Too many jobs are waiting to be processed", "Please try again once current jobs finish", ErrQueueFull),
	entry("JOB004", "The job cannot do that in its current status", "Refresh the job status and try again", ErrInvalidTransition),
	entry("JOB005", "The field mapping is not valid", "Map canonical fields to headers present in the file", ErrInvalidMapping),

	entry("HDR001", "Reading the file headers took too long", "Please try again or check that the file is a delimited text file", ErrHeaderTimeout),

	entry("DB001", "A record with this ID already exists", "Purge the job's records before reprocessing", ErrDuplicate, "duplicate key"),
	entry("DB008", "Storage was temporarily unavailable", "Resume the job to try again", ErrTransient),
	entry("DB004", "Unable to connect to database", "Please try again in a few moments", nil, "connection refused"),
	entry("DB005", "Database connection was interrupted", "Please try again", nil, "connection reset"),
	entry("DB007", "Database was busy with conflicting operations", "Please try again", nil, "deadlock"),

	entry("FILE001", "Chunk exceeds the maximum chunk size", "Send the file in smaller chunks", nil, "request body too large"),
	entry("FILE002", "The stored file could not be found", "Upload the file again", blob.ErrNotFound),
	entry("FILE003", "File contains invalid characters", "Save file as UTF-8 encoding", nil, "encoding error"),
	entry("FILE004", "No file chunk was sent", `Attach the chunk in the "chunk" form field`, ErrNoFile),
	entry("FILE005", "The uploaded file is empty", "Please upload a file with a header row and data rows", ErrEmptyFile),

	entry("UPL001", "Chunk index or count is invalid", "Send chunks in order starting at index 0", ErrInvalidChunk, "invalid chunk"),
	entry("UPL002", "System is busy processing other uploads", "Please wait a moment and try again", ErrTooManyUploads),
	entry("UPL003", "Upload session not found", "The upload may have expired. Please start a new upload", ErrUploadIncomplete),
	entry("UPL004", "Request was cancelled", "Please try again", context.Canceled),
	entry("UPL005", "Request timed out", "Try a smaller chunk or check your connection", context.DeadlineExceeded),

	entry("REQ001", "The request is malformed", "Check the request parameters and body", nil, "invalid request"),
	entry("RATE001", "Too many requests", "Please wait a moment before trying again", nil, "rate limit"),
	entry("DB006", "Operation timed out", "Please try again later", nil, "timeout"),
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. If nothing
// matches, the ERR000 fallback is returned.
//
//	msg := MapError(fmt.Errorf("lookup: %w", ErrJobNotFound))
//	// msg.Code == "JOB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, e := range catalog {
		if e.target != nil && errors.Is(err, e.target) {
			return e.msg
		}
	}
	text := strings.ToLower(err.Error())
	for _, e := range catalog {
		for _, p := range e.patterns {
			if strings.Contains(text, p) {
				return e.msg
			}
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
