package core

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	StatusUploading      JobStatus = "UPLOADING"
	StatusMappingPending JobStatus = "MAPPING_PENDING"
	StatusProcessing     JobStatus = "PROCESSING"
	StatusCompleted      JobStatus = "COMPLETED"
	StatusFailed         JobStatus = "FAILED"
	StatusDeleted        JobStatus = "DELETED"
)

// transitions lists the allowed targets for each state. DELETED is reachable
// from every state except itself and is handled in CanTransition.
var transitions = map[JobStatus][]JobStatus{
	StatusUploading:      {StatusMappingPending, StatusFailed},
	StatusMappingPending: {StatusProcessing},
	StatusProcessing:     {StatusCompleted, StatusFailed, StatusProcessing},
	StatusFailed:         {StatusProcessing},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusMappingPending, StatusProcessing,
		StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// Terminal reports whether no pipeline will move the job further.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeleted
}

// Resumable reports whether a job in this state may be resumed.
func (s JobStatus) Resumable() bool {
	return s == StatusFailed || s == StatusProcessing
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if to == StatusDeleted {
		return from != StatusDeleted && from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to status to, stamping timestamps and the error
// message. errMsg is only recorded for FAILED.
func (j *Job) Transition(to JobStatus, now time.Time, errMsg string) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	switch to {
	case StatusProcessing:
		t := now
		j.StartedAt = &t
		j.CompletedAt = nil
		j.Error = nil
	case StatusCompleted:
		t := now
		j.CompletedAt = &t
		j.Error = nil
	case StatusFailed:
		t := now
		j.CompletedAt = &t
		if errMsg != "" {
			msg := errMsg
			j.Error = &msg
		}
	}

	j.Status = to
	return nil
}

// Progress returns the job's counters.
func (j *Job) Progress() Progress {
	return Progress{
		TotalRows:   j.TotalRows,
		SuccessRows: j.SuccessRows,
		FailedRows:  j.FailedRows,
	}
}

// SeedForResume prepares counters for a resumed run. The new run re-reads the
// whole file, so rows already accounted for are counted again.
func (j *Job) SeedForResume() {
	j.TotalRows = j.SuccessRows + j.FailedRows
}
