package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical field names. These are the keys of a Mapping and the JSON names
// of the corresponding Candidate fields.
const (
	FieldName        = "name"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldLinkedInURL = "linkedinUrl"
	FieldJobTitle    = "jobTitle"
	FieldCompany     = "company"
	FieldLocation    = "location"
	FieldCity        = "city"
	FieldState       = "state"
	FieldCountry     = "country"
	FieldExperience  = "experience"
	FieldSkills      = "skills"
	FieldSummary     = "summary"
)

// CanonicalFields lists every canonical field in display order.
var CanonicalFields = []string{
	FieldName, FieldEmail, FieldPhone, FieldLinkedInURL,
	FieldJobTitle, FieldCompany, FieldLocation, FieldCity, FieldState, FieldCountry,
	FieldExperience, FieldSkills, FieldSummary,
}

// IsCanonicalField reports whether name is a known canonical field.
func IsCanonicalField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// Mapping associates a canonical field with the source header it is read from.
// Missing or empty entries mean the field is ignored.
type Mapping map[string]string

// ExpectedHeaders returns the distinct non-empty source headers named by the
// mapping, in canonical field order.
func (m Mapping) ExpectedHeaders() []string {
	seen := make(map[string]bool, len(m))
	var out []string
	for _, f := range CanonicalFields {
		h := strings.TrimSpace(m[f])
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// Unknown returns mapping keys that are not canonical fields, sorted.
func (m Mapping) Unknown() []string {
	var out []string
	for k := range m {
		if !IsCanonicalField(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Candidate holds the canonical, string-valued attributes of one candidate.
type Candidate struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LinkedInURL string `json:"linkedinUrl"`
	JobTitle    string `json:"jobTitle"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Experience  string `json:"experience"`
	Skills      string `json:"skills"`
	Summary     string `json:"summary"`
}

// field returns a pointer to the Candidate field for a canonical name,
// or nil for unknown names.
func (c *Candidate) field(name string) *string {
	switch name {
	case FieldName:
		return &c.Name
	case FieldEmail:
		return &c.Email
	case FieldPhone:
		return &c.Phone
	case FieldLinkedInURL:
		return &c.LinkedInURL
	case FieldJobTitle:
		return &c.JobTitle
	case FieldCompany:
		return &c.Company
	case FieldLocation:
		return &c.Location
	case FieldCity:
		return &c.City
	case FieldState:
		return &c.State
	case FieldCountry:
		return &c.Country
	case FieldExperience:
		return &c.Experience
	case FieldSkills:
		return &c.Skills
	case FieldSummary:
		return &c.Summary
	}
	return nil
}

// Record is one persisted candidate plus its provenance.
// Provenance fields are set once at creation.
type Record struct {
	Candidate
	SourceFile     string    `json:"sourceFile"`
	IngestionJobID uuid.UUID `json:"ingestionJobId"`
	IsDeleted      bool      `json:"isDeleted"`
}

// Job is the lifecycle record of one ingestion run. It is the value status
// polling clients read.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	UploadID    string     `json:"uploadId,omitempty"`
	FileName    string     `json:"fileName"`
	StorageKey  string     `json:"storageKey,omitempty"`
	ContentHash string     `json:"contentHash,omitempty"`
	Status      JobStatus  `json:"status"`
	Mapping     Mapping    `json:"mapping,omitempty"`
	Headers     []string   `json:"headers,omitempty"`
	TotalRows   int64      `json:"totalRows"`
	SuccessRows int64      `json:"successRows"`
	FailedRows  int64      `json:"failedRows"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Error       *string    `json:"error"`
}

// Progress is a counter snapshot of a job.
type Progress struct {
	TotalRows   int64
	SuccessRows int64
	FailedRows  int64
}

// JobStore persists ingestion jobs. Updates are last-writer-wins.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	FindJobByStorageKey(ctx context.Context, key string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error
}

// RecordStore persists candidate records.
//
// InsertRecords performs an unordered bulk insert. When some records could not
// be written it returns a *BulkWriteError describing how many were inserted
// and how many failed individually; records beyond Inserted+Failed were not
// attempted.
type RecordStore interface {
	InsertRecords(ctx context.Context, records []Record) (int, error)
	SoftDeleteRecords(ctx context.Context, jobID uuid.UUID) (int64, error)
	PurgeRecords(ctx context.Context, jobID uuid.UUID) (int64, error)
}

// Store is the document store the service runs against.
type Store interface {
	JobStore
	RecordStore
}
