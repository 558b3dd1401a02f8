package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackzampolin/bindery/internal/quality"
)

// Store persists conversion jobs.
type Store interface {
	// Create inserts a new job. ID, CreatedAt and UpdatedAt must be set.
	Create(ctx context.Context, job *ConversionJob) error

	// Get returns a job by ID. Soft-deleted jobs return ErrNotFound.
	Get(ctx context.Context, id string) (*ConversionJob, error)

	// List returns jobs matching filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*ConversionJob, error)

	// Update atomically reads the job, applies fn and writes the result.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(*ConversionJob) error) (*ConversionJob, error)

	// SoftDelete marks the job deleted.
	SoftDelete(ctx context.Context, id string) error

	Close() error
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	UserID   string   // empty = all users
	Statuses []Status // empty = all statuses
	Limit    int      // 0 = default 100
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f ListFilter) matches(j *ConversionJob) bool {
	if f.UserID != "" && j.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// encodedJob holds the JSON columns shared by the SQL stores.
type encodedJob struct {
	metadata []byte
	report   []byte // nil when no report
}

func encodeJob(j *ConversionJob) (encodedJob, error) {
	var enc encodedJob
	meta := j.StageMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return enc, fmt.Errorf("failed to marshal stage metadata: %w", err)
	}
	enc.metadata = b
	if j.QualityReport != nil {
		b, err := json.Marshal(j.QualityReport)
		if err != nil {
			return enc, fmt.Errorf("failed to marshal quality report: %w", err)
		}
		enc.report = b
	}
	return enc, nil
}

func decodeJSONColumns(j *ConversionJob, metadata, report []byte) error {
	j.StageMetadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.StageMetadata); err != nil {
			return fmt.Errorf("failed to decode stage metadata: %w", err)
		}
	}
	if len(report) > 0 {
		var r quality.Report
		if err := json.Unmarshal(report, &r); err != nil {
			return fmt.Errorf("failed to decode quality report: %w", err)
		}
		j.QualityReport = &r
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
