package store

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/internal/model"
)

// ErrNotFound is returned when no job with the given id exists.
var ErrNotFound = errors.New("job not found")

// ErrAlreadyExists is returned when creating a job whose id is already taken.
// It backs the scheduler's duplicate-submission rejection.
var ErrAlreadyExists = errors.New("job already exists")

// ErrInvalidTransition is returned when a mutator attempts a status change
// the lifecycle state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store is the single source of truth for job lifecycle state.
//
// UpdateJob applies the mutator to the current record inside one transaction:
// concurrent writers never interleave partial writes, and each writer
// observes the record exactly as the previous writer left it. Readers always
// see a fully-formed record.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJob(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error)
	Stats(ctx context.Context) (*JobStats, error)
	Close() error
}
