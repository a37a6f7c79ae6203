package models

import (
	"fmt"
	"sort"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run records one migration run and its per-type summary.
type Run struct {
	id           string
	sequence     int
	sourceName   string
	targetName   string
	status       string
	counts       map[string]TypeCounts
	errorMessage string
	startedAt    time.Time
	completedAt  *time.Time
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewRun creates a Run in the running state.
func NewRun(id, sourceName, targetName string) *Run {
	now := time.Now()
	return &Run{
		id:         id,
		sourceName: sourceName,
		targetName: targetName,
		status:     RunRunning,
		counts:     map[string]TypeCounts{},
		startedAt:  now,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (r *Run) ID() string                        { return r.id }
func (r *Run) Sequence() int                     { return r.sequence }
func (r *Run) SourceName() string                { return r.sourceName }
func (r *Run) TargetName() string                { return r.targetName }
func (r *Run) Status() string                    { return r.status }
func (r *Run) Counts() map[string]TypeCounts     { return r.counts }
func (r *Run) ErrorMessage() string              { return r.errorMessage }
func (r *Run) StartedAt() time.Time              { return r.startedAt }
func (r *Run) CompletedAt() *time.Time           { return r.completedAt }
func (r *Run) CreatedAt() time.Time              { return r.createdAt }
func (r *Run) UpdatedAt() time.Time              { return r.updatedAt }
func (r *Run) DeletedAt() *time.Time             { return r.deletedAt }
func (r *Run) SetID(id string)                   { r.id = id }
func (r *Run) SetSequence(seq int)               { r.sequence = seq }
func (r *Run) SetStatus(s string)                { r.status = s }
func (r *Run) SetErrorMessage(msg string)        { r.errorMessage = msg }
func (r *Run) SetStartedAt(t time.Time)          { r.startedAt = t }
func (r *Run) SetCompletedAt(t *time.Time)       { r.completedAt = t }
func (r *Run) SetCreatedAt(t time.Time)          { r.createdAt = t }
func (r *Run) SetUpdatedAt(t time.Time)          { r.updatedAt = t }
func (r *Run) SetDeletedAt(t *time.Time)         { r.deletedAt = t }
func (r *Run) SetCounts(c map[string]TypeCounts) { r.counts = c }

// Complete marks the run finished with the given summary. A non-nil err marks it failed.
func (r *Run) Complete(counts map[string]TypeCounts, err error) {
	now := time.Now()
	r.counts = counts
	r.completedAt = &now
	r.status = RunCompleted
	if err != nil {
		r.status = RunFailed
		r.errorMessage = err.Error()
	}
}

// Types returns the record types with counts, sorted.
func (r *Run) Types() []string {
	types := make([]string, 0, len(r.counts))
	for t := range r.counts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks the run's status and store names.
func (r *Run) Validate() error {
	if r.sourceName == "" || r.targetName == "" {
		return fmt.Errorf("source and target names are required")
	}
	switch r.status {
	case RunRunning, RunCompleted, RunFailed:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", r.status)
	}
}
