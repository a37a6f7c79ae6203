package models

import (
	"fmt"
	"time"
)

// Mapping outcomes.
const (
	OutcomeCreated = "created"
	OutcomeAdopted = "adopted"
)

// Mapping is a persisted source id → target id pair with the record's original field values.
type Mapping struct {
	id           string
	sequence     int
	runID        string
	recordType   string
	sourceID     string
	targetID     string
	outcome      string
	sourceFields map[string]any
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewMapping creates a Mapping for a freshly created target record.
func NewMapping(runID, recordType, sourceID, targetID string, fields map[string]any) *Mapping {
	now := time.Now()
	if fields == nil {
		fields = map[string]any{}
	}
	return &Mapping{
		runID:        runID,
		recordType:   recordType,
		sourceID:     sourceID,
		targetID:     targetID,
		outcome:      OutcomeCreated,
		sourceFields: fields,
		createdAt:    now,
		updatedAt:    now,
	}
}

func (m *Mapping) ID() string                   { return m.id }
func (m *Mapping) Sequence() int                { return m.sequence }
func (m *Mapping) RunID() string                { return m.runID }
func (m *Mapping) RecordType() string           { return m.recordType }
func (m *Mapping) SourceID() string             { return m.sourceID }
func (m *Mapping) TargetID() string             { return m.targetID }
func (m *Mapping) Outcome() string              { return m.outcome }
func (m *Mapping) SourceFields() map[string]any { return m.sourceFields }
func (m *Mapping) CreatedAt() time.Time         { return m.createdAt }
func (m *Mapping) UpdatedAt() time.Time         { return m.updatedAt }
func (m *Mapping) DeletedAt() *time.Time        { return m.deletedAt }

func (m *Mapping) SetID(id string)                  { m.id = id }
func (m *Mapping) SetSequence(seq int)              { m.sequence = seq }
func (m *Mapping) SetTargetID(id string)            { m.targetID = id }
func (m *Mapping) SetOutcome(o string)              { m.outcome = o }
func (m *Mapping) SetCreatedAt(t time.Time)         { m.createdAt = t }
func (m *Mapping) SetUpdatedAt(t time.Time)         { m.updatedAt = t }
func (m *Mapping) SetDeletedAt(t *time.Time)        { m.deletedAt = t }
func (m *Mapping) SetSourceFields(f map[string]any) { m.sourceFields = f }

// Validate checks required identity fields and the outcome value.
func (m *Mapping) Validate() error {
	if m.recordType == "" {
		return fmt.Errorf("record type is required")
	}
	if m.sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	if m.targetID == "" {
		return fmt.Errorf("target id is required")
	}
	if m.outcome != OutcomeCreated && m.outcome != OutcomeAdopted {
		return fmt.Errorf("invalid outcome: %s", m.outcome)
	}
	return nil
}
