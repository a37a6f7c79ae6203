package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

const mappingColumns = `
	id, sequence, run_id, record_type, source_id, target_id, outcome,
	source_fields, created_at, updated_at, deleted_at
`

// MappingRepository implements models.Repository[*models.Mapping] for the record_mappings table.
//
// It is also the engine's mapping sink and resume source: at most one live row exists per
// (record type, source id), so saving a mapping that is already present updates it in place.
type MappingRepository struct {
	db *sql.DB
}

// NewMappingRepository creates a new MappingRepository with the given database connection
func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// Create inserts a new mapping with a generated ID and sequence
func (r *MappingRepository) Create(m *models.Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "record_mappings")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	fields, err := json.Marshal(m.SourceFields())
	if err != nil {
		return fmt.Errorf("failed to encode source fields: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO record_mappings (
			id, sequence, run_id, record_type, source_id, target_id, outcome,
			source_fields, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		nullable(m.RunID()),
		m.RecordType(),
		m.SourceID(),
		m.TargetID(),
		m.Outcome(),
		string(fields),
		m.CreatedAt(),
		m.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mapping: %w", err)
	}

	m.SetID(id)
	m.SetSequence(sequence)
	return nil
}

// Get retrieves a mapping by ID, excluding soft-deleted mappings
func (r *MappingRepository) Get(id string) (*models.Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM record_mappings WHERE id = ? AND deleted_at IS NULL`
	return r.scan(r.db.QueryRow(query, id))
}

// GetBySourceID retrieves the live mapping of a source record.
func (r *MappingRepository) GetBySourceID(recordType, sourceID string) (*models.Mapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM record_mappings
		WHERE record_type = ? AND source_id = ? AND deleted_at IS NULL
	`
	return r.scan(r.db.QueryRow(query, recordType, sourceID))
}

// Update rewrites a mapping's target, outcome, run and source fields
func (r *MappingRepository) Update(m *models.Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fields, err := json.Marshal(m.SourceFields())
	if err != nil {
		return fmt.Errorf("failed to encode source fields: %w", err)
	}

	now := time.Now()
	m.SetUpdatedAt(now)

	query := `
		UPDATE record_mappings
		SET run_id = ?, target_id = ?, outcome = ?, source_fields = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, nullable(m.RunID()), m.TargetID(), m.Outcome(), string(fields), now, m.ID())
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}
	return affected(result, m.ID(), shared.ErrMappingNotFound)
}

// Delete soft-deletes a mapping by ID
func (r *MappingRepository) Delete(id string) error {
	query := `UPDATE record_mappings SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return affected(result, id, shared.ErrMappingNotFound)
}

// SoftDeleteAll soft-deletes every live mapping and returns how many were removed.
func (r *MappingRepository) SoftDeleteAll() (int64, error) {
	result, err := r.db.Exec(`UPDATE record_mappings SET deleted_at = ? WHERE deleted_at IS NULL`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete mappings: %w", err)
	}
	return result.RowsAffected()
}

// List retrieves live mappings, optionally filtered by "run_id", "record_type" and "outcome",
// in the order they were saved.
func (r *MappingRepository) List(criteria map[string]any) ([]*models.Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM record_mappings WHERE deleted_at IS NULL`
	args := []any{}

	for _, column := range []string{"run_id", "record_type", "outcome"} {
		if v, ok := criteria[column].(string); ok && v != "" {
			query += " AND " + column + " = ?"
			args = append(args, v)
		}
	}
	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.Mapping
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return mappings, nil
}

// Counts returns the number of live mappings per record type.
func (r *MappingRepository) Counts() (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT record_type, COUNT(*)
		FROM record_mappings
		WHERE deleted_at IS NULL
		GROUP BY record_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			recordType string
			n          int
		)
		if err := rows.Scan(&recordType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan mapping count: %w", err)
		}
		counts[recordType] = n
	}
	return counts, rows.Err()
}

// SaveMapping stores a mapping reported by the engine, replacing the live row for the same source record.
func (r *MappingRepository) SaveMapping(runID, recordType, sourceID, targetID, outcome string, fields map[string]any) error {
	m := models.NewMapping(runID, recordType, sourceID, targetID, fields)
	m.SetOutcome(outcome)

	existing, err := r.GetBySourceID(recordType, sourceID)
	switch {
	case errors.Is(err, shared.ErrMappingNotFound):
		return r.Create(m)
	case err != nil:
		return err
	}

	m.SetID(existing.ID())
	return r.Update(m)
}

// LoadMappings returns every live mapping keyed by record type then source id.
func (r *MappingRepository) LoadMappings() (map[string]map[string]string, error) {
	rows, err := r.db.Query(`
		SELECT record_type, source_id, target_id
		FROM record_mappings
		WHERE deleted_at IS NULL
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var recordType, sourceID, targetID string
		if err := rows.Scan(&recordType, &sourceID, &targetID); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if out[recordType] == nil {
			out[recordType] = make(map[string]string)
		}
		out[recordType][sourceID] = targetID
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *MappingRepository) scan(row scanner) (*models.Mapping, error) {
	var (
		id           string
		sequence     int
		runID        sql.NullString
		recordType   string
		sourceID     string
		targetID     string
		outcome      string
		sourceFields string
		createdAt    time.Time
		updatedAt    time.Time
		deletedAt    sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &runID, &recordType, &sourceID, &targetID, &outcome,
		&sourceFields, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(sourceFields), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode source fields of mapping %s: %w", id, err)
	}

	m := models.NewMapping(runID.String, recordType, sourceID, targetID, fields)
	m.SetID(id)
	m.SetSequence(sequence)
	m.SetOutcome(outcome)
	m.SetCreatedAt(createdAt)
	m.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		m.SetDeletedAt(&deletedAt.Time)
	}
	return m, nil
}
