// package services defines the record store and field schema contracts the migration engine runs against
//
// REST record store, YAML and CSV schema files
package services

import (
	"context"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
)

// RecordStore is a source or target record store.
type RecordStore interface {
	// Fetch retrieves one record by id. Returns [shared.ErrRecordNotFound] when it does not exist.
	Fetch(ctx context.Context, recordType, id string) (models.SourceRecord, error)

	// Query retrieves the records of a type matching every condition in q.
	Query(ctx context.Context, recordType string, q Query) ([]models.SourceRecord, error)

	// Create inserts one record and returns its new id.
	// Validation failures are returned as [*StoreError].
	Create(ctx context.Context, recordType string, data map[string]any) (string, error)

	// CreateBatch inserts records in one call and returns one result per input, in order.
	// A non-nil error means the whole call failed and no result is meaningful.
	CreateBatch(ctx context.Context, recordType string, data []map[string]any) ([]BatchResult, error)

	// Update sets the given fields on an existing record.
	Update(ctx context.Context, recordType, id string, data map[string]any) error

	// Exists reports whether a record with the id exists.
	Exists(ctx context.Context, recordType, id string) (bool, error)

	// Delete removes a record.
	Delete(ctx context.Context, recordType, id string) error

	// Name returns the configured store name (e.g., "production", "sandbox")
	Name() string
}

// SchemaProvider supplies the creatable fields of each record type on the target.
//
// LoadFields must be idempotent. A type with no schema yields an empty [models.FieldSet], not an error.
type SchemaProvider interface {
	LoadFields(recordType string) (models.FieldSet, error)
}

// Operators understood by every [RecordStore].
const (
	OpEquals    = "="
	OpNotEquals = "!="
	OpIn        = "in"
	OpNotIn     = "not in"
)

// Condition is one predicate of a [Query].
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Where builds an equality condition.
func Where(field string, value any) Condition {
	return Condition{Field: field, Op: OpEquals, Value: value}
}

// WhereNot builds an inequality condition. A nil value matches every record where the field is set.
func WhereNot(field string, value any) Condition {
	return Condition{Field: field, Op: OpNotEquals, Value: value}
}

// WhereIn builds a membership condition.
func WhereIn(field string, values []string) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Query selects records. Limit <= 0 means no limit.
type Query struct {
	Conditions []Condition `json:"where,omitempty"`
	OrderBy    string      `json:"order_by,omitempty"`
	Descending bool        `json:"descending,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// BatchResult is the outcome of one record within [RecordStore.CreateBatch].
type BatchResult struct {
	ID  string
	Err error
}

// OK reports whether the record was created.
func (r BatchResult) OK() bool {
	return r.Err == nil && r.ID != ""
}
