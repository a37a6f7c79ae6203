package models

import (
	"fmt"
	"sort"
)

// FieldKind classifies how the engine treats a field's value.
type FieldKind int

const (
	FieldScalar FieldKind = iota
	FieldReference
	FieldChoice
	FieldMultiChoice
)

func (k FieldKind) String() string {
	switch k {
	case FieldScalar:
		return "scalar"
	case FieldReference:
		return "reference"
	case FieldChoice:
		return "choice"
	case FieldMultiChoice:
		return "multichoice"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ParseFieldKind accepts both engine names and the store's type names
// ("picklist", "multipicklist", "reference", anything else is scalar).
func ParseFieldKind(s string) FieldKind {
	switch s {
	case "reference":
		return FieldReference
	case "choice", "picklist":
		return FieldChoice
	case "multichoice", "multipicklist":
		return FieldMultiChoice
	default:
		return FieldScalar
	}
}

// FieldSpec describes one creatable field of a record type on the target.
type FieldSpec struct {
	Name            string
	Kind            FieldKind
	ReferenceTarget string   // referenced record type, references only
	Required        bool     // target rejects an empty value
	DataType        string   // store data type for scalars: boolean, email, string, ...
	Choices         []string // allowed values, choice and multichoice only
	MaxLength       int      // multichoice joined length limit, 0 uses the configured default
}

// IsReference reports whether the field holds another record's id.
func (f FieldSpec) IsReference() bool {
	return f.Kind == FieldReference && f.ReferenceTarget != ""
}

// Allows reports whether v is one of the allowed choice values.
func (f FieldSpec) Allows(v string) bool {
	for _, c := range f.Choices {
		if c == v {
			return true
		}
	}
	return false
}

// FieldSet is the schema of one record type keyed by field name.
// It is loaded once per type and read-only for the rest of a run.
type FieldSet map[string]FieldSpec

// References returns the reference fields, sorted by name.
func (fs FieldSet) References() []FieldSpec {
	var refs []FieldSpec
	for _, f := range fs {
		if f.IsReference() {
			refs = append(refs, f)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// ReferencesTo returns the reference fields pointing at recordType, sorted by name.
func (fs FieldSet) ReferencesTo(recordType string) []FieldSpec {
	var refs []FieldSpec
	for _, f := range fs.References() {
		if f.ReferenceTarget == recordType {
			refs = append(refs, f)
		}
	}
	return refs
}

// SourceRecord is an immutable view of a record fetched from the source store.
type SourceRecord struct {
	Type   string
	ID     string
	Fields map[string]any
}

// NewSourceRecord copies fields so later mutation by the caller does not leak in.
func NewSourceRecord(recordType, id string, fields map[string]any) SourceRecord {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return SourceRecord{Type: recordType, ID: id, Fields: cp}
}

// Get returns the raw value of a field.
func (r SourceRecord) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// Reference returns the referenced id stored in field, unwrapping nested
// reference objects ({"Id": ...}). Empty when unset.
func (r SourceRecord) Reference(field string) string {
	return ReferenceID(r.Fields[field])
}

// String returns a field's value formatted as text, empty when unset.
func (r SourceRecord) String(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a mutable copy of the record's fields.
func (r SourceRecord) Clone() map[string]any {
	cp := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp[k] = v
	}
	return cp
}

// ReferenceID extracts an id from a plain string or a nested reference object.
func ReferenceID(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if id, ok := val["Id"].(string); ok {
			return id
		}
	}
	return ""
}
