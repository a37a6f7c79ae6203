package testing

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
)

// Store operation names counted by [MemoryStore.Calls].
const (
	OpFetch       = "fetch"
	OpQuery       = "query"
	OpCreate      = "create"
	OpCreateBatch = "create_batch"
	OpUpdate      = "update"
	OpExists      = "exists"
	OpDelete      = "delete"
)

// MemoryStore is an in-memory [services.RecordStore].
//
// Hooks run before the store mutates anything; a non-nil error is returned to the caller as is.
type MemoryStore struct {
	mu      sync.Mutex
	name    string
	records map[string]map[string]map[string]any
	order   map[string][]string
	seq     int
	calls   map[string]int
	updates []UpdateCall

	// Unique names one field per record type whose values must be distinct. A create that
	// repeats a value fails with a duplicate error carrying the existing id.
	Unique map[string]string

	CreateHook func(recordType string, data map[string]any) error
	UpdateHook func(recordType, id string, data map[string]any) error
	FetchHook  func(recordType, id string) error
	QueryHook  func(recordType string, q services.Query) error
	DeleteHook func(recordType, id string) error

	// BatchErr fails every CreateBatch call as a whole.
	BatchErr error
	// BatchHook rewrites CreateBatch results after the records were stored.
	BatchHook func(recordType string, results []services.BatchResult) []services.BatchResult
}

// UpdateCall is one recorded Update.
type UpdateCall struct {
	Type string
	ID   string
	Data map[string]any
}

// NewMemoryStore creates an empty store. Generated ids are prefixed with name, which should be alphanumeric.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		records: make(map[string]map[string]map[string]any),
		order:   make(map[string][]string),
		calls:   make(map[string]int),
		Unique:  make(map[string]string),
	}
}

func (s *MemoryStore) Name() string { return s.name }

// Add stores a record under a fixed id without counting a call.
func (s *MemoryStore) Add(recordType, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(recordType, id, fields)
}

// Record returns a copy of a stored record's fields.
func (s *MemoryStore) Record(recordType, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.records[recordType][id]
	if !ok {
		return nil, false
	}
	return copyFields(fields), true
}

// IDs returns the ids of recordType in insertion order.
func (s *MemoryStore) IDs(recordType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order[recordType]...)
}

// Count returns the number of stored records of recordType.
func (s *MemoryStore) Count(recordType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[recordType])
}

// Calls returns how many times op was called.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Writes returns the number of create, batch create and update calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpCreate] + s.calls[OpCreateBatch] + s.calls[OpUpdate]
}

// Updates returns every recorded Update in call order.
func (s *MemoryStore) Updates() []UpdateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UpdateCall(nil), s.updates...)
}

// ResetCalls clears call counters and recorded updates.
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.updates = nil
}

func (s *MemoryStore) Fetch(ctx context.Context, recordType, id string) (models.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpFetch]++
	if s.FetchHook != nil {
		if err := s.FetchHook(recordType, id); err != nil {
			return models.SourceRecord{}, err
		}
	}
	fields, ok := s.records[recordType][id]
	if !ok {
		return models.SourceRecord{}, notFound(recordType, id)
	}
	return models.NewSourceRecord(recordType, id, fields), nil
}

func (s *MemoryStore) Query(ctx context.Context, recordType string, q services.Query) ([]models.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpQuery]++
	if s.QueryHook != nil {
		if err := s.QueryHook(recordType, q); err != nil {
			return nil, err
		}
	}

	var out []models.SourceRecord
	for _, id := range s.order[recordType] {
		fields, ok := s.records[recordType][id]
		if !ok || !matches(id, fields, q.Conditions) {
			continue
		}
		out = append(out, models.NewSourceRecord(recordType, id, fields))
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].String(q.OrderBy), out[j].String(q.OrderBy)
			if q.Descending {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, recordType string, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpCreate]++
	return s.create(recordType, data)
}

func (s *MemoryStore) CreateBatch(ctx context.Context, recordType string, data []map[string]any) ([]services.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpCreateBatch]++
	if s.BatchErr != nil {
		return nil, s.BatchErr
	}
	results := make([]services.BatchResult, len(data))
	for i, d := range data {
		id, err := s.create(recordType, d)
		results[i] = services.BatchResult{ID: id, Err: err}
	}
	if s.BatchHook != nil {
		results = s.BatchHook(recordType, results)
	}
	return results, nil
}

func (s *MemoryStore) Update(ctx context.Context, recordType, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpUpdate]++
	s.updates = append(s.updates, UpdateCall{Type: recordType, ID: id, Data: copyFields(data)})
	if s.UpdateHook != nil {
		if err := s.UpdateHook(recordType, id, data); err != nil {
			return err
		}
	}
	fields, ok := s.records[recordType][id]
	if !ok {
		return notFound(recordType, id)
	}
	for k, v := range data {
		fields[k] = v
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, recordType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpExists]++
	_, ok := s.records[recordType][id]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, recordType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpDelete]++
	if s.DeleteHook != nil {
		if err := s.DeleteHook(recordType, id); err != nil {
			return err
		}
	}
	if _, ok := s.records[recordType][id]; !ok {
		return notFound(recordType, id)
	}
	delete(s.records[recordType], id)
	ids := s.order[recordType][:0]
	for _, other := range s.order[recordType] {
		if other != id {
			ids = append(ids, other)
		}
	}
	s.order[recordType] = ids
	return nil
}

func (s *MemoryStore) create(recordType string, data map[string]any) (string, error) {
	if s.CreateHook != nil {
		if err := s.CreateHook(recordType, data); err != nil {
			return "", err
		}
	}
	if field, ok := s.Unique[recordType]; ok {
		if value, set := data[field]; set {
			for _, id := range s.order[recordType] {
				if fmt.Sprint(s.records[recordType][id][field]) == fmt.Sprint(value) {
					se := services.NewStoreError(http.StatusBadRequest, services.CodeDuplicateValue,
						fmt.Sprintf("duplicate value found: %s duplicates value on record with id: %s", field, id), field)
					se.DuplicateID = id
					return "", se
				}
			}
		}
	}
	s.seq++
	id := fmt.Sprintf("%s%s%04d", s.name, recordType, s.seq)
	s.put(recordType, id, data)
	return id, nil
}

func (s *MemoryStore) put(recordType, id string, fields map[string]any) {
	if s.records[recordType] == nil {
		s.records[recordType] = make(map[string]map[string]any)
	}
	if _, exists := s.records[recordType][id]; !exists {
		s.order[recordType] = append(s.order[recordType], id)
	}
	s.records[recordType][id] = copyFields(fields)
}

func notFound(recordType, id string) error {
	return services.NewStoreError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %s not found", recordType, id))
}

func matches(id string, fields map[string]any, conds []services.Condition) bool {
	for _, c := range conds {
		var value string
		if c.Field == "Id" {
			value = id
		} else {
			value = models.ReferenceID(fields[c.Field])
			if value == "" && fields[c.Field] != nil {
				value = fmt.Sprint(fields[c.Field])
			}
		}

		switch c.Op {
		case services.OpEquals:
			if value != fmt.Sprint(c.Value) {
				return false
			}
		case services.OpNotEquals:
			if c.Value == nil {
				if value == "" {
					return false
				}
			} else if value == fmt.Sprint(c.Value) {
				return false
			}
		case services.OpIn:
			if !inList(value, c.Value) {
				return false
			}
		case services.OpNotIn:
			if inList(value, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func inList(value string, list any) bool {
	values, _ := list.([]string)
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func copyFields(fields map[string]any) map[string]any {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}

// StaticSchema is a [services.SchemaProvider] over fixed field sets. Unknown types have no fields.
type StaticSchema map[string]models.FieldSet

func (s StaticSchema) LoadFields(recordType string) (models.FieldSet, error) {
	if fs, ok := s[recordType]; ok {
		return fs, nil
	}
	return models.FieldSet{}, nil
}
