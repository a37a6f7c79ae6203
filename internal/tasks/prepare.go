package tasks

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
)

// PrepareMode distinguishes a record prepared for a batch create from one created by the resolver.
type PrepareMode int

const (
	// ModeBulk keeps every reference that is already mapped.
	ModeBulk PrepareMode = iota
	// ModeRecursive leaves optional migratable references out of the create; the resolver applies them afterwards.
	ModeRecursive
)

func (m PrepareMode) String() string {
	if m == ModeRecursive {
		return "recursive"
	}
	return "bulk"
}

// Fields assigned by the store and never sent on create.
var systemFields = map[string]bool{
	"Id":                 true,
	"attributes":         true,
	"IsDeleted":          true,
	"CreatedDate":        true,
	"CreatedById":        true,
	"LastModifiedDate":   true,
	"LastModifiedById":   true,
	"SystemModstamp":     true,
	"LastActivityDate":   true,
	"LastViewedDate":     true,
	"LastReferencedDate": true,
	"MasterRecordId":     true,
}

// Note actions.
const (
	NoteExcluded      = "excluded"
	NoteDeferred      = "deferred"
	NoteDummy         = "dummy"
	NoteDropped       = "dropped"
	NoteOwnerFallback = "owner_fallback"
	NoteChoice        = "choice_fallback"
	NoteTruncated     = "truncated"
	NoteMasked        = "masked"
	NoteBypass        = "bypass"
	NoteBoolean       = "boolean"
)

// Note describes one change the preparer made to a field.
type Note struct {
	Field  string
	Action string
	Detail string
}

func (n Note) String() string {
	if n.Detail == "" {
		return n.Field + ": " + n.Action
	}
	return fmt.Sprintf("%s: %s (%s)", n.Field, n.Action, n.Detail)
}

// Policy holds the configured field rules.
type Policy struct {
	ExcludedFields       []string
	OwnerFields          []string
	FallbackOwnerID      string
	ChoiceFallback       string
	MultiChoiceDelimiter string
	MultiChoiceMaxLength int
	MaskEmails           bool
	SourceIDField        string
}

func (p Policy) excluded(field string) bool   { return contains(p.ExcludedFields, field) }
func (p Policy) ownerField(field string) bool { return contains(p.OwnerFields, field) }

func (p Policy) delimiter() string {
	if p.MultiChoiceDelimiter == "" {
		return ";"
	}
	return p.MultiChoiceDelimiter
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IDLookup is the read side of an [IdentifierMap].
type IDLookup interface {
	Get(recordType, sourceID string) (string, bool)
}

// PrepareInput is everything the preparer reads. None of it is modified.
type PrepareInput struct {
	Record  models.SourceRecord
	Fields  models.FieldSet
	IDs     IDLookup
	Dummies map[string]string // placeholder target id per referenced type
	Mode    PrepareMode
	Policy  Policy

	// Verified holds ids of external records (users, products, ...) known to exist in the target.
	Verified map[string]bool

	// BypassRecordTypeID is the target RecordType used while creating, empty for none.
	BypassRecordTypeID string
}

// Prepared is a creatable payload plus the references deferred to Phase-2.
// Patch target ids are filled in by the caller once the record exists.
type Prepared struct {
	Payload map[string]any
	Patches []*Patch
	Notes   []Note
}

type preparer struct {
	in  PrepareInput
	out Prepared
}

// Prepare turns one source record into a creatable payload.
// It returns [shared.ErrRequiredReference] when a required reference has no mapping and no placeholder.
func Prepare(in PrepareInput) (Prepared, error) {
	p := &preparer{in: in, out: Prepared{Payload: make(map[string]any)}}
	if p.in.Fields == nil {
		p.in.Fields = models.FieldSet{}
	}
	if p.in.IDs == nil {
		p.in.IDs = NewIdentifierMap()
	}

	names := make([]string, 0, len(in.Record.Fields))
	for name := range in.Record.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.field(name, in.Record.Fields[name]); err != nil {
			return Prepared{}, err
		}
	}

	p.missingRequired()

	if f := in.Policy.SourceIDField; f != "" && in.Record.ID != "" {
		p.out.Payload[f] = in.Record.ID
	}

	sort.Slice(p.out.Patches, func(i, j int) bool { return p.out.Patches[i].Field < p.out.Patches[j].Field })
	return p.out, nil
}

func (p *preparer) note(field, action, detail string) {
	p.out.Notes = append(p.out.Notes, Note{Field: field, Action: action, Detail: detail})
}

func (p *preparer) deferRef(field, refType, refID string) {
	p.out.Patches = append(p.out.Patches, &Patch{
		RecordType:  p.in.Record.Type,
		SourceID:    p.in.Record.ID,
		Field:       field,
		RefType:     refType,
		RefSourceID: refID,
	})
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func (p *preparer) field(name string, value any) error {
	if systemFields[name] {
		return nil
	}
	if p.in.Policy.excluded(name) {
		p.note(name, NoteExcluded, "")
		return nil
	}
	spec, ok := p.in.Fields[name]
	if !ok {
		// not insertable on the target
		return nil
	}
	if isEmpty(value) {
		return nil
	}

	switch {
	case p.in.Policy.ownerField(name):
		return p.owner(spec, value)
	case spec.IsReference():
		return p.reference(spec, models.ReferenceID(value))
	case spec.Kind == models.FieldReference:
		// reference with no known target type
		p.note(name, NoteDropped, "unknown reference target")
		return nil
	case spec.Kind == models.FieldChoice:
		p.choice(spec, fmt.Sprint(value))
		return nil
	case spec.Kind == models.FieldMultiChoice:
		p.multiChoice(spec, fmt.Sprint(value))
		return nil
	default:
		p.scalar(spec, value)
		return nil
	}
}

func (p *preparer) owner(spec models.FieldSpec, value any) error {
	id := models.ReferenceID(value)
	switch {
	case id != "" && p.in.Verified[id]:
		p.out.Payload[spec.Name] = id
	case p.in.Policy.FallbackOwnerID != "":
		p.out.Payload[spec.Name] = p.in.Policy.FallbackOwnerID
		p.note(spec.Name, NoteOwnerFallback, id)
	case spec.Required:
		return p.placeholder(spec, id, "owner not found in target")
	default:
		p.note(spec.Name, NoteDropped, "owner not found in target")
	}
	return nil
}

// placeholder fills a required field that cannot keep its value with the dummy for its referenced type.
func (p *preparer) placeholder(spec models.FieldSpec, refID, reason string) error {
	dummy, ok := p.in.Dummies[spec.ReferenceTarget]
	if !ok || dummy == "" {
		return fmt.Errorf("%w: %s.%s %s: %s", shared.ErrRequiredReference, p.in.Record.Type, spec.Name, reason, refID)
	}
	p.out.Payload[spec.Name] = dummy
	p.note(spec.Name, NoteDummy, refID)
	return nil
}

func (p *preparer) reference(spec models.FieldSpec, refID string) error {
	if refID == "" {
		return nil
	}
	target := CanonicalType(spec.ReferenceTarget)
	spec.ReferenceTarget = target

	if target == RecordTypeObject {
		mapped, ok := p.in.IDs.Get(RecordTypeObject, refID)
		switch {
		case p.in.BypassRecordTypeID != "":
			p.out.Payload[spec.Name] = p.in.BypassRecordTypeID
			p.note(spec.Name, NoteBypass, "")
			if ok {
				p.deferRef(spec.Name, RecordTypeObject, refID)
			}
		case ok:
			p.out.Payload[spec.Name] = mapped
		case spec.Required:
			return p.placeholder(spec, refID, "record type not mapped")
		default:
			p.note(spec.Name, NoteDropped, "record type not mapped")
		}
		return nil
	}

	if !Migratable(target) {
		return p.external(spec, refID)
	}

	if p.in.Mode == ModeRecursive && !spec.Required {
		p.deferRef(spec.Name, target, refID)
		return nil
	}

	if mapped, ok := p.in.IDs.Get(target, refID); ok {
		p.out.Payload[spec.Name] = mapped
		return nil
	}

	if spec.Required {
		dummy, ok := p.in.Dummies[target]
		if !ok || dummy == "" {
			return fmt.Errorf("%w: %s.%s references %s %s", shared.ErrRequiredReference, p.in.Record.Type, spec.Name, target, refID)
		}
		p.out.Payload[spec.Name] = dummy
		p.note(spec.Name, NoteDummy, refID)
		p.deferRef(spec.Name, target, refID)
		return nil
	}

	p.note(spec.Name, NoteDeferred, refID)
	p.deferRef(spec.Name, target, refID)
	return nil
}

// external handles references to records the engine never creates.
func (p *preparer) external(spec models.FieldSpec, refID string) error {
	if p.in.Verified[refID] {
		p.out.Payload[spec.Name] = refID
		return nil
	}
	if spec.Required {
		return p.placeholder(spec, refID, "references missing "+spec.ReferenceTarget)
	}
	p.note(spec.Name, NoteDropped, spec.ReferenceTarget+" not found in target")
	return nil
}

func (p *preparer) choice(spec models.FieldSpec, value string) {
	if len(spec.Choices) == 0 {
		if spec.Required {
			p.out.Payload[spec.Name] = value
		} else {
			p.note(spec.Name, NoteDropped, "allowed values unknown")
		}
		return
	}
	if spec.Allows(value) {
		p.out.Payload[spec.Name] = value
		return
	}
	if fb := p.in.Policy.ChoiceFallback; fb != "" && spec.Allows(fb) {
		p.out.Payload[spec.Name] = fb
		p.note(spec.Name, NoteChoice, value+" → "+fb)
		return
	}
	if spec.Required {
		p.out.Payload[spec.Name] = spec.Choices[0]
		p.note(spec.Name, NoteChoice, value+" → "+spec.Choices[0])
		return
	}
	p.note(spec.Name, NoteDropped, "invalid choice "+value)
}

func (p *preparer) multiChoice(spec models.FieldSpec, value string) {
	if len(spec.Choices) == 0 {
		if spec.Required {
			p.out.Payload[spec.Name] = value
		} else {
			p.note(spec.Name, NoteDropped, "allowed values unknown")
		}
		return
	}

	delim := p.in.Policy.delimiter()
	var kept, invalid []string
	for _, part := range strings.Split(value, delim) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if spec.Allows(part) {
			kept = append(kept, part)
		} else {
			invalid = append(invalid, part)
		}
	}
	if len(invalid) > 0 {
		p.note(spec.Name, NoteDropped, strings.Join(invalid, delim))
	}

	limit := spec.MaxLength
	if limit <= 0 {
		limit = p.in.Policy.MultiChoiceMaxLength
	}
	if limit > 0 {
		truncated := 0
		for len(kept) > 0 && utf8.RuneCountInString(strings.Join(kept, delim)) > limit {
			kept = kept[:len(kept)-1]
			truncated++
		}
		if truncated > 0 {
			p.note(spec.Name, NoteTruncated, fmt.Sprintf("%d trailing values", truncated))
		}
	}

	if len(kept) == 0 {
		if spec.Required {
			p.out.Payload[spec.Name] = spec.Choices[0]
			p.note(spec.Name, NoteChoice, "no valid values → "+spec.Choices[0])
		}
		return
	}
	p.out.Payload[spec.Name] = strings.Join(kept, delim)
}

func (p *preparer) scalar(spec models.FieldSpec, value any) {
	switch {
	case spec.DataType == "boolean":
		p.boolean(spec, value)
	case p.in.Policy.MaskEmails && isEmailField(spec):
		s, ok := value.(string)
		if !ok {
			p.out.Payload[spec.Name] = value
			return
		}
		if !hasInvalidSuffix(s) {
			s += ".invalid"
			p.note(spec.Name, NoteMasked, "")
		}
		p.out.Payload[spec.Name] = s
	default:
		p.out.Payload[spec.Name] = value
	}
}

func (p *preparer) boolean(spec models.FieldSpec, value any) {
	switch v := value.(type) {
	case bool:
		p.out.Payload[spec.Name] = v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			p.out.Payload[spec.Name] = true
		case "false":
			p.out.Payload[spec.Name] = false
		default:
			p.note(spec.Name, NoteBoolean, "unrecognized value "+v)
		}
	default:
		p.note(spec.Name, NoteBoolean, fmt.Sprintf("unrecognized value %v", v))
	}
}

func hasInvalidSuffix(s string) bool {
	return strings.HasSuffix(strings.ToLower(s), ".invalid")
}

func isEmailField(spec models.FieldSpec) bool {
	return spec.DataType == "email" || strings.Contains(strings.ToLower(spec.Name), "email")
}

// missingRequired fills required references the source record left empty.
func (p *preparer) missingRequired() {
	var names []string
	for name, spec := range p.in.Fields {
		if spec.Required && spec.IsReference() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if _, set := p.out.Payload[name]; set {
			continue
		}
		if !isEmpty(p.in.Record.Fields[name]) || p.in.Policy.excluded(name) || p.in.Policy.ownerField(name) {
			continue
		}
		spec := p.in.Fields[name]
		if dummy, ok := p.in.Dummies[spec.ReferenceTarget]; ok && dummy != "" {
			p.out.Payload[name] = dummy
			p.note(name, NoteDummy, "missing in source")
		}
	}
}
