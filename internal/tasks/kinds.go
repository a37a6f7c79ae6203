package tasks

import "strings"

// Kind is one of the record types the engine knows how to migrate.
type Kind int

const (
	KindAccount Kind = iota
	KindContact
	KindOpportunity
	KindQuote
	KindQuoteLineItem
	KindOrder
	KindOrderItem
	KindCase
)

// RecordTypeObject is the store type holding record type definitions. Its ids are mapped by DeveloperName.
const RecordTypeObject = "RecordType"

var allKinds = []Kind{
	KindAccount,
	KindContact,
	KindOpportunity,
	KindQuote,
	KindQuoteLineItem,
	KindOrder,
	KindOrderItem,
	KindCase,
}

// Kinds returns every migratable kind in dependency order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// String returns the store type name.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "Account"
	case KindContact:
		return "Contact"
	case KindOpportunity:
		return "Opportunity"
	case KindQuote:
		return "Quote"
	case KindQuoteLineItem:
		return "QuoteLineItem"
	case KindOrder:
		return "Order"
	case KindOrderItem:
		return "OrderItem"
	case KindCase:
		return "Case"
	default:
		return ""
	}
}

// ParseKind maps a store type name onto a Kind. Types outside the set are external.
func ParseKind(recordType string) (Kind, bool) {
	for _, k := range allKinds {
		if strings.EqualFold(k.String(), recordType) {
			return k, true
		}
	}
	return 0, false
}

// CanonicalType returns the store spelling of a migratable or record type name matched
// without regard to case. Other names are returned unchanged.
func CanonicalType(recordType string) string {
	if k, ok := ParseKind(recordType); ok {
		return k.String()
	}
	if strings.EqualFold(recordType, RecordTypeObject) {
		return RecordTypeObject
	}
	return recordType
}

// Migratable reports whether records of recordType are created by the engine.
func Migratable(recordType string) bool {
	_, ok := ParseKind(recordType)
	return ok
}

// Variant carries the per-kind behaviour the generic resolver is parameterized over.
type Variant struct {
	Kind             Kind
	NaturalKey       []string // fields matched to find an existing target record
	BypassRecordType string   // DeveloperName used while creating, restored in Phase-2
	BulkCreate       bool     // created in waves through batch creates
}

// Type returns the store type name.
func (v Variant) Type() string { return v.Kind.String() }

// Bulk reports whether the kind is created in waves through batch creates.
// Everything else goes through the single-record resolver.
func (v Variant) Bulk() bool { return v.BulkCreate }

// Variants is the closed registry of kinds.
type Variants map[Kind]Variant

// DefaultVariants returns the built-in natural keys and bypass record types.
func DefaultVariants() Variants {
	return Variants{
		KindAccount:       {Kind: KindAccount, NaturalKey: []string{"Name"}, BulkCreate: true},
		KindContact:       {Kind: KindContact, NaturalKey: []string{"FirstName", "LastName", "Email"}},
		KindOpportunity:   {Kind: KindOpportunity, NaturalKey: []string{"Name", "CloseDate"}, BypassRecordType: "Bypass"},
		KindQuote:         {Kind: KindQuote, NaturalKey: []string{"Name"}},
		KindQuoteLineItem: {Kind: KindQuoteLineItem},
		KindOrder:         {Kind: KindOrder},
		KindOrderItem:     {Kind: KindOrderItem},
		KindCase:          {Kind: KindCase, NaturalKey: []string{"Subject"}},
	}
}

// WithOverrides returns a copy with configured natural keys and bypass record types applied.
// Nil maps leave the defaults untouched; an empty key list disables natural-key lookup.
func (vs Variants) WithOverrides(naturalKeys map[string][]string, bypass map[string]string) Variants {
	out := make(Variants, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	if naturalKeys != nil {
		for name, fields := range naturalKeys {
			if k, ok := ParseKind(name); ok {
				v := out[k]
				v.NaturalKey = append([]string(nil), fields...)
				out[k] = v
			}
		}
	}
	if bypass != nil {
		for k, v := range out {
			v.BypassRecordType = ""
			out[k] = v
		}
		for name, dev := range bypass {
			if k, ok := ParseKind(name); ok {
				v := out[k]
				v.BypassRecordType = dev
				out[k] = v
			}
		}
	}
	return out
}

// For returns the variant of recordType.
func (vs Variants) For(recordType string) (Variant, bool) {
	k, ok := ParseKind(recordType)
	if !ok {
		return Variant{}, false
	}
	v, ok := vs[k]
	if !ok {
		v = Variant{Kind: k}
	}
	return v, true
}
