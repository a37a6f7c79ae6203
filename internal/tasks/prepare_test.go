package tasks

import (
	"errors"
	"testing"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contactFields = models.FieldSet{
	"LastName":     {Name: "LastName", Kind: models.FieldScalar, Required: true},
	"Email":        {Name: "Email", Kind: models.FieldScalar, DataType: "email"},
	"AccountId":    {Name: "AccountId", Kind: models.FieldReference, ReferenceTarget: "Account"},
	"ReportsToId":  {Name: "ReportsToId", Kind: models.FieldReference, ReferenceTarget: "Contact"},
	"OwnerId":      {Name: "OwnerId", Kind: models.FieldReference, ReferenceTarget: "User"},
	"Level__c":     {Name: "Level__c", Kind: models.FieldChoice, Choices: []string{"Primary", "Secondary", "Other"}},
	"Status__c":    {Name: "Status__c", Kind: models.FieldChoice, Required: true, Choices: []string{"Active", "Inactive"}},
	"Languages__c": {Name: "Languages__c", Kind: models.FieldMultiChoice, Choices: []string{"English", "French", "German"}, MaxLength: 14},
	"Cuisine__c":   {Name: "Cuisine__c", Kind: models.FieldMultiChoice, Choices: []string{"Café", "Crème", "Thé"}, MaxLength: 10},
	"DoNotCall":    {Name: "DoNotCall", Kind: models.FieldScalar, DataType: "boolean"},
	"Trigger__c":   {Name: "Trigger__c", Kind: models.FieldScalar},
}

var defaultPolicy = Policy{
	ExcludedFields:       []string{"Trigger__c"},
	OwnerFields:          []string{"OwnerId"},
	ChoiceFallback:       "Other",
	MultiChoiceDelimiter: ";",
	MultiChoiceMaxLength: 255,
	MaskEmails:           true,
}

func contact(id string, fields map[string]any) models.SourceRecord {
	return models.NewSourceRecord("Contact", id, fields)
}

func TestPrepareFieldFiltering(t *testing.T) {
	rec := contact("c1", map[string]any{
		"Id":               "c1",
		"LastName":         "Lovelace",
		"CreatedDate":      "2024-01-01",
		"LastModifiedById": "005x",
		"Trigger__c":       "yes",
		"NotOnTarget__c":   "dropped",
		"Email":            "",
	})

	out, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, Policy: defaultPolicy})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"LastName": "Lovelace"}, out.Payload)
	assert.Empty(t, out.Patches)
	assert.Contains(t, out.Notes, Note{Field: "Trigger__c", Action: NoteExcluded})
}

func TestPrepareReferences(t *testing.T) {
	ids := NewIdentifierMap()
	ids.Put("Account", "a1", "T-a1")
	ids.Put("Contact", "c0", "T-c0")

	tests := []struct {
		name        string
		mode        PrepareMode
		fields      map[string]any
		dummies     map[string]string
		wantPayload map[string]any
		wantPatches []string
	}{
		{
			name:        "mapped reference is substituted in bulk mode",
			mode:        ModeBulk,
			fields:      map[string]any{"AccountId": "a1", "ReportsToId": "c0"},
			wantPayload: map[string]any{"AccountId": "T-a1", "ReportsToId": "T-c0"},
		},
		{
			name:        "unmapped optional reference is dropped and deferred",
			mode:        ModeBulk,
			fields:      map[string]any{"AccountId": "a2"},
			wantPayload: map[string]any{},
			wantPatches: []string{"AccountId"},
		},
		{
			name:        "recursive mode defers optional references even when mapped",
			mode:        ModeRecursive,
			fields:      map[string]any{"AccountId": "a1", "ReportsToId": "c9"},
			wantPayload: map[string]any{},
			wantPatches: []string{"AccountId", "ReportsToId"},
		},
		{
			name:        "nested reference object",
			mode:        ModeBulk,
			fields:      map[string]any{"AccountId": map[string]any{"Id": "a1", "Name": "Acme"}},
			wantPayload: map[string]any{"AccountId": "T-a1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Prepare(PrepareInput{
				Record:  contact("c1", tt.fields),
				Fields:  contactFields,
				IDs:     ids,
				Dummies: tt.dummies,
				Mode:    tt.mode,
				Policy:  defaultPolicy,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayload, out.Payload)

			var got []string
			for _, p := range out.Patches {
				got = append(got, p.Field)
				assert.Equal(t, "Contact", p.RecordType)
				assert.Equal(t, "c1", p.SourceID)
				assert.Equal(t, PatchPending, p.Status)
			}
			assert.Equal(t, tt.wantPatches, got)
		})
	}
}

func TestPrepareRequiredReference(t *testing.T) {
	fields := models.FieldSet{
		"Name":      {Name: "Name", Kind: models.FieldScalar},
		"AccountId": {Name: "AccountId", Kind: models.FieldReference, ReferenceTarget: "Account", Required: true},
	}
	rec := models.NewSourceRecord("Opportunity", "o1", map[string]any{"Name": "Deal", "AccountId": "a1"})

	t.Run("dummy substitutes and the real reference is deferred", func(t *testing.T) {
		for _, mode := range []PrepareMode{ModeBulk, ModeRecursive} {
			out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Dummies: map[string]string{"Account": "DUMMY"}, Mode: mode, Policy: defaultPolicy})
			require.NoError(t, err, mode.String())
			assert.Equal(t, "DUMMY", out.Payload["AccountId"], mode.String())
			require.Len(t, out.Patches, 1, mode.String())
			assert.Equal(t, "a1", out.Patches[0].RefSourceID)
			assert.Contains(t, out.Notes, Note{Field: "AccountId", Action: NoteDummy, Detail: "a1"})
		}
	})

	t.Run("no dummy is an error", func(t *testing.T) {
		_, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy})
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrRequiredReference))
	})

	t.Run("mapped required reference is used in recursive mode", func(t *testing.T) {
		ids := NewIdentifierMap()
		ids.Put("Account", "a1", "T-a1")
		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, IDs: ids, Mode: ModeRecursive, Policy: defaultPolicy})
		require.NoError(t, err)
		assert.Equal(t, "T-a1", out.Payload["AccountId"])
		assert.Empty(t, out.Patches)
	})

	t.Run("required reference missing in source is filled from the pool", func(t *testing.T) {
		empty := models.NewSourceRecord("Opportunity", "o2", map[string]any{"Name": "Deal"})
		out, err := Prepare(PrepareInput{Record: empty, Fields: fields, Dummies: map[string]string{"Account": "DUMMY"}, Policy: defaultPolicy})
		require.NoError(t, err)
		assert.Equal(t, "DUMMY", out.Payload["AccountId"])
		assert.Empty(t, out.Patches)
	})
}

func TestPrepareOwners(t *testing.T) {
	rec := contact("c1", map[string]any{"LastName": "X", "OwnerId": "005a"})

	t.Run("verified owner is kept", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, Policy: defaultPolicy, Verified: map[string]bool{"005a": true}})
		require.NoError(t, err)
		assert.Equal(t, "005a", out.Payload["OwnerId"])
	})

	t.Run("unknown owner falls back", func(t *testing.T) {
		policy := defaultPolicy
		policy.FallbackOwnerID = "005fallback"
		out, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, Policy: policy})
		require.NoError(t, err)
		assert.Equal(t, "005fallback", out.Payload["OwnerId"])
	})

	t.Run("unknown owner without fallback is dropped", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, Policy: defaultPolicy})
		require.NoError(t, err)
		assert.NotContains(t, out.Payload, "OwnerId")
	})
}

func TestPrepareExternalReferences(t *testing.T) {
	fields := models.FieldSet{
		"Pricebook2Id":     {Name: "Pricebook2Id", Kind: models.FieldReference, ReferenceTarget: "Pricebook2", Required: true},
		"PricebookEntryId": {Name: "PricebookEntryId", Kind: models.FieldReference, ReferenceTarget: "PricebookEntry"},
	}
	rec := models.NewSourceRecord("OrderItem", "oi1", map[string]any{"Pricebook2Id": "01s", "PricebookEntryId": "01u"})

	t.Run("verified ids are kept as is", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy, Verified: map[string]bool{"01s": true, "01u": true}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"Pricebook2Id": "01s", "PricebookEntryId": "01u"}, out.Payload)
		assert.Empty(t, out.Patches, "external references are never deferred")
	})

	t.Run("unverified optional is dropped, required is an error", func(t *testing.T) {
		_, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy, Verified: map[string]bool{}})
		assert.ErrorIs(t, err, shared.ErrRequiredReference)

		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy, Verified: map[string]bool{"01s": true}})
		require.NoError(t, err)
		assert.NotContains(t, out.Payload, "PricebookEntryId")
	})
}

func TestPrepareRecordTypes(t *testing.T) {
	fields := models.FieldSet{
		"Name":         {Name: "Name", Kind: models.FieldScalar},
		"RecordTypeId": {Name: "RecordTypeId", Kind: models.FieldReference, ReferenceTarget: RecordTypeObject},
	}
	ids := NewIdentifierMap()
	ids.Put(RecordTypeObject, "012src", "012tgt")
	rec := models.NewSourceRecord("Opportunity", "o1", map[string]any{"Name": "Deal", "RecordTypeId": "012src"})

	t.Run("mapped by developer name", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, IDs: ids, Policy: defaultPolicy})
		require.NoError(t, err)
		assert.Equal(t, "012tgt", out.Payload["RecordTypeId"])
	})

	t.Run("bypass record type with a restore patch", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, IDs: ids, Policy: defaultPolicy, BypassRecordTypeID: "012bypass"})
		require.NoError(t, err)
		assert.Equal(t, "012bypass", out.Payload["RecordTypeId"])
		require.Len(t, out.Patches, 1)
		assert.Equal(t, RecordTypeObject, out.Patches[0].RefType)
		assert.Equal(t, "012src", out.Patches[0].RefSourceID)
	})

	t.Run("unmapped record type is dropped", func(t *testing.T) {
		out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy})
		require.NoError(t, err)
		assert.NotContains(t, out.Payload, "RecordTypeId")
		assert.Empty(t, out.Patches)
	})
}

func TestPrepareChoices(t *testing.T) {
	tests := []struct {
		name   string
		policy func(Policy) Policy
		fields map[string]any
		want   map[string]any
	}{
		{
			name:   "valid values are kept",
			fields: map[string]any{"Level__c": "Primary", "Status__c": "Active"},
			want:   map[string]any{"Level__c": "Primary", "Status__c": "Active"},
		},
		{
			name:   "invalid value uses the fallback choice",
			fields: map[string]any{"Level__c": "Tertiary"},
			want:   map[string]any{"Level__c": "Other"},
		},
		{
			name:   "invalid optional value without usable fallback is dropped",
			policy: func(p Policy) Policy { p.ChoiceFallback = ""; return p },
			fields: map[string]any{"Level__c": "Tertiary"},
			want:   map[string]any{},
		},
		{
			name:   "invalid required value without usable fallback takes the first allowed value",
			fields: map[string]any{"Status__c": "Gone"},
			want:   map[string]any{"Status__c": "Active"},
		},
		{
			name:   "multichoice drops invalid entries",
			fields: map[string]any{"Languages__c": "English;Klingon;French"},
			want:   map[string]any{"Languages__c": "English;French"},
		},
		{
			name:   "multichoice drops trailing entries past the length limit",
			fields: map[string]any{"Languages__c": "German;French;English"},
			want:   map[string]any{"Languages__c": "German;French"},
		},
		{
			name:   "multichoice length limit counts characters",
			fields: map[string]any{"Cuisine__c": "Café;Crème"},
			want:   map[string]any{"Cuisine__c": "Café;Crème"},
		},
		{
			name:   "multichoice with accented values drops only what does not fit",
			fields: map[string]any{"Cuisine__c": "Café;Crème;Thé"},
			want:   map[string]any{"Cuisine__c": "Café;Crème"},
		},
		{
			name:   "multichoice with nothing valid is dropped",
			fields: map[string]any{"Languages__c": "Klingon"},
			want:   map[string]any{},
		},
		{
			name:   "custom delimiter",
			policy: func(p Policy) Policy { p.MultiChoiceDelimiter = ","; return p },
			fields: map[string]any{"Languages__c": "French, Klingon"},
			want:   map[string]any{"Languages__c": "French"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := defaultPolicy
			if tt.policy != nil {
				policy = tt.policy(policy)
			}
			out, err := Prepare(PrepareInput{Record: contact("c1", tt.fields), Fields: contactFields, Policy: policy})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Payload)
		})
	}
}

func TestPrepareScalars(t *testing.T) {
	tests := []struct {
		name   string
		policy func(Policy) Policy
		fields map[string]any
		want   map[string]any
	}{
		{"boolean text is normalized", nil, map[string]any{"DoNotCall": "True"}, map[string]any{"DoNotCall": true}},
		{"lowercase false", nil, map[string]any{"DoNotCall": "false"}, map[string]any{"DoNotCall": false}},
		{"native boolean", nil, map[string]any{"DoNotCall": true}, map[string]any{"DoNotCall": true}},
		{"unrecognized boolean is dropped", nil, map[string]any{"DoNotCall": "maybe"}, map[string]any{}},
		{"email is masked", nil, map[string]any{"Email": "ada@example.com"}, map[string]any{"Email": "ada@example.com.invalid"}},
		{"masked email is left alone", nil, map[string]any{"Email": "ada@example.com.invalid"}, map[string]any{"Email": "ada@example.com.invalid"}},
		{
			"masking disabled",
			func(p Policy) Policy { p.MaskEmails = false; return p },
			map[string]any{"Email": "ada@example.com"},
			map[string]any{"Email": "ada@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := defaultPolicy
			if tt.policy != nil {
				policy = tt.policy(policy)
			}
			out, err := Prepare(PrepareInput{Record: contact("c1", tt.fields), Fields: contactFields, Policy: policy})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Payload)
		})
	}
}

func TestPrepareSourceIDStamp(t *testing.T) {
	policy := defaultPolicy
	policy.SourceIDField = "Source_Id__c"
	out, err := Prepare(PrepareInput{Record: contact("c1", map[string]any{"LastName": "X"}), Fields: contactFields, Policy: policy})
	require.NoError(t, err)
	assert.Equal(t, "c1", out.Payload["Source_Id__c"])
}

func TestPrepareIsPure(t *testing.T) {
	ids := NewIdentifierMap()
	ids.Put("Account", "a1", "T-a1")
	fields := map[string]any{"LastName": "X", "AccountId": "a2", "Email": "x@example.com"}
	rec := contact("c1", fields)

	first, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, IDs: ids, Policy: defaultPolicy})
	require.NoError(t, err)
	second, err := Prepare(PrepareInput{Record: rec, Fields: contactFields, IDs: ids, Policy: defaultPolicy})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ids.Total(), "identifier map untouched")
	assert.Equal(t, "x@example.com", rec.Fields["Email"], "source record untouched")
}

// Required fields are never silently dropped: each gets a value, a dummy, or an error.
func TestPrepareRequiredFieldPreservation(t *testing.T) {
	fields := models.FieldSet{
		"Subject":   {Name: "Subject", Kind: models.FieldScalar, Required: true},
		"Status":    {Name: "Status", Kind: models.FieldChoice, Required: true, Choices: []string{"New", "Closed"}},
		"Origin":    {Name: "Origin", Kind: models.FieldChoice, Required: true},
		"Tags__c":   {Name: "Tags__c", Kind: models.FieldMultiChoice, Required: true, Choices: []string{"a", "b"}},
		"AccountId": {Name: "AccountId", Kind: models.FieldReference, ReferenceTarget: "Account", Required: true},
		"ContactId": {Name: "ContactId", Kind: models.FieldReference, ReferenceTarget: "Contact", Required: true},
	}
	policy := defaultPolicy
	policy.ChoiceFallback = ""

	inputs := []map[string]any{
		{"Subject": "s", "Status": "Bogus", "Origin": "Web", "Tags__c": "zzz", "AccountId": "a1", "ContactId": "c1"},
		{"Subject": "s", "Status": "New", "Origin": "Phone", "Tags__c": "a;b", "AccountId": "a1", "ContactId": "c1"},
	}
	pools := []map[string]string{
		{"Account": "DA", "Contact": "DC"},
		{"Account": "DA"},
		nil,
	}

	for _, fieldsIn := range inputs {
		for _, pool := range pools {
			rec := models.NewSourceRecord("Case", "k1", fieldsIn)
			for _, mode := range []PrepareMode{ModeBulk, ModeRecursive} {
				out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Dummies: pool, Mode: mode, Policy: policy})
				if err != nil {
					assert.ErrorIs(t, err, shared.ErrRequiredReference)
					continue
				}
				for name, spec := range fields {
					if spec.Required {
						assert.Contains(t, out.Payload, name, "required field %s kept", name)
					}
				}
			}
		}
	}

	t.Run("owner and record type", func(t *testing.T) {
		fields := models.FieldSet{
			"OwnerId":      {Name: "OwnerId", Kind: models.FieldReference, ReferenceTarget: "User", Required: true},
			"RecordTypeId": {Name: "RecordTypeId", Kind: models.FieldReference, ReferenceTarget: RecordTypeObject, Required: true},
		}
		rec := models.NewSourceRecord("Opportunity", "o1", map[string]any{"OwnerId": "005x", "RecordTypeId": "012src"})

		t.Run("without placeholders", func(t *testing.T) {
			_, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy})
			assert.ErrorIs(t, err, shared.ErrRequiredReference)
		})

		t.Run("owner without placeholder", func(t *testing.T) {
			_, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy, Dummies: map[string]string{RecordTypeObject: "012dummy"}})
			require.ErrorIs(t, err, shared.ErrRequiredReference)
			assert.Contains(t, err.Error(), "OwnerId")
		})

		t.Run("record type without placeholder", func(t *testing.T) {
			_, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: defaultPolicy, Dummies: map[string]string{"User": "005dummy"}})
			require.ErrorIs(t, err, shared.ErrRequiredReference)
			assert.Contains(t, err.Error(), "RecordTypeId")
		})

		t.Run("placeholders fill both", func(t *testing.T) {
			out, err := Prepare(PrepareInput{
				Record:  rec,
				Fields:  fields,
				Policy:  defaultPolicy,
				Dummies: map[string]string{"User": "005dummy", RecordTypeObject: "012dummy"},
			})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"OwnerId": "005dummy", "RecordTypeId": "012dummy"}, out.Payload)
			assert.Contains(t, out.Notes, Note{Field: "OwnerId", Action: NoteDummy, Detail: "005x"})
			assert.Contains(t, out.Notes, Note{Field: "RecordTypeId", Action: NoteDummy, Detail: "012src"})
		})

		t.Run("fallback owner wins over placeholder", func(t *testing.T) {
			policy := defaultPolicy
			policy.FallbackOwnerID = "005fallback"
			out, err := Prepare(PrepareInput{Record: rec, Fields: fields, Policy: policy, Dummies: map[string]string{RecordTypeObject: "012dummy"}})
			require.NoError(t, err)
			assert.Equal(t, "005fallback", out.Payload["OwnerId"])
		})
	})
}

func TestPrepareReferenceTargetCase(t *testing.T) {
	fields := models.FieldSet{
		"AccountId": {Name: "AccountId", Kind: models.FieldReference, ReferenceTarget: "account"},
	}
	ids := NewIdentifierMap()
	ids.Put("Account", "a1", "T-a1")

	out, err := Prepare(PrepareInput{Record: contact("c1", map[string]any{"AccountId": "a1"}), Fields: fields, IDs: ids, Policy: defaultPolicy})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"AccountId": "T-a1"}, out.Payload)

	out, err = Prepare(PrepareInput{Record: contact("c2", map[string]any{"AccountId": "a2"}), Fields: fields, IDs: ids, Policy: defaultPolicy})
	require.NoError(t, err)
	require.Len(t, out.Patches, 1)
	assert.Equal(t, "Account", out.Patches[0].RefType)
}
