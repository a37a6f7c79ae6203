// Package services defines the [RecordStore] and [SchemaProvider] contracts consumed by the migration engine and implements them for a REST record store and for schema files on disk.
//
// # Record Store
//
// [RESTStore] is the HTTP client for both the source and the target store.
// Authentication uses [oauth2]: a client credentials flow when client_id, client_secret and token_url are configured,
// otherwise a static bearer token. Every request waits on a [rate.Limiter] so a long run stays under the store's API limits.
//
// Batch creates go through the composite endpoint and return one [BatchResult] per input record, so a single bad
// record never hides its siblings' ids. A non-nil error from CreateBatch means the whole call failed.
//
// # Schema Providers
//
//   - [YAMLSchemaProvider] : one fields.yaml document keyed by record type then field name
//   - [CSVSchemaProvider] : one "<type>Fields.csv" describe export per record type
//
// A record type with no schema has no insertable fields. Fields with unknown nillability are optional.
//
// # Error Handling
//
// Store failures are [*StoreError] values and unwrap to shared sentinels:
//   - [shared.ErrRecordNotFound] : HTTP 404
//   - [shared.ErrDuplicateRecord] : DUPLICATE_VALUE / DUPLICATES_DETECTED, or a "duplicate value found" message
//   - [shared.ErrStoreUnavailable] : HTTP 5xx or transport failure
//   - [shared.ErrStoreRequest] : any other rejection
//
// [Classify] reduces a create failure to [FailureDuplicate] (recoverable by adopting the existing record) or [FailureOther].
package services
