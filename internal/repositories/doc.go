// Package repositories implements SQLite persistence for migration runs and record mappings.
//
// Repositories handle CRUD operations with atomic sequence generation for stable ordering.
// Deletes are soft: rows get a deleted_at timestamp and are excluded from queries by default.
//
// Key Implementations:
//   - [MappingRepository] : source id → target id pairs, also the engine's mapping sink and resume source
//   - [RunRepository] : run history with status and per-type counts
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
