// Package models defines domain entities and persistence interfaces for the sandcastle record migration service.
//
// The package contains two categories of types:
//
// 1. Engine data: values the migration engine reads but never persists
//   - [SourceRecord] : an immutable record fetched from the source store, tagged with its type and id
//   - [FieldSpec] : per-field kind, reference target, required flag and allowed choice values
//   - [FieldSet] : the creatable schema of one record type
//
// 2. Persistent Entities: database-backed models with full lifecycle management
//   - [Mapping] : source id → target id pair with the original field values
//   - [Run] : one migration run with per-type [TypeCounts]
//
// Persistent entities implement the Model interface providing ID generation, timestamps, validation, and soft delete support.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
