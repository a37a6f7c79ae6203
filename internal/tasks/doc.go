// Package tasks migrates a connected graph of records from a source store to a target store
// while preserving references between them.
//
// # Phases
//
// Root accounts and their locations are fetched, arranged by [BuildGraph] into a same-type
// dependency graph and ordered by [ScheduleWaves]. Each wave is created through batch calls
// ([Engine.MigrateBulk]). References that cannot be set yet are replaced by a placeholder or
// left out, and recorded as a [Patch].
//
// Children (contacts, opportunities, cases, quotes, orders and their line items) go through the
// single-record resolver ([Engine.Ensure]), which creates referenced records first. An in-flight
// guard on the [ResolutionContext] turns reference cycles into deferred patches instead of
// unbounded recursion.
//
// [Engine.Reconcile] then applies every pending patch against the completed [IdentifierMap].
//
// # Record states
//
// Every record moves Unstarted → Created → Patched, or ends in Failed. A failure is recorded on
// the context and never stops the run.
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate]. Updates use select with default to
// prevent blocking.
//
// # Preparation
//
// [Prepare] is pure: given a record, its schema, the identifier map and the placeholder pool it
// returns a creatable payload plus the deferred references. All store lookups it depends on
// (owners, record types, external references) are done beforehand by the engine and passed in.
package tasks
