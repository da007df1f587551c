// Package store provides SQLite-backed access to the LMS relations the
// enrolment sync reads and writes.
//
// The store holds:
//   - LMS relations: courses, categories, users, roles, enrolment instances,
//     user enrolments, role assignments, groups and group members
//   - Staging: sync_enrolments, the facts of the current run only
//   - uvw_owned_enrolments: the reverse view correlating enrolments held
//     through an enrolment instance back to staged course/user codes
//
// # Critical Patterns
//
// Ownership: every row the sync creates carries the configured component
// name (role_assignments.component, enrol.enrol). Removal queries filter on
// it, so externally managed enrolments are never candidates.
//
// Full refresh: ReplaceStaging clears and repopulates sync_enrolments in one
// transaction. A reader never observes a half-populated stage.
//
// Set-based diffing: PendingAdditions and PendingRemovals are single
// anti-join queries, never row-by-row scans.
//
// Deterministic results: every multi-row query has an ORDER BY.
//
// # Database Configuration
//
//   - WAL mode: the LMS web tier may read while the sync writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
