// Package ir provides the normalized intermediate representation shared by
// every stage of an enrolment sync run.
//
// Sources produce Facts, the staging table stores Facts, and the diff engine
// turns staged Facts plus LMS state into Additions and Removals. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Facts are immutable once staged; duplicates are legal
//   - Course and user codes are NFC-normalized and trimmed before staging
//   - Identifiers resolved from the LMS are int64 row ids
//   - All JSON tags use snake_case
package ir
