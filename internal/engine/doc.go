// Package engine orchestrates a staging run.
//
// A run is three phases, always in this order:
//
//  1. PopulateSource: fetch every configured source sequentially, stage
//     the facts in memory, detect orphan course codes, then replace the
//     persisted staging table in one transaction.
//  2. SyncEnrolments: diff the staging table against the LMS, pass
//     removals through the governor, apply additions, apply removals if
//     allowed, then classify new members into groups.
//  3. ReportErrors: send the orphan report and, when anything was
//     recorded, the failure report.
//
// Failures never abort the run. Each is recorded on the Run as a
// SyncError; a failing source contributes nothing and its owned
// enrolments are not removed that run. If staging cannot be populated the
// run is degraded and phase 2 is skipped.
//
// The engine is single-threaded. Sources are fetched in configuration
// order and every query orders its results, so identical inputs produce
// identical runs.
package engine
