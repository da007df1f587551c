// Package harness runs reconciliation scenarios against the sync engine.
//
// A scenario seeds an LMS, defines what each source reports, runs one full
// staging run and asserts over the result. Runs are deterministic: a fresh
// in-memory database, a fixed run id, a fixed clock and a recording
// notifier, so traces can be compared against golden files.
//
// # Scenario Format
//
// Scenarios are YAML files. Unknown fields are rejected.
//
//	name: demotion
//	description: "An approver who lost the approval keeps their student role"
//	config:
//	  unenrol_threshold: 700
//	  sync_notification: registrar@example.edu
//	lms:
//	  courses:
//	    - { code: C1, name: "Course One" }
//	  users:
//	    - { username: u2, code: "2" }
//	  enrolments:
//	    - { course: C1, user: u2, role: student, source: students }
//	    - { course: C1, user: u2, role: approver, source: approvers }
//	sources:
//	  - name: students
//	    facts:
//	      - { course: C1, user: "2", role: student }
//	  - name: approvers
//	assertions:
//	  - type: trace_contains
//	    action: demote
//	    course: C1
//	    user: u2
//	  - type: enrolled
//	    course: C1
//	    user: u2
//	    role: student
//
// A source with fail set to an error kind fails its fetch instead of
// reporting facts.
//
// # Assertion Types
//
//   - enrolled / not_enrolled: the user holds (or lacks) a role in the course
//   - trace_contains: an event of the action matches the filters
//   - trace_order: event types first appear in the given order
//   - trace_count: exactly count events match
//   - orphans: the run's orphan course codes
//   - errors: the kinds of the run's recorded errors, in order
//   - notified: a message with the subject was sent, optionally to an address
//   - final_state: one row of a table matches where and carries expect
//
// # Trace Events
//
// fetch, fetch-failed and orphan per source; withheld and blocked for the
// removal phase; create-instance, enrol, demote, unassign, unenrol and
// skip-unenrol for applied changes; group-members; error per recorded
// error; notify per sent message.
package harness
