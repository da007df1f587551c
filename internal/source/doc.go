// Package source defines the Source contract and its adapters.
//
// A Source fetches enrolment facts from one feed. Adapters are built from
// configuration through an explicit Registry that maps a source type to a
// factory; the engine only ever sees the Source interface.
//
// Failure reporting: Fetch returns a *FetchError whose Kind classifies the
// failure. A nil error with zero facts means the feed is empty, which is
// not an error. Adapters that open external connections acquire them
// inside Fetch and release them before returning, even on query failure.
//
// Available types:
//
//	students     SIS export database, offerings starting within months_ahead
//	approvers    newest approval-workflow row per course
//	instructors  every editing teacher, enrolled into the orientation course
//	feed         YAML file of course/user/role rows
package source
