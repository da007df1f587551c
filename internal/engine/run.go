package engine

import (
	"sort"
	"time"

	"github.com/roach88/enrolsync/internal/apply"
	"github.com/roach88/enrolsync/internal/diff"
	"github.com/roach88/enrolsync/internal/governor"
	"github.com/roach88/enrolsync/internal/groups"
)

// SourceResult is one adapter's outcome in a run.
type SourceResult struct {
	Name    string
	Facts   int
	Orphans []string
	Failed  bool
}

// Run is the state of one staging run, filled in phase by phase.
type Run struct {
	ID        string
	StartedAt time.Time

	// Sources holds adapter outcomes in configuration order.
	Sources []SourceResult

	// Staged is the number of facts persisted to the staging table.
	Staged int

	// Orphans are the sorted, distinct course codes with no LMS shell.
	Orphans []string

	// Degraded is set when staging could not be populated. Nothing is
	// reconciled in a degraded run.
	Degraded bool

	// Reconciled is set once the diff was computed and applied.
	Reconciled bool

	Diff diff.Result

	// Withheld counts removals held back because their source failed.
	Withheld int

	// Blocked is set when the governor refused the removal phase.
	Blocked *governor.BlockedError

	Additions apply.Report
	Removals  apply.Report
	Groups    groups.Stats

	OrphansNotified bool
	FailureNotified bool

	Errors []*SyncError
}

func newRun(id string, now time.Time) *Run {
	return &Run{
		ID:        id,
		StartedAt: now,
		Sources:   []SourceResult{},
		Orphans:   []string{},
		Errors:    []*SyncError{},
	}
}

// HadErrors reports whether any adapter or phase recorded an error.
func (r *Run) HadErrors() bool {
	return len(r.Errors) > 0
}

func (r *Run) addOrphans(codes []string) {
	if len(codes) == 0 {
		return
	}
	seen := make(map[string]bool, len(r.Orphans)+len(codes))
	for _, c := range r.Orphans {
		seen[c] = true
	}
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			r.Orphans = append(r.Orphans, c)
		}
	}
	sort.Strings(r.Orphans)
}

func (r *Run) failedSources() map[string]bool {
	failed := make(map[string]bool)
	for _, s := range r.Sources {
		if s.Failed {
			failed[s.Name] = true
		}
	}
	return failed
}
