package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/enrolsync/internal/engine"
	"github.com/roach88/enrolsync/internal/ir"
)

// SourceSummary is one source's line in a run summary.
type SourceSummary struct {
	Name    string   `json:"name"`
	Facts   int      `json:"facts"`
	Orphans []string `json:"orphans"`
	Failed  bool     `json:"failed"`
}

// BlockedSummary describes a refused removal phase.
type BlockedSummary struct {
	Proposed  int `json:"proposed"`
	Threshold int `json:"threshold"`
}

// RunSummary is the output of the sync command.
type RunSummary struct {
	RunID    string          `json:"run_id"`
	Sources  []SourceSummary `json:"sources"`
	Staged   int             `json:"staged"`
	Orphans  []string        `json:"orphans"`
	Degraded bool            `json:"degraded"`

	ToAdd    int             `json:"to_add"`
	ToRemove int             `json:"to_remove"`
	Withheld int             `json:"withheld"`
	Blocked  *BlockedSummary `json:"blocked,omitempty"`

	InstancesCreated int `json:"instances_created"`
	Enrolled         int `json:"enrolled"`
	Unenrolled       int `json:"unenrolled"`
	Demoted          int `json:"demoted"`
	Unassigned       int `json:"unassigned"`
	SkippedDisabled  int `json:"skipped_disabled"`
	Failed           int `json:"failed"`
	GroupMembers     int `json:"group_members_added"`

	OrphansNotified bool     `json:"orphans_notified"`
	FailureNotified bool     `json:"failure_notified"`
	Errors          []string `json:"errors"`
}

func summarizeSources(run *engine.Run) []SourceSummary {
	out := make([]SourceSummary, 0, len(run.Sources))
	for _, s := range run.Sources {
		orphans := s.Orphans
		if orphans == nil {
			orphans = []string{}
		}
		out = append(out, SourceSummary{Name: s.Name, Facts: s.Facts, Orphans: orphans, Failed: s.Failed})
	}
	return out
}

func summarizeErrors(run *engine.Run) []string {
	out := make([]string, 0, len(run.Errors))
	for _, se := range run.Errors {
		out = append(out, se.Error())
	}
	return out
}

func summarizeBlocked(run *engine.Run) *BlockedSummary {
	if run.Blocked == nil {
		return nil
	}
	return &BlockedSummary{Proposed: run.Blocked.Proposed, Threshold: run.Blocked.Threshold}
}

func summarizeRun(run *engine.Run) RunSummary {
	return RunSummary{
		RunID:            run.ID,
		Sources:          summarizeSources(run),
		Staged:           run.Staged,
		Orphans:          run.Orphans,
		Degraded:         run.Degraded,
		ToAdd:            len(run.Diff.ToAdd),
		ToRemove:         len(run.Diff.ToRemove),
		Withheld:         run.Withheld,
		Blocked:          summarizeBlocked(run),
		InstancesCreated: run.Additions.Stats.InstancesCreated,
		Enrolled:         run.Additions.Stats.Enrolled,
		Unenrolled:       run.Removals.Stats.Unenrolled,
		Demoted:          run.Removals.Stats.Demoted,
		Unassigned:       run.Removals.Stats.Unassigned,
		SkippedDisabled:  run.Removals.Stats.SkippedDisabled,
		Failed:           run.Additions.Stats.Failed + run.Removals.Stats.Failed,
		GroupMembers:     run.Groups.Added,
		OrphansNotified:  run.OrphansNotified,
		FailureNotified:  run.FailureNotified,
		Errors:           summarizeErrors(run),
	}
}

// String renders the summary for text output.
func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", s.RunID)
	writeSources(&b, s.Sources)
	fmt.Fprintf(&b, "Staged: %d facts\n", s.Staged)
	if s.Degraded {
		b.WriteString("Staging not populated: nothing was reconciled\n")
	} else {
		fmt.Fprintf(&b, "Diff: %d to add, %d to remove\n", s.ToAdd, s.ToRemove)
		fmt.Fprintf(&b, "Enrolled: %d (%d new enrolment instances)\n", s.Enrolled, s.InstancesCreated)
		if s.Blocked != nil {
			fmt.Fprintf(&b, "Removals refused: %d proposed, threshold %d\n", s.Blocked.Proposed, s.Blocked.Threshold)
		} else {
			fmt.Fprintf(&b, "Unenrolled: %d, demoted: %d, unassigned: %d, kept (unenrol disabled): %d\n",
				s.Unenrolled, s.Demoted, s.Unassigned, s.SkippedDisabled)
		}
		if s.Withheld > 0 {
			fmt.Fprintf(&b, "Withheld (failed source): %d\n", s.Withheld)
		}
		fmt.Fprintf(&b, "Group memberships added: %d\n", s.GroupMembers)
	}
	writeOrphans(&b, s.Orphans)
	writeErrors(&b, s.Errors)
	return strings.TrimSuffix(b.String(), "\n")
}

// PlanSummary is the output of the plan command.
type PlanSummary struct {
	RunID    string          `json:"run_id"`
	Sources  []SourceSummary `json:"sources"`
	Staged   int             `json:"staged"`
	Orphans  []string        `json:"orphans"`
	Degraded bool            `json:"degraded"`

	ToAdd    []ir.Addition   `json:"to_add"`
	ToRemove []ir.Removal    `json:"to_remove"`
	Withheld int             `json:"withheld"`
	Blocked  *BlockedSummary `json:"blocked,omitempty"`

	Errors []string `json:"errors"`
}

func summarizePlan(run *engine.Run) PlanSummary {
	toAdd := run.Diff.ToAdd
	if toAdd == nil {
		toAdd = []ir.Addition{}
	}
	toRemove := run.Diff.ToRemove
	if toRemove == nil {
		toRemove = []ir.Removal{}
	}
	return PlanSummary{
		RunID:    run.ID,
		Sources:  summarizeSources(run),
		Staged:   run.Staged,
		Orphans:  run.Orphans,
		Degraded: run.Degraded,
		ToAdd:    toAdd,
		ToRemove: toRemove,
		Withheld: run.Withheld,
		Blocked:  summarizeBlocked(run),
		Errors:   summarizeErrors(run),
	}
}

// String renders the plan for text output.
func (p PlanSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s\n", p.RunID)
	writeSources(&b, p.Sources)
	fmt.Fprintf(&b, "Staged: %d facts\n", p.Staged)
	if p.Degraded {
		b.WriteString("Staging not populated: no diff computed\n")
	} else {
		fmt.Fprintf(&b, "To add: %d\n", len(p.ToAdd))
		for _, a := range p.ToAdd {
			fmt.Fprintf(&b, "  + %s %s role=%d source=%s\n", a.CourseCode, a.Username, a.RoleID, a.Source)
		}
		fmt.Fprintf(&b, "To remove: %d\n", len(p.ToRemove))
		for _, r := range p.ToRemove {
			fmt.Fprintf(&b, "  - %s %s role=%d source=%s\n", r.CourseCode, r.Username, r.RoleID, r.Source)
		}
		if p.Blocked != nil {
			fmt.Fprintf(&b, "Removals would be refused: %d proposed, threshold %d\n", p.Blocked.Proposed, p.Blocked.Threshold)
		}
	}
	writeOrphans(&b, p.Orphans)
	writeErrors(&b, p.Errors)
	return strings.TrimSuffix(b.String(), "\n")
}

func writeSources(b *strings.Builder, sources []SourceSummary) {
	for _, s := range sources {
		if s.Failed {
			fmt.Fprintf(b, "  %s: FAILED\n", s.Name)
			continue
		}
		fmt.Fprintf(b, "  %s: %d facts, %d orphans\n", s.Name, s.Facts, len(s.Orphans))
	}
}

func writeOrphans(b *strings.Builder, orphans []string) {
	if len(orphans) == 0 {
		return
	}
	fmt.Fprintf(b, "Orphan courses: %s\n", strings.Join(orphans, ", "))
}

func writeErrors(b *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "Errors: %d\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(b, "  %s\n", e)
	}
}
