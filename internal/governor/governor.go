// Package governor guards the removal phase against implausibly large
// unenrolment sets.
//
// A truncated or failing upstream feed looks exactly like a mass
// withdrawal. The governor is a circuit breaker: when the proposed removal
// count exceeds the threshold, the whole removal set is refused for the
// run. Additions are never governed.
package governor

import (
	"fmt"

	"github.com/roach88/enrolsync/internal/ir"
)

// DefaultThreshold is the removal count above which removals are refused.
const DefaultThreshold = 700

// BlockedError reports a refused removal set.
type BlockedError struct {
	Proposed  int
	Threshold int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("refusing to remove %d enrolments: more than threshold %d", e.Proposed, e.Threshold)
}

// Governor applies the removal threshold.
type Governor struct {
	Threshold int
}

// New creates a governor. A negative threshold selects DefaultThreshold.
func New(threshold int) *Governor {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Governor{Threshold: threshold}
}

// Guard passes toRemove through unchanged when its size is within the
// threshold, and otherwise returns nil with a *BlockedError.
func (g *Governor) Guard(toRemove []ir.Removal) ([]ir.Removal, error) {
	if len(toRemove) > g.Threshold {
		return nil, &BlockedError{Proposed: len(toRemove), Threshold: g.Threshold}
	}
	return toRemove, nil
}
