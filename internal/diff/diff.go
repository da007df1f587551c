// Package diff computes what a run must change in the LMS.
//
// The heavy lifting is set-based SQL in the store: additions are an
// anti-join of the staged triples against role assignments owned by the
// integration, removals are owned enrolments no staged fact justifies.
// Both are keyed on resolved ids; staged codes that do not resolve are
// dropped from additions because a missing course or user means "not yet
// provisioned".
package diff

import (
	"context"
	"fmt"

	"github.com/roach88/enrolsync/internal/ir"
)

// LMS is the query surface the diff needs.
type LMS interface {
	PendingAdditions(ctx context.Context, component string) ([]ir.Addition, error)
	PendingRemovals(ctx context.Context, component string) ([]ir.Removal, error)
	StagingSummary(ctx context.Context, component string) (resolvable, satisfied int, err error)
}

// Result is one run's diff. It is derived, never persisted.
type Result struct {
	ToAdd    []ir.Addition `json:"to_add"`
	ToRemove []ir.Removal  `json:"to_remove"`

	// Resolvable counts distinct staged triples whose codes resolve.
	Resolvable int `json:"resolvable"`
	// Satisfied counts resolvable triples already held by the integration.
	Satisfied int `json:"satisfied"`
}

// Conserved reports whether every resolvable staged triple is either
// already satisfied or scheduled for addition.
func (r Result) Conserved() bool {
	return r.Satisfied+len(r.ToAdd) == r.Resolvable
}

// Engine computes diffs for one ownership component.
type Engine struct {
	lms       LMS
	component string
}

// New creates a diff engine for the given component.
func New(lms LMS, component string) *Engine {
	return &Engine{lms: lms, component: component}
}

// Compute diffs the persisted staging table against the LMS.
func (e *Engine) Compute(ctx context.Context) (Result, error) {
	toAdd, err := e.lms.PendingAdditions(ctx, e.component)
	if err != nil {
		return Result{}, fmt.Errorf("compute additions: %w", err)
	}

	toRemove, err := e.lms.PendingRemovals(ctx, e.component)
	if err != nil {
		return Result{}, fmt.Errorf("compute removals: %w", err)
	}

	resolvable, satisfied, err := e.lms.StagingSummary(ctx, e.component)
	if err != nil {
		return Result{}, fmt.Errorf("compute staging summary: %w", err)
	}

	return Result{
		ToAdd:      toAdd,
		ToRemove:   toRemove,
		Resolvable: resolvable,
		Satisfied:  satisfied,
	}, nil
}
