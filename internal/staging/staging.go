// Package staging holds the facts collected from every source during one
// run, before they are persisted for diffing.
//
// A Set is an ordered multiset: duplicates from different sources are kept
// and insertion order is preserved, so the persisted staging table reads
// back exactly as the sources produced it.
package staging

import "github.com/roach88/enrolsync/internal/ir"

// Set is the current run's staged facts.
//
// Thread-safety: Set is not safe for concurrent use. Sources run
// sequentially on the engine's goroutine.
type Set struct {
	facts []ir.Fact
}

// New returns an empty set.
func New() *Set {
	return &Set{facts: []ir.Fact{}}
}

// Clear empties the set. Called at the start of every run.
func (s *Set) Clear() {
	s.facts = []ir.Fact{}
}

// Append adds facts after those already staged.
func (s *Set) Append(facts ...ir.Fact) {
	s.facts = append(s.facts, facts...)
}

// All returns a copy of the staged facts in insertion order.
func (s *Set) All() []ir.Fact {
	out := make([]ir.Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Len returns the number of staged facts.
func (s *Set) Len() int {
	return len(s.facts)
}

