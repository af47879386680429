// Package contention holds the shared optimistic-concurrency pieces used by
// the bid window and signup reservation engines: a deterministic candidate
// ordering and a retry loop that leans on unique constraints instead of locking.
package contention

import (
	"slices"
	"strings"
	"time"
)

// Candidate is anything competing for a single scarce resource.
type Candidate interface {
	CandidateID() string
	SubmittedAt() time.Time
}

// Compare orders candidates by submission time, then by id. Distinct ids
// never compare equal, so the order is total.
func Compare[C Candidate](a, b C) int {
	if c := a.SubmittedAt().Compare(b.SubmittedAt()); c != 0 {
		return c
	}
	return strings.Compare(a.CandidateID(), b.CandidateID())
}

// Rank returns a sorted copy of pool, best candidate first.
func Rank[C Candidate](pool []C) []C {
	ranked := slices.Clone(pool)
	slices.SortStableFunc(ranked, Compare[C])
	return ranked
}

// SelectWinner returns the best candidate in pool.
func SelectWinner[C Candidate](pool []C) (C, bool) {
	if len(pool) == 0 {
		var zero C
		return zero, false
	}
	return slices.MinFunc(pool, Compare[C]), true
}
