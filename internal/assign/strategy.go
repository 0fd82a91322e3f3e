package assign

import (
	"sort"

	"github.com/renewtech/livechat/backend/internal/types"
)

// Candidate pairs an online staff member with their current load
type Candidate struct {
	Staff types.StaffPresence
	Load  int
}

// Strategy orders candidates by preference. The engine walks the ranked
// list and takes the first candidate whose slot acquisition succeeds, so a
// strategy only ranks, it never reserves.
type Strategy interface {
	Rank(candidates []Candidate) []Candidate
}

// LeastLoadedFirst prefers the staff member with the fewest active
// conversations. Ties break by ascending staff ID so the order is
// deterministic across replicas.
type LeastLoadedFirst struct{}

// Rank sorts candidates by load, then staff ID
func (l *LeastLoadedFirst) Rank(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Load != ranked[j].Load {
			return ranked[i].Load < ranked[j].Load
		}
		return ranked[i].Staff.StaffID < ranked[j].Staff.StaffID
	})
	return ranked
}
