package dispatch

import (
	"fmt"

	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
)

// sortByDependencies orders a call group so that every member comes after
// the members it depends on. Dependencies outside the group are ignored.
// Members with no ordering constraint between them keep their input order.
func sortByDependencies(reqs []*domain.CallRequest) ([]*domain.CallRequest, error) {
	index := make(map[string]int, len(reqs))
	for i, r := range reqs {
		if _, dup := index[r.ID()]; dup {
			return nil, fmt.Errorf("call request %s appears twice in group", r.ID())
		}
		index[r.ID()] = i
	}

	indegree := make([]int, len(reqs))
	dependents := make([][]int, len(reqs))
	for i, r := range reqs {
		for depID := range r.Dependencies() {
			j, inGroup := index[depID]
			if !inGroup {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	sorted := make([]*domain.CallRequest, 0, len(reqs))
	emitted := make([]bool, len(reqs))
	for len(sorted) < len(reqs) {
		// Lowest input index with no unmet dependency.
		next := -1
		for i := range reqs {
			if !emitted[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, domain.ErrDependencyCycle
		}
		emitted[next] = true
		sorted = append(sorted, reqs[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return sorted, nil
}
