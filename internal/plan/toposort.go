package plan

import "fmt"

// Toposort computes Kahn's-algorithm topological generations for p's steps:
// generation 0 has no dependencies, generation N depends only on steps in
// generations < N. Returns an error if the dependency graph has a cycle
// (spec §4.4: "no cycles (Kahn's algorithm fails ⇒ reject)").
func Toposort(p *Plan) ([][]int, error) {
	indeg := make(map[int]int, len(p.Steps))
	dependents := make(map[int][]int, len(p.Steps))
	for _, s := range p.Steps {
		if _, ok := indeg[s.ID]; !ok {
			indeg[s.ID] = 0
		}
		for _, dep := range s.Dependencies {
			indeg[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var generations [][]int
	remaining := len(indeg)
	for remaining > 0 {
		var ready []int
		for id, deg := range indeg {
			if deg == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("plan: dependency cycle detected among remaining steps")
		}
		for _, id := range ready {
			delete(indeg, id)
		}
		remaining -= len(ready)
		for _, id := range ready {
			for _, dep := range dependents[id] {
				indeg[dep]--
			}
		}
		generations = append(generations, ready)
	}
	return generations, nil
}
