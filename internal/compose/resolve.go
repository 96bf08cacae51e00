package compose

import (
	"sort"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// resolveOrder expands the requested ids through their transitive
// dependencies and returns the eggs in dependency order: every egg comes
// after everything it depends on. Ties are broken lexicographically by
// egg name so the order is stable across runs.
func resolveOrder(catalog map[string]*model.Egg, requested []string) ([]*model.Egg, error) {
	// Collect the closure of the requested set.
	closure := map[string]*model.Egg{}
	var walk func(id string) error
	walk = func(id string) error {
		if _, ok := closure[id]; ok {
			return nil
		}
		egg, ok := catalog[id]
		if !ok {
			return &UnknownEggError{ID: id, Reason: "not found"}
		}
		if !egg.IsActive {
			return &UnknownEggError{ID: id, Reason: "inactive"}
		}
		closure[id] = egg
		for _, dep := range egg.Dependencies {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range requested {
		if err := walk(id); err != nil {
			return nil, err
		}
	}

	// Kahn's algorithm. ready holds eggs with no unprocessed
	// dependencies, kept sorted by name for the deterministic tie-break.
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for id, egg := range closure {
		indegree[id] += 0
		for _, dep := range egg.Dependencies {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []*model.Egg
	insert := func(egg *model.Egg) {
		i := sort.Search(len(ready), func(i int) bool { return ready[i].Name >= egg.Name })
		ready = append(ready, nil)
		copy(ready[i+1:], ready[i:])
		ready[i] = egg
	}
	for id, deg := range indegree {
		if deg == 0 {
			insert(closure[id])
		}
	}

	ordered := make([]*model.Egg, 0, len(closure))
	for len(ready) > 0 {
		egg := ready[0]
		ready = ready[1:]
		ordered = append(ordered, egg)
		for _, dep := range dependents[egg.ID] {
			indegree[dep]--
			if indegree[dep] == 0 {
				insert(closure[dep])
			}
		}
	}

	if len(ordered) != len(closure) {
		cycle := &DependencyCycleError{}
		for id, deg := range indegree {
			if deg > 0 {
				cycle.IDs = append(cycle.IDs, id)
			}
		}
		sort.Strings(cycle.IDs)
		return nil, cycle
	}
	return ordered, nil
}
