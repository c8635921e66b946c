package supervisor

import (
	"github.com/gammazero/toposort"
)

// validateGraph checks the dependency graph of the given entries and returns
// a topological order of task ids (dependencies first).
//
// Checks run in registration order so the first violating pair wins:
//  1. unknown dependency ids
//  2. self-loops
//  3. cycles (reported as one representative edge)
//
// The returned order is used for logging only; actual startup is driven by
// setup signals.
func validateGraph(entries []*taskEntry) ([]string, error) {
	byID := make(map[string]*taskEntry, len(entries))
	for _, e := range entries {
		byID[e.id] = e
	}

	for _, e := range entries {
		for _, dep := range e.deps {
			if dep == e.id {
				return nil, &CircularDependencyError{TaskID: e.id, DependencyID: e.id}
			}
			if _, ok := byID[dep]; !ok {
				return nil, &DependencyValidationError{
					TaskID:       e.id,
					DependencyID: dep,
					Reason:       "unknown dependency",
				}
			}
		}
	}

	if from, to, ok := findCycleEdge(entries, byID); ok {
		return nil, &CircularDependencyError{TaskID: from, DependencyID: to}
	}

	// Edge (dep, task) means dep must come before task. Root tasks get a
	// nil-source edge so the sort still includes them.
	edges := make([]toposort.Edge, 0, len(entries))
	for _, e := range entries {
		if len(e.deps) == 0 {
			edges = append(edges, toposort.Edge{nil, e.id})
			continue
		}
		for _, dep := range e.deps {
			edges = append(edges, toposort.Edge{dep, e.id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		// Unreachable after the DFS above; keep the graph error visible anyway.
		return nil, &InternalError{Detail: "toposort: " + err.Error()}
	}

	order := make([]string, 0, len(entries))
	for _, v := range sorted {
		if v == nil {
			continue
		}
		order = append(order, v.(string))
	}
	if len(order) != len(entries) {
		return nil, &InternalError{Detail: "toposort lost tasks"}
	}
	return order, nil
}

// findCycleEdge runs a DFS in registration order and returns the first back
// edge found, which is one representative edge of a cycle.
func findCycleEdge(entries []*taskEntry, byID map[string]*taskEntry) (from, to string, found bool) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(entries))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, dep := range byID[id].deps {
			switch color[dep] {
			case grey:
				from, to, found = id, dep, true
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, e := range entries {
		if color[e.id] == white && visit(e.id) {
			return from, to, true
		}
	}
	return "", "", false
}
