// Package deps resolves the prerequisite concepts a generation target
// depends on.
//
// The dependency graph is a static, externally supplied adjacency map.
// Resolution is shallow: callers wanting deep chains must have materialized
// the intermediate concepts into memory first, generating bottom-up. The
// graph must be acyclic; that invariant is the caller's to uphold and is not
// re-checked at resolution time.
package deps

import (
	"errors"
	"fmt"
)

// ErrUnknownConcept is returned when a concept id is absent from the graph
var ErrUnknownConcept = errors.New("unknown concept")

// Graph maps a concept id to its ordered prerequisite concept ids.
// Leaf concepts map to an empty (or nil) list.
type Graph map[string][]string

// Resolver answers prerequisite lookups against a fixed Graph
type Resolver struct {
	graph Graph
}

// NewResolver creates a resolver over the supplied graph
func NewResolver(graph Graph) *Resolver {
	return &Resolver{graph: graph}
}

// PrerequisitesOf returns the ordered prerequisite ids for the concept.
// Leaf concepts yield an empty list. Ids absent from the graph fail with
// ErrUnknownConcept.
func (r *Resolver) PrerequisitesOf(conceptID string) ([]string, error) {
	prereqs, ok := r.graph[conceptID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConcept, conceptID)
	}
	out := make([]string, len(prereqs))
	copy(out, prereqs)
	return out, nil
}

// Contains reports whether the concept id is present in the graph
func (r *Resolver) Contains(conceptID string) bool {
	_, ok := r.graph[conceptID]
	return ok
}

// TopoOrder returns the given concept ids sorted so every concept appears
// after its prerequisites, which is the order a batch run must generate them
// in. Prerequisites outside ids are ignored (assumed already materialized).
// The input order is preserved among concepts with no ordering constraint
// between them. Returns an error if the subgraph contains a cycle.
func TopoOrder(graph Graph, ids []string) ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	state := make(map[string]int, len(ids))
	order := make([]string, 0, len(ids))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle involving %q", id)
		}
		state[id] = visiting
		for _, pre := range graph[id] {
			if !inSet[pre] {
				continue
			}
			if err := visit(pre); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
