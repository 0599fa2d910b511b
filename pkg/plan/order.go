package plan

import (
	"github.com/conductor-ai/conductor/internal/errors"
)

// Levels groups step indices into execution waves: every step in a level has
// all of its prerequisites in earlier levels, so steps within a level may run
// concurrently. Level order is a topological order of the dependency graph.
func Levels(p *Plan) ([][]int, error) {
	n := len(p.Steps)
	if n == 0 {
		return nil, nil
	}

	dependents := make(map[int][]int, n)
	inDegree := make([]int, n)

	for step := 0; step < n; step++ {
		for _, dep := range p.DependsOn(step) {
			dependents[dep] = append(dependents[dep], step)
			inDegree[step]++
		}
	}

	var levels [][]int
	queue := make([]int, 0, n)
	for step := 0; step < n; step++ {
		if inDegree[step] == 0 {
			queue = append(queue, step)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]int, len(queue))
		copy(level, queue)
		levels = append(levels, level)
		processed += len(level)

		var next []int
		for _, step := range queue {
			for _, dependent := range dependents[step] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		queue = next
	}

	if processed != n {
		return nil, errors.Planning("dependency graph contains a cycle")
	}
	return levels, nil
}

// checkAcyclic rejects dependency graphs with cycles using DFS.
func checkAcyclic(deps map[int][]int, stepCount int) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, stepCount)

	var visit func(int) bool
	visit = func(step int) bool {
		state[step] = visiting
		for _, dep := range deps[step] {
			switch state[dep] {
			case visiting:
				return false
			case unvisited:
				if !visit(dep) {
					return false
				}
			}
		}
		state[step] = done
		return true
	}

	for step := 0; step < stepCount; step++ {
		if state[step] == unvisited {
			if !visit(step) {
				return errors.Planningf("circular dependency involving step %d", step)
			}
		}
	}
	return nil
}
