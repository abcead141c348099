package ffbuild

import (
	"fmt"
	"strings"
)

// ResolveOrder returns libs ordered so that every library follows all of
// its dependencies. Among independent libraries the input order is kept.
func ResolveOrder(libs []Library) ([]Library, error) {
	byName := make(map[string]int, len(libs))
	for i, lib := range libs {
		if _, dup := byName[lib.Name]; dup {
			return nil, fmt.Errorf("library %s declared twice", lib.Name)
		}
		byName[lib.Name] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(libs))
	order := make([]Library, 0, len(libs))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			start := 0
			for j, name := range stack {
				if name == libs[i].Name {
					start = j
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), libs[i].Name)
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
		}

		state[i] = visiting
		stack = append(stack, libs[i].Name)
		for _, dep := range libs[i].Depends {
			j, ok := byName[dep]
			if !ok {
				return fmt.Errorf("%w: %s requires %s", ErrUnknownDependency, libs[i].Name, dep)
			}
			if err := visit(j); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		order = append(order, libs[i])
		return nil
	}

	for i := range libs {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
