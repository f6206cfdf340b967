package capability

import (
	"fmt"
	"strings"
)

// ValidateGraph checks that the dependency graph reachable from caps is
// acyclic and that identifiers are unique.
func ValidateGraph(caps ...Capability) error {
	_, err := Order(caps...)
	return err
}

// Order returns caps and everything they depend on so that each capability
// follows its dependencies. Cycles are errors.
func Order(caps ...Capability) ([]Capability, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[Capability]int)
	ids := make(map[string]Capability)
	var order []Capability
	var stack []string

	var visit func(c Capability) error
	visit = func(c Capability) error {
		switch state[c] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %s -> %s", strings.Join(stack, " -> "), c.ID())
		}

		if other, ok := ids[c.ID()]; ok && other != c {
			return fmt.Errorf("duplicate capability id %q", c.ID())
		}
		ids[c.ID()] = c

		state[c] = visiting
		stack = append(stack, c.ID())
		for _, dep := range c.Dependencies() {
			if dep == nil {
				return fmt.Errorf("capability %q has a nil dependency", c.ID())
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[c] = done
		order = append(order, c)
		return nil
	}

	for _, c := range caps {
		if err := visit(c); err != nil {
			return nil, err
		}
	}
	return order, nil
}
