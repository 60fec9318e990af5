package provisionapp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDependencyCycle is returned when steps depend on each other in a loop
	ErrDependencyCycle = errors.New("step dependency cycle")
	// ErrUnknownDependency is returned when a step depends on a step that is not defined
	ErrUnknownDependency = errors.New("unknown step dependency")
	// ErrUnknownStep is returned when a step subset names an undefined step
	ErrUnknownStep = errors.New("unknown step")
)

// Step is a loader together with its place in the runbook
type Step struct {
	Name        string
	Description string
	// Weight is the share of the progress bar the step accounts for.
	Weight    int
	DependsOn []string
	// Critical steps abort the run when they fail.
	Critical bool
	Factory  func(Deps) Loader
}

// DefaultSteps returns the runbook steps in declaration order
func DefaultSteps() []Step {
	return []Step{
		{
			Name:        "products",
			Description: "Import products keyed by default_code",
			Weight:      100,
			Critical:    true,
			Factory:     func(d Deps) Loader { return NewProductsLoader(d) },
		},
		{
			Name:        "suppliers",
			Description: "Import supplier partners",
			Weight:      80,
			DependsOn:   []string{"products"},
			Factory:     func(d Deps) Loader { return NewSuppliersLoader(d) },
		},
		{
			Name:        "supplierinfo",
			Description: "Link products to supplier prices",
			Weight:      80,
			DependsOn:   []string{"products", "suppliers"},
			Factory:     func(d Deps) Loader { return NewSupplierInfoLoader(d) },
		},
		{
			Name:        "mailserver",
			Description: "Configure mail servers and parameters",
			Weight:      40,
			Factory:     func(d Deps) Loader { return NewMailServerLoader(d) },
		},
		{
			Name:        "stock_structure",
			Description: "Create value-stream locations and kanban orderpoints",
			Weight:      120,
			DependsOn:   []string{"products"},
			Factory:     func(d Deps) Loader { return NewStockStructureLoader(d) },
		},
		{
			Name:        "bom",
			Description: "Import bills of materials with component lines",
			Weight:      120,
			DependsOn:   []string{"products"},
			Critical:    true,
			Factory:     func(d Deps) Loader { return NewBOMLoader(d) },
		},
		{
			Name:        "routing",
			Description: "Create work centers and link routing operations",
			Weight:      100,
			DependsOn:   []string{"products", "bom"},
			Critical:    true,
			Factory:     func(d Deps) Loader { return NewRoutingLoader(d) },
		},
		{
			Name:        "manufacturing_config",
			Description: "Configure MO sequence, picking types and tracking",
			Weight:      100,
			DependsOn:   []string{"routing"},
			Factory:     func(d Deps) Loader { return NewManufacturingConfigLoader(d) },
		},
		{
			Name:        "quality",
			Description: "Create quality points per operation",
			Weight:      100,
			DependsOn:   []string{"routing", "products"},
			Critical:    true,
			Factory:     func(d Deps) Loader { return NewQualityLoader(d) },
		},
	}
}

// SortSteps orders steps so that every step comes after its dependencies.
// Independent steps keep their declaration order.
func SortSteps(steps []Step) ([]Step, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.Name] = i
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, s.Name, dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(steps))
	sorted := make([]Step, 0, len(steps))
	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		if state[i] == done {
			return nil
		}
		// copied so sibling branches never share a backing array
		path = append(append([]string(nil), path...), steps[i].Name)
		if state[i] == visiting {
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(path, " -> "))
		}
		state[i] = visiting
		for _, dep := range steps[i].DependsOn {
			if err := visit(index[dep], path); err != nil {
				return err
			}
		}
		state[i] = done
		sorted = append(sorted, steps[i])
		return nil
	}
	for i := range steps {
		if err := visit(i, nil); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// SelectSteps returns the named steps together with everything they depend
// on, in declaration order. No names selects all steps.
func SelectSteps(steps []Step, names []string) ([]Step, error) {
	if len(names) == 0 {
		return steps, nil
	}
	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}
	selected := make(map[string]bool)
	var add func(name string) error
	add = func(name string) error {
		if selected[name] {
			return nil
		}
		s, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStep, name)
		}
		selected[name] = true
		for _, dep := range s.DependsOn {
			if err := add(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if err := add(n); err != nil {
			return nil, err
		}
	}
	out := make([]Step, 0, len(selected))
	for _, s := range steps {
		if selected[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}
