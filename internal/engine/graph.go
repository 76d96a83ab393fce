package engine

import (
	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

// StageGraph is the validated, immutable DAG compiled from a builder.
// Successor sets and topological levels are computed once at build time.
type StageGraph struct {
	name       string
	specs      []StageSpec
	byName     map[string]StageSpec
	index      map[string]int
	successors map[string][]string
	levels     [][]string
}

// Name returns the pipeline name the graph was built under.
func (g *StageGraph) Name() string { return g.name }

// Specs returns the stage specs in declaration order.
func (g *StageGraph) Specs() []StageSpec {
	return append([]StageSpec(nil), g.specs...)
}

// Spec returns the named stage spec.
func (g *StageGraph) Spec(name string) (StageSpec, bool) {
	spec, ok := g.byName[name]
	return spec, ok
}

// Successors returns the stages that depend on the named stage, in
// declaration order.
func (g *StageGraph) Successors(name string) []string {
	return append([]string(nil), g.successors[name]...)
}

// Levels returns the topological levels of the graph; every stage in level
// N depends only on stages in levels < N.
func (g *StageGraph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]string(nil), level...)
	}
	return out
}

// Len returns the number of stages.
func (g *StageGraph) Len() int { return len(g.specs) }

func compileGraph(name string, specs []StageSpec) (*StageGraph, error) {
	g := &StageGraph{
		name:       name,
		specs:      append([]StageSpec(nil), specs...),
		byName:     make(map[string]StageSpec, len(specs)),
		index:      make(map[string]int, len(specs)),
		successors: make(map[string][]string, len(specs)),
	}

	for i, spec := range g.specs {
		g.byName[spec.Name] = spec
		g.index[spec.Name] = i
	}

	// Missing-dependency check: one pass over every declared edge.
	for _, spec := range g.specs {
		for _, dep := range spec.DependsOn {
			if _, ok := g.byName[dep]; !ok {
				return nil, sferrors.NewValidationError(sferrors.CodeMissingDep,
					"stage \""+spec.Name+"\" depends on unknown stage \""+dep+"\"", nil)
			}
			g.successors[dep] = append(g.successors[dep], spec.Name)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, sferrors.NewCycleError(path)
	}

	g.levels = g.computeLevels()
	return g, nil
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycle runs an iterative depth-first search with color marking over
// the successor edges. When a GRAY successor is reached, the GRAY stack
// slice from that node is the cycle path, closed by repeating the entry
// node.
func (g *StageGraph) findCycle() []string {
	colors := make(map[string]int, len(g.specs))

	type frame struct {
		name string
		next int
	}

	for _, root := range g.specs {
		if colors[root.Name] != colorWhite {
			continue
		}

		stack := []frame{{name: root.Name}}
		colors[root.Name] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succs := g.successors[top.name]

			if top.next < len(succs) {
				succ := succs[top.next]
				top.next++

				switch colors[succ] {
				case colorWhite:
					colors[succ] = colorGray
					stack = append(stack, frame{name: succ})
				case colorGray:
					// Slice the gray stack from the first occurrence of succ.
					start := 0
					for i := range stack {
						if stack[i].name == succ {
							start = i
							break
						}
					}
					path := make([]string, 0, len(stack)-start+1)
					for _, f := range stack[start:] {
						path = append(path, f.name)
					}
					return append(path, succ)
				}
				continue
			}

			colors[top.name] = colorBlack
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// computeLevels groups stages by dependency depth using Kahn's algorithm.
// Within a level, declaration order is preserved for reproducible traces.
func (g *StageGraph) computeLevels() [][]string {
	indegree := make(map[string]int, len(g.specs))
	for _, spec := range g.specs {
		indegree[spec.Name] = len(spec.DependsOn)
	}

	current := make([]string, 0, len(g.specs))
	for _, spec := range g.specs {
		if indegree[spec.Name] == 0 {
			current = append(current, spec.Name)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, append([]string(nil), current...))

		next := make([]string, 0)
		for _, name := range current {
			for _, succ := range g.successors[name] {
				indegree[succ]--
				if indegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		g.sortByDeclaration(next)
		current = next
	}
	return levels
}

func (g *StageGraph) sortByDeclaration(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && g.index[names[j]] < g.index[names[j-1]]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}
