// Package dag orders entities by their foreign-key dependencies.
// An entity runs only after every entity it references has been loaded.
package dag

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/thelook/pkg/core"
)

// Graph is a directed acyclic graph of entity names. An edge parent -> child
// means child references parent.
type Graph struct {
	nodes    map[string]struct{}
	children map[string][]string
	parents  map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]struct{}),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Dependencies maps each entity to the entities it references.
var Dependencies = map[string][]string{
	core.EntityProducts:       {core.EntityDistributionCenters},
	core.EntityInventoryItems: {core.EntityDistributionCenters},
	core.EntityOrders:         {core.EntityUsers},
	core.EntityOrderItems: {
		core.EntityOrders,
		core.EntityUsers,
		core.EntityProducts,
		core.EntityInventoryItems,
	},
}

// EntityGraph builds the dependency graph of every known entity.
func EntityGraph() *Graph {
	g := NewGraph()
	for _, e := range core.Entities {
		g.AddNode(e)
	}
	for child, parents := range Dependencies {
		for _, p := range parents {
			// both ends are known entities
			_ = g.AddEdge(p, child)
		}
	}
	return g
}

// AddNode adds id to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// AddEdge records that child depends on parent.
func (g *Graph) AddEdge(parent, child string) error {
	if !g.HasNode(parent) {
		return fmt.Errorf("parent node %q does not exist", parent)
	}
	if !g.HasNode(child) {
		return fmt.Errorf("child node %q does not exist", child)
	}
	if parent == child {
		return fmt.Errorf("self-loop detected: %s", parent)
	}
	if !slices.Contains(g.children[parent], child) {
		g.children[parent] = append(g.children[parent], child)
	}
	if !slices.Contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Parents returns the direct dependencies of id, sorted.
func (g *Graph) Parents(id string) []string {
	return sorted(g.parents[id])
}

// Children returns the direct dependents of id, sorted.
func (g *Graph) Children(id string) []string {
	return sorted(g.children[id])
}

// Nodes returns every node, sorted.
func (g *Graph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// FindCycle returns a cycle path, or nil if the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))
	from := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = onStack
		for _, child := range sorted(g.children[id]) {
			switch state[child] {
			case unvisited:
				from[child] = id
				if dfs(child) {
					return true
				}
			case onStack:
				cycle = []string{child}
				for cur := id; cur != child; cur = from[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}
		state[id] = done
		return false
	}

	for _, id := range g.Nodes() {
		if state[id] == unvisited && dfs(id) {
			return cycle
		}
	}
	return nil
}

// Levels groups nodes so that every node sits one level after its deepest
// dependency. Nodes of the same level are independent of each other.
func (g *Graph) Levels() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}

	level := make(map[string]int, len(g.nodes))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 0
		for _, p := range g.parents[id] {
			if d := depth(p) + 1; d > l {
				l = d
			}
		}
		level[id] = l
		return l
	}

	var levels [][]string
	for _, id := range g.Nodes() {
		l := depth(id)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}

// Downstream returns every transitive dependent of ids, excluding ids
// themselves, sorted.
func (g *Graph) Downstream(ids ...string) []string {
	return g.walk(g.children, ids)
}

// Upstream returns every transitive dependency of ids, excluding ids
// themselves, sorted.
func (g *Graph) Upstream(ids ...string) []string {
	return g.walk(g.parents, ids)
}

func (g *Graph) walk(next map[string][]string, ids []string) []string {
	seen := make(map[string]bool)
	start := make(map[string]bool, len(ids))
	for _, id := range ids {
		start[id] = true
	}

	var visit func(id string)
	visit = func(id string) {
		for _, n := range next[id] {
			if !seen[n] {
				seen[n] = true
				visit(n)
			}
		}
	}
	for _, id := range ids {
		visit(id)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		if !start[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Subgraph returns the graph restricted to ids. Unknown ids are ignored.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := NewGraph()
	for _, id := range ids {
		if g.HasNode(id) {
			sub.AddNode(id)
		}
	}
	for id := range sub.nodes {
		for _, child := range g.children[id] {
			if sub.HasNode(child) {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func sorted(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	return out
}
