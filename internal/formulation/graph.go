package formulation

import (
	"strings"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

// DFS colors.
const (
	white = iota
	gray
	black
)

// DependencyGraph is an arena of named bodies indexed by integer. adj[i]
// lists the bodies that body i references.
type DependencyGraph struct {
	names []string
	index map[string]int
	adj   [][]int
}

func newDependencyGraph() *DependencyGraph {
	return &DependencyGraph{index: make(map[string]int)}
}

// add registers a node and returns its index. Names are case-insensitive.
func (g *DependencyGraph) add(name string) int {
	key := strings.ToLower(name)
	if i, ok := g.index[key]; ok {
		return i
	}
	g.names = append(g.names, name)
	g.adj = append(g.adj, nil)
	g.index[key] = len(g.names) - 1
	return len(g.names) - 1
}

func (g *DependencyGraph) link(from, to int) {
	for _, c := range g.adj[from] {
		if c == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
}

// Lookup returns the index of a name.
func (g *DependencyGraph) Lookup(name string) (int, bool) {
	i, ok := g.index[strings.ToLower(name)]
	return i, ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.names) }

// Children returns the names referenced directly by name.
func (g *DependencyGraph) Children(name string) []string {
	i, ok := g.Lookup(name)
	if !ok {
		return nil
	}
	out := make([]string, len(g.adj[i]))
	for k, c := range g.adj[i] {
		out[k] = g.names[c]
	}
	return out
}

// Order returns the nodes in dependency order, every node after the nodes it
// references. A cycle yields CycleDetected naming the cycle path.
func (g *DependencyGraph) Order() ([]int, error) {
	color := make([]int, len(g.names))
	order := make([]int, 0, len(g.names))
	var stack []int

	var visit func(u int) error
	visit = func(u int) error {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.adj[u] {
			switch color[v] {
			case gray:
				return apperr.Errorf(apperr.CycleDetected, "function cycle %s", g.cyclePath(stack, v))
			case white:
				if err := visit(v); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		order = append(order, u)
		return nil
	}

	for u := range g.names {
		if color[u] == white {
			if err := visit(u); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func (g *DependencyGraph) cyclePath(stack []int, back int) string {
	start := 0
	for i, u := range stack {
		if u == back {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(stack)-start+1)
	for _, u := range stack[start:] {
		parts = append(parts, g.names[u])
	}
	parts = append(parts, g.names[back])
	return strings.Join(parts, " -> ")
}

// HasCycle reports whether a cycle is reachable from root.
func (g *DependencyGraph) HasCycle(root string) bool {
	r, ok := g.Lookup(root)
	if !ok {
		return false
	}
	color := make([]int, len(g.names))
	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, v := range g.adj[u] {
			if color[v] == gray || (color[v] == white && visit(v)) {
				return true
			}
		}
		color[u] = black
		return false
	}
	return visit(r)
}

// MaxDepth returns the length of the longest reference chain below root;
// a body with no references has depth 0. It returns -1 when root is unknown
// or a cycle is reachable.
func (g *DependencyGraph) MaxDepth(root string) int {
	r, ok := g.Lookup(root)
	if !ok || g.HasCycle(root) {
		return -1
	}
	memo := make(map[int]int)
	var depth func(u int) int
	depth = func(u int) int {
		if d, ok := memo[u]; ok {
			return d
		}
		best := 0
		for _, v := range g.adj[u] {
			if d := depth(v) + 1; d > best {
				best = d
			}
		}
		memo[u] = best
		return best
	}
	return depth(r)
}
