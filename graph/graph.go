package graph

import (
	"container/heap"
	"slices"
)

// Graph is a directed graph over the nodes 0..n-1. Parallel edges are
// collapsed.
type Graph struct {
	out  [][]int
	in   []int
	seen map[[2]int]struct{}
}

// New returns a graph with n nodes and no edges.
func New(n int) *Graph {
	return &Graph{
		out:  make([][]int, n),
		in:   make([]int, n),
		seen: make(map[[2]int]struct{}),
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.out) }

// AddEdge adds an edge from u to v. It reports whether the edge is new.
func (g *Graph) AddEdge(u, v int) bool {
	if _, ok := g.seen[[2]int{u, v}]; ok {
		return false
	}
	g.seen[[2]int{u, v}] = struct{}{}
	g.out[u] = append(g.out[u], v)
	g.in[v]++
	return true
}

// HasEdge reports whether the graph has an edge from u to v.
func (g *Graph) HasEdge(u, v int) bool {
	_, ok := g.seen[[2]int{u, v}]
	return ok
}

// Successors returns the targets of the edges leaving u.
func (g *Graph) Successors(u int) []int { return g.out[u] }

// Sort returns the nodes in topological order. Nodes that cannot be
// ordered because of cycles are returned in rest, in index order.
func (g *Graph) Sort() (order, rest []int) {
	in := slices.Clone(g.in)
	ready := &minHeap{}
	for v, d := range in {
		if d == 0 {
			*ready = append(*ready, v)
		}
	}
	heap.Init(ready)
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		order = append(order, u)
		for _, v := range g.out[u] {
			if in[v]--; in[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	for v, d := range in {
		if d > 0 {
			rest = append(rest, v)
		}
	}
	return order, rest
}

// Components returns the strongly connected components in the order
// Tarjan's algorithm completes them, which is a reverse topological order
// of the condensation. Members of a component are sorted by index.
func (g *Graph) Components() [][]int {
	var (
		next    int
		stack   []int
		index   = make([]int, g.Len())
		low     = make([]int, g.Len())
		onStack = make([]bool, g.Len())
		sccs    [][]int
	)
	for i := range index {
		index[i] = -1
	}
	var connect func(v int)
	connect = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.out[v] {
			switch {
			case index[w] < 0:
				connect(w)
				low[v] = min(low[v], low[w])
			case onStack[w]:
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var scc []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		slices.Sort(scc)
		sccs = append(sccs, scc)
	}
	for v := range g.out {
		if index[v] < 0 {
			connect(v)
		}
	}
	return sccs
}

// Cycles returns the components that contain a cycle, ordered by their
// smallest member.
func (g *Graph) Cycles() [][]int {
	var cycles [][]int
	for _, scc := range g.Components() {
		if len(scc) > 1 || g.HasEdge(scc[0], scc[0]) {
			cycles = append(cycles, scc)
		}
	}
	slices.SortFunc(cycles, func(a, b []int) int { return a[0] - b[0] })
	return cycles
}

// Path returns a shortest closed walk through the component starting and
// ending at its smallest member, e.g. [0 2 0].
func (g *Graph) Path(scc []int) []int {
	if len(scc) == 0 {
		return nil
	}
	start := slices.Min(scc)
	member := make(map[int]bool, len(scc))
	for _, v := range scc {
		member[v] = true
	}
	parent := map[int]int{}
	queue := []int{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.out[u] {
			if !member[v] {
				continue
			}
			if v == start {
				path := []int{start}
				for w := u; w != start; w = parent[w] {
					path = append(path, w)
				}
				path = append(path, start)
				slices.Reverse(path)
				return path
			}
			if _, ok := parent[v]; !ok {
				parent[v] = u
				queue = append(queue, v)
			}
		}
	}
	return []int{start}
}

type minHeap []int

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
