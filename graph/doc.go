// Package graph orders the nodes of a small directed graph.
//
// Nodes are the integers 0..n-1. An edge from u to v means u must come
// before v.
//
// # Ordering
//
// Sort is Kahn's algorithm with a min-index ready queue: whenever several
// nodes are eligible the one with the smallest index comes first, so the
// order of independent nodes follows their numbering.
//
//	g := graph.New(3)
//	g.AddEdge(2, 0)
//	order, rest := g.Sort() // [1 2 0], []
//
// # Cycles
//
// Nodes left over by Sort lie on or behind a cycle. Cycles runs Tarjan's
// algorithm and returns the strongly connected components that are real
// cycles (more than one node, or a self loop); Path turns a component into
// a closed walk such as [a b a] suitable for error messages.
//
//	for _, scc := range g.Cycles() {
//	    fmt.Println(g.Path(scc))
//	}
package graph
