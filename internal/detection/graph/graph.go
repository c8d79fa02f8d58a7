// Package graph builds directed money-flow graphs from buffered transactions and
// answers the structural questions asked by the round-tripping and network detectors.
package graph

import (
	"sort"

	"github.com/Aidin1998/amlstream/pkg/models"
)

// SelfNode stands in for a missing from/to endpoint
const SelfNode = "self"

// DefaultMaxCycles bounds cycle enumeration on dense graphs
const DefaultMaxCycles = 64

// Edge is one transfer between two nodes
type Edge struct {
	From          string
	To            string
	Amount        float64
	TransactionID string
}

// FlowGraph is a directed multigraph keyed by node identifier
type FlowGraph struct {
	edges map[string][]Edge
	nodes map[string]struct{}
}

// Build creates a graph from transactions using metadata from/to. Endpoints that
// are absent default to SelfNode; malformed endpoints are returned as an error.
func Build(txns []models.Transaction) (*FlowGraph, error) {
	g := &FlowGraph{
		edges: make(map[string][]Edge),
		nodes: make(map[string]struct{}),
	}
	for _, t := range txns {
		from, err := endpoint(t, models.MetaFrom)
		if err != nil {
			return nil, err
		}
		to, err := endpoint(t, models.MetaTo)
		if err != nil {
			return nil, err
		}
		g.AddEdge(Edge{From: from, To: to, Amount: t.AmountFloat(), TransactionID: t.ID})
	}
	return g, nil
}

func endpoint(t models.Transaction, key string) (string, error) {
	v, ok, err := t.MetaString(key)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return SelfNode, nil
	}
	return v, nil
}

// AddEdge appends a directed edge
func (g *FlowGraph) AddEdge(e Edge) {
	g.edges[e.From] = append(g.edges[e.From], e)
	g.nodes[e.From] = struct{}{}
	g.nodes[e.To] = struct{}{}
}

// Nodes returns all node identifiers in sorted order
func (g *FlowGraph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EdgeCount returns the number of edges
func (g *FlowGraph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// successors returns distinct targets of node, sorted
func (g *FlowGraph) successors(node string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range g.edges[node] {
		if _, ok := seen[e.To]; ok {
			continue
		}
		seen[e.To] = struct{}{}
		out = append(out, e.To)
	}
	sort.Strings(out)
	return out
}

// Cycle is an ordered list of nodes; the last node links back to the first
type Cycle []string

// Cycles enumerates elementary cycles. Each distinct cycle is reported once,
// rooted at its lexicographically smallest node, so rotations never repeat.
// Parallel edges collapse. Enumeration stops after maxCycles (<=0 uses
// DefaultMaxCycles).
func (g *FlowGraph) Cycles(maxCycles int) []Cycle {
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	var cycles []Cycle
	nodes := g.Nodes()

	for _, start := range nodes {
		if len(cycles) >= maxCycles {
			break
		}
		onPath := map[string]bool{start: true}
		path := []string{start}

		var walk func(node string)
		walk = func(node string) {
			for _, next := range g.successors(node) {
				if len(cycles) >= maxCycles {
					return
				}
				if next == start {
					cycles = append(cycles, append(Cycle(nil), path...))
					continue
				}
				// only nodes greater than the root; smaller roots already covered them
				if next < start || onPath[next] {
					continue
				}
				onPath[next] = true
				path = append(path, next)
				walk(next)
				path = path[:len(path)-1]
				onPath[next] = false
			}
		}
		walk(start)
	}
	return cycles
}

// NodeDegree pairs a node with its total degree
type NodeDegree struct {
	Node   string `json:"node"`
	Degree int    `json:"degree"`
}

// Degrees returns in+out degree per node
func (g *FlowGraph) Degrees() map[string]int {
	deg := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		deg[n] = 0
	}
	for from, es := range g.edges {
		for _, e := range es {
			deg[from]++
			deg[e.To]++
		}
	}
	return deg
}

// HubNodes returns nodes whose degree exceeds factor times the average degree,
// sorted by descending degree
func (g *FlowGraph) HubNodes(factor float64) []NodeDegree {
	deg := g.Degrees()
	if len(deg) == 0 {
		return nil
	}
	total := 0
	for _, d := range deg {
		total += d
	}
	avg := float64(total) / float64(len(deg))

	var hubs []NodeDegree
	for n, d := range deg {
		if float64(d) > avg*factor {
			hubs = append(hubs, NodeDegree{Node: n, Degree: d})
		}
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Degree != hubs[j].Degree {
			return hubs[i].Degree > hubs[j].Degree
		}
		return hubs[i].Node < hubs[j].Node
	})
	return hubs
}

// Components returns weakly connected components found by flood fill. Each
// component is sorted; components are ordered by their first node.
func (g *FlowGraph) Components() [][]string {
	adj := make(map[string][]string, len(g.nodes))
	for from, es := range g.edges {
		for _, e := range es {
			adj[from] = append(adj[from], e.To)
			adj[e.To] = append(adj[e.To], from)
		}
	}

	visited := make(map[string]bool, len(g.nodes))
	var components [][]string
	for _, start := range g.Nodes() {
		if visited[start] {
			continue
		}
		var comp []string
		stack := []string{start}
		visited[start] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, n)
			for _, next := range adj[n] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	return components
}
