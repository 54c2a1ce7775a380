package louvain

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
)

// Graph is a weighted undirected graph stored as adjacency arrays.
// Every edge u-v (u != v) appears in both adjacency lists; a self-loop appears once.
type Graph struct {
	NumNodes    int         `json:"num_nodes"`
	Adjacency   [][]int     `json:"-"`            // adjacency[i] = neighbors of node i
	Weights     [][]float64 `json:"-"`            // weights[i][j] = weight of edge i - adjacency[i][j]
	Degrees     []float64   `json:"degrees"`      // weighted degree, self-loops counted twice
	TotalWeight float64     `json:"total_weight"` // sum of edge weights (m)
}

// NewGraph creates a graph with n isolated nodes
func NewGraph(numNodes int) *Graph {
	return &Graph{
		NumNodes:  numNodes,
		Adjacency: make([][]int, numNodes),
		Weights:   make([][]float64, numNodes),
		Degrees:   make([]float64, numNodes),
	}
}

// AddEdge adds a weighted edge between two nodes
func (g *Graph) AddEdge(u, v int, weight float64) error {
	if u < 0 || u >= g.NumNodes || v < 0 || v >= g.NumNodes {
		return fmt.Errorf("node index out of range: u=%d, v=%d, numNodes=%d", u, v, g.NumNodes)
	}
	if weight <= 0 {
		return fmt.Errorf("edge weight must be positive: %f", weight)
	}

	g.Adjacency[u] = append(g.Adjacency[u], v)
	g.Weights[u] = append(g.Weights[u], weight)
	g.Degrees[u] += weight

	if u != v {
		g.Adjacency[v] = append(g.Adjacency[v], u)
		g.Weights[v] = append(g.Weights[v], weight)
		g.Degrees[v] += weight
	} else {
		// self-loop: counted twice in the degree
		g.Degrees[u] += weight
	}

	g.TotalWeight += weight
	return nil
}

// GetEdgeWeight returns the weight of edge u - v, 0 when absent
func (g *Graph) GetEdgeWeight(u, v int) float64 {
	if u < 0 || u >= g.NumNodes || v < 0 || v >= g.NumNodes {
		return 0.0
	}
	for i, neighbor := range g.Adjacency[u] {
		if neighbor == v {
			return g.Weights[u][i]
		}
	}
	return 0.0
}

// GetNeighbors returns neighbors and their edge weights for a node
func (g *Graph) GetNeighbors(node int) ([]int, []float64) {
	if node < 0 || node >= g.NumNodes {
		return nil, nil
	}
	return g.Adjacency[node], g.Weights[node]
}

// NumEdges counts undirected edges, self-loops included
func (g *Graph) NumEdges() int {
	count := 0
	for u, neighbors := range g.Adjacency {
		for _, v := range neighbors {
			if v >= u {
				count++
			}
		}
	}
	return count
}

// Validate checks graph consistency
func (g *Graph) Validate() error {
	if g.NumNodes <= 0 {
		return fmt.Errorf("graph must have positive number of nodes")
	}
	if len(g.Adjacency) != g.NumNodes || len(g.Weights) != g.NumNodes || len(g.Degrees) != g.NumNodes {
		return fmt.Errorf("graph arrays do not match %d nodes", g.NumNodes)
	}

	for i := 0; i < g.NumNodes; i++ {
		if len(g.Adjacency[i]) != len(g.Weights[i]) {
			return fmt.Errorf("adjacency and weights arrays inconsistent for node %d", i)
		}
		for j, neighbor := range g.Adjacency[i] {
			if neighbor < 0 || neighbor >= g.NumNodes {
				return fmt.Errorf("invalid neighbor %d for node %d", neighbor, i)
			}
			if g.Weights[i][j] <= 0 {
				return fmt.Errorf("non-positive weight %f for edge %d-%d", g.Weights[i][j], i, neighbor)
			}
		}
	}
	return nil
}

// ToGonum converts the graph into a gonum weighted undirected graph.
// Self-loops are not representable there and are rejected.
func (g *Graph) ToGonum() (*simple.WeightedUndirectedGraph, error) {
	out := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < g.NumNodes; i++ {
		out.AddNode(simple.Node(i))
	}
	for u, neighbors := range g.Adjacency {
		for k, v := range neighbors {
			if v == u {
				return nil, fmt.Errorf("self-loop on node %d", u)
			}
			if v < u {
				continue
			}
			out.SetWeightedEdge(out.NewWeightedEdge(simple.Node(u), simple.Node(v), g.Weights[u][k]))
		}
	}
	return out, nil
}
