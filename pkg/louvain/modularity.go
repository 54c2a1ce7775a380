package louvain

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Modularity evaluates a flat partition of graph at the given resolution
func Modularity(g *Graph, labels []int, resolution float64) float64 {
	if g.TotalWeight == 0 {
		return 0.0
	}

	k := countLabels(labels)
	internal := make([]float64, k)
	total := make([]float64, k)

	for u, neighbors := range g.Adjacency {
		total[labels[u]] += g.Degrees[u]
		for i, v := range neighbors {
			if labels[v] != labels[u] {
				continue
			}
			if v == u {
				internal[labels[u]] += 2 * g.Weights[u][i]
			} else {
				internal[labels[u]] += g.Weights[u][i]
			}
		}
	}

	m2 := 2.0 * g.TotalWeight
	q := 0.0
	for c := 0; c < k; c++ {
		q += internal[c]/m2 - resolution*(total[c]/m2)*(total[c]/m2)
	}
	return q
}

// GonumModularity computes the same quantity with gonum's community.Q.
// Graphs with self-loops are rejected.
func GonumModularity(g *Graph, labels []int, resolution float64) (float64, error) {
	if len(labels) != g.NumNodes {
		return 0, fmt.Errorf("%d labels for %d nodes", len(labels), g.NumNodes)
	}
	wg, err := g.ToGonum()
	if err != nil {
		return 0, err
	}
	return community.Q(wg, partition(labels), resolution), nil
}

func partition(labels []int) [][]graph.Node {
	groups := make([][]graph.Node, countLabels(labels))
	for i, l := range labels {
		groups[l] = append(groups[l], simple.Node(i))
	}
	return groups
}
