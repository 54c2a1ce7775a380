package knn

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const (
	DefaultK       = 20
	DefaultNPC     = 25
	DefaultWorkers = 10
)

// Edge is an undirected weighted edge with I < J
type Edge struct {
	I, J   int
	Weight float64
}

// NeighborGraph is the shared-neighbor graph over the patients of one run
type NeighborGraph struct {
	Patients  []string
	Neighbors [][]int // sorted neighbor indices of each patient, self excluded
	Edges     []Edge  // sorted by (I, J), zero weights omitted
}

// NumNodes returns the number of patients
func (g *NeighborGraph) NumNodes() int { return len(g.Patients) }

// Weight returns the symmetric weight of i - j, 0 when absent
func (g *NeighborGraph) Weight(i, j int) float64 {
	if i > j {
		i, j = j, i
	}
	k := sort.Search(len(g.Edges), func(k int) bool {
		e := g.Edges[k]
		return e.I > i || (e.I == i && e.J >= j)
	})
	if k < len(g.Edges) && g.Edges[k].I == i && g.Edges[k].J == j {
		return g.Edges[k].Weight
	}
	return 0
}

// ToLouvain converts the graph into the community detector's representation
func (g *NeighborGraph) ToLouvain() (*louvain.Graph, error) {
	out := louvain.NewGraph(g.NumNodes())
	for _, e := range g.Edges {
		if err := out.AddEdge(e.I, e.J, e.Weight); err != nil {
			return nil, fmt.Errorf("edge %d-%d: %w", e.I, e.J, err)
		}
	}
	return out, nil
}

// Builder turns reduced coordinates into a Jaccard-weighted kNN graph
type Builder struct {
	K       int
	NPC     int
	Workers int
	Logger  zerolog.Logger
}

// NewBuilder returns a builder with the default parameters
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{K: DefaultK, NPC: DefaultNPC, Workers: DefaultWorkers, Logger: logger}
}

// Build searches the K nearest neighbors in the first NPC axes and weights
// every neighbor relation by the Jaccard index of the two neighbor sets.
// Directed weights are symmetrized by taking the maximum.
func (b *Builder) Build(ctx context.Context, coords *models.ReducedCoordinates) (*NeighborGraph, error) {
	points := coords.Leading(b.NPC)

	found, err := Search(ctx, points, b.K, b.Workers)
	if err != nil {
		return nil, fmt.Errorf("neighbor search failed: %w", err)
	}

	neighbors := make([][]int, len(found))
	for i, list := range found {
		idx := make([]int, len(list))
		for k, nb := range list {
			idx[k] = nb.Index
		}
		sort.Ints(idx)
		neighbors[i] = idx
	}

	weights := make(map[[2]int]float64)
	for i, list := range neighbors {
		for _, j := range list {
			w := jaccard(neighbors[i], neighbors[j])
			key := [2]int{i, j}
			if j < i {
				key = [2]int{j, i}
			}
			if w > weights[key] {
				weights[key] = w
			}
		}
	}

	edges := make([]Edge, 0, len(weights))
	for key, w := range weights {
		if w > 0 {
			edges = append(edges, Edge{I: key[0], J: key[1], Weight: w})
		}
	}
	sort.Slice(edges, func(a, c int) bool {
		if edges[a].I != edges[c].I {
			return edges[a].I < edges[c].I
		}
		return edges[a].J < edges[c].J
	})

	_, axes := points.Dims()
	b.Logger.Debug().
		Int("patients", len(neighbors)).
		Int("k", b.K).
		Int("axes", axes).
		Int("edges", len(edges)).
		Msg("Neighbor graph built")

	return &NeighborGraph{
		Patients:  append([]string(nil), coords.Patients...),
		Neighbors: neighbors,
		Edges:     edges,
	}, nil
}

// jaccard computes |a ∩ b| / |a ∪ b| of two sorted index sets by merging
func jaccard(a, b []int) float64 {
	inter := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
