package louvain

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGraph describes a graph with a known community structure
type TestGraph struct {
	Name        string
	Graph       *Graph
	ExpectedMin int // minimum expected communities
	ExpectedMax int // maximum expected communities
	Description string
}

func mustEdge(t testing.TB, g *Graph, u, v int, w float64) {
	t.Helper()
	if err := g.AddEdge(u, v, w); err != nil {
		t.Fatalf("AddEdge(%d, %d): %v", u, v, err)
	}
}

func twoTriangles(t testing.TB) *Graph {
	g := NewGraph(6)
	mustEdge(t, g, 0, 1, 1)
	mustEdge(t, g, 1, 2, 1)
	mustEdge(t, g, 2, 0, 1)
	mustEdge(t, g, 3, 4, 1)
	mustEdge(t, g, 4, 5, 1)
	mustEdge(t, g, 5, 3, 1)
	mustEdge(t, g, 2, 3, 1)
	return g
}

// ringOfCliques joins numCliques complete graphs of cliqueSize nodes in a ring
func ringOfCliques(t testing.TB, numCliques, cliqueSize int) *Graph {
	g := NewGraph(numCliques * cliqueSize)
	for c := 0; c < numCliques; c++ {
		base := c * cliqueSize
		for i := 0; i < cliqueSize; i++ {
			for j := i + 1; j < cliqueSize; j++ {
				mustEdge(t, g, base+i, base+j, 1)
			}
		}
		next := ((c + 1) % numCliques) * cliqueSize
		mustEdge(t, g, base, next+1, 1)
	}
	return g
}

func randomGraph(t testing.TB, n int, p float64, seed int64) *Graph {
	rng := rand.New(rand.NewSource(seed))
	g := NewGraph(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < p {
				mustEdge(t, g, i, j, 0.1+rng.Float64())
			}
		}
	}
	return g
}

func createTestGraphs(t testing.TB) []TestGraph {
	barbell := NewGraph(10)
	for _, offset := range []int{0, 5} {
		for i := 0; i < 5; i++ {
			for j := i + 1; j < 5; j++ {
				mustEdge(t, barbell, offset+i, offset+j, 1)
			}
		}
	}
	mustEdge(t, barbell, 4, 5, 1)

	single := NewGraph(1)

	isolated := NewGraph(3)

	return []TestGraph{
		{Name: "TwoTriangles", Graph: twoTriangles(t), ExpectedMin: 2, ExpectedMax: 2, Description: "two triangles joined by one edge"},
		{Name: "Barbell", Graph: barbell, ExpectedMin: 2, ExpectedMax: 2, Description: "two K5 joined by a bridge"},
		{Name: "RingOfCliques", Graph: ringOfCliques(t, 8, 5), ExpectedMin: 8, ExpectedMax: 8, Description: "eight K5 in a ring"},
		{Name: "SingleNode", Graph: single, ExpectedMin: 1, ExpectedMax: 1, Description: "one isolated node"},
		{Name: "Isolated", Graph: isolated, ExpectedMin: 3, ExpectedMax: 3, Description: "three nodes without edges"},
	}
}

func quietConfig() *Config {
	config := NewConfig()
	config.SetLogger(zerolog.Nop())
	return config
}

func TestRunKnownStructures(t *testing.T) {
	for _, tg := range createTestGraphs(t) {
		t.Run(tg.Name, func(t *testing.T) {
			result, err := Run(context.Background(), tg.Graph, quietConfig())
			require.NoError(t, err, tg.Description)

			require.Len(t, result.Labels, tg.Graph.NumNodes, "every node gets exactly one label")
			assert.GreaterOrEqual(t, result.NumCommunities, tg.ExpectedMin)
			assert.LessOrEqual(t, result.NumCommunities, tg.ExpectedMax)

			seen := make(map[int]bool)
			for _, l := range result.Labels {
				assert.GreaterOrEqual(t, l, 0)
				assert.Less(t, l, result.NumCommunities)
				seen[l] = true
			}
			assert.Len(t, seen, result.NumCommunities, "labels are compact")
		})
	}
}

func TestTwoTrianglesPartition(t *testing.T) {
	result, err := Run(context.Background(), twoTriangles(t), quietConfig())
	require.NoError(t, err)

	labels := result.Labels
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[3], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
	assert.Equal(t, 0, labels[0], "labels numbered by first appearance")

	// 2 * (3/7 - (7/14)^2)
	assert.InDelta(t, 2*(3.0/7-0.25), result.Modularity, 1e-12)
}

func TestRunDeterministic(t *testing.T) {
	g := randomGraph(t, 120, 0.05, 3)

	a, err := Run(context.Background(), g, quietConfig())
	require.NoError(t, err)
	b, err := Run(context.Background(), g, quietConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Modularity, b.Modularity)
}

func TestModularityMatchesGonum(t *testing.T) {
	g := randomGraph(t, 80, 0.08, 11)
	for _, resolution := range []float64{0.5, 1, 2} {
		config := quietConfig()
		config.Set("algorithm.resolution", resolution)

		result, err := Run(context.Background(), g, config)
		require.NoError(t, err)

		q, err := GonumModularity(g, result.Labels, resolution)
		require.NoError(t, err)
		assert.InDelta(t, q, result.Modularity, 1e-9)
	}
}

func TestModularityImprovesOnSingletons(t *testing.T) {
	g := randomGraph(t, 60, 0.1, 5)
	result, err := Run(context.Background(), g, quietConfig())
	require.NoError(t, err)

	singletons := make([]int, g.NumNodes)
	for i := range singletons {
		singletons[i] = i
	}
	assert.Greater(t, result.Modularity, Modularity(g, singletons, 1))
}

func TestResolutionTrend(t *testing.T) {
	g := ringOfCliques(t, 12, 4)

	average := func(resolution float64) float64 {
		total := 0
		for seed := int64(1); seed <= 10; seed++ {
			config := quietConfig()
			config.Set("algorithm.random_seed", seed)
			config.Set("algorithm.resolution", resolution)
			result, err := Run(context.Background(), g, config)
			require.NoError(t, err)
			total += result.NumCommunities
		}
		return float64(total) / 10
	}

	low, high := average(0.1), average(1.5)
	assert.LessOrEqual(t, low, high)
	assert.Less(t, low, 12.0)
}

func TestAggregatePreservesWeight(t *testing.T) {
	g := twoTriangles(t)
	comm := NewCommunity(g)
	// {0,1,2} and {3,4,5}
	comm.NodeToCommunity = []int{0, 0, 0, 3, 3, 3}

	mapping, k := renumber(comm)
	require.Equal(t, 2, k)

	super, err := AggregateGraph(g, comm, mapping, k)
	require.NoError(t, err)

	assert.Equal(t, 2, super.NumNodes)
	assert.Equal(t, g.TotalWeight, super.TotalWeight)
	assert.Equal(t, 3.0, super.GetEdgeWeight(0, 0))
	assert.Equal(t, 3.0, super.GetEdgeWeight(1, 1))
	assert.Equal(t, 1.0, super.GetEdgeWeight(0, 1))
	assert.Equal(t, 7.0, super.Degrees[0])

	// modularity is unchanged by contraction
	assert.InDelta(t, Modularity(g, []int{0, 0, 0, 1, 1, 1}, 1), Modularity(super, []int{0, 1}, 1), 1e-12)
}

func TestGraphValidation(t *testing.T) {
	g := NewGraph(3)
	assert.Error(t, g.AddEdge(0, 3, 1))
	assert.Error(t, g.AddEdge(0, 1, 0))
	assert.Error(t, g.AddEdge(0, 1, -1))
	require.NoError(t, g.AddEdge(0, 1, 0.5))
	assert.NoError(t, g.Validate())
	assert.Equal(t, 1, g.NumEdges())

	_, err := Run(context.Background(), NewGraph(0), quietConfig())
	assert.Error(t, err)
}

func TestGonumRejectsSelfLoops(t *testing.T) {
	g := NewGraph(2)
	require.NoError(t, g.AddEdge(0, 0, 1))
	_, err := GonumModularity(g, []int{0, 1}, 1)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	g := ringOfCliques(t, 6, 5)
	points, err := Sweep(context.Background(), g, []float64{1.5, 0.1, 1}, quietConfig())
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, 0.1, points[0].Resolution)
	assert.Equal(t, 1.0, points[1].Resolution)
	assert.Equal(t, 1.5, points[2].Resolution)
	for _, p := range points {
		assert.Len(t, p.Labels, g.NumNodes)
	}
	assert.LessOrEqual(t, points[0].NumCommunities, points[2].NumCommunities)

	_, err = Sweep(context.Background(), g, []float64{0}, quietConfig())
	assert.Error(t, err)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, twoTriangles(t), quietConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkRun(b *testing.B) {
	g := randomGraph(b, 2000, 0.01, 1)
	config := quietConfig()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Run(context.Background(), g, config); err != nil {
			b.Fatal(err)
		}
	}
}
