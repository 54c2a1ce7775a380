package knn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

func randomCoords(n, d int, seed int64) *models.ReducedCoordinates {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*d)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	patients := make([]string, n)
	for i := range patients {
		patients[i] = fmt.Sprintf("P%d", i)
	}
	return &models.ReducedCoordinates{Patients: patients, Coords: mat.NewDense(n, d, data)}
}

// twoBlobs places size points around each of two far-apart centers
func twoBlobs(size int, seed int64) *models.ReducedCoordinates {
	rng := rand.New(rand.NewSource(seed))
	n, d := 2*size, 4
	data := make([]float64, n*d)
	for i := 0; i < n; i++ {
		center := 0.0
		if i >= size {
			center = 100
		}
		for k := 0; k < d; k++ {
			data[i*d+k] = center + rng.NormFloat64()
		}
	}
	patients := make([]string, n)
	for i := range patients {
		patients[i] = fmt.Sprintf("P%d", i)
	}
	return &models.ReducedCoordinates{Patients: patients, Coords: mat.NewDense(n, d, data)}
}

func bruteForce(points mat.Matrix, i, k int) []int {
	n, _ := points.Dims()
	rows := denseRows(points)
	idx := make([]int, 0, n-1)
	for j := 0; j < n; j++ {
		if j != i {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return squaredDistance(rows[i], rows[idx[a]]) < squaredDistance(rows[i], rows[idx[b]])
	})
	return idx[:k]
}

func contains(sorted []int, x int) bool {
	k := sort.SearchInts(sorted, x)
	return k < len(sorted) && sorted[k] == x
}

func TestSearchMatchesBruteForce(t *testing.T) {
	coords := randomCoords(150, 6, 1)
	found, err := Search(context.Background(), coords.Coords, 7, 4)
	require.NoError(t, err)
	require.Len(t, found, 150)

	for i, list := range found {
		require.Len(t, list, 7)
		got := make([]int, len(list))
		for k, nb := range list {
			got[k] = nb.Index
			assert.NotEqual(t, i, nb.Index, "self excluded")
			if k > 0 {
				assert.LessOrEqual(t, list[k-1].Distance, nb.Distance)
			}
		}
		assert.Equal(t, bruteForce(coords.Coords, i, 7), got)
	}
}

func TestSearchTiesByIndex(t *testing.T) {
	// 1 and 3 are both at distance 1 from 0; 2 is further
	points := mat.NewDense(4, 1, []float64{0, 1, 5, -1})
	found, err := Search(context.Background(), points, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, found[0][0].Index)
	assert.Equal(t, 3, found[0][1].Index)

	points = mat.NewDense(4, 1, []float64{0, -1, 5, 1})
	found, err = Search(context.Background(), points, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, found[0][0].Index, "lower index wins a tie")
}

func TestSearchInsufficientData(t *testing.T) {
	coords := randomCoords(5, 2, 2)
	_, err := Search(context.Background(), coords.Coords, 5, 2)
	var insufficient *models.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Samples)
	assert.Equal(t, 5, insufficient.Required)
}

func TestBuildGraphProperties(t *testing.T) {
	coords := randomCoords(200, 30, 3)
	b := NewBuilder(zerolog.Nop())

	g, err := b.Build(context.Background(), coords)
	require.NoError(t, err)
	require.Equal(t, 200, g.NumNodes())

	for i, nb := range g.Neighbors {
		assert.Len(t, nb, DefaultK)
		assert.NotContains(t, nb, i)
		assert.True(t, sort.IntsAreSorted(nb))
	}

	for k, e := range g.Edges {
		assert.Less(t, e.I, e.J, "no self-loops, canonical order")
		assert.Greater(t, e.Weight, 0.0)
		assert.LessOrEqual(t, e.Weight, 1.0)

		directed := jaccard(g.Neighbors[e.I], g.Neighbors[e.J])
		assert.Equal(t, directed, e.Weight)
		assert.Equal(t, e.Weight, g.Weight(e.J, e.I), "symmetric")

		assert.True(t, contains(g.Neighbors[e.I], e.J) || contains(g.Neighbors[e.J], e.I), "edge %d joins non-neighbors", k)
	}
}

func TestBuildUsesLeadingAxes(t *testing.T) {
	coords := randomCoords(60, 10, 4)
	// blow up the trailing axes; with NPC=3 they must be ignored
	for i := 0; i < 60; i++ {
		for k := 3; k < 10; k++ {
			coords.Coords.Set(i, k, coords.Coords.At(i, k)*1000)
		}
	}

	b := &Builder{K: 5, NPC: 3, Workers: 2, Logger: zerolog.Nop()}
	g, err := b.Build(context.Background(), coords)
	require.NoError(t, err)

	head := mat.DenseCopyOf(coords.Coords.Slice(0, 60, 0, 3))
	for i := range g.Neighbors {
		want := bruteForce(head, i, 5)
		sort.Ints(want)
		assert.Equal(t, want, g.Neighbors[i])
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b []int
		want float64
	}{
		{[]int{1, 2, 3}, []int{1, 2, 3}, 1},
		{[]int{1, 2, 3}, []int{4, 5, 6}, 0},
		{[]int{1, 2, 3, 4}, []int{3, 4, 5, 6}, 2.0 / 6},
		{nil, nil, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jaccard(tt.a, tt.b))
		assert.Equal(t, tt.want, jaccard(tt.b, tt.a))
	}
}

func TestTwoBlobsYieldTwoCommunities(t *testing.T) {
	coords := twoBlobs(6, 5)
	b := &Builder{K: 5, NPC: DefaultNPC, Workers: 3, Logger: zerolog.Nop()}

	g, err := b.Build(context.Background(), coords)
	require.NoError(t, err)
	for _, e := range g.Edges {
		assert.Equal(t, e.I < 6, e.J < 6, "no edge crosses the blobs")
	}

	lg, err := g.ToLouvain()
	require.NoError(t, err)
	assert.Equal(t, len(g.Edges), lg.NumEdges())

	config := louvain.NewConfig()
	config.SetLogger(zerolog.Nop())
	result, err := louvain.Run(context.Background(), lg, config)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NumCommunities)
	for i := 0; i < 12; i++ {
		if i < 6 {
			assert.Equal(t, result.Labels[0], result.Labels[i])
		} else {
			assert.Equal(t, result.Labels[6], result.Labels[i])
		}
	}
}

func BenchmarkBuild(b *testing.B) {
	coords := randomCoords(3000, 25, 9)
	builder := NewBuilder(zerolog.Nop())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(context.Background(), coords); err != nil {
			b.Fatal(err)
		}
	}
}
