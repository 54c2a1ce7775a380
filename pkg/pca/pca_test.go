package pca

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// randomMatrix builds genes x patients values with a few latent factors
func randomMatrix(t testing.TB, genes, patients int, seed int64) *models.ExpressionMatrix {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	factors := make([][]float64, 3)
	for f := range factors {
		factors[f] = make([]float64, patients)
		for j := range factors[f] {
			factors[f][j] = rng.NormFloat64() * float64(3-f)
		}
	}

	values := make([][]float64, genes)
	names := make([]string, genes)
	for i := range values {
		names[i] = fmt.Sprintf("G%d", i)
		values[i] = make([]float64, patients)
		w := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		for j := range values[i] {
			v := rng.NormFloat64() * 0.1
			for f := range factors {
				v += w[f] * factors[f][j]
			}
			values[i][j] = v
		}
	}

	ids := make([]string, patients)
	for j := range ids {
		ids[j] = fmt.Sprintf("P%d", j)
	}
	m, err := models.NewExpressionMatrix(names, ids, values)
	require.NoError(t, err)
	return m
}

func TestReduceVarianceExplained(t *testing.T) {
	m := randomMatrix(t, 200, 40, 1)

	rc, err := NewReducer().Reduce(m)
	require.NoError(t, err)

	n, axes := rc.Coords.Dims()
	assert.Equal(t, 40, n)
	assert.Equal(t, 40, axes, "capped at the number of patients")
	assert.Len(t, rc.VarianceExplained, axes)
	assert.Equal(t, m.Patients, rc.Patients)

	sum := 0.0
	for i, v := range rc.VarianceExplained {
		assert.GreaterOrEqual(t, v, -1e-9)
		if i > 0 {
			assert.LessOrEqual(t, v, rc.VarianceExplained[i-1]+1e-9, "axes ranked by variance")
		}
		sum += v
	}
	assert.LessOrEqual(t, sum, 100+1e-6)
	assert.Greater(t, rc.VarianceExplained[0]+rc.VarianceExplained[1]+rc.VarianceExplained[2], 90.0)
}

func TestReduceComponentsCap(t *testing.T) {
	m := randomMatrix(t, 100, 60, 2)

	rc, err := Reducer{Components: 25, RemoveVar: DefaultRemoveVar}.Reduce(m)
	require.NoError(t, err)
	assert.Equal(t, 25, rc.Axes())

	sum := 0.0
	for _, v := range rc.VarianceExplained {
		sum += v
	}
	assert.Less(t, sum, 100+1e-6)
}

func TestReduceDeterministic(t *testing.T) {
	m := randomMatrix(t, 120, 30, 3)

	a, err := NewReducer().Reduce(m)
	require.NoError(t, err)
	b, err := NewReducer().Reduce(m)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Coords, b.Coords))
	assert.Equal(t, a.VarianceExplained, b.VarianceExplained)
}

func TestReduceAxesUncorrelated(t *testing.T) {
	m := randomMatrix(t, 80, 50, 4)
	rc, err := Reducer{Components: 5, RemoveVar: DefaultRemoveVar}.Reduce(m)
	require.NoError(t, err)

	for a := 0; a < 5; a++ {
		col := mat.Col(nil, a, rc.Coords)
		assert.InDelta(t, 0, stat.Mean(col, nil), 1e-9, "coordinates are centered")
		for b := a + 1; b < 5; b++ {
			other := mat.Col(nil, b, rc.Coords)
			assert.InDelta(t, 0, stat.Covariance(col, other, nil), 1e-8)
		}
	}
}

func TestReduceErrors(t *testing.T) {
	single, err := models.NewExpressionMatrix([]string{"A", "B"}, []string{"P1"}, [][]float64{{1}, {2}})
	require.NoError(t, err)
	_, err = NewReducer().Reduce(single)
	var insufficient *models.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))

	constant, err := models.NewExpressionMatrix(
		[]string{"A", "B", "C"},
		[]string{"P1", "P2", "P3"},
		[][]float64{{1, 1, 1}, {2, 2, 2}, {5, 5, 5}},
	)
	require.NoError(t, err)
	_, err = NewReducer().Reduce(constant)
	var degenerate *models.DegenerateInputError
	assert.True(t, errors.As(err, &degenerate))

	empty, err := models.NewExpressionMatrix(nil, []string{"P1", "P2"}, nil)
	require.NoError(t, err)
	_, err = NewReducer().Reduce(empty)
	assert.True(t, errors.As(err, &degenerate))
}

func TestFilterLowVariance(t *testing.T) {
	x := mat.NewDense(3, 4, []float64{
		0, 1, 0, 10,
		0, 2, 1, 20,
		0, 3, 0, 30,
	})

	got := filterLowVariance(x, 0.25)
	_, d := got.Dims()
	assert.Equal(t, 3, d)
	assert.Equal(t, []float64{1, 2, 3}, mat.Col(nil, 0, got), "original column order kept")
	assert.Equal(t, []float64{10, 20, 30}, mat.Col(nil, 2, got))

	got = filterLowVariance(mat.NewDense(2, 1, []float64{1, 2}), 0.9)
	_, d = got.Dims()
	assert.Equal(t, 1, d, "at least one gene survives")
}

func TestNormalizeSigns(t *testing.T) {
	loadings := mat.NewDense(3, 2, []float64{
		0.1, 0.6,
		-0.9, -0.2,
		0.3, 0.1,
	})
	normalizeSigns(loadings)
	assert.Equal(t, 0.9, loadings.At(1, 0))
	assert.Equal(t, -0.1, loadings.At(0, 0))
	assert.Equal(t, 0.6, loadings.At(0, 1))
}

func TestProjectMatchesLeadingAxes(t *testing.T) {
	m := randomMatrix(t, 30, 20, 5)
	x := m.PatientsByGenes()

	coords, err := Project(x, 50)
	require.NoError(t, err)
	n, k := coords.Dims()
	assert.Equal(t, 20, n)
	assert.Equal(t, 20, k)

	// the Frobenius norm of the centered data is preserved by a full rotation
	centered := center(x)
	assert.InDelta(t, mat.Norm(centered, 2), mat.Norm(coords, 2), 1e-6)
	assert.False(t, math.IsNaN(coords.At(0, 0)))
}

func BenchmarkReduce(b *testing.B) {
	m := randomMatrix(b, 2000, 300, 9)
	r := NewReducer()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Reduce(m); err != nil {
			b.Fatal(err)
		}
	}
}
