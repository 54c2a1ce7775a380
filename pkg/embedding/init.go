package embedding

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/mds"
)

// mdsInit places points by classical multidimensional scaling of their
// Euclidean distances. ok is false when fewer than two positive eigenvalues exist.
func mdsInit(x mat.Matrix) (y *mat.Dense, ok bool) {
	n, d := x.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
	}

	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := 0.0
			for k := 0; k < d; k++ {
				diff := rows[i][k] - rows[j][k]
				s += diff * diff
			}
			dist.SetSym(i, j, math.Sqrt(s))
		}
	}

	var coords mat.Dense
	k, _ := mds.TorgersonScaling(&coords, nil, dist)
	if k < outputDims {
		return nil, false
	}
	return mat.DenseCopyOf(coords.Slice(0, n, 0, outputDims)), true
}

// gaussianInit draws N(0, std^2) coordinates
func gaussianInit(n int, std float64, rng *rand.Rand) *mat.Dense {
	y := mat.NewDense(n, outputDims, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < outputDims; j++ {
			y.Set(i, j, rng.NormFloat64()*std)
		}
	}
	return y
}

// uniformInit draws coordinates uniformly in [-r, r)
func uniformInit(n int, r float64, rng *rand.Rand) *mat.Dense {
	y := mat.NewDense(n, outputDims, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < outputDims; j++ {
			y.Set(i, j, (2*rng.Float64()-1)*r)
		}
	}
	return y
}
