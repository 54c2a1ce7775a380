// Package pca projects patients onto variance-ranked principal axes.
package pca

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const (
	DefaultComponents = 50
	DefaultRemoveVar  = 0.1
)

// Reducer computes an exact PCA of patients (observations) over genes (features).
// Data are always centered; Scale additionally standardizes each gene.
type Reducer struct {
	Components int
	RemoveVar  float64
	Scale      bool
}

// NewReducer returns a reducer with the default settings
func NewReducer() Reducer {
	return Reducer{Components: DefaultComponents, RemoveVar: DefaultRemoveVar}
}

// Reduce drops the lowest-variance RemoveVar fraction of genes, then projects
// patients onto the leading principal axes.
func (r Reducer) Reduce(m *models.ExpressionMatrix) (*models.ReducedCoordinates, error) {
	genes, patients := m.Dims()
	if patients < 2 {
		return nil, &models.InsufficientDataError{Stage: "pca", Samples: patients, Required: 1}
	}
	if genes == 0 {
		return nil, &models.DegenerateInputError{Stage: "pca", Reason: "empty gene set"}
	}

	x := m.PatientsByGenes()
	x = filterLowVariance(x, r.RemoveVar)

	_, d := x.Dims()
	total := 0.0
	for j := 0; j < d; j++ {
		total += stat.Variance(mat.Col(nil, j, x), nil)
	}
	if total == 0 || math.IsNaN(total) {
		return nil, &models.DegenerateInputError{Stage: "pca", Reason: "zero total variance after filtering"}
	}

	if r.Scale {
		x = standardize(x)
	}

	components := r.Components
	if components <= 0 {
		components = DefaultComponents
	}
	coords, vars, err := project(x, components)
	if err != nil {
		return nil, err
	}

	sum := 0.0
	for _, v := range vars.all {
		sum += v
	}
	explained := make([]float64, len(vars.kept))
	for i, v := range vars.kept {
		explained[i] = 100 * v / sum
	}

	return &models.ReducedCoordinates{
		Patients:          append([]string(nil), m.Patients...),
		Coords:            coords,
		VarianceExplained: explained,
	}, nil
}

// Project returns the centered data projected onto its first ncomp principal
// axes (fewer when the data do not allow ncomp).
func Project(x mat.Matrix, ncomp int) (*mat.Dense, error) {
	n, _ := x.Dims()
	if n < 2 {
		return nil, &models.InsufficientDataError{Stage: "pca", Samples: n, Required: 1}
	}
	coords, _, err := project(x, ncomp)
	return coords, err
}

type variances struct {
	all  []float64
	kept []float64
}

func project(x mat.Matrix, ncomp int) (*mat.Dense, variances, error) {
	n, d := x.Dims()

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, variances{}, &models.DegenerateInputError{Stage: "pca", Reason: "singular value decomposition failed"}
	}

	all := pc.VarsTo(nil)
	k := min(ncomp, len(all), n, d)

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	loadings := mat.DenseCopyOf(vecs.Slice(0, d, 0, k))
	normalizeSigns(loadings)

	centered := center(x)
	var coords mat.Dense
	coords.Mul(centered, loadings)

	return &coords, variances{all: all, kept: append([]float64(nil), all[:k]...)}, nil
}

// normalizeSigns flips each axis so that its largest absolute loading is positive
func normalizeSigns(loadings *mat.Dense) {
	d, k := loadings.Dims()
	for j := 0; j < k; j++ {
		best, idx := -1.0, 0
		for i := 0; i < d; i++ {
			if a := math.Abs(loadings.At(i, j)); a > best {
				best, idx = a, i
			}
		}
		if loadings.At(idx, j) < 0 {
			for i := 0; i < d; i++ {
				loadings.Set(i, j, -loadings.At(i, j))
			}
		}
	}
}

func center(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	out := mat.DenseCopyOf(x)
	for j := 0; j < d; j++ {
		mean := stat.Mean(mat.Col(nil, j, out), nil)
		for i := 0; i < n; i++ {
			out.Set(i, j, out.At(i, j)-mean)
		}
	}
	return out
}

func standardize(x *mat.Dense) *mat.Dense {
	n, d := x.Dims()
	out := mat.DenseCopyOf(x)
	for j := 0; j < d; j++ {
		sd := stat.StdDev(mat.Col(nil, j, out), nil)
		if sd == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, out.At(i, j)/sd)
		}
	}
	return out
}

// filterLowVariance keeps the max(1, floor(d*(1-fraction))) highest-variance
// columns, in their original order
func filterLowVariance(x *mat.Dense, fraction float64) *mat.Dense {
	n, d := x.Dims()
	if fraction <= 0 {
		return x
	}
	keep := int(math.Floor(float64(d) * (1 - fraction)))
	if keep < 1 {
		keep = 1
	}
	if keep >= d {
		return x
	}

	cols := make([]int, d)
	vars := make([]float64, d)
	for j := 0; j < d; j++ {
		cols[j] = j
		vars[j] = stat.Variance(mat.Col(nil, j, x), nil)
	}
	sort.SliceStable(cols, func(a, b int) bool { return vars[cols[a]] > vars[cols[b]] })
	cols = cols[:keep]
	sort.Ints(cols)

	out := mat.NewDense(n, keep, nil)
	for k, j := range cols {
		out.SetCol(k, mat.Col(nil, j, x))
	}
	return out
}
