package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ExpressionMatrix holds genes (rows) by patients (columns)
type ExpressionMatrix struct {
	Genes    []string    `json:"genes"`
	Patients []string    `json:"patients"`
	Values   [][]float64 `json:"-"` // Values[gene][patient]
}

// NewExpressionMatrix builds a matrix and checks its invariants
func NewExpressionMatrix(genes, patients []string, values [][]float64) (*ExpressionMatrix, error) {
	m := &ExpressionMatrix{Genes: genes, Patients: patients, Values: values}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Dims returns the number of genes and patients
func (m *ExpressionMatrix) Dims() (genes, patients int) {
	return len(m.Genes), len(m.Patients)
}

// Validate checks identifiers are unique and the matrix is rectangular and finite
func (m *ExpressionMatrix) Validate() error {
	var errs ValidationErrors

	if len(m.Values) != len(m.Genes) {
		errs = append(errs, ValidationError{
			Field:   "values",
			Message: fmt.Sprintf("%d value rows for %d genes", len(m.Values), len(m.Genes)),
		})
	}

	seenGenes := make(map[string]struct{}, len(m.Genes))
	for _, g := range m.Genes {
		if _, dup := seenGenes[g]; dup {
			errs = append(errs, ValidationError{Field: "genes", Message: "duplicate gene identifier", Value: g})
		}
		seenGenes[g] = struct{}{}
	}

	seenPatients := make(map[string]struct{}, len(m.Patients))
	for _, p := range m.Patients {
		if _, dup := seenPatients[p]; dup {
			errs = append(errs, ValidationError{Field: "patients", Message: "duplicate patient identifier", Value: p})
		}
		seenPatients[p] = struct{}{}
	}

	for i, row := range m.Values {
		if len(row) != len(m.Patients) {
			errs = append(errs, ValidationError{
				Field:   "values",
				Message: fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(m.Patients)),
			})
			continue
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, ValidationError{
					Field:   "values",
					Message: fmt.Sprintf("non-finite value at gene %d, patient %d", i, j),
				})
				break
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// PatientIndex maps patient identifiers to column indices
func (m *ExpressionMatrix) PatientIndex() map[string]int {
	idx := make(map[string]int, len(m.Patients))
	for j, p := range m.Patients {
		idx[p] = j
	}
	return idx
}

// Column returns a copy of one patient's expression profile
func (m *ExpressionMatrix) Column(j int) []float64 {
	col := make([]float64, len(m.Values))
	for i, row := range m.Values {
		col[i] = row[j]
	}
	return col
}

// SelectPatients returns a new matrix restricted to the given patients, in the given order
func (m *ExpressionMatrix) SelectPatients(ids []string) (*ExpressionMatrix, error) {
	index := m.PatientIndex()
	cols := make([]int, len(ids))
	for k, id := range ids {
		j, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("patient %q not in expression matrix", id)
		}
		cols[k] = j
	}

	values := make([][]float64, len(m.Values))
	for i, row := range m.Values {
		out := make([]float64, len(cols))
		for k, j := range cols {
			out[k] = row[j]
		}
		values[i] = out
	}

	patients := make([]string, len(ids))
	copy(patients, ids)
	genes := make([]string, len(m.Genes))
	copy(genes, m.Genes)

	return &ExpressionMatrix{Genes: genes, Patients: patients, Values: values}, nil
}

// SelectGenes returns a new matrix holding the given rows, in the given order
func (m *ExpressionMatrix) SelectGenes(rows []int) *ExpressionMatrix {
	genes := make([]string, len(rows))
	values := make([][]float64, len(rows))
	for k, i := range rows {
		genes[k] = m.Genes[i]
		values[k] = append([]float64(nil), m.Values[i]...)
	}
	patients := append([]string(nil), m.Patients...)
	return &ExpressionMatrix{Genes: genes, Patients: patients, Values: values}
}

// PatientsByGenes returns the transposed matrix with patients as observations
func (m *ExpressionMatrix) PatientsByGenes() *mat.Dense {
	g, p := m.Dims()
	out := mat.NewDense(p, g, nil)
	for i, row := range m.Values {
		for j, v := range row {
			out.Set(j, i, v)
		}
	}
	return out
}

// ReplicatePair links a sample column with its technical replicate column
type ReplicatePair struct {
	Original  string `json:"original"`
	Replicate string `json:"replicate"`
}

// ReducedCoordinates holds per-patient projection coordinates
type ReducedCoordinates struct {
	Patients          []string   `json:"patients"`
	Coords            *mat.Dense `json:"-"`                  // patients x axes
	VarianceExplained []float64  `json:"variance_explained"` // percent per axis
}

// Axes returns the number of projection axes
func (r *ReducedCoordinates) Axes() int {
	if r.Coords == nil {
		return 0
	}
	_, c := r.Coords.Dims()
	return c
}

// Leading returns a view of the first npc axes (all axes when fewer are available)
func (r *ReducedCoordinates) Leading(npc int) mat.Matrix {
	n, c := r.Coords.Dims()
	if npc <= 0 || npc >= c {
		return r.Coords
	}
	return r.Coords.Slice(0, n, 0, npc)
}

// Clustering assigns an opaque community label to each patient
type Clustering struct {
	Patients   []string `json:"patients"`
	Labels     []int    `json:"labels"`
	Resolution float64  `json:"resolution"`
	Modularity float64  `json:"modularity"`
}

// NumCommunities returns the number of distinct labels
func (c *Clustering) NumCommunities() int {
	seen := make(map[int]struct{})
	for _, l := range c.Labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// Embedding holds 2D visualization coordinates, one point per patient
type Embedding struct {
	Method   string       `json:"method"`
	Patients []string     `json:"patients"`
	Points   [][2]float64 `json:"points"`
}
