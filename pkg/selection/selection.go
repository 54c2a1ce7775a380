// Package selection keeps the most variable genes of an expression matrix.
package selection

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// DefaultNTop is the number of genes retained when none is configured
const DefaultNTop = 5000

// Selector picks the NTop genes with greatest variance across patients
type Selector struct {
	NTop int
}

// Ranked is a gene row and its variance
type Ranked struct {
	Row      int
	Gene     string
	Variance float64
}

// Rank orders all genes by descending sample variance. Ties keep their
// original row order.
func Rank(m *models.ExpressionMatrix) []Ranked {
	ranked := make([]Ranked, len(m.Genes))
	for i, row := range m.Values {
		v := 0.0
		if len(row) > 1 {
			v = stat.Variance(row, nil)
		}
		ranked[i] = Ranked{Row: i, Gene: m.Genes[i], Variance: v}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Variance > ranked[b].Variance
	})
	return ranked
}

// Select returns the top min(NTop, genes) rows ordered by descending variance.
// Patient columns are unchanged.
func (s Selector) Select(m *models.ExpressionMatrix) (*models.ExpressionMatrix, error) {
	if s.NTop <= 0 {
		return nil, fmt.Errorf("n_top must be positive, got %d", s.NTop)
	}

	ranked := Rank(m)
	n := s.NTop
	if n > len(ranked) {
		n = len(ranked)
	}

	rows := make([]int, n)
	for i := 0; i < n; i++ {
		rows[i] = ranked[i].Row
	}
	return m.SelectGenes(rows), nil
}
