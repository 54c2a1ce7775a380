package replicate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Spearman returns the rank correlation of x and y and its two-sided p-value
// from the Student-t approximation with n-2 degrees of freedom.
func Spearman(x, y []float64) (rho, pValue float64) {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN(), math.NaN()
	}

	rho = stat.Correlation(ranks(x), ranks(y), nil)
	if math.IsNaN(rho) || n < 3 {
		return rho, math.NaN()
	}

	df := float64(n - 2)
	if math.Abs(rho) >= 1 {
		return rho, 0
	}
	t := rho * math.Sqrt(df/(1-rho*rho))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pValue = 2 * dist.Survival(math.Abs(t))
	return rho, pValue
}

// ranks assigns 1-based ranks, ties get the average of the ranks they span
func ranks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && values[idx[j]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}
