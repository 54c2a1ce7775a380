package validation

import (
	"fmt"
	"math"
	"sort"
)

// Contingency counts how a clustering distributes over the categories of a
// reference annotation
type Contingency struct {
	Clusters   []int    // distinct cluster labels, ascending
	Categories []string // distinct categories, ascending
	Counts     [][]int  // Counts[r][c] patients of Clusters[r] in Categories[c]
}

// NewContingency cross-tabulates cluster labels against categories
func NewContingency(clusters []int, categories []string) (*Contingency, error) {
	if len(clusters) != len(categories) {
		return nil, fmt.Errorf("clusterings must have the same length")
	}

	rowSet := make(map[int]bool)
	colSet := make(map[string]bool)
	for i := range clusters {
		rowSet[clusters[i]] = true
		colSet[categories[i]] = true
	}

	ct := &Contingency{}
	for r := range rowSet {
		ct.Clusters = append(ct.Clusters, r)
	}
	sort.Ints(ct.Clusters)
	for c := range colSet {
		ct.Categories = append(ct.Categories, c)
	}
	sort.Strings(ct.Categories)

	rowIndex := make(map[int]int, len(ct.Clusters))
	for i, r := range ct.Clusters {
		rowIndex[r] = i
	}
	colIndex := make(map[string]int, len(ct.Categories))
	for i, c := range ct.Categories {
		colIndex[c] = i
	}

	ct.Counts = make([][]int, len(ct.Clusters))
	for i := range ct.Counts {
		ct.Counts[i] = make([]int, len(ct.Categories))
	}
	for i := range clusters {
		ct.Counts[rowIndex[clusters[i]]][colIndex[categories[i]]]++
	}
	return ct, nil
}

// Encode maps categories to integer codes following their sorted order
func Encode(values []string) (codes []int, levels []string) {
	set := make(map[string]bool)
	for _, v := range values {
		set[v] = true
	}
	for v := range set {
		levels = append(levels, v)
	}
	sort.Strings(levels)

	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	codes = make([]int, len(values))
	for i, v := range values {
		codes[i] = index[v]
	}
	return codes, levels
}

// table is the contingency of two integer labelings with its marginals
type table struct {
	n      int
	joint  map[[2]int]int
	first  map[int]int
	second map[int]int
}

func buildTable(a, b []int) (*table, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("clusterings must have the same length")
	}
	t := &table{
		n:      len(a),
		joint:  make(map[[2]int]int),
		first:  make(map[int]int),
		second: make(map[int]int),
	}
	for i := range a {
		t.joint[[2]int{a[i], b[i]}]++
		t.first[a[i]]++
		t.second[b[i]]++
	}
	return t, nil
}

// keys returns the joint cells in a fixed order so sums are reproducible
func (t *table) keys() [][2]int {
	keys := make([][2]int, 0, len(t.joint))
	for k := range t.joint {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	return keys
}

// NormalizedMutualInfo calculates the mutual information of two labelings
// normalized by the arithmetic mean of their entropies. Returns a score
// between 0 and 1.
func NormalizedMutualInfo(a, b []int) (float64, error) {
	t, err := buildTable(a, b)
	if err != nil {
		return 0, err
	}
	if t.n == 0 {
		return 0, nil
	}

	n := float64(t.n)
	mi := 0.0
	for _, key := range t.keys() {
		nij := float64(t.joint[key])
		ni := float64(t.first[key[0]])
		nj := float64(t.second[key[1]])
		mi += nij / n * math.Log2(nij*n/(ni*nj))
	}

	avgEntropy := (entropy(t.first, n) + entropy(t.second, n)) / 2

	// both labelings put everything in one cluster
	if avgEntropy == 0 {
		return 1.0, nil
	}
	return math.Max(0, math.Min(1, mi/avgEntropy)), nil
}

func entropy(counts map[int]int, n float64) float64 {
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	h := 0.0
	for _, l := range labels {
		p := float64(counts[l]) / n
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

// AdjustedRandIndex calculates the Rand index of two labelings corrected for
// chance. 1 means identical partitions, values near 0 mean chance agreement.
func AdjustedRandIndex(a, b []int) (float64, error) {
	t, err := buildTable(a, b)
	if err != nil {
		return 0, err
	}
	if t.n < 2 {
		return 1.0, nil
	}

	sumJoint := 0.0
	for _, nij := range t.joint {
		sumJoint += pairs(nij)
	}
	sumFirst := 0.0
	for _, c := range t.first {
		sumFirst += pairs(c)
	}
	sumSecond := 0.0
	for _, c := range t.second {
		sumSecond += pairs(c)
	}

	expected := sumFirst * sumSecond / pairs(t.n)
	maxIndex := (sumFirst + sumSecond) / 2
	if maxIndex == expected {
		// degenerate labelings, e.g. both a single cluster
		return 1.0, nil
	}
	return (sumJoint - expected) / (maxIndex - expected), nil
}

func pairs(k int) float64 {
	return float64(k) * float64(k-1) / 2
}
