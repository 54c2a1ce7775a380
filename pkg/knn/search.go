// Package knn finds exact nearest neighbors and builds the shared-neighbor
// patient graph used for community detection.
package knn

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// Neighbor is one entry of a neighbor list
type Neighbor struct {
	Index    int
	Distance float64 // squared Euclidean
}

// maxHeap keeps the current k best candidates with the worst on top.
// Ties on distance rank the larger index as worse.
type maxHeap []Neighbor

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].Index > h[j].Index
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// worse reports whether a ranks after b
func worse(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Index > b.Index
}

// Search returns, for every row of points, its k nearest other rows sorted by
// increasing distance (ties by index). Queries run on at most workers goroutines.
func Search(ctx context.Context, points mat.Matrix, k, workers int) ([][]Neighbor, error) {
	n, _ := points.Dims()
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k >= n {
		return nil, &models.InsufficientDataError{Stage: "knn", Samples: n, Required: k}
	}
	if workers < 1 {
		workers = 1
	}

	rows := denseRows(points)
	result := make([][]Neighbor, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result[i] = query(rows, i, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func query(rows [][]float64, i, k int) []Neighbor {
	h := make(maxHeap, 0, k+1)
	for j := range rows {
		if j == i {
			continue
		}
		c := Neighbor{Index: j, Distance: squaredDistance(rows[i], rows[j])}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if worse(h[0], c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := []Neighbor(h)
	sort.Slice(out, func(a, b int) bool { return worse(out[b], out[a]) })
	return out
}

func squaredDistance(a, b []float64) float64 {
	s := 0.0
	for d := range a {
		diff := a[d] - b[d]
		s += diff * diff
	}
	return s
}

func denseRows(points mat.Matrix) [][]float64 {
	n, _ := points.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, points)
	}
	return rows
}
