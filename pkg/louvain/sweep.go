package louvain

import (
	"context"
	"fmt"
	"sort"
)

// SweepPoint summarizes the partition found at one resolution
type SweepPoint struct {
	Resolution     float64 `json:"resolution"`
	NumCommunities int     `json:"num_communities"`
	Modularity     float64 `json:"modularity"`
	Labels         []int   `json:"labels"`
}

// Sweep runs the detector once per resolution, in increasing order, with the
// seed of config reused for every run.
func Sweep(ctx context.Context, graph *Graph, resolutions []float64, config *Config) ([]SweepPoint, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("no resolutions given")
	}

	sorted := append([]float64(nil), resolutions...)
	sort.Float64s(sorted)

	points := make([]SweepPoint, 0, len(sorted))
	for _, r := range sorted {
		if r <= 0 {
			return nil, fmt.Errorf("resolution must be positive, got %g", r)
		}
		result, err := Run(ctx, graph, config.WithResolution(r))
		if err != nil {
			return nil, fmt.Errorf("resolution %g: %w", r, err)
		}
		points = append(points, SweepPoint{
			Resolution:     r,
			NumCommunities: result.NumCommunities,
			Modularity:     result.Modularity,
			Labels:         result.Labels,
		})
	}
	return points, nil
}
