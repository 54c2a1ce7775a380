package louvain

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Result represents the algorithm output
type Result struct {
	Labels         []int       `json:"labels"` // community of each original node, 0..NumCommunities-1
	NumCommunities int         `json:"num_communities"`
	Modularity     float64     `json:"modularity"`
	Resolution     float64     `json:"resolution"`
	NumLevels      int         `json:"num_levels"`
	Levels         []LevelInfo `json:"levels"`
	Statistics     Statistics  `json:"statistics"`
}

// LevelInfo contains information about each hierarchical level
type LevelInfo struct {
	Level             int     `json:"level"`
	NumNodes          int     `json:"num_nodes"`
	NumCommunities    int     `json:"num_communities"`
	InitialModularity float64 `json:"initial_modularity"`
	Modularity        float64 `json:"modularity"`
	Iterations        int     `json:"iterations"`
	NumMoves          int     `json:"num_moves"`
	RuntimeMS         int64   `json:"runtime_ms"`
}

// Statistics contains algorithm performance metrics
type Statistics struct {
	TotalIterations int   `json:"total_iterations"`
	TotalMoves      int   `json:"total_moves"`
	RuntimeMS       int64 `json:"runtime_ms"`
	MemoryPeakMB    int64 `json:"memory_peak_mb"`
}

// Community holds the partition state of one level (array based)
type Community struct {
	NodeToCommunity          []int     // community of node i
	CommunitySizes           []int     // number of nodes in community c
	CommunityWeights         []float64 // sum of degrees in community c
	CommunityInternalWeights []float64 // internal weight of c, each edge counted from both ends
	NumCommunities           int       // number of community slots
}

// NewCommunity initializes each node in its own community
func NewCommunity(graph *Graph) *Community {
	n := graph.NumNodes
	comm := &Community{
		NodeToCommunity:          make([]int, n),
		CommunitySizes:           make([]int, n),
		CommunityWeights:         make([]float64, n),
		CommunityInternalWeights: make([]float64, n),
		NumCommunities:           n,
	}

	for i := 0; i < n; i++ {
		comm.NodeToCommunity[i] = i
		comm.CommunitySizes[i] = 1
		comm.CommunityWeights[i] = graph.Degrees[i]
		comm.CommunityInternalWeights[i] = graph.GetEdgeWeight(i, i) * 2 // self-loops count double
	}
	return comm
}

// CalculateModularity computes Newman's modularity with a resolution factor:
// sum over c of in_c/2m - resolution*(tot_c/2m)^2
func CalculateModularity(graph *Graph, comm *Community, resolution float64) float64 {
	if graph.TotalWeight == 0 {
		return 0.0
	}

	modularity := 0.0
	m2 := 2.0 * graph.TotalWeight

	for c := 0; c < comm.NumCommunities; c++ {
		if comm.CommunitySizes[c] == 0 {
			continue
		}
		internal := comm.CommunityInternalWeights[c]
		total := comm.CommunityWeights[c]
		modularity += internal/m2 - resolution*(total/m2)*(total/m2)
	}
	return modularity
}

// CalculateModularityGain is the gain, up to the constant 1/m, of inserting an
// isolated node into targetComm: k_i,C - resolution*k_i*tot_C/2m
func CalculateModularityGain(graph *Graph, comm *Community, node, targetComm int, edgeWeight, resolution float64) float64 {
	nodeDegree := graph.Degrees[node]
	commTotal := comm.CommunityWeights[targetComm]
	m2 := 2.0 * graph.TotalWeight

	return edgeWeight - resolution*nodeDegree*commTotal/m2
}

func (comm *Community) remove(graph *Graph, node, c int, edgeWeight, selfLoop float64) {
	comm.CommunitySizes[c]--
	comm.CommunityWeights[c] -= graph.Degrees[node]
	comm.CommunityInternalWeights[c] -= 2*edgeWeight + 2*selfLoop
	comm.NodeToCommunity[node] = -1
}

func (comm *Community) insert(graph *Graph, node, c int, edgeWeight, selfLoop float64) {
	comm.CommunitySizes[c]++
	comm.CommunityWeights[c] += graph.Degrees[node]
	comm.CommunityInternalWeights[c] += 2*edgeWeight + 2*selfLoop
	comm.NodeToCommunity[node] = c
}

// OneLevel performs the local moving phase on one level. Node order is
// shuffled with rng on every pass; candidate communities are visited in
// adjacency order so a fixed rng gives a fixed outcome.
func OneLevel(graph *Graph, comm *Community, config *Config, rng *rand.Rand, logger zerolog.Logger) (moves int, iterations int) {
	if graph.TotalWeight == 0 {
		return 0, 0
	}

	n := graph.NumNodes
	resolution := config.Resolution()

	nodes := make([]int, n)
	selfLoops := make([]float64, n)
	for i := 0; i < n; i++ {
		nodes[i] = i
		selfLoops[i] = graph.GetEdgeWeight(i, i)
	}

	// per-node scratch: weight towards each touched community
	neighWeight := make([]float64, n)
	neighSeen := make([]bool, n)
	neighComms := make([]int, 0, 64)

	modularity := CalculateModularity(graph, comm, resolution)

	for iterations < config.MaxIterations() {
		iterations++
		passMoves := 0

		rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

		for _, node := range nodes {
			oldComm := comm.NodeToCommunity[node]

			neighComms = neighComms[:0]
			neighbors, weights := graph.GetNeighbors(node)
			for i, neighbor := range neighbors {
				if neighbor == node {
					continue
				}
				c := comm.NodeToCommunity[neighbor]
				if !neighSeen[c] {
					neighSeen[c] = true
					neighComms = append(neighComms, c)
				}
				neighWeight[c] += weights[i]
			}

			comm.remove(graph, node, oldComm, neighWeight[oldComm], selfLoops[node])

			bestComm := oldComm
			bestGain := CalculateModularityGain(graph, comm, node, oldComm, neighWeight[oldComm], resolution)
			for _, c := range neighComms {
				gain := CalculateModularityGain(graph, comm, node, c, neighWeight[c], resolution)
				if gain > bestGain {
					bestComm = c
					bestGain = gain
				}
			}

			comm.insert(graph, node, bestComm, neighWeight[bestComm], selfLoops[node])
			if bestComm != oldComm {
				passMoves++
			}

			for _, c := range neighComms {
				neighWeight[c] = 0
				neighSeen[c] = false
			}
			neighWeight[oldComm] = 0
		}

		moves += passMoves
		newModularity := CalculateModularity(graph, comm, resolution)

		if config.EnableProgress() {
			logger.Debug().
				Int("iteration", iterations).
				Int("moves", passMoves).
				Float64("modularity", newModularity).
				Msg("Local optimization progress")
		}

		gain := newModularity - modularity
		modularity = newModularity
		if passMoves == 0 || gain < config.MinModularityGain() {
			break
		}
	}

	return moves, iterations
}

// renumber maps occupied communities to 0..k-1 by first appearance over nodes
func renumber(comm *Community) (mapping []int, k int) {
	mapping = make([]int, comm.NumCommunities)
	for i := range mapping {
		mapping[i] = -1
	}
	for _, c := range comm.NodeToCommunity {
		if mapping[c] < 0 {
			mapping[c] = k
			k++
		}
	}
	return mapping, k
}

// AggregateGraph contracts each community into a super-node. Internal edges
// become self-loops; total edge weight is preserved.
func AggregateGraph(graph *Graph, comm *Community, commToSuper []int, numSuperNodes int) (*Graph, error) {
	if numSuperNodes == 0 {
		return nil, fmt.Errorf("no valid communities found")
	}

	superEdges := make(map[[2]int]float64)
	for u := 0; u < graph.NumNodes; u++ {
		su := commToSuper[comm.NodeToCommunity[u]]
		neighbors, weights := graph.GetNeighbors(u)
		for i, v := range neighbors {
			if v < u {
				continue // each undirected edge once
			}
			sv := commToSuper[comm.NodeToCommunity[v]]
			edge := [2]int{su, sv}
			if sv < su {
				edge = [2]int{sv, su}
			}
			superEdges[edge] += weights[i]
		}
	}

	keys := make([][2]int, 0, len(superEdges))
	for edge := range superEdges {
		keys = append(keys, edge)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		return keys[a][1] < keys[b][1]
	})

	superGraph := NewGraph(numSuperNodes)
	for _, edge := range keys {
		if err := superGraph.AddEdge(edge[0], edge[1], superEdges[edge]); err != nil {
			return nil, err
		}
	}
	return superGraph, nil
}

// Run executes the complete multilevel Louvain algorithm. The random source is
// seeded once from the configuration and shared by all levels.
func Run(ctx context.Context, graph *Graph, config *Config) (*Result, error) {
	startTime := time.Now()
	logger := config.CreateLogger()
	resolution := config.Resolution()

	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}

	logger.Info().
		Int("nodes", graph.NumNodes).
		Int("edges", graph.NumEdges()).
		Float64("total_weight", graph.TotalWeight).
		Float64("resolution", resolution).
		Msg("Starting Louvain algorithm")

	rng := rand.New(rand.NewSource(config.RandomSeed()))
	result := &Result{Resolution: resolution, Levels: make([]LevelInfo, 0)}

	// membership[i] = node of the current level holding original node i
	membership := make([]int, graph.NumNodes)
	for i := range membership {
		membership[i] = i
	}

	currentGraph := graph
	for level := 0; level < config.MaxLevels(); level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		levelStart := time.Now()
		comm := NewCommunity(currentGraph)
		initialMod := CalculateModularity(currentGraph, comm, resolution)

		moves, iterations := OneLevel(currentGraph, comm, config, rng, logger)
		finalMod := CalculateModularity(currentGraph, comm, resolution)

		commToSuper, numSuper := renumber(comm)
		for i, node := range membership {
			membership[i] = commToSuper[comm.NodeToCommunity[node]]
		}

		info := LevelInfo{
			Level:             level,
			NumNodes:          currentGraph.NumNodes,
			NumCommunities:    numSuper,
			InitialModularity: initialMod,
			Modularity:        finalMod,
			Iterations:        iterations,
			NumMoves:          moves,
			RuntimeMS:         time.Since(levelStart).Milliseconds(),
		}
		result.Levels = append(result.Levels, info)
		result.Statistics.TotalIterations += iterations
		result.Statistics.TotalMoves += moves

		logger.Debug().
			Int("level", level).
			Int("nodes", info.NumNodes).
			Int("communities", numSuper).
			Int("moves", moves).
			Float64("modularity", finalMod).
			Msg("Level completed")

		if moves == 0 || numSuper == currentGraph.NumNodes {
			break
		}
		if numSuper == 1 {
			break
		}

		superGraph, err := AggregateGraph(currentGraph, comm, commToSuper, numSuper)
		if err != nil {
			return nil, fmt.Errorf("aggregation failed at level %d: %w", level, err)
		}
		currentGraph = superGraph
	}

	result.Labels = compactLabels(membership)
	result.NumCommunities = countLabels(result.Labels)
	result.NumLevels = len(result.Levels)
	result.Modularity = Modularity(graph, result.Labels, resolution)
	result.Statistics.RuntimeMS = time.Since(startTime).Milliseconds()
	result.Statistics.MemoryPeakMB = getMemoryUsage()

	if q, err := GonumModularity(graph, result.Labels, resolution); err == nil && math.Abs(q-result.Modularity) > 1e-9 {
		logger.Warn().
			Float64("modularity", result.Modularity).
			Float64("gonum_modularity", q).
			Msg("Modularity cross-check mismatch")
	}

	logger.Info().
		Int("levels", result.NumLevels).
		Int("communities", result.NumCommunities).
		Float64("modularity", result.Modularity).
		Int64("runtime_ms", result.Statistics.RuntimeMS).
		Msg("Louvain algorithm completed")

	return result, nil
}

// compactLabels renames labels to 0..k-1 by first appearance
func compactLabels(labels []int) []int {
	seen := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := seen[l]
		if !ok {
			id = len(seen)
			seen[l] = id
		}
		out[i] = id
	}
	return out
}

func countLabels(labels []int) int {
	highest := -1
	for _, l := range labels {
		if l > highest {
			highest = l
		}
	}
	return highest + 1
}

// getMemoryUsage returns current memory usage in MB
func getMemoryUsage() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc / 1024 / 1024)
}
