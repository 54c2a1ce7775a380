package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/marconotaro/cancer-subtypes/pkg/knn"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const (
	smoothKIterations = 64
	smoothKTolerance  = 1e-5
	minKDistScale     = 1e-3
	gradientClip      = 4.0
	repulsionStrength = 1.0

	// spectral initialization needs a dense eigendecomposition
	spectralMaxPatients = 2000
)

// UMAP approximates the fuzzy topological structure of the data in 2D
type UMAP struct {
	NNeighbors         int // includes the point itself
	MinDist            float64
	Spread             float64
	NEpochs            int // 0 picks 500 for small inputs and 200 otherwise
	LearningRate       float64
	NegativeSampleRate int
	Workers            int
	Seed               int64
	Logger             zerolog.Logger
}

// NewUMAP returns a UMAP with the usual defaults
func NewUMAP(seed int64, logger zerolog.Logger) *UMAP {
	return &UMAP{
		NNeighbors:         20,
		MinDist:            0.1,
		Spread:             1,
		LearningRate:       1,
		NegativeSampleRate: 5,
		Workers:            10,
		Seed:               seed,
		Logger:             logger,
	}
}

// Name implements Projector
func (u *UMAP) Name() string { return "umap" }

// fuzzyEdge is one directed entry of the symmetric membership graph
type fuzzyEdge struct {
	head, tail int
	weight     float64
}

// Embed implements Projector
func (u *UMAP) Embed(ctx context.Context, m *models.ExpressionMatrix) (*models.Embedding, error) {
	x := m.PatientsByGenes()
	n, _ := x.Dims()

	if u.NNeighbors < 2 {
		return nil, fmt.Errorf("n_neighbors must be at least 2, got %d", u.NNeighbors)
	}
	if u.NNeighbors > n {
		return nil, &models.InsufficientDataError{Stage: "umap", Samples: n, Required: u.NNeighbors}
	}
	if u.MinDist < 0 || u.Spread <= 0 || u.MinDist > u.Spread {
		return nil, fmt.Errorf("invalid curve parameters min_dist=%g spread=%g", u.MinDist, u.Spread)
	}

	found, err := knn.Search(ctx, x, u.NNeighbors-1, u.Workers)
	if err != nil {
		return nil, fmt.Errorf("umap neighbor search failed: %w", err)
	}
	indices, distances := withSelf(found)

	nEpochs := u.NEpochs
	if nEpochs <= 0 {
		nEpochs = 500
		if n > 10000 {
			nEpochs = 200
		}
	}

	edges := fuzzySimplicialSet(indices, distances)
	edges = pruneEdges(edges, nEpochs)
	if len(edges) == 0 {
		return nil, &models.DegenerateInputError{Stage: "umap", Reason: "empty membership graph"}
	}

	a, b, err := FitCurve(u.Spread, u.MinDist)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(u.Seed))
	y := u.initialize(n, edges, rng)

	u.Logger.Debug().
		Int("patients", n).
		Int("edges", len(edges)).
		Int("epochs", nEpochs).
		Float64("a", a).
		Float64("b", b).
		Msg("UMAP layout starting")

	if err := u.optimizeLayout(ctx, y, edges, a, b, nEpochs, rng); err != nil {
		return nil, err
	}
	return toEmbedding(u.Name(), m.Patients, y), nil
}

// withSelf prepends every point to its own neighbor list at distance 0 and
// converts squared distances to Euclidean ones
func withSelf(found [][]knn.Neighbor) ([][]int, [][]float64) {
	indices := make([][]int, len(found))
	distances := make([][]float64, len(found))
	for i, list := range found {
		idx := make([]int, 0, len(list)+1)
		dst := make([]float64, 0, len(list)+1)
		idx = append(idx, i)
		dst = append(dst, 0)
		for _, nb := range list {
			idx = append(idx, nb.Index)
			dst = append(dst, math.Sqrt(nb.Distance))
		}
		indices[i] = idx
		distances[i] = dst
	}
	return indices, distances
}

// smoothKNNDist finds for each point the distance to its nearest neighbor (rho)
// and a bandwidth sigma such that the memberships sum to log2(k)
func smoothKNNDist(distances [][]float64) (sigmas, rhos []float64) {
	n := len(distances)
	sigmas = make([]float64, n)
	rhos = make([]float64, n)

	globalMean := 0.0
	count := 0
	for _, row := range distances {
		for _, d := range row {
			globalMean += d
			count++
		}
	}
	if count > 0 {
		globalMean /= float64(count)
	}

	for i, row := range distances {
		k := len(row)
		target := math.Log2(float64(k))

		for _, d := range row {
			if d > 0 {
				rhos[i] = d
				break
			}
		}

		lo, hi, mid := 0.0, math.Inf(1), 1.0
		for iter := 0; iter < smoothKIterations; iter++ {
			psum := 0.0
			for j := 1; j < k; j++ {
				d := row[j] - rhos[i]
				if d > 0 {
					psum += math.Exp(-d / mid)
				} else {
					psum++
				}
			}
			if math.Abs(psum-target) < smoothKTolerance {
				break
			}
			if psum > target {
				hi = mid
				mid = (lo + hi) / 2
			} else {
				lo = mid
				if math.IsInf(hi, 1) {
					mid *= 2
				} else {
					mid = (lo + hi) / 2
				}
			}
		}
		sigmas[i] = mid

		if rhos[i] > 0 {
			mean := 0.0
			for _, d := range row {
				mean += d
			}
			mean /= float64(k)
			if sigmas[i] < minKDistScale*mean {
				sigmas[i] = minKDistScale * mean
			}
		} else if sigmas[i] < minKDistScale*globalMean {
			sigmas[i] = minKDistScale * globalMean
		}
	}
	return sigmas, rhos
}

// fuzzySimplicialSet builds the symmetric membership graph A + Aᵀ − A∘Aᵀ and
// returns it as a list of directed entries sorted by (head, tail)
func fuzzySimplicialSet(indices [][]int, distances [][]float64) []fuzzyEdge {
	n := len(indices)
	sigmas, rhos := smoothKNNDist(distances)

	directed := make([]map[int]float64, n)
	for i := range directed {
		directed[i] = make(map[int]float64, len(indices[i]))
	}
	incoming := make([][]int, n)
	for i, row := range indices {
		for k, j := range row {
			if j == i {
				continue
			}
			d := distances[i][k] - rhos[i]
			w := 1.0
			if d > 0 && sigmas[i] > 0 {
				w = math.Exp(-d / sigmas[i])
			}
			directed[i][j] = w
			incoming[j] = append(incoming[j], i)
		}
	}

	var edges []fuzzyEdge
	for i := 0; i < n; i++ {
		tails := make([]int, 0, len(directed[i])+len(incoming[i]))
		for j := range directed[i] {
			tails = append(tails, j)
		}
		for _, j := range incoming[i] {
			if _, dup := directed[i][j]; !dup {
				tails = append(tails, j)
			}
		}
		sort.Ints(tails)
		for _, j := range tails {
			a, b := directed[i][j], directed[j][i]
			w := a + b - a*b
			if w > 0 {
				edges = append(edges, fuzzyEdge{head: i, tail: j, weight: w})
			}
		}
	}
	return edges
}

// pruneEdges drops memberships too weak to be sampled even once
func pruneEdges(edges []fuzzyEdge, nEpochs int) []fuzzyEdge {
	highest := 0.0
	for _, e := range edges {
		highest = math.Max(highest, e.weight)
	}
	threshold := highest / float64(nEpochs)
	kept := edges[:0]
	for _, e := range edges {
		if e.weight >= threshold {
			kept = append(kept, e)
		}
	}
	return kept
}

// FitCurve fits 1 / (1 + a·x^(2b)) to the target membership curve defined by
// spread and minDist by least squares
func FitCurve(spread, minDist float64) (a, b float64, err error) {
	const points = 300
	xs := make([]float64, points)
	ys := make([]float64, points)
	for i := range xs {
		xs[i] = 3 * spread * float64(i) / float64(points-1)
		if xs[i] < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(xs[i] - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			sse := 0.0
			for i, x := range xs {
				r := 1/(1+p[0]*math.Pow(x, 2*p[1])) - ys[i]
				sse += r * r
			}
			return sse
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 500},
	}

	result, err := optimize.Minimize(problem, []float64{1, 1}, settings, &optimize.NelderMead{})
	if err != nil {
		return 0, 0, fmt.Errorf("fitting curve parameters failed: %w", err)
	}
	return result.X[0], result.X[1], nil
}

func (u *UMAP) initialize(n int, edges []fuzzyEdge, rng *rand.Rand) *mat.Dense {
	var y *mat.Dense
	if n <= spectralMaxPatients && connected(n, edges) {
		if spectral, ok := spectralInit(n, edges); ok {
			highest := mat.Max(spectral)
			if lowest := -mat.Min(spectral); lowest > highest {
				highest = lowest
			}
			if highest > 0 {
				spectral.Scale(10/highest, spectral)
				for i := 0; i < n; i++ {
					for j := 0; j < outputDims; j++ {
						spectral.Set(i, j, spectral.At(i, j)+rng.NormFloat64()*1e-4)
					}
				}
				y = spectral
			}
		}
	}
	if y == nil {
		u.Logger.Debug().Int("patients", n).Msg("Using random UMAP initialization")
		y = uniformInit(n, 10, rng)
	}

	minMaxColumns(y, 10)
	return y
}

// connected reports whether the membership graph has a single component
func connected(n int, edges []fuzzyEdge) bool {
	if n == 0 {
		return false
	}
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e.head] = append(adj[e.head], e.tail)
	}
	visited := make([]bool, n)
	stack := []int{0}
	visited[0] = true
	reached := 1
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, w := range adj[v] {
			if !visited[w] {
				visited[w] = true
				reached++
				stack = append(stack, w)
			}
		}
	}
	return reached == n
}

// spectralInit uses the eigenvectors of the normalized Laplacian belonging to
// the second and third smallest eigenvalues
func spectralInit(n int, edges []fuzzyEdge) (*mat.Dense, bool) {
	if n < outputDims+2 {
		return nil, false
	}
	degree := make([]float64, n)
	for _, e := range edges {
		degree[e.head] += e.weight
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, 1)
	}
	for _, e := range edges {
		if e.head < e.tail && degree[e.head] > 0 && degree[e.tail] > 0 {
			lap.SetSym(e.head, e.tail, -e.weight/math.Sqrt(degree[e.head]*degree[e.tail]))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(lap, true) {
		return nil, false
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// eigenvalues are ascending; the first vector is trivial
	out := mat.NewDense(n, outputDims, nil)
	for j := 0; j < outputDims; j++ {
		col := mat.Col(nil, j+1, &vectors)
		normalizeSigns(col)
		out.SetCol(j, col)
	}
	return out, true
}

// normalizeSigns flips a vector so its largest magnitude entry is positive
func normalizeSigns(v []float64) {
	best := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	if len(v) > 0 && v[best] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}

// minMaxColumns maps every column linearly onto [0, scale]
func minMaxColumns(y *mat.Dense, scale float64) {
	n, d := y.Dims()
	for j := 0; j < d; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			lo = math.Min(lo, y.At(i, j))
			hi = math.Max(hi, y.At(i, j))
		}
		span := hi - lo
		for i := 0; i < n; i++ {
			if span > 0 {
				y.Set(i, j, scale*(y.At(i, j)-lo)/span)
			} else {
				y.Set(i, j, 0)
			}
		}
	}
}

func clip(v float64) float64 {
	return math.Max(-gradientClip, math.Min(gradientClip, v))
}

// optimizeLayout runs stochastic gradient descent over the membership edges
// with negative sampling. Edges are sampled proportionally to their weight.
func (u *UMAP) optimizeLayout(ctx context.Context, y *mat.Dense, edges []fuzzyEdge, a, b float64, nEpochs int, rng *rand.Rand) error {
	n, _ := y.Dims()
	highest := 0.0
	for _, e := range edges {
		highest = math.Max(highest, e.weight)
	}

	epochsPerSample := make([]float64, len(edges))
	for k, e := range edges {
		epochsPerSample[k] = highest / e.weight
	}
	negativeRate := float64(u.NegativeSampleRate)
	if negativeRate <= 0 {
		negativeRate = 1
	}
	epochsPerNegative := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for k := range edges {
		epochsPerNegative[k] = epochsPerSample[k] / negativeRate
		nextSample[k] = epochsPerSample[k]
		nextNegative[k] = epochsPerNegative[k]
	}

	points := make([][2]float64, n)
	for i := range points {
		points[i] = [2]float64{y.At(i, 0), y.At(i, 1)}
	}

	alpha := u.LearningRate
	for epoch := 0; epoch < nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fe := float64(epoch)

		for k, e := range edges {
			if nextSample[k] > fe {
				continue
			}
			current, other := &points[e.head], &points[e.tail]

			dist2 := sqDist(*current, *other)
			coeff := 0.0
			if dist2 > 0 {
				coeff = -2 * a * b * math.Pow(dist2, b-1) / (a*math.Pow(dist2, b) + 1)
			}
			for d := 0; d < outputDims; d++ {
				g := clip(coeff * (current[d] - other[d]))
				current[d] += g * alpha
				other[d] -= g * alpha
			}
			nextSample[k] += epochsPerSample[k]

			nNeg := int((fe - nextNegative[k]) / epochsPerNegative[k])
			for s := 0; s < nNeg; s++ {
				t := rng.Intn(n)
				if t == e.head {
					continue
				}
				neg := points[t]
				dist2 := sqDist(*current, neg)
				coeff := 0.0
				if dist2 > 0 {
					coeff = 2 * repulsionStrength * b / ((0.001 + dist2) * (a*math.Pow(dist2, b) + 1))
				}
				for d := 0; d < outputDims; d++ {
					g := gradientClip
					if coeff > 0 {
						g = clip(coeff * (current[d] - neg[d]))
					}
					current[d] += g * alpha
				}
			}
			nextNegative[k] += float64(nNeg) * epochsPerNegative[k]
		}

		alpha = u.LearningRate * (1 - float64(epoch)/float64(nEpochs))
	}

	for i, p := range points {
		y.Set(i, 0, p[0])
		y.Set(i, 1, p[1])
	}
	return nil
}

func sqDist(p, q [2]float64) float64 {
	dx, dy := p[0]-q[0], p[1]-q[1]
	return dx*dx + dy*dy
}
