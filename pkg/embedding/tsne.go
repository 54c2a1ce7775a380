package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/marconotaro/cancer-subtypes/pkg/knn"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
	"github.com/marconotaro/cancer-subtypes/pkg/pca"
)

// Initialization modes
const (
	InitPCA    = "pca"
	InitRandom = "random"
)

// TSNE is an exact-gradient t-SNE with sparse input affinities over the
// 3*Perplexity nearest neighbors of every point.
type TSNE struct {
	Perplexity         float64
	MaxIter            int
	LearningRate       float64
	Exaggeration       float64
	StopLyingIter      int
	MomentumSwitchIter int
	InitialDims        int // PCA preprocessing, 0 disables it
	Init               string
	Workers            int
	Seed               int64
	Logger             zerolog.Logger
}

// NewTSNE returns a t-SNE with the usual defaults
func NewTSNE(seed int64, logger zerolog.Logger) *TSNE {
	return &TSNE{
		Perplexity:         20,
		MaxIter:            1000,
		LearningRate:       200,
		Exaggeration:       12,
		StopLyingIter:      250,
		MomentumSwitchIter: 250,
		InitialDims:        50,
		Init:               InitPCA,
		Workers:            10,
		Seed:               seed,
		Logger:             logger,
	}
}

// Name implements Projector
func (t *TSNE) Name() string { return "tsne" }

// sparseP is a symmetric affinity matrix in row-compressed form
type sparseP struct {
	cols [][]int
	vals [][]float64
}

// Embed implements Projector
func (t *TSNE) Embed(ctx context.Context, m *models.ExpressionMatrix) (*models.Embedding, error) {
	x := m.PatientsByGenes()
	n, d := x.Dims()

	k := int(3 * t.Perplexity)
	if t.Perplexity <= 0 {
		return nil, fmt.Errorf("perplexity must be positive, got %g", t.Perplexity)
	}
	if n-1 < k {
		return nil, &models.InsufficientDataError{Stage: "tsne", Samples: n, Required: k}
	}

	var input mat.Matrix = x
	if t.InitialDims > 0 && d > t.InitialDims {
		projected, err := pca.Project(x, t.InitialDims)
		if err != nil {
			return nil, fmt.Errorf("tsne pca preprocessing failed: %w", err)
		}
		input = projected
	}
	normalized := normalizeInput(input)

	neighbors, err := knn.Search(ctx, normalized, k, t.Workers)
	if err != nil {
		return nil, fmt.Errorf("tsne neighbor search failed: %w", err)
	}
	p := t.affinities(neighbors)

	rng := rand.New(rand.NewSource(t.Seed))
	y, err := t.initialize(normalized, rng)
	if err != nil {
		return nil, err
	}

	if err := t.optimize(ctx, p, y); err != nil {
		return nil, err
	}

	return toEmbedding(t.Name(), m.Patients, y), nil
}

func (t *TSNE) initialize(x mat.Matrix, rng *rand.Rand) (*mat.Dense, error) {
	n, _ := x.Dims()
	switch t.Init {
	case InitPCA, "":
		if y, ok := mdsInit(x); ok {
			rescaleColumns(y, 1e-4)
			return y, nil
		}
		t.Logger.Warn().Msg("MDS initialization degenerate, using random initialization")
		return gaussianInit(n, 1e-4, rng), nil
	case InitRandom:
		return gaussianInit(n, 1e-4, rng), nil
	default:
		return nil, fmt.Errorf("unknown tsne initialization %q", t.Init)
	}
}

// normalizeInput centers the data and divides by the largest absolute value
func normalizeInput(x mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(x)
	centerColumns(out)
	maxAbs := 0.0
	n, d := out.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			if a := math.Abs(out.At(i, j)); a > maxAbs {
				maxAbs = a
			}
		}
	}
	if maxAbs > 0 {
		out.Scale(1/maxAbs, out)
	}
	return out
}

// affinities calibrates a Gaussian bandwidth per point so the conditional
// distribution over its neighbors has the target perplexity, then symmetrizes
// and normalizes to a joint distribution.
func (t *TSNE) affinities(neighbors [][]knn.Neighbor) sparseP {
	n := len(neighbors)
	target := math.Log(t.Perplexity)

	rows := make([]map[int]float64, n)
	for i := range rows {
		rows[i] = make(map[int]float64, 2*len(neighbors[i]))
	}

	for i, list := range neighbors {
		cond := conditionalRow(list, target)
		for k, nb := range list {
			rows[i][nb.Index] += cond[k]
			rows[nb.Index][i] += cond[k]
		}
	}

	// map order is random, so the total is summed over sorted columns
	p := sparseP{cols: make([][]int, n), vals: make([][]float64, n)}
	total := 0.0
	for i, row := range rows {
		cols := make([]int, 0, len(row))
		for j := range row {
			cols = append(cols, j)
		}
		sort.Ints(cols)
		vals := make([]float64, len(cols))
		for k, j := range cols {
			vals[k] = row[j]
			total += vals[k]
		}
		p.cols[i] = cols
		p.vals[i] = vals
	}
	for i := range p.vals {
		for k := range p.vals[i] {
			p.vals[i][k] /= total
		}
	}
	return p
}

// conditionalRow binary searches the precision beta of one point
func conditionalRow(list []knn.Neighbor, target float64) []float64 {
	const (
		tol      = 1e-5
		maxSteps = 200
	)

	beta := 1.0
	lo, hi := -math.MaxFloat64, math.MaxFloat64
	row := make([]float64, len(list))

	for step := 0; step < maxSteps; step++ {
		sum := 0.0
		for k, nb := range list {
			row[k] = math.Exp(-beta * nb.Distance)
			sum += row[k]
		}
		if sum == 0 {
			sum = math.SmallestNonzeroFloat64
		}

		h := 0.0
		for k, nb := range list {
			h += beta * nb.Distance * row[k]
		}
		h = h/sum + math.Log(sum)

		diff := h - target
		if math.Abs(diff) < tol {
			break
		}
		if diff > 0 {
			lo = beta
			if hi == math.MaxFloat64 {
				beta *= 2
			} else {
				beta = (beta + hi) / 2
			}
		} else {
			hi = beta
			if lo == -math.MaxFloat64 {
				beta /= 2
			} else {
				beta = (beta + lo) / 2
			}
		}
	}

	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum > 0 {
		for k := range row {
			row[k] /= sum
		}
	}
	return row
}

// optimize runs gradient descent with momentum and per-coordinate gains
func (t *TSNE) optimize(ctx context.Context, p sparseP, y *mat.Dense) error {
	n, _ := y.Dims()
	grad := mat.NewDense(n, outputDims, nil)
	update := mat.NewDense(n, outputDims, nil)
	gains := mat.NewDense(n, outputDims, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < outputDims; j++ {
			gains.Set(i, j, 1)
		}
	}

	for iter := 0; iter < t.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		exaggeration := 1.0
		if iter < t.StopLyingIter {
			exaggeration = t.Exaggeration
		}
		momentum := 0.5
		if iter >= t.MomentumSwitchIter {
			momentum = 0.8
		}

		z, err := t.gradient(ctx, p, y, exaggeration, grad)
		if err != nil {
			return err
		}

		for i := 0; i < n; i++ {
			for j := 0; j < outputDims; j++ {
				g, u := grad.At(i, j), update.At(i, j)
				gain := gains.At(i, j)
				if math.Signbit(g) != math.Signbit(u) {
					gain += 0.2
				} else {
					gain *= 0.8
				}
				if gain < 0.01 {
					gain = 0.01
				}
				gains.Set(i, j, gain)

				u = momentum*u - t.LearningRate*gain*g
				update.Set(i, j, u)
				y.Set(i, j, y.At(i, j)+u)
			}
		}
		centerColumns(y)

		if (iter+1)%50 == 0 || iter == t.MaxIter-1 {
			t.Logger.Debug().
				Int("iteration", iter+1).
				Float64("kl_divergence", klDivergence(p, y, z)).
				Msg("t-SNE progress")
		}
	}
	return nil
}

// gradient fills grad and returns the normalization Z. Rows are split into
// blocks evaluated concurrently; partial sums are combined in row order so the
// result does not depend on scheduling.
func (t *TSNE) gradient(ctx context.Context, p sparseP, y *mat.Dense, exaggeration float64, grad *mat.Dense) (float64, error) {
	n, _ := y.Dims()
	workers := t.Workers
	if workers < 1 {
		workers = 1
	}
	block := (n + workers - 1) / workers

	rows := make([][2]float64, n)
	for i := range rows {
		rows[i] = [2]float64{y.At(i, 0), y.At(i, 1)}
	}

	repulsive := make([][2]float64, n)
	partialZ := make([]float64, n)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += block {
		start, end := start, min(start+block, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				var rep [2]float64
				zi := 0.0
				for j := 0; j < n; j++ {
					if j == i {
						continue
					}
					dx := rows[i][0] - rows[j][0]
					dy := rows[i][1] - rows[j][1]
					q := 1 / (1 + dx*dx + dy*dy)
					zi += q
					rep[0] += q * q * dx
					rep[1] += q * q * dy
				}
				repulsive[i] = rep
				partialZ[i] = zi
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	z := 0.0
	for _, zi := range partialZ {
		z += zi
	}

	for i := 0; i < n; i++ {
		var attr [2]float64
		for k, j := range p.cols[i] {
			dx := rows[i][0] - rows[j][0]
			dy := rows[i][1] - rows[j][1]
			q := 1 / (1 + dx*dx + dy*dy)
			w := exaggeration * p.vals[i][k] * q
			attr[0] += w * dx
			attr[1] += w * dy
		}
		grad.Set(i, 0, 4*(attr[0]-repulsive[i][0]/z))
		grad.Set(i, 1, 4*(attr[1]-repulsive[i][1]/z))
	}
	return z, nil
}

// klDivergence evaluates KL(P||Q) over the support of P
func klDivergence(p sparseP, y *mat.Dense, z float64) float64 {
	kl := 0.0
	for i := range p.cols {
		for k, j := range p.cols[i] {
			pij := p.vals[i][k]
			if pij <= 0 {
				continue
			}
			dx := y.At(i, 0) - y.At(j, 0)
			dy := y.At(i, 1) - y.At(j, 1)
			qij := 1 / (1 + dx*dx + dy*dy) / z
			kl += pij * math.Log(pij/math.Max(qij, 1e-300))
		}
	}
	return kl
}
