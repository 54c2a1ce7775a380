// Package clustering runs the subtyping chain for each patient scenario:
// gene selection, PCA, shared-neighbor graph, Louvain and 2D embeddings.
package clustering

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marconotaro/cancer-subtypes/pkg/embedding"
	"github.com/marconotaro/cancer-subtypes/pkg/knn"
	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
	"github.com/marconotaro/cancer-subtypes/pkg/pca"
	"github.com/marconotaro/cancer-subtypes/pkg/selection"
	"github.com/marconotaro/cancer-subtypes/pkg/validation"
)

// Stage names used in logs and metrics
const (
	StageSelect  = "select"
	StagePCA     = "pca"
	StageKNN     = "knn"
	StageLouvain = "louvain"
)

// ===== CONFIGURATION =====

// Config holds the parameters shared by every scenario
type Config struct {
	// Feature selection and projection
	NTop      int     `json:"n_top"`
	NComp     int     `json:"n_comp"`
	RemoveVar float64 `json:"remove_var"`
	Scale     bool    `json:"scale"`

	// Neighbor graph and community detection
	NPC        int     `json:"npc"`
	K          int     `json:"k"`
	Resolution float64 `json:"resolution"`

	// Embeddings, any of "tsne" and "umap"
	Embeddings     []string `json:"embeddings"`
	Perplexity     float64  `json:"perplexity"`
	TSNEIterations int      `json:"tsne_iterations"`
	TSNEInit       string   `json:"tsne_init"`
	NNeighbors     int      `json:"n_neighbors"`
	MinDist        float64  `json:"min_dist"`
	Spread         float64  `json:"spread"`

	// Execution
	Seed        int64 `json:"seed"`
	Workers     int   `json:"workers"`
	MaxParallel int   `json:"max_parallel_scenarios"`
}

// DefaultConfig returns the standard analysis parameters
func DefaultConfig() Config {
	return Config{
		NTop:           selection.DefaultNTop,
		NComp:          pca.DefaultComponents,
		RemoveVar:      pca.DefaultRemoveVar,
		NPC:            knn.DefaultNPC,
		K:              knn.DefaultK,
		Resolution:     1.0,
		Embeddings:     []string{"tsne", "umap"},
		Perplexity:     20,
		TSNEIterations: 1000,
		TSNEInit:       embedding.InitPCA,
		NNeighbors:     20,
		MinDist:        0.1,
		Spread:         1,
		Seed:           louvain.DefaultSeed,
		Workers:        knn.DefaultWorkers,
		MaxParallel:    4,
	}
}

// ===== RESULTS =====

// Agreement compares communities with the reference subtype annotation
type Agreement struct {
	Reference string  `json:"reference"`
	Patients  int     `json:"patients"` // patients with a known reference label
	NMI       float64 `json:"nmi"`
	ARI       float64 `json:"ari"`
}

// Result is the outcome of one scenario. A failed scenario carries Err and
// no clustering.
type Result struct {
	Scenario Scenario `json:"scenario"`
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Err      error    `json:"-"`

	Runtime  time.Duration `json:"runtime"`
	Excluded int           `json:"excluded"` // patients dropped for missing annotations
	NumGenes int           `json:"num_genes"`

	Clustering        *models.Clustering           `json:"clustering,omitempty"`
	NumLevels         int                          `json:"num_levels"`
	VarianceExplained []float64                    `json:"variance_explained,omitempty"`
	Embeddings        map[string]*models.Embedding `json:"embeddings,omitempty"`
	Agreement         *Agreement                   `json:"agreement,omitempty"`
}

// NumPatients returns the number of clustered patients
func (r *Result) NumPatients() int {
	if r.Clustering == nil {
		return 0
	}
	return len(r.Clustering.Patients)
}

// Observer receives stage timings and scenario outcomes
type Observer interface {
	ObserveStage(scenario, stage string, d time.Duration)
	ObserveResult(r *Result)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, string, time.Duration) {}
func (nopObserver) ObserveResult(*Result)                      {}

// ===== RUNNER =====

// Runner executes scenarios against one expression matrix
type Runner struct {
	Config   Config
	Louvain  *louvain.Config
	Logger   zerolog.Logger
	Observer Observer
}

// NewRunner creates a runner; a nil louvain config gets the defaults
func NewRunner(cfg Config, lc *louvain.Config, logger zerolog.Logger) *Runner {
	if lc == nil {
		lc = louvain.NewConfig()
	}
	return &Runner{Config: cfg, Louvain: lc, Logger: logger, Observer: nopObserver{}}
}

// Run executes the scenarios concurrently, at most MaxParallel at a time. The
// matrix and metadata are shared read-only. Results come back in scenario
// order; a scenario failure is recorded in its Result and never stops the
// others. The returned error is only the context error.
func (r *Runner) Run(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, scenarios []Scenario) ([]*Result, error) {
	results := make([]*Result, len(scenarios))

	// one louvain configuration per scenario, derived before any goroutine starts
	configs := make([]*louvain.Config, len(scenarios))
	for i := range scenarios {
		configs[i] = r.Louvain.WithResolution(r.Config.Resolution)
		configs[i].Set("algorithm.random_seed", r.Config.Seed)
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.Config.MaxParallel > 0 {
		g.SetLimit(r.Config.MaxParallel)
	}
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = failed(sc, err, 0)
				return nil
			}
			results[i] = r.runScenario(gctx, m, meta, sc, configs[i])
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	r.Logger.Info().
		Int("scenarios", len(scenarios)).
		Int("succeeded", succeeded).
		Msg("Scenario runs completed")

	return results, ctx.Err()
}

// RunScenario executes a single scenario synchronously
func (r *Runner) RunScenario(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, sc Scenario) *Result {
	lc := r.Louvain.WithResolution(r.Config.Resolution)
	lc.Set("algorithm.random_seed", r.Config.Seed)
	return r.runScenario(ctx, m, meta, sc, lc)
}

func failed(sc Scenario, err error, runtime time.Duration) *Result {
	return &Result{Scenario: sc, Err: err, Error: err.Error(), Runtime: runtime}
}

func (r *Runner) observer() Observer {
	if r.Observer == nil {
		return nopObserver{}
	}
	return r.Observer
}

func (r *Runner) runScenario(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, sc Scenario, lc *louvain.Config) *Result {
	start := time.Now()
	logger := r.Logger.With().Str("scenario", sc.Name).Logger()
	obs := r.observer()

	result, err := r.execute(ctx, m, meta, sc, lc, logger)
	if err != nil {
		partial := result
		result = failed(sc, err, time.Since(start))
		result.Excluded = partial.Excluded
		result.NumGenes = partial.NumGenes
		logger.Error().Err(err).Msg("Scenario failed")
	} else {
		result.Runtime = time.Since(start)
		logger.Info().
			Int("patients", result.NumPatients()).
			Int("communities", result.Clustering.NumCommunities()).
			Float64("modularity", result.Clustering.Modularity).
			Dur("runtime", result.Runtime).
			Msg("Scenario completed")
	}
	obs.ObserveResult(result)
	return result
}

// timed runs one stage and reports its duration
func (r *Runner) timed(sc Scenario, stage string, logger zerolog.Logger, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	r.observer().ObserveStage(sc.Name, stage, d)
	if err != nil {
		return fmt.Errorf("%s stage failed: %w", stage, err)
	}
	logger.Debug().Str("stage", stage).Dur("duration", d).Msg("Stage completed")
	return nil
}

// Graph runs a scenario up to the shared-neighbor graph, for callers that
// explore community detection parameters on a fixed graph
func (r *Runner) Graph(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, sc Scenario) (*knn.NeighborGraph, error) {
	logger := r.Logger.With().Str("scenario", sc.Name).Logger()
	_, graph, err := r.prepare(ctx, m, meta, sc, &Result{Scenario: sc}, logger)
	return graph, err
}

// prepare subsets the patients, selects genes, projects them and builds the
// neighbor graph, filling the bookkeeping fields of result
func (r *Runner) prepare(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, sc Scenario, result *Result, logger zerolog.Logger) (*models.ExpressionMatrix, *knn.NeighborGraph, error) {
	cfg := r.Config

	patients, excluded := sc.Subset(m.Patients, meta)
	result.Excluded = excluded
	if excluded > 0 {
		logger.Warn().
			Int("excluded", excluded).
			Strs("fields", fieldNames(sc.Required)).
			Msg("Patients excluded for missing annotations")
	}
	if len(patients) == 0 {
		return nil, nil, &models.InsufficientDataError{Stage: "subset", Samples: 0, Required: 0}
	}

	subset, err := m.SelectPatients(patients)
	if err != nil {
		return nil, nil, fmt.Errorf("subset failed: %w", err)
	}

	var selected *models.ExpressionMatrix
	err = r.timed(sc, StageSelect, logger, func() error {
		var err error
		selected, err = selection.Selector{NTop: cfg.NTop}.Select(subset)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	result.NumGenes = len(selected.Genes)

	var coords *models.ReducedCoordinates
	err = r.timed(sc, StagePCA, logger, func() error {
		var err error
		reducer := pca.Reducer{Components: cfg.NComp, RemoveVar: cfg.RemoveVar, Scale: cfg.Scale}
		coords, err = reducer.Reduce(selected)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	result.VarianceExplained = coords.VarianceExplained

	var graph *knn.NeighborGraph
	err = r.timed(sc, StageKNN, logger, func() error {
		var err error
		builder := &knn.Builder{K: cfg.K, NPC: cfg.NPC, Workers: cfg.Workers, Logger: logger}
		graph, err = builder.Build(ctx, coords)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return selected, graph, nil
}

func (r *Runner) execute(ctx context.Context, m *models.ExpressionMatrix, meta *models.PatientMetadata, sc Scenario, lc *louvain.Config, logger zerolog.Logger) (*Result, error) {
	cfg := r.Config
	result := &Result{Scenario: sc}

	selected, graph, err := r.prepare(ctx, m, meta, sc, result, logger)
	if err != nil {
		return result, err
	}

	var communities *louvain.Result
	err = r.timed(sc, StageLouvain, logger, func() error {
		lg, err := graph.ToLouvain()
		if err != nil {
			return err
		}
		lc.SetLogger(logger)
		communities, err = louvain.Run(ctx, lg, lc)
		return err
	})
	if err != nil {
		return result, err
	}

	clustering := &models.Clustering{
		Patients:   graph.Patients,
		Labels:     communities.Labels,
		Resolution: communities.Resolution,
		Modularity: communities.Modularity,
	}
	if err := validation.CheckPartition(clustering); err != nil {
		return result, fmt.Errorf("invalid partition: %w", err)
	}

	embeddings := make(map[string]*models.Embedding, len(cfg.Embeddings))
	for _, projector := range r.projectors(logger) {
		var e *models.Embedding
		err = r.timed(sc, projector.Name(), logger, func() error {
			var err error
			e, err = projector.Embed(ctx, selected)
			return err
		})
		if err != nil {
			return result, err
		}
		embeddings[projector.Name()] = e
	}

	result.Success = true
	result.Clustering = clustering
	result.NumLevels = communities.NumLevels
	result.Embeddings = embeddings
	result.Agreement = agreement(clustering, meta, models.FieldPAM50, logger)
	return result, nil
}

// projectors builds fresh embedders so every scenario owns its random sources
func (r *Runner) projectors(logger zerolog.Logger) []embedding.Projector {
	cfg := r.Config
	var out []embedding.Projector
	for _, name := range cfg.Embeddings {
		switch name {
		case "tsne":
			t := embedding.NewTSNE(cfg.Seed, logger.With().Str("stage", "tsne").Logger())
			t.Perplexity = cfg.Perplexity
			if cfg.TSNEIterations > 0 {
				t.MaxIter = cfg.TSNEIterations
			}
			if cfg.TSNEInit != "" {
				t.Init = cfg.TSNEInit
			}
			t.Workers = cfg.Workers
			out = append(out, t)
		case "umap":
			u := embedding.NewUMAP(cfg.Seed, logger.With().Str("stage", "umap").Logger())
			u.NNeighbors = cfg.NNeighbors
			u.MinDist = cfg.MinDist
			u.Spread = cfg.Spread
			u.Workers = cfg.Workers
			out = append(out, u)
		default:
			logger.Warn().Str("embedding", name).Msg("Unknown embedding skipped")
		}
	}
	return out
}

// agreement scores the clustering against a reference annotation over the
// patients where the reference is known
func agreement(c *models.Clustering, meta *models.PatientMetadata, reference models.Field, logger zerolog.Logger) *Agreement {
	var labels []int
	var categories []string
	for i, p := range c.Patients {
		cat := meta.Category(p, reference)
		if cat == models.UnknownCategory {
			continue
		}
		labels = append(labels, c.Labels[i])
		categories = append(categories, cat)
	}
	if len(labels) < 2 {
		return nil
	}

	codes, _ := validation.Encode(categories)
	nmi, err := validation.NormalizedMutualInfo(labels, codes)
	if err != nil {
		logger.Warn().Err(err).Msg("NMI calculation failed")
		return nil
	}
	ari, err := validation.AdjustedRandIndex(labels, codes)
	if err != nil {
		logger.Warn().Err(err).Msg("ARI calculation failed")
		return nil
	}
	return &Agreement{Reference: string(reference), Patients: len(labels), NMI: nmi, ARI: ari}
}

func fieldNames(fields []models.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
