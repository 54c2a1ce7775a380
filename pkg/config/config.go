// Package config resolves run parameters from defaults, a YAML file,
// SUBTYPE_* environment variables and command line flags, in increasing
// precedence.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/marconotaro/cancer-subtypes/pkg/clustering"
	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/replicate"
)

const envPrefix = "SUBTYPE"

// FlagKeys maps command line flags to the configuration keys they override
var FlagKeys = map[string]string{
	"expression":  "paths.expression",
	"averaged":    "paths.averaged",
	"out":         "paths.averaged",
	"metadata":    "paths.metadata",
	"output-dir":  "paths.output_dir",
	"metrics":     "paths.metrics_file",
	"n-top":       "selection.n_top",
	"npc":         "graph.npc",
	"k":           "graph.k",
	"resolution":  "algorithm.resolution",
	"perplexity":  "tsne.perplexity",
	"n-neighbors": "umap.n_neighbors",
	"min-dist":    "umap.min_dist",
	"spread":      "umap.spread",
	"seed":        "random.seed",
	"log-level":   "logging.level",
}

// Config manages run configuration using Viper
type Config struct {
	v     *viper.Viper
	runID string
}

// New creates a configuration holding only the defaults
func New() *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := clustering.DefaultConfig()

	// Inputs and outputs
	v.SetDefault("paths.expression", "")
	v.SetDefault("paths.averaged", "")
	v.SetDefault("paths.metadata", "")
	v.SetDefault("paths.output_dir", "results")
	v.SetDefault("paths.metrics_file", "")

	v.SetDefault("replicate.suffix", replicate.DefaultSuffix)

	// Analysis parameters
	v.SetDefault("selection.n_top", defaults.NTop)
	v.SetDefault("pca.n_comp", defaults.NComp)
	v.SetDefault("pca.remove_var", defaults.RemoveVar)
	v.SetDefault("pca.scale", defaults.Scale)
	v.SetDefault("graph.k", defaults.K)
	v.SetDefault("graph.npc", defaults.NPC)

	v.SetDefault("algorithm.max_levels", 10)
	v.SetDefault("algorithm.max_iterations", 100)
	v.SetDefault("algorithm.min_modularity_gain", 1e-7)
	v.SetDefault("algorithm.resolution", defaults.Resolution)

	v.SetDefault("embedding.methods", defaults.Embeddings)
	v.SetDefault("tsne.perplexity", defaults.Perplexity)
	v.SetDefault("tsne.max_iter", defaults.TSNEIterations)
	v.SetDefault("tsne.init", defaults.TSNEInit)
	v.SetDefault("umap.n_neighbors", defaults.NNeighbors)
	v.SetDefault("umap.min_dist", defaults.MinDist)
	v.SetDefault("umap.spread", defaults.Spread)

	v.SetDefault("scenarios", clustering.DefaultScenarioNames())
	v.SetDefault("random.seed", louvain.DefaultSeed)

	// Execution
	v.SetDefault("performance.max_parallel_scenarios", defaults.MaxParallel)
	v.SetDefault("performance.workers", defaults.Workers)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.enable_progress", false)

	return &Config{v: v, runID: uuid.NewString()}
}

// Load creates a configuration and merges the YAML file at path, if any
func Load(path string) (*Config, error) {
	c := New()
	if path == "" {
		return c, nil
	}
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return c, nil
}

// BindFlags lets every flag of fs listed in FlagKeys override its key when set
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := c.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// Getters for paths and run identity
func (c *Config) RunID() string          { return c.runID }
func (c *Config) ExpressionPath() string { return c.v.GetString("paths.expression") }
func (c *Config) AveragedPath() string   { return c.v.GetString("paths.averaged") }
func (c *Config) MetadataPath() string   { return c.v.GetString("paths.metadata") }
func (c *Config) OutputDir() string      { return c.v.GetString("paths.output_dir") }
func (c *Config) MetricsFile() string    { return c.v.GetString("paths.metrics_file") }
func (c *Config) ReplicateSuffix() string {
	return c.v.GetString("replicate.suffix")
}
func (c *Config) Seed() int64         { return c.v.GetInt64("random.seed") }
func (c *Config) Scenarios() []string { return c.v.GetStringSlice("scenarios") }
func (c *Config) LogLevel() string    { return c.v.GetString("logging.level") }
func (c *Config) LogFormat() string   { return c.v.GetString("logging.format") }

// Clustering returns the parameters of the scenario runner
func (c *Config) Clustering() clustering.Config {
	return clustering.Config{
		NTop:           c.v.GetInt("selection.n_top"),
		NComp:          c.v.GetInt("pca.n_comp"),
		RemoveVar:      c.v.GetFloat64("pca.remove_var"),
		Scale:          c.v.GetBool("pca.scale"),
		NPC:            c.v.GetInt("graph.npc"),
		K:              c.v.GetInt("graph.k"),
		Resolution:     c.v.GetFloat64("algorithm.resolution"),
		Embeddings:     c.v.GetStringSlice("embedding.methods"),
		Perplexity:     c.v.GetFloat64("tsne.perplexity"),
		TSNEIterations: c.v.GetInt("tsne.max_iter"),
		TSNEInit:       c.v.GetString("tsne.init"),
		NNeighbors:     c.v.GetInt("umap.n_neighbors"),
		MinDist:        c.v.GetFloat64("umap.min_dist"),
		Spread:         c.v.GetFloat64("umap.spread"),
		Seed:           c.Seed(),
		Workers:        c.v.GetInt("performance.workers"),
		MaxParallel:    c.v.GetInt("performance.max_parallel_scenarios"),
	}
}

// Louvain returns a community detection configuration carrying the
// algorithm keys, the run seed and the logging level
func (c *Config) Louvain() *louvain.Config {
	lc := louvain.NewConfig()
	for _, key := range []string{
		"algorithm.max_levels",
		"algorithm.max_iterations",
		"algorithm.min_modularity_gain",
		"algorithm.resolution",
	} {
		lc.Set(key, c.v.Get(key))
	}
	lc.Set("algorithm.random_seed", c.Seed())
	lc.Set("logging.level", c.LogLevel())
	lc.Set("logging.enable_progress", c.v.GetBool("logging.enable_progress"))
	return lc
}

// Validate checks the parameters that would otherwise fail deep inside a stage
func (c *Config) Validate() error {
	cc := c.Clustering()
	switch {
	case cc.NTop <= 0:
		return fmt.Errorf("selection.n_top must be positive, got %d", cc.NTop)
	case cc.K <= 0:
		return fmt.Errorf("graph.k must be positive, got %d", cc.K)
	case cc.NPC <= 0:
		return fmt.Errorf("graph.npc must be positive, got %d", cc.NPC)
	case cc.Resolution <= 0:
		return fmt.Errorf("algorithm.resolution must be positive, got %g", cc.Resolution)
	case cc.Perplexity <= 0:
		return fmt.Errorf("tsne.perplexity must be positive, got %g", cc.Perplexity)
	case cc.NNeighbors < 2:
		return fmt.Errorf("umap.n_neighbors must be at least 2, got %d", cc.NNeighbors)
	case cc.RemoveVar < 0 || cc.RemoveVar >= 1:
		return fmt.Errorf("pca.remove_var must be in [0, 1), got %g", cc.RemoveVar)
	}
	if _, err := clustering.ParseScenarios(c.Scenarios()); err != nil {
		return err
	}
	return nil
}

// Settings returns every resolved key plus the run id
func (c *Config) Settings() map[string]any {
	settings := c.v.AllSettings()
	settings["run_id"] = c.runID
	return settings
}

// Logger creates a zerolog logger based on config, writing to w
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	if c.LogFormat() != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "subtype").
		Str("run_id", c.runID).
		Logger()
}
