package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marconotaro/cancer-subtypes/pkg/clustering"
	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/metrics"
	"github.com/marconotaro/cancer-subtypes/pkg/report"
)

func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Count communities over a range of resolutions",
		Long: `Builds the shared-neighbor graph of one scenario once and runs Louvain
at every given resolution with the same seed, reporting the number of
communities and the modularity of each partition.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}

	addInputFlags(cmd)
	addAnalysisFlags(cmd)
	cmd.Flags().Float64Slice("resolutions", []float64{0.1, 0.5, 1, 1.5}, "Resolutions to evaluate")
	cmd.Flags().String("scenario", clustering.ScenarioAll, "Scenario whose graph is swept")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	resolutions, _ := cmd.Flags().GetFloat64Slice("resolutions")
	name, _ := cmd.Flags().GetString("scenario")
	sc, err := clustering.ParseScenario(name)
	if err != nil {
		return err
	}

	m, meta, err := loadCohort(cfg, logger, metrics.NewRecorder(cfg.RunID()))
	if err != nil {
		return err
	}

	runner := clustering.NewRunner(cfg.Clustering(), cfg.Louvain(), logger)
	graph, err := runner.Graph(cmd.Context(), m, meta, sc)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	lg, err := graph.ToLouvain()
	if err != nil {
		return err
	}

	lc := cfg.Louvain()
	lc.SetLogger(logger)
	points, err := louvain.Sweep(cmd.Context(), lg, resolutions, lc)
	if err != nil {
		return err
	}

	outDir := cfg.OutputDir()
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := report.NewFileWriter().WriteSweep(sc.Name, points, filepath.Join(outDir, report.SweepFile)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-11s %s\n", "resolution", "communities", "modularity")
	for _, p := range points {
		fmt.Fprintf(out, "%-10g %-11d %.4f\n", p.Resolution, p.NumCommunities, p.Modularity)
	}
	return nil
}
