package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marconotaro/cancer-subtypes/pkg/clustering"
	"github.com/marconotaro/cancer-subtypes/pkg/metrics"
	"github.com/marconotaro/cancer-subtypes/pkg/report"
	"github.com/marconotaro/cancer-subtypes/pkg/validation"
)

func NewClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster patients for every configured scenario",
		Long: `Averages replicates when no averaged table exists yet, then runs gene
selection, PCA, the shared-neighbor graph, Louvain and the embeddings for
each scenario. A failing scenario is reported in the summary and does not
stop the others.`,
		Args: cobra.NoArgs,
		RunE: runCluster,
	}

	addInputFlags(cmd)
	addAnalysisFlags(cmd)
	cmd.Flags().StringSlice("scenario", nil, "Scenarios to run (all, complete, biomarker:<field>)")
	cmd.Flags().String("metrics", "", "Prometheus textfile to write")
	return cmd
}

func runCluster(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if names, _ := cmd.Flags().GetStringSlice("scenario"); len(names) > 0 {
		cfg.Set("scenarios", names)
	}
	scenarios, err := clustering.ParseScenarios(cfg.Scenarios())
	if err != nil {
		return err
	}

	outDir := cfg.OutputDir()
	if err := validation.ValidateOutputDirectory(outDir); err != nil {
		return err
	}

	recorder := metrics.NewRecorder(cfg.RunID())
	m, meta, err := loadCohort(cfg, logger, recorder)
	if err != nil {
		return err
	}

	runner := clustering.NewRunner(cfg.Clustering(), cfg.Louvain(), logger)
	runner.Observer = recorder

	results, runErr := runner.Run(cmd.Context(), m, meta, scenarios)

	writer := report.NewFileWriter()
	if err := writer.WriteAll(results, meta, outDir); err != nil {
		return err
	}
	if err := writer.WriteRunConfig(cfg.Settings(), filepath.Join(outDir, report.RunConfigFile)); err != nil {
		return err
	}
	if err := writeMetrics(cfg, recorder, logger); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}

	succeeded := printResults(cmd, results)
	if succeeded == 0 {
		return errors.New("no scenario succeeded")
	}
	return nil
}

func printResults(cmd *cobra.Command, results []*clustering.Result) int {
	out := cmd.OutOrStdout()
	succeeded := 0
	for _, res := range results {
		if !res.Success {
			fmt.Fprintf(out, "%-24s failed: %s\n", res.Scenario.Name, res.Error)
			continue
		}
		succeeded++
		fmt.Fprintf(out, "%-24s %4d patients %3d communities  Q=%.3f",
			res.Scenario.Name, res.NumPatients(), res.Clustering.NumCommunities(), res.Clustering.Modularity)
		if res.Agreement != nil {
			fmt.Fprintf(out, "  NMI=%.3f ARI=%.3f", res.Agreement.NMI, res.Agreement.ARI)
		}
		fmt.Fprintln(out)
	}
	return succeeded
}
