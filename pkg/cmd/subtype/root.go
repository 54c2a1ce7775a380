package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marconotaro/cancer-subtypes/pkg/config"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "subtype",
		Short: "Unsupervised breast cancer subtyping from expression profiles",
		Long: `Averages technical replicates, clusters patients per biomarker scenario
with a shared-neighbor graph and Louvain, projects them with t-SNE and UMAP
and cross-tabulates the communities against clinical annotations.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(
		NewAverageCmd(),
		NewClusterCmd(),
		NewSweepCmd(),
	)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().String("output-dir", "", "Directory for result tables")
}

// addInputFlags registers the input table flags shared by cluster and sweep
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("expression", "", "Raw expression table, replicates included")
	cmd.Flags().String("averaged", "", "Averaged expression table, created when missing")
	cmd.Flags().String("metadata", "", "Clinical metadata table")
}

// addAnalysisFlags registers the flags that override analysis parameters
func addAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().Int("n-top", 0, "Number of most variable genes")
	cmd.Flags().Int("npc", 0, "Principal components used for the neighbor graph")
	cmd.Flags().Int("k", 0, "Nearest neighbors per patient")
	cmd.Flags().Float64("resolution", 0, "Louvain resolution")
	cmd.Flags().Float64("perplexity", 0, "t-SNE perplexity")
	cmd.Flags().Int("n-neighbors", 0, "UMAP neighborhood size")
	cmd.Flags().Float64("min-dist", 0, "UMAP minimum distance")
	cmd.Flags().Float64("spread", 0, "UMAP spread")
	cmd.Flags().Int64("seed", 0, "Random seed")
}

// loadConfig resolves the configuration of cmd and builds its logger
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, cfg.Logger(cmd.ErrOrStderr()), nil
}
