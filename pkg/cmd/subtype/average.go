package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marconotaro/cancer-subtypes/pkg/metrics"
)

func NewAverageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "average",
		Short: "Check and average technical replicates",
		Long: `Pairs every <sample><suffix> column with its original, reports the
Spearman correlation of each pair and writes the table with each pair
replaced by its mean. An existing output table is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: runAverage,
	}

	cmd.Flags().String("expression", "", "Raw expression table, replicates included")
	cmd.Flags().String("out", "", "Averaged expression table to create")
	cmd.Flags().String("metrics", "", "Prometheus textfile to write")
	return cmd
}

func runAverage(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.AveragedPath() == "" {
		return errors.New("no output table given, set --out or paths.averaged")
	}

	recorder := metrics.NewRecorder(cfg.RunID())
	averaged, rep, err := averageReplicates(cfg, logger, recorder)
	if err != nil {
		return err
	}

	genes, patients := averaged.Dims()
	fmt.Fprintf(cmd.OutOrStdout(), "%d replicate pairs (%d informative, %d significant)\n",
		len(rep.Pairs), rep.NumInformative(), rep.NumSignificant())
	fmt.Fprintf(cmd.OutOrStdout(), "%d genes x %d patients -> %s\n", genes, patients, cfg.AveragedPath())

	return writeMetrics(cfg, recorder, logger)
}
