package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/marconotaro/cancer-subtypes/pkg/config"
	"github.com/marconotaro/cancer-subtypes/pkg/metrics"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
	"github.com/marconotaro/cancer-subtypes/pkg/parser"
	"github.com/marconotaro/cancer-subtypes/pkg/replicate"
	"github.com/marconotaro/cancer-subtypes/pkg/report"
	"github.com/marconotaro/cancer-subtypes/pkg/validation"
)

// averageReplicates loads the raw expression table, checks and averages its
// replicate pairs and writes the averaged table unless it already exists
func averageReplicates(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder) (*models.ExpressionMatrix, *replicate.Report, error) {
	path := cfg.ExpressionPath()
	if path == "" {
		return nil, nil, errors.New("no expression table given, set --expression or paths.expression")
	}

	raw, err := parser.LoadExpression(path)
	if err != nil {
		return nil, nil, err
	}
	genes, patients := raw.Dims()
	logger.Info().
		Str("path", path).
		Int("genes", genes).
		Int("columns", patients).
		Msg("Expression table loaded")

	averaged, rep, err := replicate.NewValidator(cfg.ReplicateSuffix(), logger).Run(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("replicate averaging failed: %w", err)
	}
	recorder.ObserveReplicates(rep)

	if out := cfg.AveragedPath(); out != "" {
		written, err := parser.WriteExpression(out, averaged)
		if err != nil {
			return nil, nil, err
		}
		if written {
			logger.Info().Str("path", out).Msg("Averaged expression table written")
		} else {
			logger.Warn().Str("path", out).Msg("Averaged expression table exists, left untouched")
		}
	}

	if len(rep.Pairs) > 0 {
		dir := cfg.OutputDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := report.NewFileWriter().WriteReplicates(rep, filepath.Join(dir, report.ReplicatesFile)); err != nil {
			return nil, nil, fmt.Errorf("failed to write replicate report: %w", err)
		}
	}
	return averaged, rep, nil
}

// loadAveraged reads the averaged table when it exists and derives it from
// the raw table otherwise
func loadAveraged(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder) (*models.ExpressionMatrix, error) {
	if path := cfg.AveragedPath(); path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			logger.Info().Str("path", path).Msg("Using existing averaged expression table")
			return parser.LoadExpression(path)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	m, _, err := averageReplicates(cfg, logger, recorder)
	return m, err
}

// loadCohort returns the averaged matrix and the metadata of its patients
func loadCohort(cfg *config.Config, logger zerolog.Logger, recorder *metrics.Recorder) (*models.ExpressionMatrix, *models.PatientMetadata, error) {
	if cfg.MetadataPath() == "" {
		return nil, nil, errors.New("no metadata table given, set --metadata or paths.metadata")
	}

	m, err := loadAveraged(cfg, logger, recorder)
	if err != nil {
		return nil, nil, err
	}
	meta, err := parser.LoadMetadata(cfg.MetadataPath())
	if err != nil {
		return nil, nil, err
	}

	missing, err := validation.CheckCohort(m, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("cohort check failed: %w", err)
	}
	if len(missing) > 0 {
		logger.Warn().
			Int("count", len(missing)).
			Strs("samples", missing).
			Msg("Expression columns without metadata")
	}
	return m, meta, nil
}

// writeMetrics writes the textfile when paths.metrics_file is set
func writeMetrics(cfg *config.Config, recorder *metrics.Recorder, logger zerolog.Logger) error {
	path := cfg.MetricsFile()
	if path == "" {
		return nil
	}
	if err := recorder.WriteTextfile(path); err != nil {
		return err
	}
	logger.Debug().Str("path", path).Msg("Metrics written")
	return nil
}
