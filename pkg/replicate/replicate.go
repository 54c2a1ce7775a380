package replicate

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const (
	// InformativeThreshold applies to the correlation rounded to 2 decimals
	InformativeThreshold = 0.90
	// SignificanceLevel bounds the p-value of a significant pair
	SignificanceLevel = 0.05
)

// PairStats is the consistency check of one replicate pair
type PairStats struct {
	Pair        models.ReplicatePair `json:"pair"`
	Correlation float64              `json:"correlation"`
	PValue      float64              `json:"p_value"`
	Informative bool                 `json:"informative"`
	Significant bool                 `json:"significant"`
}

// Report summarizes a replicate validation run
type Report struct {
	Suffix string      `json:"suffix"`
	Pairs  []PairStats `json:"pairs"`
}

// NumInformative counts pairs whose rounded correlation passes the threshold
func (r *Report) NumInformative() int {
	n := 0
	for _, p := range r.Pairs {
		if p.Informative {
			n++
		}
	}
	return n
}

// NumSignificant counts pairs with p < SignificanceLevel
func (r *Report) NumSignificant() int {
	n := 0
	for _, p := range r.Pairs {
		if p.Significant {
			n++
		}
	}
	return n
}

// Validate computes the Spearman correlation of every pair
func Validate(m *models.ExpressionMatrix, pairs []models.ReplicatePair) ([]PairStats, error) {
	index := m.PatientIndex()
	stats := make([]PairStats, 0, len(pairs))

	for _, p := range pairs {
		i, ok := index[p.Original]
		if !ok {
			return nil, fmt.Errorf("column %q not in expression matrix", p.Original)
		}
		j, ok := index[p.Replicate]
		if !ok {
			return nil, fmt.Errorf("column %q not in expression matrix", p.Replicate)
		}

		rho, pValue := Spearman(m.Column(i), m.Column(j))
		stats = append(stats, PairStats{
			Pair:        p,
			Correlation: rho,
			PValue:      pValue,
			Informative: !math.IsNaN(rho) && math.Round(rho*100)/100 >= InformativeThreshold,
			Significant: !math.IsNaN(pValue) && pValue < SignificanceLevel,
		})
	}
	return stats, nil
}

// Average merges every pair into one column named after the original, kept at
// the original's position. Replicate columns are dropped.
func Average(m *models.ExpressionMatrix, pairs []models.ReplicatePair) (*models.ExpressionMatrix, error) {
	index := m.PatientIndex()
	partner := make(map[int]int, len(pairs))
	dropped := make(map[int]struct{}, len(pairs))

	for _, p := range pairs {
		i, ok := index[p.Original]
		if !ok {
			return nil, fmt.Errorf("column %q not in expression matrix", p.Original)
		}
		j, ok := index[p.Replicate]
		if !ok {
			return nil, fmt.Errorf("column %q not in expression matrix", p.Replicate)
		}
		partner[i] = j
		dropped[j] = struct{}{}
	}

	keep := make([]int, 0, len(m.Patients)-len(dropped))
	patients := make([]string, 0, len(m.Patients)-len(dropped))
	for j, name := range m.Patients {
		if _, skip := dropped[j]; skip {
			continue
		}
		keep = append(keep, j)
		patients = append(patients, name)
	}

	values := make([][]float64, len(m.Values))
	for g, row := range m.Values {
		out := make([]float64, len(keep))
		for k, j := range keep {
			if r, ok := partner[j]; ok {
				out[k] = (row[j] + row[r]) / 2
			} else {
				out[k] = row[j]
			}
		}
		values[g] = out
	}

	genes := append([]string(nil), m.Genes...)
	return models.NewExpressionMatrix(genes, patients, values)
}

// Validator pairs, checks and averages replicate columns
type Validator struct {
	Suffix string
	Logger zerolog.Logger
}

// NewValidator creates a validator for the given replicate suffix
func NewValidator(suffix string, logger zerolog.Logger) *Validator {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Validator{Suffix: suffix, Logger: logger.With().Str("stage", "replicate").Logger()}
}

// Run returns the averaged matrix and the per-pair report. A malformed
// pairing aborts before anything is averaged.
func (v *Validator) Run(m *models.ExpressionMatrix) (*models.ExpressionMatrix, *Report, error) {
	pairs, err := Pair(m.Patients, v.Suffix)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{Suffix: v.Suffix}
	if len(pairs) == 0 {
		v.Logger.Warn().Str("suffix", v.Suffix).Msg("No replicate columns found")
		return m, report, nil
	}

	stats, err := Validate(m, pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("replicate validation failed: %w", err)
	}
	report.Pairs = stats

	for _, s := range stats {
		event := v.Logger.Info()
		if !s.Informative {
			event = v.Logger.Warn()
		}
		event.
			Str("original", s.Pair.Original).
			Str("replicate", s.Pair.Replicate).
			Float64("correlation", s.Correlation).
			Float64("p_value", s.PValue).
			Bool("informative", s.Informative).
			Bool("significant", s.Significant).
			Msg("Replicate pair")
	}

	averaged, err := Average(m, pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("replicate averaging failed: %w", err)
	}

	v.Logger.Info().
		Int("pairs", len(pairs)).
		Int("informative", report.NumInformative()).
		Int("significant", report.NumSignificant()).
		Int("patients_before", len(m.Patients)).
		Int("patients_after", len(averaged.Patients)).
		Msg("Replicates averaged")

	return averaged, report, nil
}
