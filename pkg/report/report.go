// Package report writes scenario results as CSV tables
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/marconotaro/cancer-subtypes/pkg/clustering"
	"github.com/marconotaro/cancer-subtypes/pkg/louvain"
	"github.com/marconotaro/cancer-subtypes/pkg/models"
	"github.com/marconotaro/cancer-subtypes/pkg/replicate"
	"github.com/marconotaro/cancer-subtypes/pkg/validation"
)

const missing = "NA"

// File names inside the output directory
const (
	SummaryFile    = "summary.csv"
	ReplicatesFile = "replicate_pairs.csv"
	SweepFile      = "resolution_sweep.csv"
	RunConfigFile  = "run_config.yaml"
)

// OutputWriter generates the result tables of a run
type OutputWriter interface {
	WriteClusters(result *clustering.Result, meta *models.PatientMetadata, path string) error
	WriteCrosstab(result *clustering.Result, meta *models.PatientMetadata, path string) error
	WriteSummary(results []*clustering.Result, path string) error
	WriteAll(results []*clustering.Result, meta *models.PatientMetadata, outputDir string) error
}

// FileWriter implements OutputWriter for CSV files
type FileWriter struct{}

// NewFileWriter creates a new file-based output writer
func NewFileWriter() *FileWriter {
	return &FileWriter{}
}

// ClustersPath returns the per-patient table of a scenario
func ClustersPath(outputDir string, s clustering.Scenario) string {
	return filepath.Join(outputDir, s.FileStem()+"_clusters.csv")
}

// CrosstabPath returns the cluster by category table of a scenario
func CrosstabPath(outputDir string, s clustering.Scenario) string {
	return filepath.Join(outputDir, s.FileStem()+"_crosstab.csv")
}

// WriteAll writes the summary and, for every successful scenario, its
// clusters and crosstab tables
func (fw *FileWriter) WriteAll(results []*clustering.Result, meta *models.PatientMetadata, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, res := range results {
		if !res.Success {
			continue
		}
		if err := fw.WriteClusters(res, meta, ClustersPath(outputDir, res.Scenario)); err != nil {
			return fmt.Errorf("failed to write clusters of %s: %w", res.Scenario.Name, err)
		}
		if err := fw.WriteCrosstab(res, meta, CrosstabPath(outputDir, res.Scenario)); err != nil {
			return fmt.Errorf("failed to write crosstab of %s: %w", res.Scenario.Name, err)
		}
	}

	if err := fw.WriteSummary(results, filepath.Join(outputDir, SummaryFile)); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// WriteClusters writes one row per patient with its community, embedding
// coordinates and clinical annotations
func (fw *FileWriter) WriteClusters(result *clustering.Result, meta *models.PatientMetadata, path string) error {
	if result.Clustering == nil {
		return fmt.Errorf("scenario %s has no clustering", result.Scenario.Name)
	}

	header := []string{"patient_id", "sample_name", "cluster", "tsne_1", "tsne_2", "umap_1", "umap_2"}
	for _, f := range models.ClinicalFields {
		header = append(header, string(f))
	}

	rows := make([][]string, 0, len(result.Clustering.Patients))
	for i, sample := range result.Clustering.Patients {
		patientID := missing
		if p, ok := meta.Lookup(sample); ok && p.PatientID != "" {
			patientID = p.PatientID
		}
		row := []string{patientID, sample, strconv.Itoa(result.Clustering.Labels[i])}
		row = append(row, coordinates(result.Embeddings["tsne"], i)...)
		row = append(row, coordinates(result.Embeddings["umap"], i)...)
		for _, f := range models.ClinicalFields {
			row = append(row, meta.Category(sample, f))
		}
		rows = append(rows, row)
	}
	return writeCSV(path, header, rows)
}

func coordinates(e *models.Embedding, i int) []string {
	if e == nil || i >= len(e.Points) {
		return []string{missing, missing}
	}
	return []string{formatFloat(e.Points[i][0]), formatFloat(e.Points[i][1])}
}

// WriteCrosstab counts the patients of every cluster per category of each
// biomarker and of the reference subtype
func (fw *FileWriter) WriteCrosstab(result *clustering.Result, meta *models.PatientMetadata, path string) error {
	if result.Clustering == nil {
		return fmt.Errorf("scenario %s has no clustering", result.Scenario.Name)
	}

	fields := append(append([]models.Field(nil), models.Biomarkers...), models.FieldPAM50)
	var rows [][]string
	for _, f := range fields {
		categories := make([]string, len(result.Clustering.Patients))
		for i, sample := range result.Clustering.Patients {
			categories[i] = meta.Category(sample, f)
		}
		ct, err := validation.NewContingency(result.Clustering.Labels, categories)
		if err != nil {
			return err
		}
		for r, cluster := range ct.Clusters {
			for c, category := range ct.Categories {
				if ct.Counts[r][c] == 0 {
					continue
				}
				rows = append(rows, []string{
					strconv.Itoa(cluster),
					string(f),
					category,
					strconv.Itoa(ct.Counts[r][c]),
				})
			}
		}
	}
	return writeCSV(path, []string{"cluster", "field", "category", "count"}, rows)
}

// WriteSummary writes one line per scenario, failed ones included
func (fw *FileWriter) WriteSummary(results []*clustering.Result, path string) error {
	header := []string{
		"scenario", "status", "patients", "excluded", "genes", "communities",
		"modularity", "nmi", "ari", "runtime_seconds", "error",
	}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status := "failed"
		communities, modularity := missing, missing
		if res.Success {
			status = "ok"
			communities = strconv.Itoa(res.Clustering.NumCommunities())
			modularity = formatFloat(res.Clustering.Modularity)
		}
		nmi, ari := missing, missing
		if res.Agreement != nil {
			nmi = formatFloat(res.Agreement.NMI)
			ari = formatFloat(res.Agreement.ARI)
		}
		rows = append(rows, []string{
			res.Scenario.Name,
			status,
			strconv.Itoa(res.NumPatients()),
			strconv.Itoa(res.Excluded),
			strconv.Itoa(res.NumGenes),
			communities,
			modularity,
			nmi,
			ari,
			strconv.FormatFloat(res.Runtime.Seconds(), 'f', 3, 64),
			res.Error,
		})
	}
	return writeCSV(path, header, rows)
}

// WriteReplicates writes the consistency check of every replicate pair
func (fw *FileWriter) WriteReplicates(report *replicate.Report, path string) error {
	header := []string{"original", "replicate", "correlation", "p_value", "informative", "significant"}
	rows := make([][]string, 0, len(report.Pairs))
	for _, p := range report.Pairs {
		rows = append(rows, []string{
			p.Pair.Original,
			p.Pair.Replicate,
			formatFloat(p.Correlation),
			formatFloat(p.PValue),
			strconv.FormatBool(p.Informative),
			strconv.FormatBool(p.Significant),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteSweep writes the number of communities and modularity per resolution
func (fw *FileWriter) WriteSweep(scenario string, points []louvain.SweepPoint, path string) error {
	header := []string{"scenario", "resolution", "communities", "modularity"}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			scenario,
			formatFloat(p.Resolution),
			strconv.Itoa(p.NumCommunities),
			formatFloat(p.Modularity),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteRunConfig records the resolved parameters of a run as YAML
func (fw *FileWriter) WriteRunConfig(settings map[string]any, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode run configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

var _ OutputWriter = (*FileWriter)(nil)
