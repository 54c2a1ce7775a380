package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marconotaro/cancer-subtypes/pkg/parser"
	"github.com/marconotaro/cancer-subtypes/pkg/report"
)

const (
	groupSize = 20
	numGroups = 3
	numGenes  = 100
)

type cohort struct {
	dir        string
	expression string
	metadata   string
	config     string
}

// writeCohort creates three separated expression groups with replicates of
// the first two samples, a metadata table with ER missing for five patients
// and a configuration small enough for quick embeddings
func writeCohort(t *testing.T) cohort {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	n := groupSize * numGroups

	columns := make([]string, 0, n+2)
	for j := 0; j < n; j++ {
		columns = append(columns, fmt.Sprintf("S%02d", j))
	}
	columns = append(columns, "S00repl", "S01repl")

	var expr strings.Builder
	expr.WriteString("gene," + strings.Join(columns, ",") + "\n")
	for i := 0; i < numGenes; i++ {
		row := make([]string, len(columns))
		values := make([]float64, n)
		for j := range values {
			values[j] = rng.NormFloat64()
			if j/groupSize == (i/10)%numGroups {
				values[j] += 8
			}
			row[j] = strconv.FormatFloat(values[j], 'g', -1, 64)
		}
		row[n] = strconv.FormatFloat(values[0]+0.05*rng.NormFloat64(), 'g', -1, 64)
		row[n+1] = strconv.FormatFloat(values[1]+0.05*rng.NormFloat64(), 'g', -1, 64)
		fmt.Fprintf(&expr, "G%d,%s\n", i, strings.Join(row, ","))
	}

	var meta strings.Builder
	meta.WriteString("patient_id,sample_name,er_status,pam50_subtype\n")
	subtypes := []string{"LumA", "Basal", "Her2"}
	for j := 0; j < n; j++ {
		er := "positive"
		if j >= 20 && j < 25 {
			er = "NA"
		}
		fmt.Fprintf(&meta, "P%d,S%02d,%s,%s\n", j, j, er, subtypes[j/groupSize])
	}

	c := cohort{
		dir:        dir,
		expression: filepath.Join(dir, "raw.csv"),
		metadata:   filepath.Join(dir, "metadata.csv"),
		config:     filepath.Join(dir, "run.yaml"),
	}
	require.NoError(t, os.WriteFile(c.expression, []byte(expr.String()), 0644))
	require.NoError(t, os.WriteFile(c.metadata, []byte(meta.String()), 0644))
	require.NoError(t, os.WriteFile(c.config, []byte(`
pca:
  n_comp: 10
tsne:
  max_iter: 250
performance:
  workers: 2
logging:
  level: error
`), 0644))
	return c
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestAverageCmd(t *testing.T) {
	c := writeCohort(t)
	averaged := filepath.Join(c.dir, "averaged.csv.gz")
	outDir := filepath.Join(c.dir, "results")

	out, err := execute(t, "average",
		"--config", c.config,
		"--expression", c.expression,
		"--out", averaged,
		"--output-dir", outDir,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "2 replicate pairs")
	assert.Contains(t, out, fmt.Sprintf("%d genes x %d patients", numGenes, groupSize*numGroups))

	m, err := parser.LoadExpression(averaged)
	require.NoError(t, err)
	assert.Len(t, m.Patients, groupSize*numGroups)
	assert.NotContains(t, m.Patients, "S00repl")

	rows := readCSV(t, filepath.Join(outDir, report.ReplicatesFile))
	require.Len(t, rows, 3)
	assert.Equal(t, "S00", rows[1][0])
	assert.Equal(t, "true", rows[1][4], "near identical replicate is informative")

	// a second run leaves the averaged table untouched
	before, err := os.Stat(averaged)
	require.NoError(t, err)
	_, err = execute(t, "average", "--config", c.config, "--expression", c.expression, "--out", averaged, "--output-dir", outDir)
	require.NoError(t, err)
	after, err := os.Stat(averaged)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestAverageCmdRequiresOutput(t *testing.T) {
	c := writeCohort(t)
	_, err := execute(t, "average", "--config", c.config, "--expression", c.expression)
	assert.Error(t, err)
}

func TestClusterCmd(t *testing.T) {
	c := writeCohort(t)
	outDir := filepath.Join(c.dir, "results")
	metricsFile := filepath.Join(c.dir, "metrics", "subtype.prom")

	out, err := execute(t, "cluster",
		"--config", c.config,
		"--expression", c.expression,
		"--averaged", filepath.Join(c.dir, "averaged.csv"),
		"--metadata", c.metadata,
		"--output-dir", outDir,
		"--metrics", metricsFile,
		"--scenario", "all,biomarker:er_status",
		"--n-top", "80",
		"--npc", "10",
		"--k", "8",
		"--perplexity", "5",
		"--n-neighbors", "8",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "all")
	assert.Contains(t, out, "biomarker:er_status")

	summary := readCSV(t, filepath.Join(outDir, report.SummaryFile))
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"all", "ok", "60", "0", "80"}, summary[1][:5])
	assert.Equal(t, []string{"biomarker:er_status", "ok", "55", "5", "80"}, summary[2][:5])

	clusters := readCSV(t, filepath.Join(outDir, "biomarker_er_status_clusters.csv"))
	assert.Len(t, clusters, 56)
	assert.FileExists(t, filepath.Join(outDir, "all_crosstab.csv"))
	assert.FileExists(t, filepath.Join(outDir, report.RunConfigFile))
	assert.FileExists(t, filepath.Join(outDir, report.ReplicatesFile))

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "subtype_scenario_runs_total")
}

func TestClusterCmdRejectsUnknownScenario(t *testing.T) {
	c := writeCohort(t)
	_, err := execute(t, "cluster",
		"--config", c.config,
		"--expression", c.expression,
		"--metadata", c.metadata,
		"--output-dir", filepath.Join(c.dir, "results"),
		"--scenario", "biomarker:height",
	)
	assert.Error(t, err)
}

func TestSweepCmd(t *testing.T) {
	c := writeCohort(t)
	outDir := filepath.Join(c.dir, "results")

	out, err := execute(t, "sweep",
		"--config", c.config,
		"--expression", c.expression,
		"--metadata", c.metadata,
		"--output-dir", outDir,
		"--resolutions", "1,0.5",
		"--n-top", "80",
		"--npc", "10",
		"--k", "8",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "resolution")

	rows := readCSV(t, filepath.Join(outDir, report.SweepFile))
	require.Len(t, rows, 3)
	assert.Equal(t, "0.5", rows[1][1], "resolutions are sorted")
	assert.Equal(t, "1", rows[2][1])
}
