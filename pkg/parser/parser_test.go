package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const sampleExpression = `gene,F1,F1repl,F2
BRCA1,1.5,1.25,3
ESR1,2,2.5,-0.5
ERBB2,0,0.1,7
`

func TestReadExpression(t *testing.T) {
	m, err := ReadExpression(strings.NewReader(sampleExpression))
	require.NoError(t, err)

	genes, patients := m.Dims()
	assert.Equal(t, 3, genes)
	assert.Equal(t, 3, patients)
	assert.Equal(t, []string{"F1", "F1repl", "F2"}, m.Patients)
	assert.Equal(t, []string{"BRCA1", "ESR1", "ERBB2"}, m.Genes)
	assert.Equal(t, -0.5, m.Values[1][2])
}

func TestReadExpressionErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no patients", "gene\nBRCA1\n"},
		{"ragged row", "gene,F1,F2\nBRCA1,1\n"},
		{"bad number", "gene,F1\nBRCA1,abc\n"},
		{"duplicate gene", "gene,F1\nBRCA1,1\nBRCA1,2\n"},
		{"duplicate patient", "gene,F1,F1\nBRCA1,1,2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadExpression(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadExpressionGzip(t *testing.T) {
	dir := t.TempDir()
	// the name does not end in .gz, detection must rely on the magic bytes
	path := filepath.Join(dir, "expression.csv")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(sampleExpression))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	m, err := LoadExpression(path)
	require.NoError(t, err)
	assert.Equal(t, 3, len(m.Genes))
	assert.Equal(t, 1.25, m.Values[0][1])
}

func TestReadMetadata(t *testing.T) {
	input := `patient_id,sample_name,ER_status,her2_status,nhg,pam50_subtype,extra
P1,F1,1,0,3,LumA,x
P2,F2,NA,1,,Her2,y
P3,F3,0,NaN,2,Basal,z
`
	md, err := ReadMetadata(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, md.Len())
	assert.Equal(t, []string{"F1", "F2", "F3"}, md.Samples())

	p, ok := md.Lookup("F2")
	require.True(t, ok)
	assert.Equal(t, "P2", p.PatientID)
	_, hasER := p.Value(models.FieldER)
	assert.False(t, hasER, "NA must be treated as missing, not zero")

	assert.Equal(t, "1", md.Category("F1", models.FieldER))
	assert.Equal(t, models.UnknownCategory, md.Category("F2", models.FieldER))
	assert.Equal(t, models.UnknownCategory, md.Category("F3", models.FieldHER2))

	kept, dropped := md.Annotated(md.Samples(), models.FieldER, models.FieldNHG)
	assert.Equal(t, []string{"F1", "F3"}, kept)
	assert.Equal(t, 1, dropped)
}

func TestReadMetadataRequiresSampleColumn(t *testing.T) {
	_, err := ReadMetadata(strings.NewReader("patient_id,er_status\nP1,1\n"))
	assert.Error(t, err)
}

func TestWriteExpressionDoesNotOverwrite(t *testing.T) {
	m, err := ReadExpression(strings.NewReader(sampleExpression))
	require.NoError(t, err)

	for _, name := range []string{"averaged.csv", "averaged.csv.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", name)

			written, err := WriteExpression(path, m)
			require.NoError(t, err)
			assert.True(t, written)

			back, err := LoadExpression(path)
			require.NoError(t, err)
			assert.Equal(t, m.Genes, back.Genes)
			assert.Equal(t, m.Patients, back.Patients)
			assert.Equal(t, m.Values, back.Values)

			info, err := os.Stat(path)
			require.NoError(t, err)

			other := m.SelectGenes([]int{0})
			written, err = WriteExpression(path, other)
			require.NoError(t, err)
			assert.False(t, written)

			again, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), again.Size())
		})
	}
}
