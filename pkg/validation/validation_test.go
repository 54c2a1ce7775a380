package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

func TestNormalizedMutualInfo(t *testing.T) {
	tests := []struct {
		name string
		a, b []int
		want float64
	}{
		{"Identical", []int{0, 0, 1, 1, 2, 2}, []int{0, 0, 1, 1, 2, 2}, 1},
		{"Relabeled", []int{0, 0, 1, 1, 2, 2}, []int{5, 5, 3, 3, 9, 9}, 1},
		{"Independent", []int{0, 0, 1, 1}, []int{0, 1, 0, 1}, 0},
		{"BothSingleCluster", []int{1, 1, 1}, []int{4, 4, 4}, 1},
		{"Empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizedMutualInfo(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	_, err := NormalizedMutualInfo([]int{0}, []int{0, 1})
	assert.Error(t, err)
}

func TestNormalizedMutualInfoPartial(t *testing.T) {
	a := []int{0, 0, 0, 1, 1, 1}
	b := []int{0, 0, 1, 1, 2, 2}

	ab, err := NormalizedMutualInfo(a, b)
	require.NoError(t, err)
	ba, err := NormalizedMutualInfo(b, a)
	require.NoError(t, err)

	assert.InDelta(t, ab, ba, 1e-12, "symmetric")
	assert.Greater(t, ab, 0.0)
	assert.Less(t, ab, 1.0)
}

func TestNormalizedMutualInfoRepeatable(t *testing.T) {
	// many labels with uneven sizes make the entropy sums order sensitive
	a := make([]int, 500)
	b := make([]int, 500)
	for i := range a {
		a[i] = (i * 7) % 37
		b[i] = (i*i + 3) % 29
	}

	first, err := NormalizedMutualInfo(a, b)
	require.NoError(t, err)
	for run := 0; run < 20; run++ {
		got, err := NormalizedMutualInfo(a, b)
		require.NoError(t, err)
		require.Equal(t, first, got, "run %d", run)
	}
}

func TestAdjustedRandIndex(t *testing.T) {
	tests := []struct {
		name string
		a, b []int
		want float64
	}{
		{"Identical", []int{0, 0, 1, 1}, []int{0, 0, 1, 1}, 1},
		{"Relabeled", []int{0, 0, 1, 1}, []int{1, 1, 0, 0}, 1},
		{"Opposed", []int{0, 0, 1, 1}, []int{0, 1, 0, 1}, -0.5},
		{"BothSingleCluster", []int{2, 2, 2}, []int{7, 7, 7}, 1},
		// sklearn: adjusted_rand_score([0,0,1,2],[0,0,1,1]) = 0.5714...
		{"Merged", []int{0, 0, 1, 2}, []int{0, 0, 1, 1}, 4.0 / 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdjustedRandIndex(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestContingency(t *testing.T) {
	ct, err := NewContingency(
		[]int{1, 0, 1, 0, 2},
		[]string{"pos", "neg", "pos", models.UnknownCategory, "neg"},
	)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, ct.Clusters)
	assert.Equal(t, []string{"neg", "pos", "unknown"}, ct.Categories)
	assert.Equal(t, [][]int{
		{1, 0, 1},
		{0, 2, 0},
		{1, 0, 0},
	}, ct.Counts)

	_, err = NewContingency([]int{0}, nil)
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	codes, levels := Encode([]string{"LumA", "Basal", "LumA", "Her2"})
	assert.Equal(t, []string{"Basal", "Her2", "LumA"}, levels)
	assert.Equal(t, []int{2, 0, 2, 1}, codes)
}

func TestCheckPartition(t *testing.T) {
	good := &models.Clustering{Patients: []string{"a", "b", "c"}, Labels: []int{0, 1, 0}}
	assert.NoError(t, CheckPartition(good))

	short := &models.Clustering{Patients: []string{"a", "b"}, Labels: []int{0}}
	assert.Error(t, CheckPartition(short))

	bad := &models.Clustering{Patients: []string{"a", "a", ""}, Labels: []int{0, -1, 0}}
	err := CheckPartition(bad)
	var verrs models.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 3)
}

func TestCheckCohort(t *testing.T) {
	meta, err := models.NewPatientMetadata([]models.Patient{
		{PatientID: "1", SampleName: "S1"},
		{PatientID: "2", SampleName: "S2"},
	})
	require.NoError(t, err)

	m, err := models.NewExpressionMatrix([]string{"G1"}, []string{"S1", "S2", "S3"}, [][]float64{{1, 2, 3}})
	require.NoError(t, err)

	missing, err := CheckCohort(m, meta)
	require.NoError(t, err)
	assert.Equal(t, []string{"S3"}, missing)

	none, err := models.NewExpressionMatrix([]string{"G1"}, []string{"X1"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = CheckCohort(none, meta)
	assert.Error(t, err)
}

func TestValidateOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	require.NoError(t, ValidateOutputDirectory(dir))
	require.NoError(t, ValidateOutputDirectory(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file removed")

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, ValidateOutputDirectory(file))
}
