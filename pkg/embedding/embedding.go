// Package embedding projects patients to two dimensions for visualization.
// Embeddings are never fed back into clustering.
package embedding

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// Projector embeds the patients of a gene-selected matrix in 2D
type Projector interface {
	Name() string
	Embed(ctx context.Context, m *models.ExpressionMatrix) (*models.Embedding, error)
}

const outputDims = 2

func toEmbedding(method string, patients []string, y *mat.Dense) *models.Embedding {
	n, _ := y.Dims()
	points := make([][2]float64, n)
	for i := 0; i < n; i++ {
		points[i] = [2]float64{y.At(i, 0), y.At(i, 1)}
	}
	return &models.Embedding{
		Method:   method,
		Patients: append([]string(nil), patients...),
		Points:   points,
	}
}

// rescaleColumns multiplies every column so that the first has the given
// standard deviation
func rescaleColumns(y *mat.Dense, std float64) {
	sd := stat.StdDev(mat.Col(nil, 0, y), nil)
	if sd == 0 || math.IsNaN(sd) {
		return
	}
	y.Scale(std/sd, y)
}

// centerColumns subtracts the column means in place
func centerColumns(y *mat.Dense) {
	n, d := y.Dims()
	for j := 0; j < d; j++ {
		mean := stat.Mean(mat.Col(nil, j, y), nil)
		for i := 0; i < n; i++ {
			y.Set(i, j, y.At(i, j)-mean)
		}
	}
}
