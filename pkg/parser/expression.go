package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// LoadExpression reads a genes x patients table. The first column holds gene
// identifiers, the header holds patient sample identifiers. Plain and
// gzip-compressed files are both accepted.
func LoadExpression(path string) (*models.ExpressionMatrix, error) {
	rc, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	m, err := ReadExpression(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

// ReadExpression parses an expression table from r
func ReadExpression(r io.Reader) (*models.ExpressionMatrix, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty expression table")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header has %d columns, need a gene column and at least one patient", len(header))
	}

	patients := make([]string, len(header)-1)
	for j, h := range header[1:] {
		patients[j] = strings.TrimSpace(h)
	}

	var genes []string
	var values [][]float64

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := make([]float64, len(patients))
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: invalid value %q", line, patients[j], field)
			}
			row[j] = v
		}
		genes = append(genes, strings.TrimSpace(record[0]))
		values = append(values, row)
	}

	return models.NewExpressionMatrix(genes, patients, values)
}
