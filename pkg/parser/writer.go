package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// WriteExpression writes m to path unless the file already exists.
// The returned flag reports whether anything was written.
func WriteExpression(path string, m *models.ExpressionMatrix) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	wc, err := createTable(path)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := csv.NewWriter(wc)
	record := make([]string, len(m.Patients)+1)
	record[0] = "gene"
	copy(record[1:], m.Patients)
	if err := writer.Write(record); err != nil {
		wc.Close()
		return false, fmt.Errorf("failed to write header: %w", err)
	}

	for i, gene := range m.Genes {
		record[0] = gene
		for j, v := range m.Values[i] {
			record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			wc.Close()
			return false, fmt.Errorf("failed to write gene %s: %w", gene, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		wc.Close()
		return false, fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return false, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return true, nil
}
