package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

const (
	columnPatientID  = "patient_id"
	columnSampleName = "sample_name"
)

// missing-value tokens written by the usual R/pandas exporters
var missingTokens = map[string]struct{}{
	"":    {},
	"NA":  {},
	"NaN": {},
	"nan": {},
}

// LoadMetadata reads the clinical table. Columns other than patient_id,
// sample_name and the known clinical fields are ignored.
func LoadMetadata(path string) (*models.PatientMetadata, error) {
	rc, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	md, err := ReadMetadata(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return md, nil
}

// ReadMetadata parses a clinical table from r
func ReadMetadata(r io.Reader) (*models.PatientMetadata, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty metadata table")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idCol, sampleCol := -1, -1
	fieldCols := make(map[int]models.Field)
	for j, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case columnPatientID:
			idCol = j
		case columnSampleName:
			sampleCol = j
		default:
			if f, err := models.ParseField(name); err == nil {
				fieldCols[j] = f
			}
		}
	}
	if sampleCol < 0 {
		return nil, models.ValidationError{Field: "header", Message: "missing column", Value: columnSampleName}
	}

	var patients []models.Patient
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

		p := models.Patient{
			SampleName: strings.TrimSpace(record[sampleCol]),
			Fields:     make(map[models.Field]string, len(fieldCols)),
		}
		if idCol >= 0 {
			p.PatientID = strings.TrimSpace(record[idCol])
		}
		for j, f := range fieldCols {
			v := strings.TrimSpace(record[j])
			if _, missing := missingTokens[v]; missing {
				continue
			}
			p.Fields[f] = v
		}
		patients = append(patients, p)
	}

	return models.NewPatientMetadata(patients)
}
