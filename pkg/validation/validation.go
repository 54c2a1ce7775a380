package validation

import (
	"fmt"
	"os"
	"strings"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// CheckCohort matches the patients of an expression matrix against the
// metadata table. Patients without a metadata row are returned as missing;
// it is an error only when no patient matches at all.
func CheckCohort(m *models.ExpressionMatrix, meta *models.PatientMetadata) (missing []string, err error) {
	var errors models.ValidationErrors

	if m == nil || len(m.Patients) == 0 {
		errors = append(errors, models.ValidationError{
			Field:   "expression",
			Message: "expression matrix has no patients",
		})
	}
	if meta == nil || meta.Len() == 0 {
		errors = append(errors, models.ValidationError{
			Field:   "metadata",
			Message: "metadata table has no patients",
		})
	}
	if len(errors) > 0 {
		return nil, errors
	}

	for _, sample := range m.Patients {
		if _, ok := meta.Lookup(sample); !ok {
			missing = append(missing, sample)
		}
	}

	if len(missing) == len(m.Patients) {
		return missing, models.ValidationError{
			Field:   "sample_name",
			Message: "no expression column matches a metadata sample name",
			Value:   m.Patients[0],
		}
	}
	return missing, nil
}

// CheckPartition verifies that every patient carries exactly one non-negative
// community label
func CheckPartition(c *models.Clustering) error {
	var errors models.ValidationErrors

	if len(c.Patients) != len(c.Labels) {
		return models.ValidationError{
			Field:   "labels",
			Message: fmt.Sprintf("%d labels for %d patients", len(c.Labels), len(c.Patients)),
		}
	}

	seen := make(map[string]bool, len(c.Patients))
	for i, p := range c.Patients {
		if strings.TrimSpace(p) == "" {
			errors = append(errors, models.ValidationError{
				Field:   fmt.Sprintf("patients[%d]", i),
				Message: "patient ID cannot be empty",
			})
		} else if seen[p] {
			errors = append(errors, models.ValidationError{
				Field:   fmt.Sprintf("patients[%d]", i),
				Message: "patient assigned more than once",
				Value:   p,
			})
		}
		seen[p] = true

		if c.Labels[i] < 0 {
			errors = append(errors, models.ValidationError{
				Field:   fmt.Sprintf("labels[%d]", i),
				Message: "label cannot be negative",
				Value:   fmt.Sprintf("%d", c.Labels[i]),
			})
		}
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// ValidateOutputDirectory checks if output directory exists or can be created
func ValidateOutputDirectory(outputDir string) error {
	info, err := os.Stat(outputDir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
	}

	probe, err := os.CreateTemp(outputDir, ".write_test")
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}
