package clustering

import (
	"fmt"
	"strings"

	"github.com/marconotaro/cancer-subtypes/pkg/models"
)

// Scenario names
const (
	ScenarioAll       = "all"
	ScenarioComplete  = "complete"
	biomarkerPrefix   = "biomarker:"
	biomarkerFileStem = "biomarker_"
)

// Scenario selects the patients entering one clustering run. Patients lacking
// any Required field are excluded; an empty Required keeps everyone.
type Scenario struct {
	Name     string         `json:"name"`
	Required []models.Field `json:"required,omitempty"`
}

// FileStem is the scenario name made safe for file names
func (s Scenario) FileStem() string {
	return strings.Replace(s.Name, biomarkerPrefix, biomarkerFileStem, 1)
}

// ParseScenario resolves "all", "complete" or "biomarker:<field>"
func ParseScenario(name string) (Scenario, error) {
	switch {
	case name == ScenarioAll:
		return Scenario{Name: ScenarioAll}, nil
	case name == ScenarioComplete:
		return Scenario{Name: ScenarioComplete, Required: append([]models.Field(nil), models.Biomarkers...)}, nil
	case strings.HasPrefix(name, biomarkerPrefix):
		f, err := models.ParseField(strings.TrimPrefix(name, biomarkerPrefix))
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %q: %w", name, err)
		}
		if !isBiomarker(f) {
			return Scenario{}, fmt.Errorf("scenario %q: %s is not a biomarker", name, f)
		}
		return Scenario{Name: biomarkerPrefix + string(f), Required: []models.Field{f}}, nil
	default:
		return Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
}

// ParseScenarios resolves a list of names, rejecting duplicates
func ParseScenarios(names []string) ([]Scenario, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		s, err := ParseScenario(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate scenario %q", s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}

// DefaultScenarios returns all, complete and one run per biomarker
func DefaultScenarios() []Scenario {
	out := []Scenario{
		{Name: ScenarioAll},
		{Name: ScenarioComplete, Required: append([]models.Field(nil), models.Biomarkers...)},
	}
	for _, f := range models.Biomarkers {
		out = append(out, Scenario{Name: biomarkerPrefix + string(f), Required: []models.Field{f}})
	}
	return out
}

// DefaultScenarioNames lists the names of DefaultScenarios
func DefaultScenarioNames() []string {
	scenarios := DefaultScenarios()
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	return names
}

// Subset returns the patients of the scenario in matrix order and how many
// were excluded for missing annotations
func (s Scenario) Subset(patients []string, meta *models.PatientMetadata) (kept []string, excluded int) {
	if len(s.Required) == 0 {
		return append([]string(nil), patients...), 0
	}
	return meta.Annotated(patients, s.Required...)
}

func isBiomarker(f models.Field) bool {
	for _, b := range models.Biomarkers {
		if b == f {
			return true
		}
	}
	return false
}
