package models

// Field names a clinical annotation column
type Field string

const (
	FieldER               Field = "er_status"
	FieldPgR              Field = "pgr_status"
	FieldHER2             Field = "her2_status"
	FieldKi67             Field = "ki67_status"
	FieldNHG              Field = "nhg"
	FieldTumorSize        Field = "tumor_size"
	FieldLymphNodeGroup   Field = "lymph_node_group"
	FieldLymphNodeStatus  Field = "lymph_node_status"
	FieldEndocrineTreated Field = "endocrine_treated"
	FieldChemoTreated     Field = "chemo_treated"
	FieldOSDays           Field = "overall_survival_days"
	FieldOSEvent          Field = "overall_survival_event"
	FieldPAM50            Field = "pam50_subtype"
)

// UnknownCategory labels patients without a value for a field
const UnknownCategory = "unknown"

// ClinicalFields is the fixed set of metadata columns
var ClinicalFields = []Field{
	FieldER, FieldPgR, FieldHER2, FieldKi67, FieldNHG,
	FieldTumorSize, FieldLymphNodeGroup, FieldLymphNodeStatus,
	FieldEndocrineTreated, FieldChemoTreated,
	FieldOSDays, FieldOSEvent, FieldPAM50,
}

// Biomarkers are the status fields used for post-hoc annotation of clusters
var Biomarkers = []Field{FieldER, FieldPgR, FieldHER2, FieldKi67, FieldNHG}

// ParseField resolves a field name, rejecting anything outside ClinicalFields
func ParseField(name string) (Field, error) {
	for _, f := range ClinicalFields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", ValidationError{Field: "field", Message: "unknown clinical field", Value: name}
}

// Patient is one cohort individual's clinical record.
// An absent key in Fields means the annotation is missing.
type Patient struct {
	PatientID  string           `json:"patient_id"`
	SampleName string           `json:"sample_name"`
	Fields     map[Field]string `json:"fields"`
}

// Value returns the annotation for f and whether it is present
func (p Patient) Value(f Field) (string, bool) {
	v, ok := p.Fields[f]
	return v, ok
}

// PatientMetadata indexes clinical records by sample name
type PatientMetadata struct {
	bySample map[string]Patient
	samples  []string
}

// NewPatientMetadata indexes patients, rejecting duplicate sample names
func NewPatientMetadata(patients []Patient) (*PatientMetadata, error) {
	md := &PatientMetadata{
		bySample: make(map[string]Patient, len(patients)),
		samples:  make([]string, 0, len(patients)),
	}
	for _, p := range patients {
		if p.SampleName == "" {
			return nil, ValidationError{Field: "sample_name", Message: "empty sample name", Value: p.PatientID}
		}
		if _, dup := md.bySample[p.SampleName]; dup {
			return nil, ValidationError{Field: "sample_name", Message: "duplicate sample name", Value: p.SampleName}
		}
		md.bySample[p.SampleName] = p
		md.samples = append(md.samples, p.SampleName)
	}
	return md, nil
}

// Len returns the number of patients
func (m *PatientMetadata) Len() int { return len(m.samples) }

// Samples returns sample names in load order
func (m *PatientMetadata) Samples() []string {
	return append([]string(nil), m.samples...)
}

// Lookup returns the record for a sample
func (m *PatientMetadata) Lookup(sample string) (Patient, bool) {
	p, ok := m.bySample[sample]
	return p, ok
}

// Category returns the annotation for a sample, or UnknownCategory when missing
func (m *PatientMetadata) Category(sample string, f Field) string {
	p, ok := m.bySample[sample]
	if !ok {
		return UnknownCategory
	}
	if v, ok := p.Value(f); ok {
		return v
	}
	return UnknownCategory
}

// Annotated keeps the samples that have every given field, preserving order.
// It also reports how many samples were dropped.
func (m *PatientMetadata) Annotated(samples []string, fields ...Field) (kept []string, dropped int) {
	kept = make([]string, 0, len(samples))
	for _, s := range samples {
		p, ok := m.bySample[s]
		if !ok {
			dropped++
			continue
		}
		complete := true
		for _, f := range fields {
			if _, ok := p.Value(f); !ok {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, s)
		} else {
			dropped++
		}
	}
	return kept, dropped
}

// String implements fmt.Stringer
func (f Field) String() string { return string(f) }
