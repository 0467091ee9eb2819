package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LabValue is a single laboratory reading. Numeric readings keep the literal
// text they were supplied with so reports print "168" rather than "168.000000".
type LabValue struct {
	Raw     string
	Number  float64
	Numeric bool
}

// NumberValue builds a numeric LabValue.
func NumberValue(v float64) LabValue {
	return LabValue{Raw: strconv.FormatFloat(v, 'f', -1, 64), Number: v, Numeric: true}
}

// TextValue builds a LabValue from free text such as "ST段压低".
func TextValue(s string) LabValue {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return LabValue{Raw: s, Number: f, Numeric: true}
	}
	return LabValue{Raw: s}
}

func (v LabValue) String() string {
	return v.Raw
}

// MarshalJSON emits numbers as JSON numbers and everything else as strings.
func (v LabValue) MarshalJSON() ([]byte, error) {
	if v.Numeric && v.Raw != "" {
		if _, err := strconv.ParseFloat(v.Raw, 64); err == nil {
			return []byte(v.Raw), nil
		}
	}
	return json.Marshal(v.Raw)
}

// UnmarshalJSON accepts a JSON number or string.
func (v *LabValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("lab value must be a number or string: %s", string(data))
	}
	*v = LabValue{Raw: string(data), Number: f, Numeric: true}
	return nil
}

// LabEntry is a named reading in a LabPanel.
type LabEntry struct {
	Name  string   `json:"name"`
	Value LabValue `json:"value"`
}

// LabPanel is an ordered set of lab readings keyed by indicator name. Order is
// significant for report rendering, so JSON objects are decoded preserving
// their key order.
type LabPanel []LabEntry

// Get returns the reading for name.
func (p LabPanel) Get(name string) (LabValue, bool) {
	for _, e := range p {
		if e.Name == name {
			return e.Value, true
		}
	}
	return LabValue{}, false
}

// MarshalJSON renders the panel as a JSON object in entry order.
func (p LabPanel) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts either {"收缩压":168,...} or [{"name":"收缩压","value":168}].
func (p *LabPanel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if data[0] == '[' {
		var entries []LabEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*p = entries
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("lab panel must be a JSON object or array")
	}

	var panel LabPanel
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected lab panel key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var value LabValue
		if err := value.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("lab %q: %w", key, err)
		}
		panel = append(panel, LabEntry{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = panel
	return nil
}

// Candidate is one ranked entry of a differential diagnosis.
type Candidate struct {
	Disease       string        `json:"disease"`
	Code          DiagnosisCode `json:"code"`
	Score         int           `json:"score"`
	Probability   string        `json:"probability"`
	Evidence      []string      `json:"evidence"`
	ReasoningPath string        `json:"reasoning_path"`
}

// DrugRecommendation is a single drug line in a treatment plan.
type DrugRecommendation struct {
	Class      string        `json:"class"`
	Drug       string        `json:"drug"`
	Dose       string        `json:"dose"`
	DoseStage  DoseStage     `json:"dose_stage"`
	TargetDose string        `json:"target_dose,omitempty"`
	Rationale  string        `json:"rationale"`
	Level      EvidenceLevel `json:"evidence_level"`
	Caution    string        `json:"caution,omitempty"`
}

// PlanItem is an ordered key/value line of a follow-up or target section.
type PlanItem struct {
	Key    string   `json:"key"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Text renders the item value, joining list values.
func (i PlanItem) Text() string {
	if len(i.Values) > 0 {
		return strings.Join(i.Values, ", ")
	}
	return i.Value
}

// TreatmentPlan is a generated, optionally adjusted, treatment plan.
type TreatmentPlan struct {
	ID                 string               `json:"id"`
	PatientID          string               `json:"patient_id"`
	Diagnosis          string               `json:"diagnosis"`
	Codes              []DiagnosisCode      `json:"codes"`
	RiskLevel          string               `json:"risk_level"`
	CurrentMedications []string             `json:"current_medications,omitempty"`
	Drugs              []DrugRecommendation `json:"drugs"`
	Lifestyle          []string             `json:"lifestyle"`
	FollowUp           []PlanItem           `json:"follow_up"`
	Targets            []PlanItem           `json:"targets"`
	GeneratedAt        time.Time            `json:"generated_at"`
	AdjustmentReasons  []string             `json:"adjustment_reasons,omitempty"`
	AdjustedAt         *time.Time           `json:"adjusted_at,omitempty"`
	Advice             string               `json:"advice,omitempty"`
}

// Clone returns a deep copy so adjustments never alias the original plan.
func (p *TreatmentPlan) Clone() *TreatmentPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Codes = append([]DiagnosisCode(nil), p.Codes...)
	c.CurrentMedications = append([]string(nil), p.CurrentMedications...)
	c.Drugs = append([]DrugRecommendation(nil), p.Drugs...)
	c.Lifestyle = append([]string(nil), p.Lifestyle...)
	c.FollowUp = clonePlanItems(p.FollowUp)
	c.Targets = clonePlanItems(p.Targets)
	c.AdjustmentReasons = append([]string(nil), p.AdjustmentReasons...)
	if p.AdjustedAt != nil {
		t := *p.AdjustedAt
		c.AdjustedAt = &t
	}
	return &c
}

func clonePlanItems(items []PlanItem) []PlanItem {
	if items == nil {
		return nil
	}
	out := make([]PlanItem, len(items))
	for i, item := range items {
		out[i] = PlanItem{Key: item.Key, Value: item.Value, Values: append([]string(nil), item.Values...)}
	}
	return out
}

// EvidenceSource is one cited source behind a recommendation.
type EvidenceSource struct {
	Kind      SourceKind `json:"kind"`
	Name      string     `json:"name"`
	Location  string     `json:"location"`
	Content   string     `json:"content"`
	UpdatedAt string     `json:"updated_at,omitempty"`
}

// Recommendation is an evidence-graded recommendation with its trace.
type Recommendation struct {
	Content          string             `json:"content"`
	Level            EvidenceLevel      `json:"evidence_level"`
	LevelLabel       string             `json:"evidence_label"`
	LevelDescription string             `json:"evidence_description"`
	Guideline        string             `json:"guideline"`
	TraceReport      string             `json:"trace_report"`
	SourceSummary    map[SourceKind]int `json:"source_summary"`
	Sources          []EvidenceSource   `json:"sources"`
}
