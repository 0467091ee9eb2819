// Package knowledge loads the static clinical tables (term synonyms, diagnosis
// rules, drug profiles and guideline evidence grades) that drive the rule-based
// services. The tables ship as YAML files embedded in the binary and are never
// mutated after loading.
package knowledge

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/medical-decision-assistant/internal/domain"
)

//go:embed data/*.yaml
var dataFS embed.FS

// TermMapping maps a colloquial or abbreviated term to its canonical form.
type TermMapping struct {
	Term      string `yaml:"term" json:"term"`
	Canonical string `yaml:"canonical" json:"canonical"`
}

// Criterion is a named diagnostic criterion of a disease subtype.
type Criterion struct {
	Subtype     string `yaml:"subtype" json:"subtype"`
	Description string `yaml:"description" json:"description"`
}

// DiseaseRule is one entry of the differential diagnosis rule table.
type DiseaseRule struct {
	Code          domain.DiagnosisCode `yaml:"code" json:"code"`
	Name          string               `yaml:"name" json:"name"`
	KeyIndicators []string             `yaml:"key_indicators" json:"key_indicators"`
	Criteria      []Criterion          `yaml:"criteria" json:"criteria"`
	Symptoms      []string             `yaml:"symptoms" json:"symptoms"`
}

// DrugProfile describes a drug class.
type DrugProfile struct {
	Class            string               `yaml:"class" json:"class"`
	Drugs            []string             `yaml:"drugs" json:"drugs"`
	StartingDose     string               `yaml:"starting_dose" json:"starting_dose,omitempty"`
	TargetDose       string               `yaml:"target_dose" json:"target_dose,omitempty"`
	Indication       string               `yaml:"indication" json:"indication,omitempty"`
	Contraindication string               `yaml:"contraindication" json:"contraindication,omitempty"`
	Caution          string               `yaml:"caution" json:"caution,omitempty"`
	Level            domain.EvidenceLevel `yaml:"level" json:"level"`
}

// PrimaryDrug returns the first representative drug of the class.
func (p DrugProfile) PrimaryDrug() string {
	if len(p.Drugs) == 0 {
		return p.Class
	}
	return p.Drugs[0]
}

// DrugLine groups drug classes by line of therapy.
type DrugLine struct {
	Line    string        `yaml:"line" json:"line"`
	Classes []DrugProfile `yaml:"classes" json:"classes"`
}

// DiseaseDrugs holds the drug lines for one disease.
type DiseaseDrugs struct {
	Disease domain.DiagnosisCode `yaml:"disease" json:"disease"`
	Lines   []DrugLine           `yaml:"lines" json:"lines"`
}

// DrugTable is the full drug knowledge base.
type DrugTable struct {
	Diseases []DiseaseDrugs `yaml:"drugs" json:"drugs"`
}

// Profile looks up a drug class for a disease across all lines.
func (t DrugTable) Profile(code domain.DiagnosisCode, class string) (DrugProfile, bool) {
	for _, d := range t.Diseases {
		if d.Disease != code {
			continue
		}
		for _, line := range d.Lines {
			for _, p := range line.Classes {
				if p.Class == class {
					return p, true
				}
			}
		}
	}
	return DrugProfile{}, false
}

// GuidelinePhrase grades a recommendation phrase.
type GuidelinePhrase struct {
	Phrase string               `yaml:"phrase" json:"phrase"`
	Level  domain.EvidenceLevel `yaml:"level" json:"level"`
}

// Guideline is a named clinical guideline with its graded phrases.
type Guideline struct {
	Name       string            `yaml:"name" json:"name"`
	UpdateDate string            `yaml:"update_date" json:"update_date"`
	Phrases    []GuidelinePhrase `yaml:"phrases" json:"phrases"`
}

// GuidelineTable is the ordered guideline list plus the default guideline name.
type GuidelineTable struct {
	Default    string      `yaml:"default" json:"default"`
	Guidelines []Guideline `yaml:"guidelines" json:"guidelines"`
}

// Find returns the guideline with the given name.
func (t GuidelineTable) Find(name string) (Guideline, bool) {
	for _, g := range t.Guidelines {
		if g.Name == name {
			return g, true
		}
	}
	return Guideline{}, false
}

// Terms loads the embedded term mapping table.
func Terms() ([]TermMapping, error) {
	data, err := dataFS.ReadFile("data/terms.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read term table: %w", err)
	}
	return ParseTerms(data)
}

// ParseTerms decodes and validates a term mapping table.
func ParseTerms(data []byte) ([]TermMapping, error) {
	var doc struct {
		Terms []TermMapping `yaml:"terms"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse term table: %w", err)
	}
	if len(doc.Terms) == 0 {
		return nil, fmt.Errorf("term table is empty")
	}
	seen := make(map[string]bool, len(doc.Terms))
	for i, t := range doc.Terms {
		if t.Term == "" || t.Canonical == "" {
			return nil, fmt.Errorf("term table entry %d: term and canonical are required", i)
		}
		if seen[t.Term] {
			return nil, fmt.Errorf("term table entry %d: duplicate term %q", i, t.Term)
		}
		seen[t.Term] = true
	}

	direct := make(map[string]string, len(doc.Terms))
	for _, t := range doc.Terms {
		direct[t.Term] = t.Canonical
	}
	for i, t := range doc.Terms {
		if t.Term == t.Canonical {
			continue
		}
		visited := map[string]bool{t.Term: true}
		for current := t.Canonical; ; {
			if visited[current] {
				return nil, fmt.Errorf("term table entry %d: mapping of %q is cyclic", i, t.Term)
			}
			visited[current] = true
			next, ok := direct[current]
			if !ok || next == current {
				break
			}
			current = next
		}
	}
	return doc.Terms, nil
}

// DiseaseRules loads the embedded diagnosis rule table.
func DiseaseRules() ([]DiseaseRule, error) {
	data, err := dataFS.ReadFile("data/diseases.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read disease rules: %w", err)
	}
	return ParseDiseaseRules(data)
}

// ParseDiseaseRules decodes and validates a diagnosis rule table.
func ParseDiseaseRules(data []byte) ([]DiseaseRule, error) {
	var doc struct {
		Diseases []DiseaseRule `yaml:"diseases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse disease rules: %w", err)
	}
	if len(doc.Diseases) == 0 {
		return nil, fmt.Errorf("disease rule table is empty")
	}
	for _, r := range doc.Diseases {
		if !r.Code.IsValid() {
			return nil, fmt.Errorf("disease rule %q: unknown diagnosis code %q", r.Name, r.Code)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("disease rule %s: name is required", r.Code)
		}
	}
	return doc.Diseases, nil
}

// Drugs loads the embedded drug table.
func Drugs() (DrugTable, error) {
	data, err := dataFS.ReadFile("data/drugs.yaml")
	if err != nil {
		return DrugTable{}, fmt.Errorf("failed to read drug table: %w", err)
	}
	return ParseDrugs(data)
}

// ParseDrugs decodes and validates a drug table.
func ParseDrugs(data []byte) (DrugTable, error) {
	var table DrugTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return DrugTable{}, fmt.Errorf("failed to parse drug table: %w", err)
	}
	if len(table.Diseases) == 0 {
		return DrugTable{}, fmt.Errorf("drug table is empty")
	}
	for _, d := range table.Diseases {
		if !d.Disease.IsValid() {
			return DrugTable{}, fmt.Errorf("drug table: unknown diagnosis code %q", d.Disease)
		}
		for _, line := range d.Lines {
			for _, p := range line.Classes {
				if !p.Level.IsValid() {
					return DrugTable{}, fmt.Errorf("drug class %q: invalid evidence level %q", p.Class, p.Level)
				}
			}
		}
	}
	return table, nil
}

// Guidelines loads the embedded guideline table.
func Guidelines() (GuidelineTable, error) {
	data, err := dataFS.ReadFile("data/guidelines.yaml")
	if err != nil {
		return GuidelineTable{}, fmt.Errorf("failed to read guideline table: %w", err)
	}
	return ParseGuidelines(data)
}

// ParseGuidelines decodes and validates a guideline table.
func ParseGuidelines(data []byte) (GuidelineTable, error) {
	var table GuidelineTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return GuidelineTable{}, fmt.Errorf("failed to parse guideline table: %w", err)
	}
	if len(table.Guidelines) == 0 {
		return GuidelineTable{}, fmt.Errorf("guideline table is empty")
	}
	for _, g := range table.Guidelines {
		for _, p := range g.Phrases {
			if !p.Level.IsValid() {
				return GuidelineTable{}, fmt.Errorf("guideline %q phrase %q: invalid evidence level %q", g.Name, p.Phrase, p.Level)
			}
		}
	}
	if _, ok := table.Find(table.Default); !ok {
		return GuidelineTable{}, fmt.Errorf("default guideline %q is not defined", table.Default)
	}
	return table, nil
}
