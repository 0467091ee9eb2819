package rag

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"
)

// Prompt template names.
const (
	TemplateMedicalQA         = "medical_qa"
	TemplatePatientAssessment = "patient_assessment"
	TemplateMedicationAdvice  = "medication_advice"
	TemplateRiskAssessment    = "risk_assessment"
	TemplateHumanisticCare    = "humanistic_care"
	TemplateEthicsCheck       = "ethics_check"
	TemplateDiabetes          = "diabetes"
	TemplateHypertension      = "hypertension"

	DefaultTemplate = TemplateMedicalQA
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// PromptData is the input to every prompt template. Fields carries the
// template-specific sections (patient_info, lab_results, ...).
type PromptData struct {
	Context string
	Query   string
	Fields  map[string]string
}

// PromptSet holds the parsed prompt templates.
type PromptSet struct {
	templates map[string]*template.Template
}

var promptFuncs = template.FuncMap{
	// field returns a named section or an empty string.
	"field": func(data PromptData, name string) string {
		if data.Fields == nil {
			return ""
		}
		return data.Fields[name]
	},
}

// LoadPrompts parses the embedded prompt templates.
func LoadPrompts() (*PromptSet, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt templates: %w", err)
	}

	set := &PromptSet{templates: make(map[string]*template.Template, len(entries))}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		raw, err := templateFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		set.templates[name] = tmpl
	}

	if _, ok := set.templates[DefaultTemplate]; !ok {
		return nil, fmt.Errorf("default template %s is missing", DefaultTemplate)
	}
	return set, nil
}

// Has reports whether a template with the given name exists.
func (p *PromptSet) Has(name string) bool {
	_, ok := p.templates[name]
	return ok
}

// Resolve returns name when it is known and the default template otherwise.
func (p *PromptSet) Resolve(name string) string {
	if p.Has(name) {
		return name
	}
	return DefaultTemplate
}

// Names lists the available templates in sorted order.
func (p *PromptSet) Names() []string {
	names := make([]string, 0, len(p.templates))
	for name := range p.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template, falling back to the default for unknown names.
func (p *PromptSet) Render(name string, data PromptData) (string, error) {
	tmpl := p.templates[p.Resolve(name)]

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
