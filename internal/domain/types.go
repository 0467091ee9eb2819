// Package domain contains the core entities and closed vocabularies used by the
// medical decision-support services: evidence levels, diagnosis codes, treatment
// effectiveness grades and evidence source kinds.
//
// Grading follows the Chinese guideline convention (ⅠA strongest, Ⅲ weakest) used by
// the 2023 hypertension and 2020 type-2 diabetes prevention and treatment guidelines.
package domain

import (
	"fmt"
	"strings"
)

// EvidenceLevel is the five-point ordinal grading of the clinical evidence behind a
// recommendation. The zero value is invalid.
type EvidenceLevel string

const (
	LevelIA  EvidenceLevel = "IA"
	LevelIB  EvidenceLevel = "IB"
	LevelIIA EvidenceLevel = "IIA"
	LevelIIB EvidenceLevel = "IIB"
	LevelIII EvidenceLevel = "III"
)

// AllEvidenceLevels lists the levels from strongest to weakest.
var AllEvidenceLevels = []EvidenceLevel{LevelIA, LevelIB, LevelIIA, LevelIIB, LevelIII}

// IsValid reports whether the level is one of the five defined grades.
func (l EvidenceLevel) IsValid() bool {
	switch l {
	case LevelIA, LevelIB, LevelIIA, LevelIIB, LevelIII:
		return true
	default:
		return false
	}
}

func (l EvidenceLevel) String() string {
	return string(l)
}

// Label returns the Roman-numeral label printed in reports, e.g. "ⅠA".
func (l EvidenceLevel) Label() string {
	switch l {
	case LevelIA:
		return "ⅠA"
	case LevelIB:
		return "ⅠB"
	case LevelIIA:
		return "ⅡA"
	case LevelIIB:
		return "ⅡB"
	case LevelIII:
		return "Ⅲ"
	default:
		return "N/A"
	}
}

// Rank orders levels by strength: IA is 5 and III is 1. Invalid levels rank 0.
func (l EvidenceLevel) Rank() int {
	switch l {
	case LevelIA:
		return 5
	case LevelIB:
		return 4
	case LevelIIA:
		return 3
	case LevelIIB:
		return 2
	case LevelIII:
		return 1
	default:
		return 0
	}
}

// StrongerThan reports whether l carries stronger evidence than other.
func (l EvidenceLevel) StrongerThan(other EvidenceLevel) bool {
	return l.Rank() > other.Rank()
}

// Description returns the fixed explanatory sentence for the level.
func (l EvidenceLevel) Description() string {
	switch l {
	case LevelIA:
		return "基于多个随机对照试验(RCT)或系统评价的高质量证据,强烈推荐"
	case LevelIB:
		return "基于单个RCT或多个观察性研究的中等质量证据,强烈推荐"
	case LevelIIA:
		return "基于高质量证据,但推荐强度较弱"
	case LevelIIB:
		return "基于中等质量证据,推荐强度较弱"
	case LevelIII:
		return "基于专家共识或低质量证据,不推荐或有争议"
	default:
		return ""
	}
}

// ParseEvidenceLevel accepts both the ASCII form ("IIA") and the report label ("ⅡA").
func ParseEvidenceLevel(s string) (EvidenceLevel, error) {
	s = strings.TrimSpace(s)
	for _, l := range AllEvidenceLevels {
		if strings.EqualFold(s, string(l)) || s == l.Label() {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown evidence level %q", s)
}

// DiagnosisCode identifies a disease handled by the rule tables. Branching on
// diagnoses is done on these codes rather than on free text.
type DiagnosisCode string

const (
	Hypertension         DiagnosisCode = "hypertension"
	Diabetes             DiagnosisCode = "diabetes"
	CoronaryHeartDisease DiagnosisCode = "coronary_heart_disease"
	HeartFailure         DiagnosisCode = "heart_failure"
)

// AllDiagnosisCodes is the declaration order used for rule evaluation.
var AllDiagnosisCodes = []DiagnosisCode{Hypertension, Diabetes, CoronaryHeartDisease, HeartFailure}

func (c DiagnosisCode) IsValid() bool {
	switch c {
	case Hypertension, Diabetes, CoronaryHeartDisease, HeartFailure:
		return true
	default:
		return false
	}
}

func (c DiagnosisCode) String() string {
	return string(c)
}

// DisplayName returns the Chinese disease name used in rule tables and reports.
func (c DiagnosisCode) DisplayName() string {
	switch c {
	case Hypertension:
		return "高血压"
	case Diabetes:
		return "糖尿病"
	case CoronaryHeartDisease:
		return "冠心病"
	case HeartFailure:
		return "心力衰竭"
	default:
		return string(c)
	}
}

// ParseDiagnosisCodes extracts every known disease mentioned in a free-text
// diagnosis such as "2级高血压,2型糖尿病". This is the only place where display
// names are matched against text; results follow AllDiagnosisCodes order.
func ParseDiagnosisCodes(text string) []DiagnosisCode {
	var codes []DiagnosisCode
	for _, c := range AllDiagnosisCodes {
		if strings.Contains(text, c.DisplayName()) || strings.Contains(text, string(c)) {
			codes = append(codes, c)
		}
	}
	return codes
}

// HasDiagnosis reports whether code is in codes.
func HasDiagnosis(codes []DiagnosisCode, code DiagnosisCode) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Effectiveness grades how well a treatment plan worked.
type Effectiveness string

const (
	EffectivenessGood Effectiveness = "good"
	EffectivenessFair Effectiveness = "fair"
	EffectivenessPoor Effectiveness = "poor"
)

func (e Effectiveness) IsValid() bool {
	switch e {
	case EffectivenessGood, EffectivenessFair, EffectivenessPoor:
		return true
	default:
		return false
	}
}

// Label returns the Chinese grade: 良好, 一般 or 不佳.
func (e Effectiveness) Label() string {
	switch e {
	case EffectivenessGood:
		return "良好"
	case EffectivenessFair:
		return "一般"
	case EffectivenessPoor:
		return "不佳"
	default:
		return string(e)
	}
}

// ParseEffectiveness accepts the English grade or its Chinese label.
func ParseEffectiveness(s string) (Effectiveness, error) {
	s = strings.TrimSpace(s)
	for _, e := range []Effectiveness{EffectivenessGood, EffectivenessFair, EffectivenessPoor} {
		if strings.EqualFold(s, string(e)) || s == e.Label() {
			return e, nil
		}
	}
	return "", NewValidationError("effectiveness", "must be one of good, fair, poor", s)
}

// SourceKind classifies where a piece of cited evidence came from.
type SourceKind string

const (
	SourceDocument    SourceKind = "document"
	SourceDatabase    SourceKind = "database"
	SourceSpreadsheet SourceKind = "spreadsheet"
)

// AllSourceKinds is the fixed order in which trace reports group sources.
var AllSourceKinds = []SourceKind{SourceDocument, SourceDatabase, SourceSpreadsheet}

func (k SourceKind) IsValid() bool {
	switch k {
	case SourceDocument, SourceDatabase, SourceSpreadsheet:
		return true
	default:
		return false
	}
}

// LegacyName is the storage-oriented name (PDF, MySQL, Excel) kept for exported traces.
func (k SourceKind) LegacyName() string {
	switch k {
	case SourceDocument:
		return "PDF"
	case SourceDatabase:
		return "MySQL"
	case SourceSpreadsheet:
		return "Excel"
	default:
		return string(k)
	}
}

// ParseSourceKind accepts "document"/"PDF", "database"/"MySQL" and "spreadsheet"/"Excel".
func ParseSourceKind(s string) (SourceKind, error) {
	s = strings.TrimSpace(s)
	for _, k := range AllSourceKinds {
		if strings.EqualFold(s, string(k)) || strings.EqualFold(s, k.LegacyName()) {
			return k, nil
		}
	}
	return "", NewValidationError("source_kind", "must be document, database or spreadsheet", s)
}

// DoseStage tracks whether a prescribed dose is the starting or the target dose.
type DoseStage string

const (
	DoseStarting DoseStage = "starting"
	DoseTarget   DoseStage = "target"
	// DoseFixed marks drugs whose profile has no separate target dose.
	DoseFixed DoseStage = "fixed"
)

func (d DoseStage) IsValid() bool {
	switch d {
	case DoseStarting, DoseTarget, DoseFixed:
		return true
	default:
		return false
	}
}
