package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/knowledge"
)

const (
	symptomScore    = 15
	indicatorScore  = 25
	criterionScore  = 40
	historyScore    = 10
	maxScore        = 100
	maxCandidates   = 5
	reportRuleWidth = 80
)

// HistoryLookup is the outcome of fetching a patient's past diagnoses. A
// failed lookup carries Err and is treated as "no history".
type HistoryLookup struct {
	Names []string
	Err   error
}

// DiagnosisEngine ranks candidate diseases from symptoms and lab results using
// the embedded rule table, optionally boosted by the patient's history.
type DiagnosisEngine struct {
	logger   *logrus.Logger
	rules    []knowledge.DiseaseRule
	patients domain.PatientRepository
}

// NewDiagnosisEngine creates a diagnosis engine over the embedded rule table.
// patients may be nil, in which case history is never consulted.
func NewDiagnosisEngine(logger *logrus.Logger, patients domain.PatientRepository) (*DiagnosisEngine, error) {
	rules, err := knowledge.DiseaseRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load diagnosis rules: %w", err)
	}
	return NewDiagnosisEngineWithRules(logger, rules, patients), nil
}

// NewDiagnosisEngineWithRules creates a diagnosis engine over an explicit rule table.
func NewDiagnosisEngineWithRules(logger *logrus.Logger, rules []knowledge.DiseaseRule, patients domain.PatientRepository) *DiagnosisEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DiagnosisEngine{
		logger:   logger,
		rules:    rules,
		patients: patients,
	}
}

// Rules returns the rule table in evaluation order.
func (e *DiagnosisEngine) Rules() []knowledge.DiseaseRule {
	return append([]knowledge.DiseaseRule(nil), e.rules...)
}

// DifferentialDiagnosis scores every rule against the presentation and returns
// at most five candidates ordered by descending score.
func (e *DiagnosisEngine) DifferentialDiagnosis(ctx context.Context, symptoms []string, labs domain.LabPanel, patientID string) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"symptoms":   symptoms,
		"lab_count":  len(labs),
		"patient_id": patientID,
	}).Info("Starting differential diagnosis")

	candidates := make([]domain.Candidate, 0, len(e.rules))
	for _, rule := range e.rules {
		if c, ok := e.scoreRule(rule, symptoms, labs); ok {
			candidates = append(candidates, c)
		}
	}
	sortCandidates(candidates)

	if patientID != "" && e.patients != nil {
		lookup := e.lookupHistory(ctx, patientID)
		if lookup.Err != nil {
			e.logger.WithError(lookup.Err).WithField("patient_id", patientID).Warn("Failed to fetch diagnosis history, skipping history boost")
		} else {
			applyHistory(candidates, lookup.Names)
		}
	}

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	e.logger.WithField("candidates", len(candidates)).Info("Differential diagnosis completed")
	return candidates, nil
}

func (e *DiagnosisEngine) scoreRule(rule knowledge.DiseaseRule, symptoms []string, labs domain.LabPanel) (domain.Candidate, bool) {
	score := 0
	var evidence []string

	// Step 1: symptoms containing any of the rule's keywords
	for _, symptom := range symptoms {
		if containsAny(symptom, rule.Symptoms) {
			score += symptomScore
			evidence = append(evidence, "症状匹配: "+symptom)
		}
	}

	// Step 2: key indicators named in the lab panel
	for _, indicator := range rule.KeyIndicators {
		if labsMention(labs, indicator) {
			score += indicatorScore
			evidence = append(evidence, "关键指标: "+indicator)
		}
	}

	// Step 3: first criterion whose description names a measured lab
	for _, criterion := range rule.Criteria {
		if criterionMatches(criterion.Description, labs) {
			score += criterionScore
			evidence = append(evidence, "符合标准: "+criterion.Subtype)
			break
		}
	}

	if score == 0 {
		return domain.Candidate{}, false
	}
	if score > maxScore {
		score = maxScore
	}

	return domain.Candidate{
		Disease:       rule.Name,
		Code:          rule.Code,
		Score:         score,
		Probability:   probability(score),
		Evidence:      evidence,
		ReasoningPath: reasoningPath(rule.Name, symptoms, labs),
	}, true
}

func (e *DiagnosisEngine) lookupHistory(ctx context.Context, patientID string) HistoryLookup {
	records, err := e.patients.GetDiagnoses(ctx, patientID, domain.DiagnosisHistoryLimit)
	if err != nil {
		return HistoryLookup{Err: err}
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.DiagnosisName)
	}
	return HistoryLookup{Names: names}
}

func applyHistory(candidates []domain.Candidate, history []string) {
	if len(history) == 0 {
		return
	}
	seen := make(map[string]bool, len(history))
	for _, name := range history {
		seen[name] = true
	}
	for i := range candidates {
		c := &candidates[i]
		if !seen[c.Disease] {
			continue
		}
		c.Score += historyScore
		if c.Score > maxScore {
			c.Score = maxScore
		}
		c.Probability = probability(c.Score)
		c.Evidence = append(c.Evidence, "既往病史: 曾诊断为"+c.Disease)
	}
	sortCandidates(candidates)
}

func sortCandidates(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

func probability(score int) string {
	return fmt.Sprintf("%d%%", score)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func labsMention(labs domain.LabPanel, indicator string) bool {
	for _, l := range labs {
		if strings.Contains(l.Name, indicator) || strings.Contains(l.Value.Raw, indicator) {
			return true
		}
	}
	return false
}

func criterionMatches(description string, labs domain.LabPanel) bool {
	for _, l := range labs {
		if l.Name != "" && strings.Contains(description, l.Name) {
			return true
		}
	}
	return false
}

func formatLabs(labs domain.LabPanel, sep string) string {
	parts := make([]string, len(labs))
	for i, l := range labs {
		parts[i] = l.Name + "=" + l.Value.String()
	}
	return strings.Join(parts, sep)
}

func reasoningPath(disease string, symptoms []string, labs domain.LabPanel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "【%s诊断推理】\n", disease)
	fmt.Fprintf(&b, "1. 临床表现: %s\n", strings.Join(symptoms, ", "))
	fmt.Fprintf(&b, "2. 检验结果: %s\n", formatLabs(labs, ", "))
	fmt.Fprintf(&b, "3. 符合%s的典型特征\n", disease)
	return b.String()
}

// GenerateDiagnosisReport renders a differential diagnosis report. Patient
// details are included when the patient can be found.
func (e *DiagnosisEngine) GenerateDiagnosisReport(ctx context.Context, patientID string, symptoms []string, labs domain.LabPanel) (string, error) {
	e.logger.WithField("patient_id", patientID).Info("Generating diagnosis report")

	var patient *domain.Patient
	if patientID != "" && e.patients != nil {
		p, err := e.patients.GetPatient(ctx, patientID)
		switch {
		case err == nil:
			patient = p
		case errors.Is(err, domain.ErrNotFound):
			e.logger.WithField("patient_id", patientID).Debug("Patient not found, omitting patient block")
		default:
			e.logger.WithError(err).WithField("patient_id", patientID).Warn("Failed to fetch patient, omitting patient block")
		}
	}

	candidates, err := e.DifferentialDiagnosis(ctx, symptoms, labs, patientID)
	if err != nil {
		return "", fmt.Errorf("differential diagnosis failed: %w", err)
	}

	rule := strings.Repeat("=", reportRuleWidth)
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("鉴别诊断报告\n")
	b.WriteString(rule + "\n\n")

	if patient != nil {
		b.WriteString("【患者信息】\n")
		fmt.Fprintf(&b, "姓名: %s\n", patient.Name)
		fmt.Fprintf(&b, "性别: %s, 年龄: %s岁\n", patient.Gender, domain.FormatInt(patient.Age))
		fmt.Fprintf(&b, "BMI: %s\n\n", domain.FormatFloat(patient.BMI))
	}

	b.WriteString("【主诉症状】\n")
	b.WriteString(strings.Join(symptoms, ", ") + "\n\n")

	b.WriteString("【检验结果】\n")
	for _, l := range labs {
		fmt.Fprintf(&b, "- %s: %s\n", l.Name, l.Value)
	}
	b.WriteString("\n")

	b.WriteString("【鉴别诊断】(按概率排序)\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s (概率: %s)\n", i+1, c.Disease, c.Probability)
		b.WriteString("   证据:\n")
		for _, ev := range c.Evidence {
			fmt.Fprintf(&b, "   - %s\n", ev)
		}
		b.WriteString("\n   推理路径:\n")
		for _, line := range strings.Split(c.ReasoningPath, "\n") {
			if line != "" {
				fmt.Fprintf(&b, "   %s\n", line)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(rule + "\n")
	b.WriteString("【说明】\n")
	b.WriteString("- 以上诊断仅供参考,需结合临床实际情况\n")
	b.WriteString("- 建议进一步完善相关检查\n")
	b.WriteString("- 最终诊断需由主治医生确定\n")
	b.WriteString(rule + "\n")

	return b.String(), nil
}
