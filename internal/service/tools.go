package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
)

const (
	assessmentLabLimit  = 10
	reportedAbnormalMax = 5
	reportedMedsMax     = 5
)

// GuidelineQuerier answers free-text questions against the guideline corpus.
type GuidelineQuerier interface {
	Query(ctx context.Context, question string) (string, error)
}

// MedicalTools bundles the patient lookups and checks exposed to the chat,
// HTTP and MCP surfaces.
type MedicalTools struct {
	patients domain.PatientRepository
	guides   GuidelineQuerier
	safety   *SafetyChecker
	logger   *logrus.Logger
}

// NewMedicalTools creates the tool set. guides may be nil when no knowledge
// base has been built.
func NewMedicalTools(patients domain.PatientRepository, guides GuidelineQuerier, safety *SafetyChecker, logger *logrus.Logger) *MedicalTools {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if safety == nil {
		safety = NewSafetyChecker(domain.DefaultSafetyConfig(), logger)
	}
	return &MedicalTools{patients: patients, guides: guides, safety: safety, logger: logger}
}

// HasGuidelines reports whether a guideline engine is attached.
func (t *MedicalTools) HasGuidelines() bool {
	return t.guides != nil
}

// SearchGuidelines queries the guideline corpus.
func (t *MedicalTools) SearchGuidelines(ctx context.Context, query string) (string, error) {
	t.logger.WithField("query", query).Info("Searching medical guidelines")
	if t.guides == nil {
		return "RAG查询引擎未初始化", nil
	}
	answer, err := t.guides.Query(ctx, query)
	if err != nil {
		return "", fmt.Errorf("guideline search failed: %w", err)
	}
	return answer, nil
}

func (t *MedicalTools) repo() (domain.PatientRepository, error) {
	if t.patients == nil {
		return nil, domain.ErrStoreUnavailable
	}
	return t.patients, nil
}

// PatientInformation returns the patient row as indented JSON.
func (t *MedicalTools) PatientInformation(ctx context.Context, patientID string) (string, error) {
	repo, err := t.repo()
	if err != nil {
		return "", err
	}

	p, err := repo.GetPatient(ctx, patientID)
	if errors.Is(err, domain.ErrNotFound) {
		return "未找到患者ID: " + patientID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get patient %s: %w", patientID, err)
	}
	return indentJSON(p)
}

// ComprehensiveData returns everything known about the patient as indented JSON.
func (t *MedicalTools) ComprehensiveData(ctx context.Context, patientID string) (string, error) {
	repo, err := t.repo()
	if err != nil {
		return "", err
	}

	data, err := repo.GetComprehensiveData(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("failed to get comprehensive data for %s: %w", patientID, err)
	}
	return indentJSON(data)
}

// AssessDiabetesRisk summarizes the latest glycaemic assessment and abnormal
// lab results.
func (t *MedicalTools) AssessDiabetesRisk(ctx context.Context, patientID string) (string, error) {
	repo, err := t.repo()
	if err != nil {
		return "", err
	}

	logger := t.logger.WithField("patient_id", patientID)
	logger.Info("Assessing diabetes risk")

	p, err := repo.GetPatient(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("failed to get patient %s: %w", patientID, err)
	}

	assessments, err := repo.GetDiabetesAssessments(ctx, patientID, 1)
	if err != nil {
		return "", fmt.Errorf("failed to get diabetes assessment: %w", err)
	}

	labs, err := repo.GetLabResults(ctx, patientID, "", assessmentLabLimit)
	if err != nil {
		return "", fmt.Errorf("failed to get lab results: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "患者: %s, 年龄: %s岁, BMI: %s\n\n", p.Name, domain.FormatInt(p.Age), domain.FormatFloat(p.BMI))

	if len(assessments) > 0 {
		latest := assessments[0]
		fmt.Fprintf(&b, "最新评估(%s):\n", latest.AssessmentDate.Format("2006-01-02"))
		fmt.Fprintf(&b, "- 空腹血糖: %s mmol/L\n", domain.FormatFloat(latest.FastingGlucose))
		fmt.Fprintf(&b, "- 餐后血糖: %s mmol/L\n", domain.FormatFloat(latest.PostprandialGlucose))
		fmt.Fprintf(&b, "- HbA1c: %s%%\n", domain.FormatFloat(latest.HbA1c))
		fmt.Fprintf(&b, "- 控制状态: %s\n", orNA(latest.ControlStatus))
	}

	var abnormal []domain.LabResult
	for _, r := range labs {
		if r.IsAbnormal {
			abnormal = append(abnormal, r)
		}
	}
	if len(abnormal) > 0 {
		fmt.Fprintf(&b, "\n异常检验结果(%d项):\n", len(abnormal))
		for i, r := range abnormal {
			if i == reportedAbnormalMax {
				break
			}
			fmt.Fprintf(&b, "- %s: %s %s (参考范围: %s)\n", r.TestItem, r.ResultValue, r.Unit, orNA(r.ReferenceRange))
		}
	}

	logger.WithField("abnormal", len(abnormal)).Debug("Diabetes assessment built")
	return b.String(), nil
}

// CheckMedicationSafety checks a new medication against the patient's
// current prescriptions.
func (t *MedicalTools) CheckMedicationSafety(ctx context.Context, patientID, newMedication string) (string, error) {
	repo, err := t.repo()
	if err != nil {
		return "", err
	}

	t.logger.WithFields(logrus.Fields{
		"patient_id": patientID,
		"medication": newMedication,
	}).Info("Checking medication safety")

	meds, err := repo.GetMedications(ctx, patientID, domain.DefaultPatientMedicationsLimit)
	if err != nil {
		return "", fmt.Errorf("failed to get medications: %w", err)
	}

	current := make([]string, 0, len(meds))
	for _, m := range meds {
		current = append(current, m.DrugName)
	}
	result := t.safety.CheckMedicationSafety(MedicationInfo{
		NewMedication:      newMedication,
		CurrentMedications: current,
	})

	var b strings.Builder
	b.WriteString("用药安全检查结果:\n")
	if result.Safe {
		b.WriteString("- 安全性: 安全\n")
	} else {
		b.WriteString("- 安全性: 需要注意\n")
	}
	if len(result.Warnings) > 0 {
		b.WriteString("- 警告:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "  * %s\n", w)
		}
	}

	fmt.Fprintf(&b, "\n当前用药(%d种):\n", len(meds))
	for i, m := range meds {
		if i == reportedMedsMax {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", m.DrugName, orNA(m.Dosage))
	}
	return b.String(), nil
}

// SearchGuidelineRecommendations passes through to the guideline table.
func (t *MedicalTools) SearchGuidelineRecommendations(ctx context.Context, diseaseType, level string, limit int) ([]domain.GuidelineRecommendation, error) {
	repo, err := t.repo()
	if err != nil {
		return nil, err
	}
	recs, err := repo.SearchGuidelineRecommendations(ctx, diseaseType, level, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search guideline recommendations: %w", err)
	}
	return recs, nil
}

// PatientContext renders the one-line summary prepended to chat prompts.
// It returns "" when the patient cannot be found.
func (t *MedicalTools) PatientContext(ctx context.Context, patientID string) string {
	if t.patients == nil || patientID == "" {
		return ""
	}
	p, err := t.patients.GetPatient(ctx, patientID)
	if err != nil {
		t.logger.WithError(err).WithField("patient_id", patientID).Warn("Patient context unavailable")
		return ""
	}
	return fmt.Sprintf("患者: %s, 年龄: %s岁, BMI: %s", p.Name, domain.FormatInt(p.Age), domain.FormatFloat(p.BMI))
}

func indentJSON(v interface{}) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode JSON: %w", err)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
