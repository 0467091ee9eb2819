package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/service"
)

var errServiceUnavailable = errors.New("service is not configured on this server")

// LabReading is a single named lab value. Readings keep the order given.
type LabReading struct {
	Name  string `json:"name" jsonschema:"indicator name, e.g. 收缩压 or 空腹血糖"`
	Value string `json:"value" jsonschema:"reading as text, e.g. 165 or ST段压低"`
}

func toPanel(readings []LabReading) domain.LabPanel {
	panel := make(domain.LabPanel, 0, len(readings))
	for _, r := range readings {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		panel = append(panel, domain.LabEntry{Name: r.Name, Value: domain.TextValue(r.Value)})
	}
	return panel
}

// NormalizeTermArgs are the arguments of normalize_term.
type NormalizeTermArgs struct {
	Term string `json:"term" jsonschema:"colloquial or abbreviated medical term"`
}

// ExpandQueryArgs are the arguments of expand_query.
type ExpandQueryArgs struct {
	Query string `json:"query" jsonschema:"free-text question to annotate with canonical terms"`
}

// DiagnosisArgs are the arguments of differential_diagnosis.
type DiagnosisArgs struct {
	Symptoms   []string     `json:"symptoms,omitempty" jsonschema:"presenting symptoms"`
	LabResults []LabReading `json:"lab_results,omitempty" jsonschema:"lab readings in report order"`
	PatientID  string       `json:"patient_id,omitempty" jsonschema:"optional patient ID used for the history boost"`
}

// PlanArgs are the arguments of generate_treatment_plan.
type PlanArgs struct {
	PatientID          string   `json:"patient_id" jsonschema:"patient ID"`
	Diagnosis          string   `json:"diagnosis" jsonschema:"diagnosis text, e.g. 高血压,2型糖尿病"`
	RiskLevel          string   `json:"risk_level,omitempty" jsonschema:"risk level, e.g. 高危"`
	CurrentMedications []string `json:"current_medications,omitempty" jsonschema:"drugs the patient already takes"`
}

// AdjustArgs are the arguments of adjust_treatment_plan.
type AdjustArgs struct {
	Plan           string       `json:"plan" jsonschema:"plan JSON as returned by generate_treatment_plan"`
	TreatmentWeeks int          `json:"treatment_weeks" jsonschema:"weeks on the current plan"`
	CurrentValues  []LabReading `json:"current_values,omitempty" jsonschema:"latest lab readings"`
	Effectiveness  string       `json:"effectiveness" jsonschema:"one of good, fair, poor (or 良好, 一般, 不佳)"`
}

// AnnotateArgs are the arguments of annotate_evidence.
type AnnotateArgs struct {
	Text      string `json:"text" jsonschema:"recommendation text to grade"`
	Guideline string `json:"guideline,omitempty" jsonschema:"guideline name; defaults to the primary guideline"`
}

// RecommendationArgs are the arguments of create_recommendation. A database
// source needs both table and record; a spreadsheet source needs file and row.
type RecommendationArgs struct {
	Content   string `json:"content" jsonschema:"recommendation text"`
	Guideline string `json:"guideline,omitempty" jsonschema:"guideline name; defaults to the primary guideline"`
	Page      string `json:"pdf_page,omitempty" jsonschema:"guideline page cited"`
	Table     string `json:"db_table,omitempty" jsonschema:"database table cited"`
	Record    string `json:"db_record,omitempty" jsonschema:"database record ID cited"`
	File      string `json:"excel_file,omitempty" jsonschema:"spreadsheet cited"`
	Row       string `json:"excel_row,omitempty" jsonschema:"spreadsheet row cited"`
}

// SafetyArgs are the arguments of safety_check.
type SafetyArgs struct {
	Content            string   `json:"content" jsonschema:"generated advice to check"`
	PatientContext     string   `json:"patient_context,omitempty" jsonschema:"what the patient said, used for humanistic care"`
	NewMedication      string   `json:"new_medication,omitempty" jsonschema:"medication being added"`
	CurrentMedications []string `json:"current_medications,omitempty" jsonschema:"medications already prescribed"`
	Dosage             string   `json:"dosage,omitempty" jsonschema:"dosage of the new medication"`
}

// GuidelineArgs are the arguments of search_guidelines.
type GuidelineArgs struct {
	Query string `json:"query" jsonschema:"question for the guideline knowledge base"`
}

// PatientArgs identify a patient.
type PatientArgs struct {
	PatientID string `json:"patient_id" jsonschema:"patient ID"`
}

// MedicationArgs are the arguments of check_medication_safety.
type MedicationArgs struct {
	PatientID  string `json:"patient_id" jsonschema:"patient ID"`
	Medication string `json:"medication" jsonschema:"medication to add"`
}

func toJSON(v interface{}) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(raw), nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.NewValidationError(field, "is required", nil)
	}
	return nil
}

func (s *Server) normalizeTerm(ctx context.Context, args NormalizeTermArgs) (string, error) {
	if err := required("term", args.Term); err != nil {
		return "", err
	}
	if s.services.Terms == nil {
		return "", errServiceUnavailable
	}
	return toJSON(map[string]interface{}{
		"term":     args.Term,
		"standard": s.services.Terms.Normalize(args.Term),
		"synonyms": s.services.Terms.Synonyms(args.Term),
	})
}

func (s *Server) expandQuery(ctx context.Context, args ExpandQueryArgs) (string, error) {
	if err := required("query", args.Query); err != nil {
		return "", err
	}
	if s.services.Terms == nil {
		return "", errServiceUnavailable
	}
	return s.services.Terms.ExpandQuery(args.Query), nil
}

func (s *Server) differentialDiagnosis(ctx context.Context, args DiagnosisArgs) (string, error) {
	if len(args.Symptoms) == 0 && len(args.LabResults) == 0 {
		return "", domain.NewValidationError("symptoms", "symptoms or lab_results are required", nil)
	}
	if s.services.Diagnosis == nil {
		return "", errServiceUnavailable
	}
	return s.services.Diagnosis.GenerateDiagnosisReport(ctx, args.PatientID, args.Symptoms, toPanel(args.LabResults))
}

func (s *Server) generateTreatmentPlan(ctx context.Context, args PlanArgs) (string, error) {
	if err := required("patient_id", args.PatientID); err != nil {
		return "", err
	}
	if err := required("diagnosis", args.Diagnosis); err != nil {
		return "", err
	}
	if s.services.Planner == nil {
		return "", errServiceUnavailable
	}

	plan, err := s.services.Planner.GenerateTreatmentPlan(ctx, args.PatientID, args.Diagnosis, args.RiskLevel, args.CurrentMedications)
	if err != nil {
		return "", err
	}
	return planResult(plan)
}

func (s *Server) adjustTreatmentPlan(ctx context.Context, args AdjustArgs) (string, error) {
	if err := required("plan", args.Plan); err != nil {
		return "", err
	}
	if s.services.Planner == nil {
		return "", errServiceUnavailable
	}

	effectiveness, err := domain.ParseEffectiveness(args.Effectiveness)
	if err != nil {
		return "", err
	}

	var original domain.TreatmentPlan
	if err := json.Unmarshal([]byte(args.Plan), &original); err != nil {
		return "", domain.NewValidationError("plan", "must be the plan JSON returned by generate_treatment_plan", nil)
	}

	adjusted, err := s.services.Planner.AdjustTreatmentPlan(original.PatientID, &original, args.TreatmentWeeks,
		toPanel(args.CurrentValues), effectiveness)
	if err != nil {
		return "", err
	}
	return planResult(adjusted)
}

// planResult returns the report followed by the plan JSON so clients can pass
// the plan back to adjust_treatment_plan.
func planResult(plan *domain.TreatmentPlan) (string, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	return service.RenderTreatmentReport(plan) + "\n\nPLAN_JSON:\n" + string(raw), nil
}

func (s *Server) annotateEvidence(ctx context.Context, args AnnotateArgs) (string, error) {
	if err := required("text", args.Text); err != nil {
		return "", err
	}
	if s.services.Evidence == nil {
		return "", errServiceUnavailable
	}

	annotator := s.services.Evidence.Annotator()
	annotated, level := annotator.Annotate(args.Text, args.Guideline)
	return annotated + "\n" + annotator.Description(level), nil
}

func (s *Server) createRecommendation(ctx context.Context, args RecommendationArgs) (string, error) {
	if err := required("content", args.Content); err != nil {
		return "", err
	}
	if s.services.Evidence == nil {
		return "", errServiceUnavailable
	}
	rec := s.services.Evidence.CreateRecommendation(service.RecommendationInput(args))
	return service.FormatRecommendation(rec), nil
}

func (s *Server) safetyCheck(ctx context.Context, args SafetyArgs) (string, error) {
	if err := required("content", args.Content); err != nil {
		return "", err
	}
	if s.services.Safety == nil {
		return "", errServiceUnavailable
	}

	var medication *service.MedicationInfo
	if args.NewMedication != "" || len(args.CurrentMedications) > 0 {
		medication = &service.MedicationInfo{
			NewMedication:      args.NewMedication,
			CurrentMedications: args.CurrentMedications,
			Dosage:             args.Dosage,
		}
	}
	return toJSON(s.services.Safety.ComprehensiveCheck(args.Content, args.PatientContext, medication))
}

func (s *Server) searchGuidelines(ctx context.Context, args GuidelineArgs) (string, error) {
	if err := required("query", args.Query); err != nil {
		return "", err
	}
	if s.services.Tools == nil {
		return "", errServiceUnavailable
	}
	return s.services.Tools.SearchGuidelines(ctx, args.Query)
}

func (s *Server) patientInformation(ctx context.Context, args PatientArgs) (string, error) {
	if err := required("patient_id", args.PatientID); err != nil {
		return "", err
	}
	if s.services.Tools == nil {
		return "", errServiceUnavailable
	}
	return s.services.Tools.PatientInformation(ctx, args.PatientID)
}

func (s *Server) assessDiabetesRisk(ctx context.Context, args PatientArgs) (string, error) {
	if err := required("patient_id", args.PatientID); err != nil {
		return "", err
	}
	if s.services.Tools == nil {
		return "", errServiceUnavailable
	}
	return s.services.Tools.AssessDiabetesRisk(ctx, args.PatientID)
}

func (s *Server) checkMedicationSafety(ctx context.Context, args MedicationArgs) (string, error) {
	if err := required("patient_id", args.PatientID); err != nil {
		return "", err
	}
	if err := required("medication", args.Medication); err != nil {
		return "", err
	}
	if s.services.Tools == nil {
		return "", errServiceUnavailable
	}
	return s.services.Tools.CheckMedicationSafety(ctx, args.PatientID, args.Medication)
}
