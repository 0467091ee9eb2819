package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/service"
)

// MedicationRequest is the body of POST /api/safety/medication.
type MedicationRequest struct {
	PatientID  string `json:"patient_id"`
	Medication string `json:"medication"`
}

// DiagnosisRequest is the body of POST /api/diagnosis.
type DiagnosisRequest struct {
	Symptoms   []string        `json:"symptoms"`
	LabResults domain.LabPanel `json:"lab_results"`
	PatientID  string          `json:"patient_id,omitempty"`
}

// PlanRequest is the body of POST /api/treatment/plan.
type PlanRequest struct {
	PatientID          string   `json:"patient_id"`
	Diagnosis          string   `json:"diagnosis"`
	RiskLevel          string   `json:"risk_level"`
	CurrentMedications []string `json:"current_medications"`
}

// AdjustRequest is the body of POST /api/treatment/adjust.
type AdjustRequest struct {
	PatientID      string                `json:"patient_id"`
	Plan           *domain.TreatmentPlan `json:"plan"`
	TreatmentWeeks int                   `json:"treatment_weeks"`
	CurrentValues  domain.LabPanel       `json:"current_values"`
	Effectiveness  domain.Effectiveness  `json:"effectiveness"`
}

// AnnotateRequest is the body of POST /api/evidence/annotate.
type AnnotateRequest struct {
	Text      string `json:"text"`
	Guideline string `json:"guideline,omitempty"`
}

// SafetyCheckRequest is the body of POST /api/safety/check.
type SafetyCheckRequest struct {
	Content        string                  `json:"content"`
	PatientContext string                  `json:"patient_context,omitempty"`
	Medication     *service.MedicationInfo `json:"medication,omitempty"`
}

func (s *Server) handleGetPatient(c *gin.Context) {
	if s.deps.Patients == nil {
		unavailable(c, errStoreMissing)
		return
	}

	id := c.Param("id")
	patient, err := s.deps.Patients.GetPatient(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "未找到患者: " + id})
		return
	}
	if err != nil {
		s.writeError(c, "get_patient", err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

func (s *Server) handleGetComprehensive(c *gin.Context) {
	if s.deps.Patients == nil {
		unavailable(c, errStoreMissing)
		return
	}

	id := c.Param("id")
	data, err := s.deps.Patients.GetComprehensiveData(c.Request.Context(), id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.writeError(c, "get_comprehensive", err)
		return
	}
	if data == nil || data.PatientInfo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未找到患者: " + id})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleAssessDiabetes(c *gin.Context) {
	if s.deps.Tools == nil {
		unavailable(c, errToolsMissing)
		return
	}

	id := c.Param("id")
	assessment, err := s.deps.Tools.AssessDiabetesRisk(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "assess_diabetes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": id, "assessment": assessment})
}

func (s *Server) handleCheckMedication(c *gin.Context) {
	var req MedicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if req.PatientID == "" || req.Medication == "" {
		badRequest(c, "患者ID和药物名称不能为空")
		return
	}
	if s.deps.Tools == nil {
		unavailable(c, errToolsMissing)
		return
	}

	result, err := s.deps.Tools.CheckMedicationSafety(c.Request.Context(), req.PatientID, req.Medication)
	if err != nil {
		s.writeError(c, "check_medication", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleDiagnosis(c *gin.Context) {
	var req DiagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if len(req.Symptoms) == 0 && len(req.LabResults) == 0 {
		badRequest(c, "症状和检验结果不能同时为空")
		return
	}
	if s.deps.Diagnosis == nil {
		unavailable(c, errServiceMissing)
		return
	}

	ctx := c.Request.Context()
	candidates, err := s.deps.Diagnosis.DifferentialDiagnosis(ctx, req.Symptoms, req.LabResults, req.PatientID)
	if err != nil {
		s.writeError(c, "diagnosis", err)
		return
	}
	report, err := s.deps.Diagnosis.GenerateDiagnosisReport(ctx, req.PatientID, req.Symptoms, req.LabResults)
	if err != nil {
		s.writeError(c, "diagnosis_report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "report": report})
}

func (s *Server) handleTreatmentPlan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if req.PatientID == "" || strings.TrimSpace(req.Diagnosis) == "" {
		badRequest(c, "患者ID和诊断不能为空")
		return
	}
	if s.deps.Planner == nil {
		unavailable(c, errServiceMissing)
		return
	}

	plan, err := s.deps.Planner.GenerateTreatmentPlan(c.Request.Context(), req.PatientID, req.Diagnosis, req.RiskLevel, req.CurrentMedications)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "未找到患者: " + req.PatientID})
		return
	}
	if err != nil {
		s.writeError(c, "treatment_plan", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "report": service.RenderTreatmentReport(plan)})
}

func (s *Server) handleTreatmentAdjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if req.Plan == nil {
		badRequest(c, "原治疗方案不能为空")
		return
	}
	if !req.Effectiveness.IsValid() {
		badRequest(c, "疗效评价必须为 good、fair 或 poor")
		return
	}
	if s.deps.Planner == nil {
		unavailable(c, errServiceMissing)
		return
	}

	patientID := req.PatientID
	if patientID == "" {
		patientID = req.Plan.PatientID
	}
	plan, err := s.deps.Planner.AdjustTreatmentPlan(patientID, req.Plan, req.TreatmentWeeks, req.CurrentValues, req.Effectiveness)
	if err != nil {
		s.writeError(c, "treatment_adjust", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "report": service.RenderTreatmentReport(plan)})
}

func (s *Server) handleAnnotate(c *gin.Context) {
	var req AnnotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "文本不能为空")
		return
	}
	if s.deps.Evidence == nil {
		unavailable(c, errServiceMissing)
		return
	}

	annotator := s.deps.Evidence.Annotator()
	guideline := req.Guideline
	if guideline == "" {
		guideline = annotator.DefaultGuideline()
	}
	annotated, level := annotator.Annotate(req.Text, guideline)
	c.JSON(http.StatusOK, gin.H{
		"annotated_text":       annotated,
		"evidence_level":       level,
		"evidence_description": annotator.Description(level),
		"guideline":            guideline,
	})
}

func (s *Server) handleRecommendation(c *gin.Context) {
	var req service.RecommendationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(c, "建议内容不能为空")
		return
	}
	if s.deps.Evidence == nil {
		unavailable(c, errServiceMissing)
		return
	}

	rec := s.deps.Evidence.CreateRecommendation(req)
	c.JSON(http.StatusOK, gin.H{"recommendation": rec, "formatted": service.FormatRecommendation(rec)})
}

func (s *Server) handleSafetyCheck(c *gin.Context) {
	var req SafetyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(c, "内容不能为空")
		return
	}
	if s.deps.Safety == nil {
		unavailable(c, errServiceMissing)
		return
	}

	c.JSON(http.StatusOK, s.deps.Safety.ComprehensiveCheck(req.Content, req.PatientContext, req.Medication))
}
