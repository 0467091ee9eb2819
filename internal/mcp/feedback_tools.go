package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/feedback"
)

const (
	defaultFeedbackLimit = 20
	maxFeedbackLimit     = 100
)

var errFeedbackDisabled = errors.New("feedback storage is not configured")

// SubmitFeedbackArgs are the arguments of submit_feedback.
type SubmitFeedbackArgs struct {
	PatientID          string `json:"patient_id" jsonschema:"patient the diagnosis was suggested for"`
	Symptoms           string `json:"symptoms,omitempty" jsonschema:"presenting symptoms"`
	SuggestedDiagnosis string `json:"suggested_diagnosis" jsonschema:"assistant's top candidate"`
	ClinicianDiagnosis string `json:"clinician_diagnosis,omitempty" jsonschema:"clinician's diagnosis; empty means agreement"`
	EvidenceSummary    string `json:"evidence_summary,omitempty" jsonschema:"evidence shown to the clinician"`
	Notes              string `json:"notes,omitempty" jsonschema:"free-text notes"`
}

// QueryFeedbackArgs are the arguments of query_feedback.
type QueryFeedbackArgs struct {
	PatientID          string `json:"patient_id" jsonschema:"patient ID"`
	SuggestedDiagnosis string `json:"suggested_diagnosis" jsonschema:"suggested diagnosis to look up"`
}

// ListFeedbackArgs are the arguments of list_feedback.
type ListFeedbackArgs struct {
	Limit  int `json:"limit,omitempty" jsonschema:"page size, at most 100"`
	Offset int `json:"offset,omitempty" jsonschema:"entries to skip"`
}

// ExportFeedbackArgs are the arguments of export_feedback.
type ExportFeedbackArgs struct{}

// ImportFeedbackArgs are the arguments of import_feedback.
type ImportFeedbackArgs struct {
	FilePath string `json:"file_path" jsonschema:"path of a JSON file written by export_feedback"`
}

func (s *Server) submitFeedback(ctx context.Context, args SubmitFeedbackArgs) (string, error) {
	if s.services.Feedback == nil {
		return "", errFeedbackDisabled
	}

	clinician := strings.TrimSpace(args.ClinicianDiagnosis)
	suggested := strings.TrimSpace(args.SuggestedDiagnosis)
	fb := &feedback.Feedback{
		PatientID:          args.PatientID,
		Symptoms:           args.Symptoms,
		SuggestedDiagnosis: suggested,
		ClinicianDiagnosis: clinician,
		Agreed:             clinician == "" || clinician == suggested,
		EvidenceSummary:    args.EvidenceSummary,
		Notes:              args.Notes,
	}
	if err := fb.Validate(); err != nil {
		return "", err
	}

	if err := s.services.Feedback.Save(ctx, fb); err != nil {
		s.logger.WithError(err).Error("Failed to save feedback")
		return "", fmt.Errorf("failed to save feedback: %w", err)
	}

	msg := "Feedback saved: clinician agreed with the suggested diagnosis"
	if !fb.Agreed {
		msg = fmt.Sprintf("Feedback saved: diagnosis corrected from %s to %s", fb.SuggestedDiagnosis, fb.ClinicianDiagnosis)
	}
	s.logger.WithFields(logrus.Fields{
		"patient_id": fb.PatientID,
		"agreed":     fb.Agreed,
	}).Info("Feedback submitted")

	return toJSON(map[string]interface{}{"message": msg, "feedback": fb})
}

func (s *Server) queryFeedback(ctx context.Context, args QueryFeedbackArgs) (string, error) {
	if err := required("suggested_diagnosis", args.SuggestedDiagnosis); err != nil {
		return "", err
	}
	if s.services.Feedback == nil {
		return "", errFeedbackDisabled
	}

	fb, err := s.services.Feedback.Get(ctx, strings.TrimSpace(args.PatientID), strings.TrimSpace(args.SuggestedDiagnosis))
	if err != nil {
		return "", fmt.Errorf("failed to query feedback: %w", err)
	}
	if fb == nil {
		return "No previous feedback for this patient and diagnosis", nil
	}
	return toJSON(fb)
}

func (s *Server) listFeedback(ctx context.Context, args ListFeedbackArgs) (string, error) {
	if s.services.Feedback == nil {
		return "", errFeedbackDisabled
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultFeedbackLimit
	}
	if limit > maxFeedbackLimit {
		limit = maxFeedbackLimit
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}

	entries, err := s.services.Feedback.List(ctx, limit, offset)
	if err != nil {
		return "", fmt.Errorf("failed to list feedback: %w", err)
	}
	total, err := s.services.Feedback.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to count feedback: %w", err)
	}
	if entries == nil {
		entries = []*feedback.Feedback{}
	}

	return toJSON(map[string]interface{}{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"summary":  feedback.Summarize(entries),
		"feedback": entries,
	})
}

func (s *Server) exportFeedback(ctx context.Context, _ ExportFeedbackArgs) (string, error) {
	if s.services.Feedback == nil {
		return "", errFeedbackDisabled
	}
	if s.exportDir == "" {
		return "", domain.NewValidationError("export_dir", "no export directory configured", nil)
	}
	if err := os.MkdirAll(s.exportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	filename := fmt.Sprintf("feedback_export_%s.json", time.Now().Format("20060102_150405"))
	filePath := filepath.Join(s.exportDir, filename)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	if err := s.services.Feedback.ExportJSON(ctx, file); err != nil {
		s.logger.WithError(err).Error("Failed to export feedback")
		return "", fmt.Errorf("failed to export feedback: %w", err)
	}

	count, _ := s.services.Feedback.Count(ctx)
	return fmt.Sprintf("Exported %d feedback entries to %s", count, filePath), nil
}

func (s *Server) importFeedback(ctx context.Context, args ImportFeedbackArgs) (string, error) {
	if err := required("file_path", args.FilePath); err != nil {
		return "", err
	}
	if s.services.Feedback == nil {
		return "", errFeedbackDisabled
	}

	file, err := os.Open(args.FilePath)
	if err != nil {
		return "", domain.NewValidationError("file_path", "cannot open file: "+err.Error(), args.FilePath)
	}
	defer file.Close()

	imported, skipped, err := s.services.Feedback.ImportJSON(ctx, file)
	if err != nil {
		s.logger.WithError(err).Error("Failed to import feedback")
		return "", fmt.Errorf("failed to import feedback: %w", err)
	}
	return fmt.Sprintf("Imported %d entries, skipped %d duplicates", imported, skipped), nil
}
