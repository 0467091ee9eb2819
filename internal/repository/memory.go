package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/medical-decision-assistant/internal/domain"
)

// Dataset is the JSON fixture format accepted by MemoryPatientStore.
type Dataset struct {
	Patients                []domain.Patient                 `json:"patients"`
	MedicalRecords          []domain.MedicalRecord           `json:"medical_records"`
	LabResults              []domain.LabResult               `json:"lab_results"`
	Medications             []domain.Medication              `json:"medications"`
	Diagnoses               []domain.DiagnosisRecord         `json:"diagnoses"`
	DiabetesAssessments     []domain.DiabetesAssessment      `json:"diabetes_assessments"`
	HypertensionAssessments []domain.HypertensionAssessment  `json:"hypertension_assessments"`
	Guidelines              []domain.GuidelineRecommendation `json:"guidelines"`
}

// MemoryPatientStore serves patient records from memory. The lite MCP server
// uses it with a JSON fixture file when no database is configured.
type MemoryPatientStore struct {
	mu   sync.RWMutex
	data Dataset
}

var _ domain.PatientRepository = (*MemoryPatientStore)(nil)

// NewMemoryPatientStore creates a store over ds.
func NewMemoryPatientStore(ds Dataset) *MemoryPatientStore {
	return &MemoryPatientStore{data: ds}
}

// LoadMemoryPatientStore reads a Dataset from a JSON file.
func LoadMemoryPatientStore(path string) (*MemoryPatientStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patient fixtures: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse patient fixtures: %w", err)
	}
	return NewMemoryPatientStore(ds), nil
}

func (s *MemoryPatientStore) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.data.Patients {
		if s.data.Patients[i].PatientID == patientID {
			p := s.data.Patients[i]
			return &p, nil
		}
	}
	return nil, domain.NotFoundf("patient %s", patientID)
}

func (s *MemoryPatientStore) GetMedicalRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.MedicalRecords, patientID, func(r domain.MedicalRecord) (string, time.Time) {
		return r.PatientID, r.VisitDate
	})
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetLabResults(ctx context.Context, patientID, testType string, limit int) ([]domain.LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.LabResults, patientID, func(r domain.LabResult) (string, time.Time) {
		return r.PatientID, r.TestDate
	})
	if testType != "" {
		filtered := out[:0]
		for _, r := range out {
			if r.TestType == testType {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetAbnormalLabResults(ctx context.Context, patientID string, limit int) ([]domain.LabResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.LabResults, patientID, func(r domain.LabResult) (string, time.Time) {
		return r.PatientID, r.TestDate
	})
	filtered := out[:0]
	for _, r := range out {
		if r.IsAbnormal {
			filtered = append(filtered, r)
		}
	}
	return truncate(filtered, limit), nil
}

func (s *MemoryPatientStore) GetMedications(ctx context.Context, patientID string, limit int) ([]domain.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.Medications, patientID, func(r domain.Medication) (string, time.Time) {
		return r.PatientID, r.MedicationDate
	})
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetDiagnoses(ctx context.Context, patientID string, limit int) ([]domain.DiagnosisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.Diagnoses, patientID, func(r domain.DiagnosisRecord) (string, time.Time) {
		return r.PatientID, r.DiagnosisDate
	})
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetDiabetesAssessments(ctx context.Context, patientID string, limit int) ([]domain.DiabetesAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.DiabetesAssessments, patientID, func(r domain.DiabetesAssessment) (string, time.Time) {
		return r.PatientID, r.AssessmentDate
	})
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetHypertensionAssessments(ctx context.Context, patientID string, limit int) ([]domain.HypertensionAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := filterByPatient(s.data.HypertensionAssessments, patientID, func(r domain.HypertensionAssessment) (string, time.Time) {
		return r.PatientID, r.AssessmentDate
	})
	return truncate(out, limit), nil
}

func (s *MemoryPatientStore) GetComprehensiveData(ctx context.Context, patientID string) (*domain.ComprehensiveData, error) {
	return AssembleComprehensiveData(ctx, s, patientID)
}

func (s *MemoryPatientStore) SearchGuidelineRecommendations(ctx context.Context, diseaseType, level string, limit int) ([]domain.GuidelineRecommendation, error) {
	if limit <= 0 {
		limit = domain.DefaultGuidelineSearchLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.GuidelineRecommendation
	for _, g := range s.data.Guidelines {
		if !g.IsActive {
			continue
		}
		if diseaseType != "" && g.DiseaseType != diseaseType {
			continue
		}
		if level != "" && g.RecommendationLevel != level {
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdateDate.After(out[j].UpdateDate)
	})
	return truncate(out, limit), nil
}

// filterByPatient copies the rows of patientID, newest first.
func filterByPatient[T any](rows []T, patientID string, key func(T) (string, time.Time)) []T {
	var out []T
	for _, r := range rows {
		if id, _ := key(r); id == patientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		_, ti := key(out[i])
		_, tj := key(out[j])
		return ti.After(tj)
	})
	return out
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
