package service

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/medical-decision-assistant/internal/domain"
)

// MockPatientRepository is a mock implementation of domain.PatientRepository
type MockPatientRepository struct {
	mock.Mock
}

func (m *MockPatientRepository) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Patient), args.Error(1)
}

func (m *MockPatientRepository) GetMedicalRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MedicalRecord), args.Error(1)
}

func (m *MockPatientRepository) GetLabResults(ctx context.Context, patientID, testType string, limit int) ([]domain.LabResult, error) {
	args := m.Called(ctx, patientID, testType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LabResult), args.Error(1)
}

func (m *MockPatientRepository) GetAbnormalLabResults(ctx context.Context, patientID string, limit int) ([]domain.LabResult, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LabResult), args.Error(1)
}

func (m *MockPatientRepository) GetMedications(ctx context.Context, patientID string, limit int) ([]domain.Medication, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Medication), args.Error(1)
}

func (m *MockPatientRepository) GetDiagnoses(ctx context.Context, patientID string, limit int) ([]domain.DiagnosisRecord, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiagnosisRecord), args.Error(1)
}

func (m *MockPatientRepository) GetDiabetesAssessments(ctx context.Context, patientID string, limit int) ([]domain.DiabetesAssessment, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DiabetesAssessment), args.Error(1)
}

func (m *MockPatientRepository) GetHypertensionAssessments(ctx context.Context, patientID string, limit int) ([]domain.HypertensionAssessment, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.HypertensionAssessment), args.Error(1)
}

func (m *MockPatientRepository) GetComprehensiveData(ctx context.Context, patientID string) (*domain.ComprehensiveData, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ComprehensiveData), args.Error(1)
}

func (m *MockPatientRepository) SearchGuidelineRecommendations(ctx context.Context, diseaseType, level string, limit int) ([]domain.GuidelineRecommendation, error) {
	args := m.Called(ctx, diseaseType, level, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GuidelineRecommendation), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
