package domain

import (
	"context"
)

// PatientRepository provides read-only access to the patient record tables.
// Lookups of a single patient return ErrNotFound when the patient does not exist.
type PatientRepository interface {
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	GetMedicalRecords(ctx context.Context, patientID string, limit int) ([]MedicalRecord, error)
	GetLabResults(ctx context.Context, patientID, testType string, limit int) ([]LabResult, error)
	GetAbnormalLabResults(ctx context.Context, patientID string, limit int) ([]LabResult, error)
	GetMedications(ctx context.Context, patientID string, limit int) ([]Medication, error)
	GetDiagnoses(ctx context.Context, patientID string, limit int) ([]DiagnosisRecord, error)
	GetDiabetesAssessments(ctx context.Context, patientID string, limit int) ([]DiabetesAssessment, error)
	GetHypertensionAssessments(ctx context.Context, patientID string, limit int) ([]HypertensionAssessment, error)
	GetComprehensiveData(ctx context.Context, patientID string) (*ComprehensiveData, error)
	SearchGuidelineRecommendations(ctx context.Context, diseaseType, level string, limit int) ([]GuidelineRecommendation, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Validate() error
}
