package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
)

// PatientRepository is the read-only PostgreSQL store over the patient tables.
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

var _ domain.PatientRepository = (*PatientRepository)(nil)

// GetPatient retrieves a patient by ID.
func (r *PatientRepository) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	query := `
		SELECT patient_id, name, gender, age, height::float8, weight::float8, bmi::float8, created_at
		FROM patient_info
		WHERE patient_id = $1`

	var p domain.Patient
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&p.PatientID,
		&p.Name,
		&p.Gender,
		&p.Age,
		&p.Height,
		&p.Weight,
		&p.BMI,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("patient %s", patientID)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get patient")
		return nil, fmt.Errorf("getting patient: %w", err)
	}

	return &p, nil
}

// GetMedicalRecords returns the most recent visit records.
func (r *PatientRepository) GetMedicalRecords(ctx context.Context, patientID string, limit int) ([]domain.MedicalRecord, error) {
	query := `
		SELECT record_id, patient_id, visit_date, department, chief_complaint,
			   present_illness, diagnosis, treatment_plan
		FROM medical_records
		WHERE patient_id = $1
		ORDER BY visit_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("medical records", patientID, err)
	}
	defer rows.Close()

	var records []domain.MedicalRecord
	for rows.Next() {
		var rec domain.MedicalRecord
		if err := rows.Scan(
			&rec.RecordID,
			&rec.PatientID,
			&rec.VisitDate,
			&rec.Department,
			&rec.ChiefComplaint,
			&rec.PresentIllness,
			&rec.Diagnosis,
			&rec.TreatmentPlan,
		); err != nil {
			return nil, fmt.Errorf("scanning medical record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const labColumns = `result_id, patient_id, record_id, test_date, test_type, test_item,
			   result_value, unit, reference_range, is_abnormal`

// GetLabResults returns the most recent lab results, optionally restricted to a test type.
func (r *PatientRepository) GetLabResults(ctx context.Context, patientID, testType string, limit int) ([]domain.LabResult, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if testType != "" {
		rows, err = r.db.Query(ctx, `
		SELECT `+labColumns+`
		FROM lab_results
		WHERE patient_id = $1 AND test_type = $2
		ORDER BY test_date DESC
		LIMIT $3`, patientID, testType, limit)
	} else {
		rows, err = r.db.Query(ctx, `
		SELECT `+labColumns+`
		FROM lab_results
		WHERE patient_id = $1
		ORDER BY test_date DESC
		LIMIT $2`, patientID, limit)
	}
	if err != nil {
		return nil, r.queryFailed("lab results", patientID, err)
	}
	return scanLabResults(rows)
}

// GetAbnormalLabResults returns the most recent abnormal lab results.
func (r *PatientRepository) GetAbnormalLabResults(ctx context.Context, patientID string, limit int) ([]domain.LabResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+labColumns+`
		FROM lab_results
		WHERE patient_id = $1 AND is_abnormal
		ORDER BY test_date DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("abnormal lab results", patientID, err)
	}
	return scanLabResults(rows)
}

func scanLabResults(rows pgx.Rows) ([]domain.LabResult, error) {
	defer rows.Close()

	var results []domain.LabResult
	for rows.Next() {
		var lr domain.LabResult
		if err := rows.Scan(
			&lr.ResultID,
			&lr.PatientID,
			&lr.RecordID,
			&lr.TestDate,
			&lr.TestType,
			&lr.TestItem,
			&lr.ResultValue,
			&lr.Unit,
			&lr.ReferenceRange,
			&lr.IsAbnormal,
		); err != nil {
			return nil, fmt.Errorf("scanning lab result row: %w", err)
		}
		results = append(results, lr)
	}
	return results, rows.Err()
}

// GetMedications returns the most recent medication records.
func (r *PatientRepository) GetMedications(ctx context.Context, patientID string, limit int) ([]domain.Medication, error) {
	query := `
		SELECT medication_id, patient_id, drug_name, dosage, frequency, medication_date
		FROM medication_records
		WHERE patient_id = $1
		ORDER BY medication_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("medications", patientID, err)
	}
	defer rows.Close()

	var meds []domain.Medication
	for rows.Next() {
		var m domain.Medication
		if err := rows.Scan(&m.MedicationID, &m.PatientID, &m.DrugName, &m.Dosage, &m.Frequency, &m.MedicationDate); err != nil {
			return nil, fmt.Errorf("scanning medication row: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// GetDiagnoses returns the most recent diagnoses.
func (r *PatientRepository) GetDiagnoses(ctx context.Context, patientID string, limit int) ([]domain.DiagnosisRecord, error) {
	query := `
		SELECT diagnosis_id, patient_id, diagnosis_name, diagnosis_type, diagnosis_date
		FROM diagnosis_records
		WHERE patient_id = $1
		ORDER BY diagnosis_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("diagnoses", patientID, err)
	}
	defer rows.Close()

	var diagnoses []domain.DiagnosisRecord
	for rows.Next() {
		var d domain.DiagnosisRecord
		if err := rows.Scan(&d.DiagnosisID, &d.PatientID, &d.DiagnosisName, &d.DiagnosisType, &d.DiagnosisDate); err != nil {
			return nil, fmt.Errorf("scanning diagnosis row: %w", err)
		}
		diagnoses = append(diagnoses, d)
	}
	return diagnoses, rows.Err()
}

// GetDiabetesAssessments returns the most recent diabetes control assessments.
func (r *PatientRepository) GetDiabetesAssessments(ctx context.Context, patientID string, limit int) ([]domain.DiabetesAssessment, error) {
	query := `
		SELECT assessment_id, patient_id, assessment_date, fasting_glucose::float8,
			   postprandial_glucose::float8, hba1c::float8, control_status
		FROM diabetes_control_assessment
		WHERE patient_id = $1
		ORDER BY assessment_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("diabetes assessments", patientID, err)
	}
	defer rows.Close()

	var out []domain.DiabetesAssessment
	for rows.Next() {
		var a domain.DiabetesAssessment
		if err := rows.Scan(
			&a.AssessmentID,
			&a.PatientID,
			&a.AssessmentDate,
			&a.FastingGlucose,
			&a.PostprandialGlucose,
			&a.HbA1c,
			&a.ControlStatus,
		); err != nil {
			return nil, fmt.Errorf("scanning diabetes assessment row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetHypertensionAssessments returns the most recent hypertension risk assessments.
func (r *PatientRepository) GetHypertensionAssessments(ctx context.Context, patientID string, limit int) ([]domain.HypertensionAssessment, error) {
	query := `
		SELECT assessment_id, patient_id, assessment_date, systolic_bp, diastolic_bp, risk_level
		FROM hypertension_risk_assessment
		WHERE patient_id = $1
		ORDER BY assessment_date DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, r.queryFailed("hypertension assessments", patientID, err)
	}
	defer rows.Close()

	var out []domain.HypertensionAssessment
	for rows.Next() {
		var a domain.HypertensionAssessment
		if err := rows.Scan(&a.AssessmentID, &a.PatientID, &a.AssessmentDate, &a.SystolicBP, &a.DiastolicBP, &a.RiskLevel); err != nil {
			return nil, fmt.Errorf("scanning hypertension assessment row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetComprehensiveData aggregates every record kind for a patient. A missing
// patient yields a nil PatientInfo rather than an error.
func (r *PatientRepository) GetComprehensiveData(ctx context.Context, patientID string) (*domain.ComprehensiveData, error) {
	r.log.WithField("patient_id", patientID).Info("Fetching comprehensive patient data")
	return AssembleComprehensiveData(ctx, r, patientID)
}

// SearchGuidelineRecommendations returns active guideline recommendations,
// optionally filtered by disease type and recommendation level.
func (r *PatientRepository) SearchGuidelineRecommendations(ctx context.Context, diseaseType, level string, limit int) ([]domain.GuidelineRecommendation, error) {
	if limit <= 0 {
		limit = domain.DefaultGuidelineSearchLimit
	}

	query := `
		SELECT recommendation_id, disease_type, recommendation_content, recommendation_level,
			   guideline_source, is_active, update_date
		FROM guideline_recommendations
		WHERE is_active
		  AND ($1 = '' OR disease_type = $1)
		  AND ($2 = '' OR recommendation_level = $2)
		ORDER BY update_date DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, diseaseType, level, limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"disease_type": diseaseType,
			"level":        level,
			"error":        err,
		}).Error("Failed to search guideline recommendations")
		return nil, fmt.Errorf("searching guideline recommendations: %w", err)
	}
	defer rows.Close()

	var out []domain.GuidelineRecommendation
	for rows.Next() {
		var g domain.GuidelineRecommendation
		if err := rows.Scan(
			&g.RecommendationID,
			&g.DiseaseType,
			&g.Content,
			&g.RecommendationLevel,
			&g.GuidelineSource,
			&g.IsActive,
			&g.UpdateDate,
		); err != nil {
			return nil, fmt.Errorf("scanning guideline recommendation row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PatientRepository) queryFailed(what, patientID string, err error) error {
	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"error":      err,
	}).Errorf("Failed to query %s", what)
	return fmt.Errorf("querying %s: %w", what, err)
}

// AssembleComprehensiveData builds the aggregate view from the individual
// queries of repo, applying the standard per-section limits.
func AssembleComprehensiveData(ctx context.Context, repo domain.PatientRepository, patientID string) (*domain.ComprehensiveData, error) {
	data := &domain.ComprehensiveData{}

	patient, err := repo.GetPatient(ctx, patientID)
	switch {
	case err == nil:
		data.PatientInfo = patient
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	if data.MedicalRecords, err = repo.GetMedicalRecords(ctx, patientID, domain.ComprehensiveRecordLimit); err != nil {
		return nil, err
	}
	if data.LabResults, err = repo.GetLabResults(ctx, patientID, "", domain.ComprehensiveLabLimit); err != nil {
		return nil, err
	}
	if data.Medications, err = repo.GetMedications(ctx, patientID, domain.ComprehensiveMedicationLimit); err != nil {
		return nil, err
	}
	if data.Diagnoses, err = repo.GetDiagnoses(ctx, patientID, domain.ComprehensiveDiagnosisLimit); err != nil {
		return nil, err
	}
	if data.DiabetesAssessment, err = repo.GetDiabetesAssessments(ctx, patientID, domain.ComprehensiveAssessmentLimit); err != nil {
		return nil, err
	}
	if data.HypertensionAssessment, err = repo.GetHypertensionAssessments(ctx, patientID, domain.ComprehensiveAssessmentLimit); err != nil {
		return nil, err
	}

	return data, nil
}
