package domain

import (
	"strconv"
	"time"
)

// Patient is a row of patient_info. Nullable clinical attributes are pointers
// so callers must handle the absent case explicitly.
type Patient struct {
	PatientID string    `json:"patient_id"`
	Name      string    `json:"name"`
	Gender    string    `json:"gender"`
	Age       *int      `json:"age"`
	Height    *float64  `json:"height"`
	Weight    *float64  `json:"weight"`
	BMI       *float64  `json:"bmi"`
	CreatedAt time.Time `json:"created_at"`
}

// AgeOr returns the age or def when it is unknown.
func (p *Patient) AgeOr(def int) int {
	if p == nil || p.Age == nil {
		return def
	}
	return *p.Age
}

// BMIOr returns the BMI or def when it is unknown.
func (p *Patient) BMIOr(def float64) float64 {
	if p == nil || p.BMI == nil {
		return def
	}
	return *p.BMI
}

// MedicalRecord is a visit record.
type MedicalRecord struct {
	RecordID       int64     `json:"record_id"`
	PatientID      string    `json:"patient_id"`
	VisitDate      time.Time `json:"visit_date"`
	Department     string    `json:"department"`
	ChiefComplaint string    `json:"chief_complaint"`
	PresentIllness string    `json:"present_illness"`
	Diagnosis      string    `json:"diagnosis"`
	TreatmentPlan  string    `json:"treatment_plan"`
}

// LabResult is a stored laboratory test result.
type LabResult struct {
	ResultID       int64     `json:"result_id"`
	PatientID      string    `json:"patient_id"`
	RecordID       *int64    `json:"record_id,omitempty"`
	TestDate       time.Time `json:"test_date"`
	TestType       string    `json:"test_type"`
	TestItem       string    `json:"test_item"`
	ResultValue    string    `json:"result_value"`
	Unit           string    `json:"unit"`
	ReferenceRange string    `json:"reference_range"`
	IsAbnormal     bool      `json:"is_abnormal"`
}

// Medication is a row of medication_records.
type Medication struct {
	MedicationID   int64     `json:"medication_id"`
	PatientID      string    `json:"patient_id"`
	DrugName       string    `json:"drug_name"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	MedicationDate time.Time `json:"medication_date"`
}

// DiagnosisRecord is a historical diagnosis.
type DiagnosisRecord struct {
	DiagnosisID   int64     `json:"diagnosis_id"`
	PatientID     string    `json:"patient_id"`
	DiagnosisName string    `json:"diagnosis_name"`
	DiagnosisType string    `json:"diagnosis_type"`
	DiagnosisDate time.Time `json:"diagnosis_date"`
}

// DiabetesAssessment is a row of diabetes_control_assessment.
type DiabetesAssessment struct {
	AssessmentID        int64     `json:"assessment_id"`
	PatientID           string    `json:"patient_id"`
	AssessmentDate      time.Time `json:"assessment_date"`
	FastingGlucose      *float64  `json:"fasting_glucose"`
	PostprandialGlucose *float64  `json:"postprandial_glucose"`
	HbA1c               *float64  `json:"hba1c"`
	ControlStatus       string    `json:"control_status"`
}

// HypertensionAssessment is a row of hypertension_risk_assessment.
type HypertensionAssessment struct {
	AssessmentID   int64     `json:"assessment_id"`
	PatientID      string    `json:"patient_id"`
	AssessmentDate time.Time `json:"assessment_date"`
	SystolicBP     *int      `json:"systolic_bp"`
	DiastolicBP    *int      `json:"diastolic_bp"`
	RiskLevel      string    `json:"risk_level"`
}

// GuidelineRecommendation is an active row of guideline_recommendations.
type GuidelineRecommendation struct {
	RecommendationID    int64     `json:"recommendation_id"`
	DiseaseType         string    `json:"disease_type"`
	Content             string    `json:"recommendation_content"`
	RecommendationLevel string    `json:"recommendation_level"`
	GuidelineSource     string    `json:"guideline_source"`
	IsActive            bool      `json:"is_active"`
	UpdateDate          time.Time `json:"update_date"`
}

// ComprehensiveData aggregates everything known about a patient.
type ComprehensiveData struct {
	PatientInfo            *Patient                 `json:"patient_info"`
	MedicalRecords         []MedicalRecord          `json:"medical_records"`
	LabResults             []LabResult              `json:"lab_results"`
	Medications            []Medication             `json:"medications"`
	Diagnoses              []DiagnosisRecord        `json:"diagnoses"`
	DiabetesAssessment     []DiabetesAssessment     `json:"diabetes_assessment"`
	HypertensionAssessment []HypertensionAssessment `json:"hypertension_assessment"`
}

// Limits applied when assembling ComprehensiveData.
const (
	ComprehensiveRecordLimit       = 5
	ComprehensiveLabLimit          = 10
	ComprehensiveMedicationLimit   = 10
	ComprehensiveDiagnosisLimit    = 5
	ComprehensiveAssessmentLimit   = 3
	DiagnosisHistoryLimit          = 10
	DefaultGuidelineSearchLimit    = 10
	DefaultPatientMedicationsLimit = 10
)

// HasDiagnosis reports whether any historical diagnosis mentions code.
func (d *ComprehensiveData) HasDiagnosis(code DiagnosisCode) bool {
	if d == nil {
		return false
	}
	for _, rec := range d.Diagnoses {
		if HasDiagnosis(ParseDiagnosisCodes(rec.DiagnosisName), code) {
			return true
		}
	}
	return false
}

// LatestHbA1c returns the most recent HbA1c reading, if any.
func (d *ComprehensiveData) LatestHbA1c() (float64, bool) {
	if d == nil || len(d.DiabetesAssessment) == 0 || d.DiabetesAssessment[0].HbA1c == nil {
		return 0, false
	}
	return *d.DiabetesAssessment[0].HbA1c, true
}

// FormatFloat renders an optional float the way reports print it, "N/A" when absent.
func FormatFloat(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// FormatInt renders an optional int, "N/A" when absent.
func FormatInt(v *int) string {
	if v == nil {
		return "N/A"
	}
	return strconv.Itoa(*v)
}
