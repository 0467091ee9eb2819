// Package feedback stores clinician feedback on suggested diagnoses.
// Clinicians confirm or correct the assistant's top candidate; the record is
// kept per patient and suggested diagnosis.
package feedback

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/medical-decision-assistant/internal/domain"
)

// ExportVersion is written into every JSON export.
const ExportVersion = "1.0"

// Feedback represents a clinician's verdict on a suggested diagnosis.
type Feedback struct {
	ID                 int64     `json:"id,omitempty"`
	PatientID          string    `json:"patient_id"`
	Symptoms           string    `json:"symptoms,omitempty"`         // Presenting symptoms
	SuggestedDiagnosis string    `json:"suggested_diagnosis"`        // System's top candidate
	ClinicianDiagnosis string    `json:"clinician_diagnosis"`        // Clinician's decision
	Agreed             bool      `json:"agreed"`                     // Did the clinician agree?
	EvidenceSummary    string    `json:"evidence_summary,omitempty"` // Evidence shown
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks required fields. An empty clinician diagnosis on an agreed
// record is filled with the suggestion.
func (f *Feedback) Validate() error {
	f.PatientID = strings.TrimSpace(f.PatientID)
	f.SuggestedDiagnosis = strings.TrimSpace(f.SuggestedDiagnosis)
	f.ClinicianDiagnosis = strings.TrimSpace(f.ClinicianDiagnosis)

	if f.SuggestedDiagnosis == "" {
		return domain.NewValidationError("suggested_diagnosis", "suggested diagnosis is required", nil)
	}
	if f.ClinicianDiagnosis == "" {
		if !f.Agreed {
			return domain.NewValidationError("clinician_diagnosis", "clinician diagnosis is required when disagreeing", nil)
		}
		f.ClinicianDiagnosis = f.SuggestedDiagnosis
	}
	return nil
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback. A record with the same
	// patient_id + suggested_diagnosis is updated in place.
	Save(ctx context.Context, feedback *Feedback) error

	// Get returns the feedback for a patient and suggested diagnosis,
	// or nil when there is none.
	Get(ctx context.Context, patientID, suggestedDiagnosis string) (*Feedback, error)

	// List returns feedback entries, newest first.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader. Existing entries are skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}

// Summary aggregates agreement between the assistant and clinicians.
type Summary struct {
	Total         int     `json:"total"`
	Agreed        int     `json:"agreed"`
	AgreementRate float64 `json:"agreement_rate"`
}

// Summarize computes agreement over entries.
func Summarize(entries []*Feedback) Summary {
	s := Summary{Total: len(entries)}
	for _, fb := range entries {
		if fb.Agreed {
			s.Agreed++
		}
	}
	if s.Total > 0 {
		s.AgreementRate = float64(s.Agreed) / float64(s.Total)
	}
	return s
}
