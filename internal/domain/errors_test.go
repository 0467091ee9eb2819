package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrCodeInvalidInput,
			message:   "问题不能为空",
			details:   "question field is blank",
			requestID: "req-123",
		},
		{
			name:      "Database error",
			code:      ErrCodeDatabase,
			message:   "Database connection failed",
			details:   "Unable to connect to PostgreSQL",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("effectiveness", "must be one of good, fair, poor", "excellent")

	expected := "validation error for field 'effectiveness': must be one of good, fair, poor"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
	if !IsValidation(fmt.Errorf("adjust plan: %w", err)) {
		t.Error("wrapped ValidationError should be reported as validation")
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"empty question", ErrEmptyQuestion, true},
		{"invalid dimension", fmt.Errorf("stats: %w", ErrInvalidDimension), true},
		{"not found", ErrNotFound, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("patient %s", "1001_0_20210730")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err.Error() != "patient 1001_0_20210730: not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestMissingColumnsError(t *testing.T) {
	err := &MissingColumnsError{Source: "糖尿病病例统计.xlsx", Columns: []string{"年龄 (years)", "身高 (m)"}}

	var target *MissingColumnsError
	if !errors.As(fmt.Errorf("read: %w", err), &target) {
		t.Fatal("errors.As should find MissingColumnsError")
	}
	if len(target.Columns) != 2 {
		t.Errorf("expected 2 columns, got %d", len(target.Columns))
	}
}
