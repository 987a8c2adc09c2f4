package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestStudyError_Error(t *testing.T) {
	err := &StudyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("no files staged")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", err.Kind, KindValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "no files staged" {
		t.Errorf("Message = %q, want %q", err.Message, "no files staged")
	}
}

func TestNewAuthorizationRequired(t *testing.T) {
	err := NewAuthorizationRequired("export", "https://example.test/login")

	if err.Code != ErrAuthorizationRequired {
		t.Errorf("Code = %q, want %q", err.Code, ErrAuthorizationRequired)
	}
	if err.Kind != KindAuthorization {
		t.Errorf("Kind = %q, want %q", err.Kind, KindAuthorization)
	}
	if err.Status != 401 {
		t.Errorf("Status = %d, want 401", err.Status)
	}
	if err.RedirectURL() != "https://example.test/login" {
		t.Errorf("RedirectURL() = %q", err.RedirectURL())
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("abc")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Details["identifier"] != "abc" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "abc")
	}
}

func TestTransientConstructors(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	tests := []struct {
		name string
		err  *StudyError
		code ErrorCode
	}{
		{"extraction", NewExtractionFailed(cause), ErrExtractionFailed},
		{"summarization", NewSummarizationFailed(cause), ErrSummarizationFailed},
		{"save", NewSaveFailed(cause), ErrSaveFailed},
		{"delete", NewDeleteFailed(cause), ErrDeleteFailed},
		{"history load", NewHistoryLoadFailed(cause), ErrHistoryLoadFailed},
		{"download", NewDownloadFailed(cause), ErrDownloadFailed},
		{"export", NewExportFailed(cause, "/login"), ErrExportFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Kind != KindTransient {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, KindTransient)
			}
			if tt.err.Status != 502 {
				t.Errorf("Status = %d, want 502", tt.err.Status)
			}
			if !stderrors.Is(tt.err, cause) {
				t.Error("cause should be reachable via errors.Is")
			}
		})
	}
}

func TestNewExportFailed_CarriesRedirect(t *testing.T) {
	err := NewExportFailed(nil, "https://example.test/login")
	if err.RedirectURL() != "https://example.test/login" {
		t.Errorf("RedirectURL() = %q", err.RedirectURL())
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("disk full"))
	if err.Message != "disk full" {
		t.Errorf("Message = %q, want %q", err.Message, "disk full")
	}

	err = NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewValidation("x")
	if !Is(err, ErrValidation) {
		t.Error("Is should match direct StudyError")
	}

	wrapped := fmt.Errorf("while extracting: %w", err)
	if !Is(wrapped, ErrValidation) {
		t.Error("Is should match wrapped StudyError")
	}

	if Is(wrapped, ErrNotFound) {
		t.Error("Is should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrValidation) {
		t.Error("Is should not match a plain error")
	}
	if Is(nil, ErrValidation) {
		t.Error("Is should not match nil")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(NewValidation("x")) != KindValidation {
		t.Error("validation kind")
	}
	if KindOf(NewSummarizationFailed(nil)) != KindTransient {
		t.Error("transient kind")
	}
	if KindOf(fmt.Errorf("plain")) != KindInternal {
		t.Error("plain errors are internal")
	}
}

func TestRedirectURL_NoDetails(t *testing.T) {
	if got := NewValidation("x").RedirectURL(); got != "" {
		t.Errorf("RedirectURL() = %q, want empty", got)
	}
}
