package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a StudyBuddy error code.
type ErrorCode string

const (
	ErrValidation            ErrorCode = "VALIDATION"             // 400
	ErrAuthorizationRequired ErrorCode = "AUTHORIZATION_REQUIRED" // 401
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrFileNotFound          ErrorCode = "FILE_NOT_FOUND"         // 404
	ErrExtractionFailed      ErrorCode = "EXTRACTION_FAILED"      // 502
	ErrSummarizationFailed   ErrorCode = "SUMMARIZATION_FAILED"   // 502
	ErrSaveFailed            ErrorCode = "SAVE_FAILED"            // 502
	ErrDeleteFailed          ErrorCode = "DELETE_FAILED"          // 502
	ErrHistoryLoadFailed     ErrorCode = "HISTORY_LOAD_FAILED"    // 502
	ErrDownloadFailed        ErrorCode = "DOWNLOAD_FAILED"        // 502
	ErrExportFailed          ErrorCode = "EXPORT_FAILED"          // 502
	ErrInternal              ErrorCode = "INTERNAL"               // 500
)

// Kind groups error codes by how the caller is expected to recover.
type Kind string

const (
	// KindValidation: a local precondition failed. The user corrects input and retries.
	KindValidation Kind = "validation"
	// KindTransient: a remote collaborator failed. The user re-triggers the action.
	KindTransient Kind = "transient"
	// KindAuthorization: the action needs an identity. Remediated by the login redirect.
	KindAuthorization Kind = "authorization"
	// KindInternal: everything else.
	KindInternal Kind = "internal"
)

// StudyError represents a structured error with code, kind, status, and details.
type StudyError struct {
	Code    ErrorCode
	Kind    Kind
	Status  int
	Message string
	Details map[string]any

	// Err is the underlying cause, if any. Not shown to users.
	Err error
}

// Error implements the error interface.
func (e *StudyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StudyError) Unwrap() error {
	return e.Err
}

// RedirectURL returns the authorization redirect attached to the error, if any.
func (e *StudyError) RedirectURL() string {
	if e.Details == nil {
		return ""
	}
	s, _ := e.Details["redirect_url"].(string)
	return s
}

// NewValidation creates a 400 error for an unmet local precondition.
func NewValidation(msg string) *StudyError {
	return &StudyError{
		Code:    ErrValidation,
		Kind:    KindValidation,
		Status:  400,
		Message: msg,
	}
}

// NewAuthorizationRequired creates a 401 error for an action attempted anonymously.
// redirectURL is where the user should be sent to sign in.
func NewAuthorizationRequired(action, redirectURL string) *StudyError {
	return &StudyError{
		Code:    ErrAuthorizationRequired,
		Kind:    KindAuthorization,
		Status:  401,
		Message: fmt.Sprintf("%s requires sign-in", action),
		Details: map[string]any{"action": action, "redirect_url": redirectURL},
	}
}

// NewNotFound creates a 404 error for a missing history entry.
func NewNotFound(identifier string) *StudyError {
	return &StudyError{
		Code:    ErrNotFound,
		Kind:    KindInternal,
		Status:  404,
		Message: fmt.Sprintf("session not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing local file.
func NewFileNotFound(path string) *StudyError {
	return &StudyError{
		Code:    ErrFileNotFound,
		Kind:    KindValidation,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

func newTransient(code ErrorCode, msg string, cause error) *StudyError {
	return &StudyError{
		Code:    code,
		Kind:    KindTransient,
		Status:  502,
		Message: msg,
		Err:     cause,
	}
}

// NewExtractionFailed wraps a failure of the extraction service.
func NewExtractionFailed(cause error) *StudyError {
	return newTransient(ErrExtractionFailed, "failed to extract text", cause)
}

// NewSummarizationFailed wraps a failure of the summarization service.
func NewSummarizationFailed(cause error) *StudyError {
	return newTransient(ErrSummarizationFailed, "failed to summarize", cause)
}

// NewSaveFailed wraps a failure to persist a history entry remotely.
func NewSaveFailed(cause error) *StudyError {
	return newTransient(ErrSaveFailed, "failed to save session", cause)
}

// NewDeleteFailed wraps a failure to delete a history entry remotely.
func NewDeleteFailed(cause error) *StudyError {
	return newTransient(ErrDeleteFailed, "failed to delete session", cause)
}

// NewHistoryLoadFailed wraps a failure to list the remote history.
func NewHistoryLoadFailed(cause error) *StudyError {
	return newTransient(ErrHistoryLoadFailed, "failed to load history", cause)
}

// NewDownloadFailed wraps a failure to produce or write a download artifact.
func NewDownloadFailed(cause error) *StudyError {
	return newTransient(ErrDownloadFailed, "failed to download file", cause)
}

// NewExportFailed wraps a failure of the document export service.
// The redirect is offered as a fallback because the service does not
// distinguish "not authorized" from other failures.
func NewExportFailed(cause error, redirectURL string) *StudyError {
	e := newTransient(ErrExportFailed, "failed to export document", cause)
	e.Details = map[string]any{"redirect_url": redirectURL}
	return e
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StudyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StudyError{
		Code:    ErrInternal,
		Kind:    KindInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// As returns the StudyError in err's chain, if any.
func As(err error) (*StudyError, bool) {
	var sErr *StudyError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}

// Is checks if an error is a StudyError with the given code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := As(err); ok {
		return sErr.Code == code
	}
	return false
}

// KindOf returns the kind of err. Errors that are not StudyErrors are internal.
func KindOf(err error) Kind {
	if sErr, ok := As(err); ok {
		return sErr.Kind
	}
	return KindInternal
}
