// Package api defines the JSON bodies exchanged between the client and the backend.
package api

// Paths of the backend endpoints.
const (
	PathMe            = "/auth/me"
	PathLogout        = "/auth/logout"
	PathLogin         = "/login"
	PathExtract       = "/extract"
	PathSummarize     = "/summarize"
	PathDownload      = "/download"
	PathExport        = "/export"
	PathHistory       = "/history"
	PathHistorySave   = "/history/save"
	PathHistoryDelete = "/history/delete/"
	PathDocs          = "/docs/"
)

// SessionCookie is the name of the backend session cookie.
const SessionCookie = "studybuddy_session"

// ExtractField is the multipart field carrying uploaded files.
const ExtractField = "files"

// MeResponse is returned by GET /auth/me. Email is empty when anonymous.
type MeResponse struct {
	Email string `json:"email"`
}

// ExtractResponse is returned by POST /extract. Exactly one field is set.
type ExtractResponse struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// SummarizeRequest is the body of POST /summarize.
type SummarizeRequest struct {
	Text string `json:"text"`
}

// SummarizeResponse is returned by POST /summarize.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// DownloadRequest is the body of POST /download.
type DownloadRequest struct {
	Extracted string `json:"extracted"`
	Summary   string `json:"summary"`
	Format    string `json:"format"`
}

// ExportRequest is the body of POST /export.
type ExportRequest struct {
	Extracted string `json:"extracted"`
	Summary   string `json:"summary"`
	Title     string `json:"title"`
}

// ExportResponse is returned by POST /export. DocURL may be absent on failure.
type ExportResponse struct {
	DocURL string `json:"doc_url,omitempty"`
}

// SaveResponse is returned by POST /history/save.
type SaveResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// HistoryDetail is returned by GET /history/{id}.
type HistoryDetail struct {
	Extracted string `json:"extracted"`
	Summary   string `json:"summary"`
}

// MessageResponse is a generic acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is a generic failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}
