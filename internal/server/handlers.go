package server

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/api"
	"github.com/hpungsan/studybuddy/internal/auth"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/db"
	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/render"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
	"github.com/hpungsan/studybuddy/internal/summarize"
)

const (
	// maxUploadBytes caps a multipart extract request.
	maxUploadBytes = 32 << 20
	// maxJSONBytes caps a JSON request body.
	maxJSONBytes = 4 << 20

	// timestampLayout is the history timestamp format.
	timestampLayout = "20060102_150405"

	defaultSessionTitle = "Untitled Session"
	noSummaryReturned   = "No summary returned."
)

// Handlers contains HTTP route handlers for the backend.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	auth       *auth.Service
	extractor  Extractor
	summarizer Summarizer
	log        *logrus.Logger
	now        func() time.Time
}

type ctxKey int

const claimsKey ctxKey = iota

// withIdentity attaches the claims of a valid session cookie to the request.
// Invalid or revoked cookies are treated as anonymous.
func (h *Handlers) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(api.SessionCookie)
		if err == nil && cookie.Value != "" && h.auth != nil {
			claims, err := h.auth.Validate(r.Context(), cookie.Value)
			if err == nil {
				r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
			} else {
				h.log.WithError(err).Debug("ignoring session cookie")
			}
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// requireOwner returns the signed-in email or writes a 401.
func (h *Handlers) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := claimsFrom(r)
	if claims == nil {
		renderJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "Not logged in"})
		return "", false
	}
	return claims.Email, true
}

// HandleIndex handles GET / — liveness.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "StudyBuddy backend is running\n")
}

// HandleMe handles GET /auth/me — resolve the caller's identity.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	var out api.MeResponse
	if claims := claimsFrom(r); claims != nil {
		out.Email = claims.Email
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleLogin handles GET /login — development sign-in by email.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || !h.cfg.DevLogin || h.auth == nil {
		http.NotFound(w, r)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" || !strings.Contains(email, "@") {
		renderError(w, errors.NewValidation("email is required"))
		return
	}

	token, claims, err := h.auth.Issue(email)
	if err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     api.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.log.WithField("email", email).Info("signed in")

	if redirect := r.URL.Query().Get("redirect"); isLocalRedirect(redirect) {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	renderJSON(w, http.StatusOK, api.MeResponse{Email: email})
}

// isLocalRedirect accepts only same-origin absolute paths.
func isLocalRedirect(s string) bool {
	return strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//") && !strings.HasPrefix(s, "/\\")
}

// HandleLogout handles POST /auth/logout — revoke and clear the session cookie.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if claims := claimsFrom(r); claims != nil && h.auth != nil {
		if err := h.auth.Revoke(r.Context(), claims); err != nil {
			h.log.WithError(err).Warn("failed to revoke session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     api.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg != nil && h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	renderJSON(w, http.StatusOK, api.MessageResponse{Message: "Logged out"})
}

// HandleExtract handles POST /extract — OCR over multipart "files".
func (h *Handlers) HandleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		renderJSON(w, http.StatusBadRequest, api.ExtractResponse{Error: "invalid multipart upload"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[api.ExtractField]
	if len(headers) == 0 {
		renderJSON(w, http.StatusBadRequest, api.ExtractResponse{Error: "no files uploaded"})
		return
	}

	files := make([]staging.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			renderJSON(w, http.StatusBadRequest, api.ExtractResponse{Error: fmt.Sprintf("cannot read %s", fh.Filename)})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			renderJSON(w, http.StatusBadRequest, api.ExtractResponse{Error: fmt.Sprintf("cannot read %s", fh.Filename)})
			return
		}
		files = append(files, staging.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	text, err := h.extractor.Extract(r.Context(), files)
	if err != nil {
		h.log.WithFields(logrus.Fields{"op": "extract", "files": len(files)}).WithError(err).Warn("extraction failed")
		renderJSON(w, http.StatusBadGateway, api.ExtractResponse{Error: err.Error()})
		return
	}
	renderJSON(w, http.StatusOK, api.ExtractResponse{Text: text})
}

// HandleSummarize handles POST /summarize.
func (h *Handlers) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	var in api.SummarizeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		renderJSON(w, http.StatusBadRequest, api.SummarizeResponse{Summary: "Invalid request body"})
		return
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		renderJSON(w, http.StatusBadRequest, api.SummarizeResponse{Summary: "No input text to summarize"})
		return
	}

	summary, err := h.summarizer.Summarize(r.Context(), text)
	if err != nil {
		if stderrors.Is(err, summarize.ErrEmptyInput) {
			renderJSON(w, http.StatusBadRequest, api.SummarizeResponse{Summary: "No input text to summarize"})
			return
		}
		h.log.WithField("op", "summarize").WithError(err).Warn("summarization failed")
		renderJSON(w, http.StatusInternalServerError, api.SummarizeResponse{Summary: "Summarization failed: " + err.Error()})
		return
	}
	if summary == "" {
		summary = noSummaryReturned
	}
	renderJSON(w, http.StatusOK, api.SummarizeResponse{Summary: summary})
}

// HandleDownload handles POST /download — the formatted artifact as an attachment.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	var in api.DownloadRequest
	if err := decodeJSON(w, r, &in); err != nil {
		renderError(w, errors.NewValidation("invalid request body"))
		return
	}
	format, err := session.ParseFormat(in.Format)
	if err != nil {
		renderError(w, err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if format == session.FormatMD {
		contentType = "text/markdown; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="StudyNotes%s"`, format.Ext()))
	_, _ = io.WriteString(w, render.Artifact(in.Extracted, in.Summary, format))
}

// HandleHistoryList handles GET /history — the caller's sessions, most recent first.
func (h *Handlers) HandleHistoryList(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	rows, err := db.ListSessions(r.Context(), h.db, owner)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]session.Record, 0, len(rows))
	for _, s := range rows {
		out = append(out, session.Record{
			SessionID: s.ID,
			Title:     s.Title,
			Timestamp: time.Unix(s.CreatedAt, 0).UTC().Format(timestampLayout),
			Extracted: s.Extracted,
			Summary:   s.Summary,
		})
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleHistoryGet handles GET /history/{id}.
func (h *Handlers) HandleHistoryGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	s, err := db.GetSession(r.Context(), h.db, owner, r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, api.HistoryDetail{Extracted: s.Extracted, Summary: s.Summary})
}

// HandleHistorySave handles POST /history/save.
func (h *Handlers) HandleHistorySave(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var in session.Draft
	if err := decodeJSON(w, r, &in); err != nil {
		renderError(w, errors.NewValidation("invalid request body"))
		return
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultSessionTitle
	}

	id, err := session.NewULID()
	if err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	err = db.InsertSession(r.Context(), h.db, &db.Session{
		ID:        id,
		Owner:     owner,
		Title:     title,
		Extracted: in.Extracted,
		Summary:   in.Summary,
		CreatedAt: h.now().Unix(),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, api.SaveResponse{Message: "Session saved.", SessionID: id})
}

// HandleHistoryDelete handles DELETE /history/delete/{id}.
func (h *Handlers) HandleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	if err := db.DeleteSession(r.Context(), h.db, owner, r.PathValue("id")); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			renderJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "Session not found"})
			return
		}
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, api.MessageResponse{Message: "Session deleted."})
}

// HandleExport handles POST /export — publish a document and return its URL.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var in api.ExportRequest
	if err := decodeJSON(w, r, &in); err != nil {
		renderError(w, errors.NewValidation("invalid request body"))
		return
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled Notes"
	}

	doc := &db.Document{
		ID:        uuid.New().String(),
		Owner:     owner,
		Title:     title,
		Extracted: in.Extracted,
		Summary:   in.Summary,
		CreatedAt: h.now().Unix(),
	}
	if err := db.InsertDocument(r.Context(), h.db, doc); err != nil {
		renderError(w, err)
		return
	}
	h.log.WithFields(logrus.Fields{"op": "export", "doc_id": doc.ID}).Info("document exported")
	renderJSON(w, http.StatusOK, api.ExportResponse{DocURL: baseURL(r) + api.PathDocs + doc.ID})
}

// HandleDocument handles GET /docs/{id} — an exported document as HTML.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}
	doc, err := db.GetDocument(r.Context(), h.db, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		renderError(w, err)
		return
	}
	page, err := render.DocumentHTML(render.Document{
		Title:     doc.Title,
		Extracted: doc.Extracted,
		Summary:   doc.Summary,
		CreatedAt: doc.CreatedAt,
	})
	if err != nil {
		renderError(w, errors.NewInternal(err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// baseURL reconstructs the externally visible origin of r.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes {error} with the status of a StudyError.
func renderError(w http.ResponseWriter, err error) {
	sErr, ok := errors.As(err)
	if !ok {
		sErr = errors.NewInternal(err)
	}
	renderJSON(w, sErr.Status, api.ErrorResponse{Error: sErr.Message})
}
