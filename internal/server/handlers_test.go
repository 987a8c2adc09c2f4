package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/studybuddy/internal/api"
	"github.com/hpungsan/studybuddy/internal/auth"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/db"
	"github.com/hpungsan/studybuddy/internal/logging"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
)

type fakeExtractor struct {
	got []staging.File
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, files []staging.File) (string, error) {
	f.got = files
	if f.err != nil {
		return "", f.err
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	return strings.Join(names, "\n\n---\n\n"), nil
}

type fakeSummarizer struct {
	reply string
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	return f.reply, f.err
}

type testEnv struct {
	handler    http.Handler
	auth       *auth.Service
	extractor  *fakeExtractor
	summarizer *fakeSummarizer
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.DevLogin = true
	env := &testEnv{
		auth:       auth.NewService("test-secret", "studybuddy", database),
		extractor:  &fakeExtractor{},
		summarizer: &fakeSummarizer{reply: "- point"},
	}
	env.handler = NewHandler(Deps{
		DB:         database,
		Config:     cfg,
		Auth:       env.auth,
		Extractor:  env.extractor,
		Summarizer: env.summarizer,
		Log:        logging.Discard(),
	})
	return env
}

// do sends a request, optionally as email, and returns the recorder.
func (e *testEnv) do(t *testing.T, method, target, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if email != "" {
		token, _, err := e.auth.Issue(email)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSecurityHeaders(t *testing.T) {
	env := setupTest(t)
	rec := env.do(t, "GET", "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestMe(t *testing.T) {
	env := setupTest(t)

	anon := decodeBody[api.MeResponse](t, env.do(t, "GET", "/auth/me", "", nil))
	require.Empty(t, anon.Email)

	me := decodeBody[api.MeResponse](t, env.do(t, "GET", "/auth/me", "me@example.test", nil))
	require.Equal(t, "me@example.test", me.Email)
}

func TestMe_InvalidCookieIsAnonymous(t *testing.T) {
	env := setupTest(t)
	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: "garbage"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[api.MeResponse](t, rec).Email)
}

func TestLogin_DevSetsCookieAndRedirects(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, "GET", "/login?email=me@example.test&redirect=/auth/me", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/auth/me", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, api.SessionCookie, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	claims, err := env.auth.Validate(context.Background(), cookies[0].Value)
	require.NoError(t, err)
	require.Equal(t, "me@example.test", claims.Email)
}

func TestLogin_RejectsOffsiteRedirect(t *testing.T) {
	env := setupTest(t)
	rec := env.do(t, "GET", "/login?email=me@example.test&redirect=//evil.test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_DisabledIs404(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()
	h := NewHandler(Deps{DB: database, Config: config.DefaultConfig(), Auth: auth.NewService("s", "studybuddy", database), Log: logging.Discard()})

	req := httptest.NewRequest("GET", "/login?email=me@example.test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	env := setupTest(t)
	token, _, err := env.auth.Issue("me@example.test")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: token})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.auth.Validate(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrRevokedToken)
}

func TestExtract(t *testing.T) {
	env := setupTest(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"a.png", "b.pdf"} {
		part, err := mw.CreateFormFile(api.ExtractField, name)
		require.NoError(t, err)
		_, _ = part.Write([]byte(name))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[api.ExtractResponse](t, rec)
	require.Equal(t, "a.png\n\n---\n\nb.pdf", out.Text)
	require.Len(t, env.extractor.got, 2)
	require.Equal(t, []byte("b.pdf"), env.extractor.got[1].Data)
}

func TestExtract_NoFiles(t *testing.T) {
	env := setupTest(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, decodeBody[api.ExtractResponse](t, rec).Error)
}

func TestExtract_ServiceFailure(t *testing.T) {
	env := setupTest(t)
	env.extractor.err = fmt.Errorf("vision: HTTP 403")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile(api.ExtractField, "a.png")
	_, _ = part.Write([]byte("x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, decodeBody[api.ExtractResponse](t, rec).Error, "403")
}

func TestSummarize(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, "POST", "/summarize", "", api.SummarizeRequest{Text: "notes"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "- point", decodeBody[api.SummarizeResponse](t, rec).Summary)

	rec = env.do(t, "POST", "/summarize", "", api.SummarizeRequest{Text: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No input text to summarize", decodeBody[api.SummarizeResponse](t, rec).Summary)

	env.summarizer.reply = ""
	rec = env.do(t, "POST", "/summarize", "", api.SummarizeRequest{Text: "notes"})
	require.Equal(t, noSummaryReturned, decodeBody[api.SummarizeResponse](t, rec).Summary)

	env.summarizer.err = fmt.Errorf("quota")
	rec = env.do(t, "POST", "/summarize", "", api.SummarizeRequest{Text: "notes"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDownload(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, "POST", "/download", "", api.DownloadRequest{Extracted: "e", Summary: "s", Format: "txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="StudyNotes.txt"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "Extracted Notes\n\ne\n\n---\n\nSummary\n\ns", rec.Body.String())

	rec = env.do(t, "POST", "/download", "", api.DownloadRequest{Extracted: "e", Format: "md"})
	require.Equal(t, `attachment; filename="StudyNotes.md"`, rec.Header().Get("Content-Disposition"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "# Extracted Notes"))

	rec = env.do(t, "POST", "/download", "", api.DownloadRequest{Format: "docx"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_RequiresLogin(t *testing.T) {
	env := setupTest(t)
	for _, tc := range []struct{ method, target string }{
		{"GET", "/history"},
		{"GET", "/history/x"},
		{"POST", "/history/save"},
		{"DELETE", "/history/delete/x"},
		{"POST", "/export"},
	} {
		rec := env.do(t, tc.method, tc.target, "", map[string]string{})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.target, rec.Code)
		}
	}
}

func TestHistory_SaveListGetDelete(t *testing.T) {
	env := setupTest(t)
	const me = "me@example.test"

	saved := decodeBody[api.SaveResponse](t, env.do(t, "POST", "/history/save", me, session.Draft{Title: "Lecture 1", Extracted: "Hello world", Summary: "Hi"}))
	require.NotEmpty(t, saved.SessionID)
	untitled := decodeBody[api.SaveResponse](t, env.do(t, "POST", "/history/save", me, session.Draft{Extracted: "x"}))

	// Another owner's history is invisible.
	env.do(t, "POST", "/history/save", "other@example.test", session.Draft{Title: "theirs"})

	list := decodeBody[[]session.Record](t, env.do(t, "GET", "/history", me, nil))
	require.Len(t, list, 2)
	require.Equal(t, untitled.SessionID, list[0].SessionID, "most recent first")
	require.Equal(t, "Untitled Session", list[0].Title)
	require.Len(t, list[1].Timestamp, len(timestampLayout))

	detail := decodeBody[api.HistoryDetail](t, env.do(t, "GET", "/history/"+saved.SessionID, me, nil))
	require.Equal(t, "Hello world", detail.Extracted)
	require.Equal(t, "Hi", detail.Summary)

	rec := env.do(t, "DELETE", "/history/delete/"+saved.SessionID, "other@example.test", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "DELETE", "/history/delete/"+saved.SessionID, me, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "DELETE", "/history/delete/"+saved.SessionID, me, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Session not found", decodeBody[api.ErrorResponse](t, rec).Error)

	list = decodeBody[[]session.Record](t, env.do(t, "GET", "/history", me, nil))
	require.Len(t, list, 1)
}

func TestExportAndDocument(t *testing.T) {
	env := setupTest(t)

	rec := env.do(t, "POST", "/export", "me@example.test", api.ExportRequest{Extracted: "cells", Summary: "- mitochondria", Title: "Biology"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[api.ExportResponse](t, rec)
	require.True(t, strings.HasPrefix(out.DocURL, "http://example.com/docs/"), out.DocURL)

	path := strings.TrimPrefix(out.DocURL, "http://example.com")
	rec = env.do(t, "GET", path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<title>Biology</title>")
	require.Contains(t, rec.Body.String(), "<li>mitochondria</li>")

	rec = env.do(t, "GET", "/docs/not-a-uuid", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, "GET", "/docs/00000000-0000-0000-0000-000000000000", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsLocalRedirect(t *testing.T) {
	tests := map[string]bool{
		"/":                 true,
		"/history":          true,
		"":                  false,
		"https://evil.test": false,
		"//evil.test":       false,
		"/\\evil.test":      false,
	}
	for in, want := range tests {
		if got := isLocalRedirect(in); got != want {
			t.Errorf("isLocalRedirect(%q) = %v, want %v", in, got, want)
		}
	}
}
