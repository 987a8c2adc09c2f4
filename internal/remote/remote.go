// Package remote is the HTTP client for every remote collaborator the
// client core depends on.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/api"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
)

// maxErrorBody caps how much of a failed response body is kept for messages.
const maxErrorBody = 512

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client talks to the backend at a fixed base address.
type Client struct {
	base  string
	http  *http.Client
	token string
	log   *logrus.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSessionToken presents token as the session cookie on every request.
func WithSessionToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the backend at base. Requests carry no timeout.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{},
		log:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base returns the backend base address.
func (c *Client) Base() string {
	return c.base
}

// Me resolves the current identity. Returns "" when anonymous.
func (c *Client) Me(ctx context.Context) (string, error) {
	var out api.MeResponse
	if err := c.doJSON(ctx, "resolve identity", http.MethodGet, api.PathMe, nil, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// Logout asks the backend to invalidate the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, "logout", http.MethodPost, api.PathLogout, nil, nil)
}

// List returns the caller's history, most recent first.
func (c *Client) List(ctx context.Context) ([]session.Record, error) {
	var out []session.Record
	if err := c.doJSON(ctx, "list history", http.MethodGet, api.PathHistory, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save persists draft and returns the server-assigned id, if any.
func (c *Client) Save(ctx context.Context, draft session.Draft) (string, error) {
	var out api.SaveResponse
	if err := c.doJSON(ctx, "save history", http.MethodPost, api.PathHistorySave, draft, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Delete removes the history entry with remoteID.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	return c.doJSON(ctx, "delete history", http.MethodDelete, api.PathHistoryDelete+url.PathEscape(remoteID), nil, nil)
}

// Extract uploads files as one multipart request and returns the recognized text.
func (c *Client) Extract(ctx context.Context, files []staging.File) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, api.ExtractField, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, api.PathExtract, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.ExtractResponse
	if err := c.do(req, "extract", &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("extract: %s", out.Error)
	}
	return out.Text, nil
}

// Summarize returns a condensed version of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out api.SummarizeResponse
	if err := c.doJSON(ctx, "summarize", http.MethodPost, api.PathSummarize, api.SummarizeRequest{Text: text}, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Download returns the formatted artifact bytes.
func (c *Client) Download(ctx context.Context, in api.DownloadRequest) ([]byte, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, api.PathDownload, in)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req, "download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Export creates an external document and returns its locator.
func (c *Client) Export(ctx context.Context, in api.ExportRequest) (string, error) {
	var out api.ExportResponse
	if err := c.doJSON(ctx, "export", http.MethodPost, api.PathExport, in, &out); err != nil {
		return "", err
	}
	if out.DocURL == "" {
		return "", fmt.Errorf("export: no document URL returned")
	}
	return out.DocURL, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: api.SessionCookie, Value: c.token})
	}
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.do(req, op, out)
}

// do sends req and decodes a JSON body into out (if non-nil).
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.send(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// send performs req and turns non-2xx statuses into *StatusError.
func (c *Client) send(req *http.Request, op string) (*http.Response, error) {
	c.log.WithFields(logrus.Fields{"op": op, "method": req.Method, "path": req.URL.Path}).Debug("remote request")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	return resp, nil
}

// errorMessage pulls a human-readable message out of a failure body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Summary string `json:"summary"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		for _, s := range []string{body.Error, body.Summary, body.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
