package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/studybuddy/internal/app"
	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/identity"
	"github.com/hpungsan/studybuddy/internal/pipeline"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
)

const (
	fieldExtracted = "extracted"
	fieldSummary   = "summary"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// StageRequest represents the arguments for notes_stage.
type StageRequest struct {
	Paths []string `json:"paths"`
}

// UnstageRequest represents the arguments for notes_unstage.
type UnstageRequest struct {
	Index *int `json:"index,omitempty"`
	All   bool `json:"all,omitempty"`
}

// SaveRequest represents the arguments for notes_save.
type SaveRequest struct {
	Title   string  `json:"title,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

// EditRequest represents the arguments for notes_edit.
type EditRequest struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// ToggleEditRequest represents the arguments for notes_toggle_edit.
type ToggleEditRequest struct {
	Field string `json:"field"`
}

// DownloadRequest represents the arguments for notes_download.
type DownloadRequest struct {
	Format   string `json:"format,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ExportRequest represents the arguments for notes_export.
type ExportRequest struct {
	Title string `json:"title,omitempty"`
}

// HistoryListRequest represents the arguments for history_list.
type HistoryListRequest struct {
	Refresh     bool `json:"refresh,omitempty"`
	IncludeText bool `json:"include_text,omitempty"`
}

// EntryRequest addresses one history entry.
type EntryRequest struct {
	ID string `json:"id"`
}

// RenameRequest represents the arguments for history_rename.
type RenameRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// IdentityStatusRequest represents the arguments for identity_status.
type IdentityStatusRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// StagedOutput lists the buffer after a staging change.
type StagedOutput struct {
	Staged []string `json:"staged"`
	Count  int      `json:"count"`
}

// EntrySummary is a history entry without its texts.
type EntrySummary struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	SyncState session.SyncState `json:"sync_state"`
	SyncError string            `json:"sync_error,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// HistoryListOutput is returned by history_list.
type HistoryListOutput struct {
	Entries any `json:"entries"`
	Count   int `json:"count"`
}

// IdentityOutput is returned by the identity tools.
type IdentityOutput struct {
	identity.Identity
	LoginURL string `json:"login_url,omitempty"`
}

// Handler implementations

// HandleStage handles the notes_stage tool call.
// Either every path is staged or none is.
func (h *Handlers) HandleStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[StageRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if len(r.Paths) == 0 {
		return errorResult(errors.NewValidation("paths is required")), nil
	}

	files := make([]staging.File, 0, len(r.Paths))
	for _, p := range r.Paths {
		f, err := staging.ReadFile(p)
		if err != nil {
			return errorResult(err), nil
		}
		files = append(files, f)
	}
	h.app.Buffer.Add(files...)

	return successResult(h.staged())
}

// HandleUnstage handles the notes_unstage tool call.
func (h *Handlers) HandleUnstage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[UnstageRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	switch {
	case r.All:
		h.app.Buffer.Clear()
	case r.Index != nil:
		if _, err := h.app.Buffer.Remove(*r.Index); err != nil {
			return errorResult(err), nil
		}
	default:
		return errorResult(errors.NewValidation("index or all is required")), nil
	}

	return successResult(h.staged())
}

// HandleExtract handles the notes_extract tool call.
func (h *Handlers) HandleExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := h.app.Orchestrator.Extract(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSummarize handles the notes_summarize tool call.
func (h *Handlers) HandleSummarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := h.app.Orchestrator.Summarize(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSave handles the notes_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	out, err := h.app.Orchestrator.Save(ctx, pipeline.SaveInput{
		Title:           r.Title,
		SummaryOverride: r.Summary,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleEdit handles the notes_edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	var applied bool
	switch r.Field {
	case fieldExtracted:
		applied = h.app.Orchestrator.EditExtracted(r.Text)
	case fieldSummary:
		applied = h.app.Orchestrator.EditSummary(r.Text)
	default:
		return errorResult(invalidField(r.Field)), nil
	}
	if !applied {
		return errorResult(errors.NewValidation(fmt.Sprintf("%s is not editable", r.Field))), nil
	}

	return successResult(h.app.Orchestrator.State())
}

// HandleToggleEdit handles the notes_toggle_edit tool call.
func (h *Handlers) HandleToggleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ToggleEditRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	var editable bool
	switch r.Field {
	case fieldExtracted:
		editable = h.app.Orchestrator.ToggleExtractedEditable()
	case fieldSummary:
		editable = h.app.Orchestrator.ToggleSummaryEditable()
	default:
		return errorResult(invalidField(r.Field)), nil
	}

	return successResult(map[string]any{"field": r.Field, "editable": editable})
}

// HandleDownload handles the notes_download tool call.
func (h *Handlers) HandleDownload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[DownloadRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	out, err := h.app.Orchestrator.Download(ctx, pipeline.DownloadInput{
		Format:   r.Format,
		Filename: r.Filename,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleExport handles the notes_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	out, err := h.app.Orchestrator.ExportExternal(ctx, r.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleState handles the notes_state tool call.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.app.Orchestrator.State())
}

// HandleHistoryList handles the history_list tool call.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[HistoryListRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	if r.Refresh {
		if err := h.app.History.Load(ctx); err != nil {
			return errorResult(err), nil
		}
	}

	entries := h.app.History.Entries()
	if r.IncludeText {
		return successResult(HistoryListOutput{Entries: entries, Count: len(entries)})
	}
	summaries := make([]EntrySummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, EntrySummary{
			ID:        e.ID,
			Title:     e.Title,
			SyncState: e.SyncState,
			SyncError: e.SyncError,
			CreatedAt: e.CreatedAt,
		})
	}
	return successResult(HistoryListOutput{Entries: summaries, Count: len(summaries)})
}

// HandleHistoryLoad handles the history_load tool call.
func (h *Handlers) HandleHistoryLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[EntryRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}
	if r.ID == "" {
		return errorResult(errors.NewValidation("id is required")), nil
	}

	if _, err := h.app.Orchestrator.LoadByID(r.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.app.Orchestrator.State())
}

// HandleHistoryRename handles the history_rename tool call.
func (h *Handlers) HandleHistoryRename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[RenameRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	entry, err := h.app.History.Rename(r.ID, r.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleHistoryDelete handles the history_delete tool call.
// Unknown ids succeed with deleted=false.
func (h *Handlers) HandleHistoryDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[EntryRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	deleted := h.app.History.Delete(ctx, r.ID)
	return successResult(map[string]any{"id": r.ID, "deleted": deleted})
}

// HandleHistoryRetry handles the history_retry tool call.
func (h *Handlers) HandleHistoryRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[EntryRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	if err := h.app.History.Retry(ctx, r.ID); err != nil {
		return errorResult(err), nil
	}
	entry, _ := h.app.History.Get(r.ID)
	return successResult(entry)
}

// HandleIdentityStatus handles the identity_status tool call.
func (h *Handlers) HandleIdentityStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[IdentityStatusRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	id := h.app.Gate.Current()
	if r.Refresh {
		id = h.app.Gate.Resolve(ctx)
	}
	return successResult(h.identityOutput(id))
}

// HandleIdentityLogin handles the identity_login tool call.
func (h *Handlers) HandleIdentityLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(IdentityOutput{
		Identity: h.app.Gate.Current(),
		LoginURL: h.app.Gate.LoginURL(),
	})
}

// HandleIdentityLogout handles the identity_logout tool call.
func (h *Handlers) HandleIdentityLogout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.app.Gate.Logout(ctx)
	return successResult(h.identityOutput(h.app.Gate.Current()))
}

func (h *Handlers) staged() StagedOutput {
	names := h.app.Buffer.Names()
	return StagedOutput{Staged: names, Count: len(names)}
}

func (h *Handlers) identityOutput(id identity.Identity) IdentityOutput {
	out := IdentityOutput{Identity: id}
	if !id.Identified() {
		out.LoginURL = h.app.Gate.LoginURL()
	}
	return out
}

func invalidField(field string) error {
	return errors.NewValidation(fmt.Sprintf("field must be %q or %q, got %q", fieldExtracted, fieldSummary, field))
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		// Keep wrapper context, drop the "CODE: " prefix of a bare StudyError
		msg := sErr.Message
		if err != error(sErr) {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"kind":    sErr.Kind,
			"message": msg,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"kind":    errors.KindInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
