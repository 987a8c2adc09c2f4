// Package pipeline owns the working state of one study session and sequences
// extraction, summarization, save, download and export.
package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/errors"
	"github.com/hpungsan/studybuddy/internal/export"
	"github.com/hpungsan/studybuddy/internal/history"
	"github.com/hpungsan/studybuddy/internal/identity"
	"github.com/hpungsan/studybuddy/internal/session"
	"github.com/hpungsan/studybuddy/internal/staging"
)

// Placeholders applied when a service answers with nothing.
const (
	NoTextFound       = "No text found."
	NoSummaryReturned = "No summary returned."
	DefaultTitle      = "Untitled Notes"
)

// Extractor turns uploaded files into text.
type Extractor interface {
	Extract(ctx context.Context, files []staging.File) (string, error)
}

// Summarizer condenses text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Phase is the position of the working state in the pipeline.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseExtracting  Phase = "extracting"
	PhaseExtracted   Phase = "extracted"
	PhaseSummarizing Phase = "summarizing"
	PhaseSummarized  Phase = "summarized"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Gate       *identity.Gate
	History    *history.Cache
	Buffer     *staging.Buffer
	Extractor  Extractor
	Summarizer Summarizer
	Exporter   *export.Adapter
	Log        *logrus.Logger
}

// Orchestrator holds the transient working values. It never keeps a
// reference into the history cache; loading a session copies its text.
type Orchestrator struct {
	gate       *identity.Gate
	history    *history.Cache
	buffer     *staging.Buffer
	extractor  Extractor
	summarizer Summarizer
	exporter   *export.Adapter
	log        *logrus.Logger

	mu            sync.Mutex
	phase         Phase
	extracted     string
	summary       string
	editExtracted bool
	editSummary   bool

	// Latest request token per operation kind. Responses carrying an older
	// token are discarded.
	extractSeq   uint64
	summarizeSeq uint64
}

// New creates an idle Orchestrator.
func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		gate:       d.Gate,
		history:    d.History,
		buffer:     d.Buffer,
		extractor:  d.Extractor,
		summarizer: d.Summarizer,
		exporter:   d.Exporter,
		log:        log,
		phase:      PhaseIdle,
	}
}

// ExtractOutput is returned by Extract.
type ExtractOutput struct {
	Text  string `json:"text"`
	Files int    `json:"files"`
	// Stale is set when a newer extraction (or a session load) superseded
	// this one; nothing was applied.
	Stale bool `json:"stale,omitempty"`
}

// Extract submits every staged file as one request and replaces the
// extracted text with the result.
func (o *Orchestrator) Extract(ctx context.Context) (*ExtractOutput, error) {
	files := o.buffer.Files()
	if len(files) == 0 {
		return nil, errors.NewValidation("no files staged for extraction")
	}

	o.mu.Lock()
	o.extractSeq++
	token := o.extractSeq
	o.phase = PhaseExtracting
	o.mu.Unlock()

	log := o.log.WithFields(logrus.Fields{"op": "extract", "token": token})
	text, err := o.extractor.Extract(ctx, files)

	o.mu.Lock()
	if token != o.extractSeq {
		o.mu.Unlock()
		log.Debug("discarding superseded extraction")
		return &ExtractOutput{Stale: true}, nil
	}
	if err != nil {
		o.phase = o.settledPhase()
		o.mu.Unlock()
		log.WithError(err).Warn("extraction failed")
		return nil, errors.NewExtractionFailed(err)
	}
	if strings.TrimSpace(text) == "" {
		text = NoTextFound
	}
	o.extracted = text
	o.phase = PhaseExtracted
	o.mu.Unlock()

	o.buffer.Clear()
	log.WithField("files", len(files)).Info("extraction applied")
	return &ExtractOutput{Text: text, Files: len(files)}, nil
}

// PendingSave is the save intent produced by a successful summarization.
// The caller supplies a title and calls Save.
type PendingSave struct {
	DefaultTitle string `json:"default_title"`
	Summary      string `json:"summary"`
}

// SummarizeOutput is returned by Summarize.
type SummarizeOutput struct {
	Summary string       `json:"summary"`
	Pending *PendingSave `json:"pending_save,omitempty"`
	Stale   bool         `json:"stale,omitempty"`
}

// Summarize submits the extracted text and replaces the summary with the result.
func (o *Orchestrator) Summarize(ctx context.Context) (*SummarizeOutput, error) {
	o.mu.Lock()
	text := o.extracted
	if strings.TrimSpace(text) == "" {
		o.mu.Unlock()
		return nil, errors.NewValidation("no extracted text to summarize")
	}
	o.summarizeSeq++
	token := o.summarizeSeq
	o.phase = PhaseSummarizing
	o.mu.Unlock()

	log := o.log.WithFields(logrus.Fields{"op": "summarize", "token": token})
	summary, err := o.summarizer.Summarize(ctx, text)

	o.mu.Lock()
	if token != o.summarizeSeq {
		o.mu.Unlock()
		log.Debug("discarding superseded summary")
		return &SummarizeOutput{Stale: true}, nil
	}
	if err != nil {
		o.phase = o.settledPhase()
		o.mu.Unlock()
		log.WithError(err).Warn("summarization failed")
		return nil, errors.NewSummarizationFailed(err)
	}
	if strings.TrimSpace(summary) == "" {
		summary = NoSummaryReturned
	}
	o.summary = summary
	o.phase = PhaseSummarized
	o.mu.Unlock()

	log.Info("summary applied")
	return &SummarizeOutput{
		Summary: summary,
		Pending: &PendingSave{DefaultTitle: DefaultTitle, Summary: summary},
	}, nil
}

// SaveInput contains parameters for Save.
type SaveInput struct {
	Title string
	// SummaryOverride replaces the working summary in the saved entry.
	SummaryOverride *string
}

// SaveOutput is returned by Save.
type SaveOutput struct {
	Saved bool           `json:"saved"`
	Entry *session.Entry `json:"entry,omitempty"`
}

// Save inserts the working texts into history under in.Title.
// An empty title aborts with no change and no error.
func (o *Orchestrator) Save(ctx context.Context, in SaveInput) (*SaveOutput, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return &SaveOutput{Saved: false}, nil
	}

	o.mu.Lock()
	draft := session.Draft{Title: title, Extracted: o.extracted, Summary: o.summary}
	o.mu.Unlock()
	if in.SummaryOverride != nil {
		draft.Summary = *in.SummaryOverride
	}

	entry, err := o.history.Insert(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &SaveOutput{Saved: true, Entry: &entry}, nil
}

// DownloadInput contains parameters for Download.
type DownloadInput struct {
	Format   string
	Filename string
}

// Download saves the working texts as a formatted artifact.
// History is not touched.
func (o *Orchestrator) Download(ctx context.Context, in DownloadInput) (*export.DownloadOutput, error) {
	format, err := session.ParseFormat(in.Format)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	extracted, summary := o.extracted, o.summary
	o.mu.Unlock()
	if extracted == "" && summary == "" {
		return nil, errors.NewValidation("nothing to download")
	}

	return o.exporter.Download(ctx, export.DownloadInput{
		Extracted: extracted,
		Summary:   summary,
		Format:    format,
		Filename:  in.Filename,
	})
}

// ExportOutput is returned by ExportExternal.
type ExportOutput struct {
	DocURL string `json:"doc_url"`
}

// ExportExternal creates an external document from the working texts.
// Anonymous callers get AuthorizationRequired and no request is sent.
func (o *Orchestrator) ExportExternal(ctx context.Context, title string) (*ExportOutput, error) {
	if !o.gate.Identified() {
		return nil, errors.NewAuthorizationRequired("export", o.gate.LoginURL())
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	o.mu.Lock()
	extracted, summary := o.extracted, o.summary
	o.mu.Unlock()

	url, err := o.exporter.Export(ctx, export.ExportInput{
		Extracted: extracted,
		Summary:   summary,
		Title:     title,
	})
	if err != nil {
		return nil, err
	}
	return &ExportOutput{DocURL: url}, nil
}

// LoadSession copies entry's texts into the working state and
// invalidates any extraction or summarization still in flight.
func (o *Orchestrator) LoadSession(entry session.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extractSeq++
	o.summarizeSeq++
	o.extracted = entry.Extracted
	o.summary = entry.Summary
	o.phase = o.settledPhase()
}

// settledPhase derives the resting phase from the working texts.
// Caller must hold o.mu.
func (o *Orchestrator) settledPhase() Phase {
	switch {
	case o.summary != "":
		return PhaseSummarized
	case o.extracted != "":
		return PhaseExtracted
	default:
		return PhaseIdle
	}
}

// LoadByID loads the history entry with id into the working state.
func (o *Orchestrator) LoadByID(id string) (session.Entry, error) {
	entry, ok := o.history.Get(id)
	if !ok {
		return session.Entry{}, errors.NewNotFound(id)
	}
	o.LoadSession(entry)
	return entry, nil
}

// ToggleExtractedEditable flips the editability of the extracted text and
// returns the new value.
func (o *Orchestrator) ToggleExtractedEditable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editExtracted = !o.editExtracted
	return o.editExtracted
}

// ToggleSummaryEditable flips the editability of the summary and returns
// the new value.
func (o *Orchestrator) ToggleSummaryEditable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editSummary = !o.editSummary
	return o.editSummary
}

// EditExtracted replaces the extracted text if it is editable.
// Reports whether the edit was applied.
func (o *Orchestrator) EditExtracted(text string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.editExtracted {
		return false
	}
	o.extracted = text
	return true
}

// EditSummary replaces the summary if it is editable.
// Reports whether the edit was applied.
func (o *Orchestrator) EditSummary(text string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.editSummary {
		return false
	}
	o.summary = text
	return true
}

// State is a snapshot of the working state.
type State struct {
	Phase             Phase             `json:"phase"`
	Extracted         string            `json:"extracted"`
	Summary           string            `json:"summary"`
	EditableExtracted bool              `json:"editable_extracted"`
	EditableSummary   bool              `json:"editable_summary"`
	Staged            []string          `json:"staged"`
	Identity          identity.Identity `json:"identity"`
}

// State returns a snapshot of the working state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	s := State{
		Phase:             o.phase,
		Extracted:         o.extracted,
		Summary:           o.summary,
		EditableExtracted: o.editExtracted,
		EditableSummary:   o.editSummary,
	}
	o.mu.Unlock()
	s.Staged = o.buffer.Names()
	s.Identity = o.gate.Current()
	return s
}
