// Package app assembles the client-side components shared by the CLI and the
// MCP server.
package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/export"
	"github.com/hpungsan/studybuddy/internal/history"
	"github.com/hpungsan/studybuddy/internal/identity"
	"github.com/hpungsan/studybuddy/internal/pipeline"
	"github.com/hpungsan/studybuddy/internal/remote"
	"github.com/hpungsan/studybuddy/internal/staging"
)

// Backend is everything the client needs from the remote side.
type Backend interface {
	identity.Resolver
	history.Store
	pipeline.Extractor
	pipeline.Summarizer
	export.Service
}

// App is one client instance: a single identity, staging buffer, history
// cache and orchestrator.
type App struct {
	Config       *config.Config
	Log          *logrus.Logger
	Gate         *identity.Gate
	History      *history.Cache
	Buffer       *staging.Buffer
	Orchestrator *pipeline.Orchestrator
}

// New wires an App against the HTTP backend at cfg.APIBase. Remote calls
// are not cancelled or timed out. downloadDir is where artifacts are written.
func New(cfg *config.Config, downloadDir string, log *logrus.Logger) *App {
	client := remote.New(cfg.APIBase,
		remote.WithSessionToken(cfg.SessionToken),
		remote.WithLogger(log),
	)
	return NewWithBackend(client, cfg, downloadDir, log)
}

// NewWithBackend wires an App against any Backend. Tests use this with fakes.
func NewWithBackend(b Backend, cfg *config.Config, downloadDir string, log *logrus.Logger) *App {
	loginURL := cfg.ResolvedLoginURL()
	gate := identity.NewGate(b, loginURL, log)
	cache := history.New(b, gate, log)
	buffer := staging.NewBuffer()

	orch := pipeline.New(pipeline.Deps{
		Gate:       gate,
		History:    cache,
		Buffer:     buffer,
		Extractor:  b,
		Summarizer: b,
		Exporter:   export.New(b, cfg, downloadDir, loginURL, log),
		Log:        log,
	})

	return &App{
		Config:       cfg,
		Log:          log,
		Gate:         gate,
		History:      cache,
		Buffer:       buffer,
		Orchestrator: orch,
	}
}

// Start resolves the identity. When identified, the history cache loads in
// the background; Wait blocks until it has.
func (a *App) Start(ctx context.Context) identity.Identity {
	return a.Gate.Resolve(ctx)
}

// Wait blocks until background history work has finished.
func (a *App) Wait() {
	a.History.Wait()
}
