// Package server is the companion backend the client core talks to.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/studybuddy/internal/api"
	"github.com/hpungsan/studybuddy/internal/auth"
	"github.com/hpungsan/studybuddy/internal/config"
	"github.com/hpungsan/studybuddy/internal/staging"
)

// Extractor turns uploaded files into text.
type Extractor interface {
	Extract(ctx context.Context, files []staging.File) (string, error)
}

// Summarizer condenses text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Deps are the collaborators of the backend handlers.
type Deps struct {
	DB         *sql.DB
	Config     *config.Config
	Auth       *auth.Service
	Extractor  Extractor
	Summarizer Summarizer
	Log        *logrus.Logger
}

// NewServer creates the HTTP server for the backend.
func NewServer(d Deps, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed, wrapped handler.
func NewHandler(d Deps) http.Handler {
	h := &Handlers{
		db:         d.DB,
		cfg:        d.Config,
		auth:       d.Auth,
		extractor:  d.Extractor,
		summarizer: d.Summarizer,
		log:        d.Log,
		now:        time.Now,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET "+api.PathMe, h.HandleMe)
	mux.HandleFunc("GET "+api.PathLogin, h.HandleLogin)
	mux.HandleFunc("POST "+api.PathLogout, h.HandleLogout)
	mux.HandleFunc("POST "+api.PathExtract, h.HandleExtract)
	mux.HandleFunc("POST "+api.PathSummarize, h.HandleSummarize)
	mux.HandleFunc("POST "+api.PathDownload, h.HandleDownload)
	mux.HandleFunc("GET "+api.PathHistory, h.HandleHistoryList)
	mux.HandleFunc("GET /history/{id}", h.HandleHistoryGet)
	mux.HandleFunc("POST "+api.PathHistorySave, h.HandleHistorySave)
	mux.HandleFunc("DELETE /history/delete/{id}", h.HandleHistoryDelete)
	mux.HandleFunc("POST "+api.PathExport, h.HandleExport)
	mux.HandleFunc("GET /docs/{id}", h.HandleDocument)

	return securityHeaders(requestLogger(h.log, h.withIdentity(mux)))
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'none'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger logs one line per request.
func requestLogger(log *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Info("request")
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log *logrus.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("StudyBuddy backend running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
