// Package server exposes the decision engine and audit trail over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redactai/redactai/internal/audit"
	"github.com/redactai/redactai/internal/auth"
	"github.com/redactai/redactai/internal/config"
	"github.com/redactai/redactai/internal/engine"
	"github.com/redactai/redactai/internal/notify"
	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
	"github.com/redactai/redactai/internal/telemetry"
)

// Assessor scores one text.
type Assessor interface {
	Assess(ctx context.Context, text string, c engine.Context) (*safety.RiskAssessment, error)
}

// Store is the audit trail the handlers read and write.
type Store interface {
	Record(ctx context.Context, s audit.Scan) (audit.RecordResult, error)
	Transition(ctx context.Context, userID, id string, action audit.UserAction) (audit.TransitionResult, error)
	Get(ctx context.Context, userID, id string) (*audit.ScanRecord, error)
	History(ctx context.Context, userID string, limit int) ([]audit.ScanRecord, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config    *config.Config
	Auth      *auth.Auth
	Engine    Assessor
	Store     Store
	Notifier  notify.Notifier
	Telemetry *telemetry.Provider
	// ClassifierMode is reported by /readyz (ml or regex_only).
	ClassifierMode string
}

// Server wraps the HTTP server components for redactai.
type Server struct {
	mux      *http.ServeMux
	cfg      *config.Config
	auth     *auth.Auth
	engine   Assessor
	store    Store
	trigger  *notify.Trigger
	tel      *telemetry.Provider
	mode     string
	inFlight chan struct{}
}

// New creates a server with all routes registered.
func New(d Deps) (*Server, error) {
	if d.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if d.Auth == nil || d.Engine == nil || d.Store == nil {
		return nil, errors.New("server: auth, engine and store are required")
	}
	s := &Server{
		mux:     http.NewServeMux(),
		cfg:     d.Config,
		auth:    d.Auth,
		engine:  d.Engine,
		store:   d.Store,
		trigger: notify.NewTrigger(d.Notifier),
		tel:     d.Telemetry,
		mode:    d.ClassifierMode,
	}
	if n := d.Config.Server.MaxInFlight; n > 0 {
		s.inFlight = make(chan struct{}, n)
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.Handle("POST /v1/analyze", s.api(s.handleAnalyze))
	s.mux.Handle("POST /v1/scans/{id}/action", s.api(s.handleAction))
	s.mux.Handle("GET /v1/scans", s.api(s.handleHistory))
	s.mux.Handle("GET /v1/scans/{id}", s.api(s.handleGetScan))
	return s, nil
}

// Handler returns the root handler with request telemetry applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Run serves on cfg.Server.Addr until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: sc.ReadTimeout,
		ReadTimeout:       sc.ReadTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("redactai listening on %s (classifier=%s)", sc.Addr, s.mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := sc.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	redact.Logf("server: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
