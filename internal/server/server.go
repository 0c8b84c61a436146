package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ashita-ai/senro/internal/auth"
)

// ServerConfig holds server settings.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds the HTTP server with all routes and middleware wired.
func New(cfg ServerConfig, deps *HandlersDeps) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", deps.handleHealth)
	mux.HandleFunc("POST /auth/token", deps.handleIssueToken)

	mux.Handle("POST /v1/traces",
		requireScope(auth.ScopeIngest)(http.HandlerFunc(deps.handleExportTraces)))
	mux.Handle("GET /v1/line-runs/{line_run_id}",
		requireScope(auth.ScopeRead)(http.HandlerFunc(deps.handleGetLineRun)))
	mux.Handle("GET /v1/sessions/{session_id}/line-runs",
		requireScope(auth.ScopeRead)(http.HandlerFunc(deps.handleListLineRuns)))

	// Innermost first: recovery wraps the handler, auth runs before it,
	// request ID is assigned before anything logs or traces.
	var handler http.Handler = mux
	handler = recoveryMiddleware(deps.Logger, handler)
	handler = authMiddleware(deps.JWTMgr, handler)
	handler = loggingMiddleware(deps.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
