package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/abramin/flowseq/internal/config"
	"github.com/abramin/flowseq/internal/session"
	"github.com/abramin/flowseq/internal/store"
)

// Server is the flowseq HTTP server.
type Server struct {
	store      *store.Store
	sessions   *session.Manager
	settings   *config.Config
	metrics    http.Handler
	httpServer *http.Server
	port       int
}

// Config holds server configuration.
type Config struct {
	Port       int
	ProjectDir string

	// Settings supplies build parameters, seed filters and noise packages.
	Settings *config.Config

	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

// New creates a new server instance over the index of cfg.ProjectDir.
func New(cfg Config) (*Server, error) {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}

	st, err := store.Open(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cm, err := st.CodeModel()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening code model: %w", err)
	}
	rules, err := cfg.Settings.FilterRules()
	if err != nil {
		st.Close()
		return nil, err
	}
	mgr, err := session.NewManager(cm, cfg.Settings.Params(), rules...)
	if err != nil {
		st.Close()
		return nil, err
	}

	return newServer(st, mgr, cfg), nil
}

func newServer(st *store.Store, mgr *session.Manager, cfg Config) *Server {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	s := &Server{
		store:    st,
		sessions: mgr,
		settings: cfg.Settings,
		metrics:  cfg.Metrics,
		port:     cfg.Port,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/search", s.instrument("search", s.handleSearch))
	mux.HandleFunc("/api/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("/api/sessions", s.instrument("sessions", s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.instrument("session", s.handleSession))

	// Health check
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start() error {
	// Setup graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on http://localhost:%d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.sessions.CloseAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// instrument wraps a handler with CORS and request counting.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	h := s.corsMiddleware(next)
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON: %v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// handleStats returns index statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSearch handles GET /api/search?query=xxx. Only functions with a
// body can root a diagram, and symbols of noise packages are left out.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter required")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	results, err := s.store.SearchSymbols(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]*store.Symbol, 0, len(results))
	for _, sym := range results {
		if !s.settings.IsNoisePackage(sym.PkgPath) {
			out = append(out, sym)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleIndex lists the API for clients without a UI.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	base := "http://localhost:" + strconv.Itoa(s.port)
	html := `<!DOCTYPE html>
<html>
<head>
    <title>flowseq</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               max-width: 800px; margin: 50px auto; padding: 20px; }
        .api-list { background: #f5f5f5; padding: 20px; border-radius: 8px; }
        .api-list a { display: block; margin: 10px 0; color: #0066cc; }
        pre { background: #f0f0f0; padding: 10px; border-radius: 4px; overflow-x: auto; }
    </style>
</head>
<body>
    <h1>flowseq API Server</h1>
    <div class="api-list">
        <a href="/api/stats">GET /api/stats</a> - Index statistics
        <a href="/api/search?query=Handle">GET /api/search?query=Handle</a> - Search functions
        <a href="/api/sessions">GET /api/sessions</a> - Open diagram sessions
        <a href="/api/health">GET /api/health</a> - Health check
    </div>
    <pre>
# Open a diagram session
curl -X POST ` + base + `/api/sessions -d '{"handle":"example.com/app.Service.Run"}'

# Hide a participant and regenerate
curl -X POST ` + base + `/api/sessions/ID/exclude -d '{"type":"example.com/app.Logger"}'

# Canonical text of the current diagram
curl ` + base + `/api/sessions/ID/text
    </pre>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
