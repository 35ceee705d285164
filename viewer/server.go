package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/graph"
	"github.com/goliatone/go-flowpilot/session"
	"github.com/goliatone/go-flowpilot/storage"
)

// WorkflowSource loads stored workflow documents for the viewer.
type WorkflowSource interface {
	Load(ownerID, name string) (map[string]any, error)
}

// Server exposes saved workflows and their normalized graphs to the
// embedded viewer page.
type Server struct {
	sessions   session.Registry
	store      WorkflowSource
	normalizer *graph.Normalizer
	logger     flowpilot.Logger
	addr       string
	baseURL    string
	httpServer *http.Server
}

type Option func(*Server)

// WithAddr sets the listen address, ":8090" by default.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithBaseURL overrides the API base URL the client page calls. Empty
// keeps same-origin relative paths.
func WithBaseURL(baseURL string) Option {
	return func(s *Server) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithLogger(logger flowpilot.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNormalizer overrides the graph normalizer, for deterministic ids
// in tests.
func WithNormalizer(n *graph.Normalizer) Option {
	return func(s *Server) {
		if n != nil {
			s.normalizer = n
		}
	}
}

// NewServer wires the session registry and workflow store into the
// viewer HTTP surface.
func NewServer(sessions session.Registry, store WorkflowSource, opts ...Option) *Server {
	s := &Server{
		sessions:   sessions,
		store:      store,
		normalizer: graph.New(),
		logger:     flowpilot.NewFmtLogger(nil),
		addr:       ":8090",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workflow/{sessionID}", s.handleWorkflow)
	mux.HandleFunc("GET /api/graph/{sessionID}", s.handleGraph)
	mux.HandleFunc("GET /api/graph/{sessionID}/node/{nodeID}", s.handleNodeDetail)
	mux.HandleFunc("GET /api/viewer-config", s.handleConfig)
	mux.Handle("GET /", http.FileServerFS(ClientFS()))
	return mux
}

// Start serves until the context is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info("viewer listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, _, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workflow": workflow})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	workflow, _, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	result := s.normalizer.Normalize(workflow)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	workflow, _, ok := s.loadWorkflow(w, r)
	if !ok {
		return
	}

	nodeID := r.PathValue("nodeID")
	result := s.normalizer.Normalize(workflow)
	record, found := result.Lookup[nodeID]
	if !found {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}

	category := record.Subtitle()
	if category == "" {
		category = "Unknown"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       nodeID,
		"label":    record.Label(nodeID),
		"category": category,
		"inputs":   orEmpty(record.InputNames()),
		"outputs":  orEmpty(record.OutputNames()),
	})
}

// handleConfig hands the client page its API base URL. Empty means
// same-origin relative paths.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"base_url": s.baseURL})
}

// loadWorkflow resolves the session token and loads the referenced
// workflow, writing the error response itself when either step fails.
func (s *Server) loadWorkflow(w http.ResponseWriter, r *http.Request) (map[string]any, session.Reference, bool) {
	token := r.PathValue("sessionID")

	ref, err := s.sessions.Resolve(r.Context(), token)
	if err != nil {
		if flowpilot.IsMissingSession(err) {
			s.writeError(w, http.StatusNotFound, "unknown or expired session")
		} else {
			s.logger.Error("session resolve failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "session lookup failed")
		}
		return nil, session.Reference{}, false
	}

	workflow, err := s.store.Load(ref.OwnerID, ref.Workflow)
	if err != nil {
		if flowpilot.ErrorCode(err) == storage.ErrCodeWorkflowNotFound {
			s.writeError(w, http.StatusNotFound, "workflow not found")
		} else {
			s.logger.Error("workflow load failed", "error", err, "owner", ref.OwnerID, "workflow", ref.Workflow)
			s.writeError(w, http.StatusInternalServerError, "workflow load failed")
		}
		return nil, session.Reference{}, false
	}

	return workflow, ref, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

func orEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
