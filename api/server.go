// Package api exposes the ingestion and agent workflows over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/fabfab/rainbow-agent/agent"
	"github.com/fabfab/rainbow-agent/config"
	"github.com/fabfab/rainbow-agent/ingestion"
	"github.com/fabfab/rainbow-agent/store"
)

// Deps are the long-lived services the server dispatches to. NewSession
// builds an agent session bound to the given collection.
type Deps struct {
	Ingestion  *ingestion.Service
	Chunks     store.Store
	NewSession func(collection string) *agent.Session
}

type Server struct {
	cfg     config.Config
	deps    Deps
	logger  *log.Logger
	handler http.Handler

	mu       sync.Mutex
	sessions map[string]*agent.Session
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	Path         string `json:"path"`
	Collection   string `json:"collection"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
}

type ingestResponse struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Skipped    int    `json:"skipped"`
}

type chatRequest struct {
	SessionID  string `json:"sessionId"`
	Collection string `json:"collection"`
	Message    string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

type collectionsResponse struct {
	Collections []string `json:"collections"`
}

type clearRequest struct {
	Collection string `json:"collection"`
	Confirm    bool   `json:"confirm"`
}

// New constructs a Server over the provided dependencies.
func New(cfg config.Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sessions: make(map[string]*agent.Session),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/collections", s.handleCollections)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	path := strings.TrimSpace(req.Path)
	if path == "" {
		path = s.cfg.DataDir
	}
	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		collection = s.cfg.Collection
	}

	summary, err := s.deps.Ingestion.Ingest(r.Context(), ingestion.Request{
		SourcePath:   path,
		Collection:   collection,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, ingestResponse{
		Collection: collection,
		Documents:  summary.Documents,
		Chunks:     summary.Chunks,
		Skipped:    summary.Skipped,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	session := s.resolveSession(req.SessionID, req.Collection)

	answer, err := session.Respond(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("chat failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{SessionID: session.ID(), Answer: answer})
}

// resolveSession returns the existing session for id, or registers a fresh
// one bound to collection (falling back to the configured default).
func (s *Server) resolveSession(id, collection string) *agent.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if session, ok := s.sessions[id]; ok {
			return session
		}
	}

	if strings.TrimSpace(collection) == "" {
		collection = s.cfg.Collection
	}
	session := s.deps.NewSession(collection)
	s.sessions[session.ID()] = session
	return session
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	names, err := s.deps.Chunks.ListCollections(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list collections: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, collectionsResponse{Collections: names})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}
	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("collection is required"))
		return
	}

	if err := s.deps.Chunks.DeleteCollection(r.Context(), collection); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("delete collection: %w", err))
		return
	}
	s.logger.Printf("cleared collection %q", collection)

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "collection cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
