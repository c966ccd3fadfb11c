package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"messageai/internal/usertoken"
	"messageai/services/assistant/internal/app"
	"messageai/services/assistant/internal/convclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
}

// Server exposes the assistant HTTP endpoints.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("POST /assistant/chats/{id}/summary", s.withUser(s.handleSummary))
	s.mux.Handle("POST /assistant/chats/{id}/decisions", s.withUser(s.handleDecisions))
	s.mux.Handle("POST /assistant/chats/{id}/priorities", s.withUser(s.handlePriorities))
	s.mux.Handle("POST /assistant/chats/{id}/insights", s.withUser(s.handleInsights))
	s.mux.Handle("POST /assistant/chats/{id}/project-status", s.withUser(s.handleProjectStatus))
	s.mux.Handle("GET /assistant/chats/{id}/artifacts/{kind}", s.withUser(s.handleArtifact))
	s.mux.Handle("POST /assistant/search", s.withUser(s.handleSearch))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, userID string) {
	summary, err := s.app.Summarize(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request, userID string) {
	decisions, err := s.app.Decisions(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: decisions, Count: len(decisions)})
}

func (s *Server) handlePriorities(w http.ResponseWriter, r *http.Request, userID string) {
	flags, err := s.app.Priorities(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: flags, Count: len(flags)})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request, userID string) {
	insight, err := s.app.Insights(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

type projectStatusRequest struct {
	ProjectName string `json:"projectName"`
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request, userID string) {
	var req projectStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := s.app.ProjectStatus(r.Context(), userID, r.PathValue("id"), req.ProjectName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request, userID string) {
	kind, ok := app.ParseArtifactKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, app.ErrUnknownArtifactKind.Error())
		return
	}
	artifact, err := s.app.Artifact(userID, r.PathValue("id"), kind)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID string) {
	var req app.SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := s.app.Search(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: results, Count: len(results)})
}

type listResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrGenerationNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrChatNotFound), errors.Is(err, app.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrProjectNameRequired), errors.Is(err, app.ErrUnknownArtifactKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		var apiErr *convclient.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, "conversation service unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
