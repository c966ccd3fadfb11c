package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"messageai/internal/ratelimit"
	"messageai/internal/servicetoken"
	"messageai/internal/util"
	"messageai/pkg/domain"
	"messageai/services/auth/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	ServiceVerifier *servicetoken.Verifier
	TrustedProxies  *util.TrustedProxies

	SignupLimiter  *ratelimit.FixedWindowLimiter
	LoginLimiter   *ratelimit.FixedWindowLimiter
	RefreshLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes the identity HTTP endpoints.
type Server struct {
	app             *app.App
	serviceVerifier *servicetoken.Verifier
	trustedProxies  *util.TrustedProxies
	signupLimiter   *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	refreshLimiter  *ratelimit.FixedWindowLimiter
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		serviceVerifier: cfg.ServiceVerifier,
		trustedProxies:  cfg.TrustedProxies,
		signupLimiter:   cfg.SignupLimiter,
		loginLimiter:    cfg.LoginLimiter,
		refreshLimiter:  cfg.RefreshLimiter,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	s.mux.HandleFunc("/auth/jwks", s.handleJWKS)

	s.mux.Handle("/auth/signup", s.rateLimited(s.signupLimiter, s.handleSignup))
	s.mux.Handle("/auth/login", s.rateLimited(s.loginLimiter, s.handleLogin))
	s.mux.Handle("/auth/refresh", s.rateLimited(s.refreshLimiter, s.handleRefresh))
	s.mux.HandleFunc("/auth/logout", s.handleLogout)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/auth/me/presence", s.authenticated(s.handlePresence))
	s.mux.Handle("/auth/users/search", s.authenticated(s.handleUserSearch))

	// service-to-service
	s.mux.Handle("/internal/users/lookup", s.serviceOnly(s.handleUsersLookup))
	s.mux.Handle("/internal/users/search", s.serviceOnly(s.handleInternalUserSearch))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.app.JWKS()})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) serviceOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceVerifier == nil {
			writeError(w, http.StatusForbidden, "service access not configured")
			return
		}
		token, ok := servicetoken.FromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "service token required")
			return
		}
		if _, err := s.serviceVerifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		next(w, r)
	})
}

func (s *Server) rateLimited(limiter *ratelimit.FixedWindowLimiter, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil {
			ip := util.ClientIP(r, s.trustedProxies)
			if !limiter.Allow(ip) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next(w, r)
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, refresh, err := s.app.SignUp(req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, RefreshToken: refresh, User: userView(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, refresh, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, RefreshToken: refresh, User: userView(user)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, refresh, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, RefreshToken: refresh, User: userView(user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req refreshRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	if err := s.app.Logout(token, req.RefreshToken); err != nil {
		slog.Error("logout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, userView(user))
	case http.MethodPatch:
		var req updateProfileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.DisplayName == nil && req.ProfileImageURL == nil {
			writeError(w, http.StatusBadRequest, "displayName or profileImageURL is required")
			return
		}
		updated, err := s.app.UpdateProfile(user, req.DisplayName, req.ProfileImageURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, userView(updated))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req presenceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IsOnline == nil {
		writeError(w, http.StatusBadRequest, "isOnline is required")
		return
	}
	updated, err := s.app.SetPresence(user.ID, *req.IsOnline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(updated))
}

func (s *Server) handleUserSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeUserSearch(w, r)
}

func (s *Server) handleInternalUserSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeUserSearch(w, r)
}

func (s *Server) writeUserSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	users, err := s.app.SearchUsers(query, 20)
	if err != nil {
		slog.Error("user search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, userView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleUsersLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw := r.URL.Query().Get("ids")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	users, err := s.app.UsersByIDs(strings.Split(raw, ","))
	if err != nil {
		slog.Error("user lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, userView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type updateProfileRequest struct {
	DisplayName     *string `json:"displayName"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

type presenceRequest struct {
	IsOnline *bool `json:"isOnline"`
}

type authResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
}

// userResponse never carries the password hash.
type userResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	DisplayName     string `json:"displayName"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	IsOnline        bool   `json:"isOnline"`
	Role            string `json:"role"`
}

func userView(u domain.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
		IsOnline:        u.IsOnline,
		Role:            string(u.Role),
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
