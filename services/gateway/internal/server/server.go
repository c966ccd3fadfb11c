package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"messageai/internal/ratelimit"
	"messageai/internal/usertoken"
	"messageai/internal/util"
	"messageai/services/gateway/internal/authclient"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth            *authclient.Client
	ConversationURL string
	AssistantURL    string
	TokenVerifier   *usertoken.Verifier
	TrustedProxies  *util.TrustedProxies

	RedisAddr     string
	RedisPassword string

	SignupRateLimitPerMinute  int
	LoginRateLimitPerMinute   int
	RefreshRateLimitPerMinute int

	RefreshCookie RefreshCookieConfig
}

// RefreshCookieConfig controls the HttpOnly cookie that carries the refresh
// token for browser clients. Body-based clients keep working; the cookie is
// a fallback source on refresh and logout.
type RefreshCookieConfig struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
	MaxAge   int
}

// Server is the public edge of the system. Auth endpoints are proxied through
// a typed client with rate limiting and audit logging; conversation and
// assistant traffic is reverse-proxied after token verification.
type Server struct {
	auth           *authclient.Client
	tokenVerifier  *usertoken.Verifier
	trustedProxies *util.TrustedProxies
	conversation   *httputil.ReverseProxy
	assistant      *httputil.ReverseProxy
	mux            *http.ServeMux
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	refreshLimiter *ratelimit.FixedWindowLimiter
	refreshCookie  RefreshCookieConfig
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	refreshLimit := cfg.RefreshRateLimitPerMinute
	if refreshLimit <= 0 {
		refreshLimit = 20
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "messageai:gateway:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	refreshLimiter, err := newLimiter("refresh", refreshLimit)
	if err != nil {
		return nil, err
	}

	cookie := cfg.RefreshCookie
	if cookie.Name == "" {
		cookie.Name = "messageai_refresh"
	}
	if cookie.Path == "" {
		cookie.Path = "/api/auth"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteStrictMode
	}
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = int((30 * 24 * time.Hour).Seconds())
	}

	s := &Server{
		auth:           cfg.Auth,
		tokenVerifier:  cfg.TokenVerifier,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
		refreshLimiter: refreshLimiter,
		refreshCookie:  cookie,
	}
	if cfg.ConversationURL != "" {
		s.conversation, err = newProxy(cfg.ConversationURL)
		if err != nil {
			return nil, fmt.Errorf("conversation proxy: %w", err)
		}
	}
	if cfg.AssistantURL != "" {
		s.assistant, err = newProxy(cfg.AssistantURL)
		if err != nil {
			return nil, fmt.Errorf("assistant proxy: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// newProxy builds a reverse proxy that strips the /api prefix. WebSocket
// upgrades pass through untouched.
func newProxy(target string) (*httputil.ReverseProxy, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(parsed)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, "/api")
		director(r)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Warn("proxy error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}
	return proxy, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// identity
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/jwks", s.handleJWKS)
	s.mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/presence", s.authenticated(s.handlePresence))
	s.mux.Handle("/api/users/search", s.authenticated(s.handleUserSearch))

	// conversation and assistant services (token verified, then proxied)
	s.mux.Handle("/api/chats", s.verified(s.proxyConversation))
	s.mux.Handle("/api/chats/", s.verified(s.proxyConversation))
	s.mux.Handle("/api/assistant/", s.verified(s.proxyAssistant))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, string)

// authenticated verifies the token signature, then confirms it against the
// auth service. The handler receives the bearer token.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := s.verifyToken(r)
		if !ok {
			s.audit(r, "gateway.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.auth.Me(token); err != nil {
			s.audit(r, "gateway.authorize", "fail", "reason", "auth_me_failed")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, token)
	})
}

// verified checks the token signature locally and forwards. The upstream
// service performs its own authoritative check.
func (s *Server) verified(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.verifyToken(r); !ok {
			s.audit(r, "gateway.token.verify", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) verifyToken(r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return "", false
	}
	if s.tokenVerifier != nil {
		if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
			return "", false
		}
	}
	return token, true
}

func (s *Server) proxyConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversation == nil {
		writeError(w, http.StatusBadGateway, "conversation service not configured")
		return
	}
	s.conversation.ServeHTTP(w, r)
}

func (s *Server) proxyAssistant(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, http.StatusBadGateway, "assistant service not configured")
		return
	}
	s.assistant.ServeHTTP(w, r)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "gateway.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.auth.SignUp(req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.audit(r, "gateway.signup", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.signup", "success", "user_id", user.ID)
	s.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusCreated, authResponse{Token: accessToken, RefreshToken: refreshToken, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "gateway.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, accessToken, refreshToken, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "gateway.login", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.login", "success", "user_id", user.ID)
	s.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusOK, authResponse{Token: accessToken, RefreshToken: refreshToken, User: user})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.refreshLimiter, "too many refresh attempts") {
		s.audit(r, "gateway.refresh", "rate_limited")
		return
	}
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	current := s.refreshTokenFrom(r, req.RefreshToken)
	if current == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	user, accessToken, refreshToken, err := s.auth.Refresh(current)
	if err != nil {
		s.audit(r, "gateway.refresh", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.refresh", "success", "user_id", user.ID)
	s.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusOK, authResponse{Token: accessToken, RefreshToken: refreshToken, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.auth.Logout(token, s.refreshTokenFrom(r, req.RefreshToken)); err != nil {
		s.audit(r, "gateway.logout", "fail", "reason", err.Error())
		writeAuthError(w, err)
		return
	}
	s.audit(r, "gateway.logout", "success")
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookie.Name,
		Value:    token,
		Domain:   s.refreshCookie.Domain,
		Path:     s.refreshCookie.Path,
		MaxAge:   s.refreshCookie.MaxAge,
		HttpOnly: true,
		Secure:   s.refreshCookie.Secure,
		SameSite: s.refreshCookie.SameSite,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookie.Name,
		Value:    "",
		Domain:   s.refreshCookie.Domain,
		Path:     s.refreshCookie.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.refreshCookie.Secure,
		SameSite: s.refreshCookie.SameSite,
	})
}

// refreshTokenFrom prefers the JSON body and falls back to the cookie.
func (s *Server) refreshTokenFrom(r *http.Request, fromBody string) string {
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	if c, err := r.Cookie(s.refreshCookie.Name); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	keys, err := s.auth.JWKS()
	if err != nil {
		writeAuthError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, token string) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.auth.Me(token)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateMeRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.DisplayName == nil && req.ProfileImageURL == nil {
			writeError(w, http.StatusBadRequest, "displayName or profileImageUrl is required")
			return
		}
		updated, err := s.auth.UpdateMe(token, req.DisplayName, req.ProfileImageURL)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req presenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IsOnline == nil {
		writeError(w, http.StatusBadRequest, "isOnline is required")
		return
	}
	updated, err := s.auth.SetPresence(token, *req.IsOnline)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUserSearch(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.auth.SearchUsers(token, r.URL.Query().Get("q"))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users, "count": len(users)})
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

type updateMeRequest struct {
	DisplayName     *string `json:"displayName"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

type presenceRequest struct {
	IsOnline *bool `json:"isOnline"`
}

type authResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	User         any    `json:"user"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		// WebSocket subscriptions carry the token as a query parameter
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		return token, token != ""
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

func writeAuthError(w http.ResponseWriter, err error) {
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "auth service unavailable")
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
