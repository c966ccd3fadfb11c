package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messageai/internal/usertoken"
	"messageai/internal/util"
	"messageai/services/gateway/internal/authclient"
	"messageai/services/gateway/internal/config"
	"messageai/services/gateway/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "gateway")

	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = strings.TrimRight(cfg.AuthURL, "/") + "/.well-known/jwks.json"
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwksURL})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	trustedProxies, err := util.NewTrustedProxies(splitList(cfg.TrustedProxies))
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}

	srv, err := server.New(server.Config{
		Auth:                      authclient.NewClient(cfg.AuthURL),
		ConversationURL:           cfg.ConversationURL,
		AssistantURL:              cfg.AssistantURL,
		TokenVerifier:             tokenVerifier,
		TrustedProxies:            trustedProxies,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		SignupRateLimitPerMinute:  cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:   cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute: cfg.RefreshRateLimitPerMinute,
		RefreshCookie: server.RefreshCookieConfig{
			Name:     cfg.RefreshCookieName,
			Domain:   cfg.RefreshCookieDomain,
			Path:     cfg.RefreshCookiePath,
			Secure:   cfg.RefreshCookieSecure,
			SameSite: parseSameSite(cfg.RefreshCookieSameSite),
			MaxAge:   cfg.RefreshCookieMaxAgeSeconds,
		},
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	handler := util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(srv.Router()))))

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// no write timeout: WebSocket subscriptions and generation calls
		// are proxied through and may run long
		IdleTimeout: 60 * time.Second,
	}

	logger.Info("gateway listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
	slog.Info("gateway stopped")
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "strict":
		return http.SameSiteStrictMode
	default:
		return 0
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
