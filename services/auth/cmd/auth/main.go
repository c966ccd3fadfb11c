package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messageai/internal/ratelimit"
	"messageai/internal/servicetoken"
	"messageai/internal/util"
	"messageai/services/auth/internal/app"
	"messageai/services/auth/internal/config"
	"messageai/services/auth/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "auth")

	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		util.Fatal("invalid config", "err", err)
	}
	refreshTTL, err := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	if err != nil {
		util.Fatal("invalid config", "err", err)
	}
	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		util.Fatal("invalid config", "err", err)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		util.Fatal("invalid config", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		SessionTTL:          sessionTTL,
		RefreshTTL:          refreshTTL,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           jwtLeeway,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var serviceVerifier *servicetoken.Verifier
	if strings.TrimSpace(cfg.ServiceTokenSecret) != "" {
		serviceVerifier, err = servicetoken.NewVerifier(
			cfg.ServiceTokenSecret,
			"auth",
			[]string{"conversation", "assistant", "gateway"},
			0,
		)
		if err != nil {
			util.Fatal("failed to init service token verifier", "err", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(splitList(cfg.TrustedProxies))
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}

	srvCfg := server.Config{
		App:             appCore,
		ServiceVerifier: serviceVerifier,
		TrustedProxies:  trustedProxies,
	}
	srvCfg.SignupLimiter = newLimiter(cfg, "signup", cfg.SignupRateLimitPerMinute)
	srvCfg.LoginLimiter = newLimiter(cfg, "login", cfg.LoginRateLimitPerMinute)
	srvCfg.RefreshLimiter = newLimiter(cfg, "refresh", cfg.RefreshRateLimitPerMinute)

	handler := util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(server.New(srvCfg).Router()))))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("auth server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
	slog.Info("auth server stopped")
}

func newLimiter(cfg config.FileConfig, op string, perMinute int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 {
		return nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr,
		cfg.RedisPassword,
		"messageai:ratelimit:auth:"+op,
		perMinute,
		time.Minute,
	)
	if err != nil {
		util.Fatal("failed to init rate limiter", "op", op, "err", err)
	}
	return limiter
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
