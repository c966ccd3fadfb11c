package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messageai/internal/servicetoken"
	"messageai/internal/usertoken"
	"messageai/internal/util"
	"messageai/pkg/ai"
	"messageai/services/assistant/internal/app"
	"messageai/services/assistant/internal/config"
	"messageai/services/assistant/internal/convclient"
	"messageai/services/assistant/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "assistant")

	signer, err := servicetoken.NewSigner(cfg.ServiceTokenSecret, "assistant", 0)
	if err != nil {
		util.Fatal("failed to init service token signer", "err", err)
	}
	conversations := convclient.NewClient(cfg.ConversationURL, signer)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: cfg.JWKSURL})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	var generator ai.TextGenerator
	if strings.TrimSpace(cfg.GenerationAPIKey) != "" {
		generator = ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	} else {
		logger.Warn("no generation API key configured, LLM artifacts disabled")
	}

	appCore, err := app.New(app.Config{
		Context:      conversations,
		Generator:    generator,
		ContextLimit: cfg.ContextLimit,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	srv := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokenVerifier,
	})
	handler := util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(srv.Router()))))

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second, // generation calls are slow
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("assistant server listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
	slog.Info("assistant server stopped")
}
