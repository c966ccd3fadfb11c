package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messageai/internal/servicetoken"
	"messageai/internal/usertoken"
	"messageai/internal/util"
	"messageai/pkg/queue"
	"messageai/services/conversation/internal/app"
	"messageai/services/conversation/internal/authclient"
	"messageai/services/conversation/internal/config"
	"messageai/services/conversation/internal/hub"
	"messageai/services/conversation/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "conversation")

	nameCacheTTL, err := config.ParseDuration("nameCacheTTL", cfg.NameCacheTTL)
	if err != nil {
		util.Fatal("invalid config", "err", err)
	}

	signer, err := servicetoken.NewSigner(cfg.ServiceTokenSecret, "conversation", 0)
	if err != nil {
		util.Fatal("failed to init service token signer", "err", err)
	}
	serviceVerifier, err := servicetoken.NewVerifier(
		cfg.ServiceTokenSecret,
		"conversation",
		[]string{"assistant", "gateway"},
		0,
	)
	if err != nil {
		util.Fatal("failed to init service token verifier", "err", err)
	}

	auth := authclient.NewClient(cfg.AuthURL, signer)

	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = strings.TrimRight(cfg.AuthURL, "/") + "/.well-known/jwks.json"
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwksURL})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	deliveryQueue, err := queue.NewRedisDeliveryQueue(queue.RedisDeliveryQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.DeliveryStream,
	})
	if err != nil {
		util.Fatal("failed to init delivery queue", "err", err)
	}

	liveHub := hub.New()

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Directory:   auth,
		Names:       app.NewNameCache(auth, nameCacheTTL),
		Queue:       deliveryQueue,
		Broadcast:   liveHub,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveryQueue.Start(ctx, cfg.DeliveryWorkers, appCore.HandleDelivery, appCore.HandleDeliveryFailure)

	srv := server.New(server.Config{
		App:             appCore,
		Auth:            auth,
		Hub:             liveHub,
		TokenVerifier:   tokenVerifier,
		ServiceVerifier: serviceVerifier,
	})

	handler := util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(srv.Router()))))

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket subscriptions are long-lived
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("conversation server listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
	slog.Info("conversation server stopped")
}
