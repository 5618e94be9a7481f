package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ivr-gateway/internal/auth"
	"ivr-gateway/internal/callautomation"
	"ivr-gateway/internal/calllog"
	"ivr-gateway/internal/config"
	"ivr-gateway/internal/httpapi"
	"ivr-gateway/internal/ivr"
	"ivr-gateway/internal/mediastream"
	"ivr-gateway/internal/nlu"
	"ivr-gateway/pkg/logger"
	"ivr-gateway/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	acs, err := callautomation.NewClient(cfg.ACS.ConnectionString)
	if err != nil {
		log.Error("call automation init failed", "err", err)
		os.Exit(1)
	}

	classifier := nlu.NewClient(cfg.OpenAI)
	callLog := calllog.NewStore(db)
	registry := ivr.NewRegistry()

	limiter := &ivr.RedisCallCap{
		RDB:   rdb,
		Key:   "ivr:active_calls",
		Limit: cfg.IVR.MaxConcurrentCalls,
		TTL:   time.Hour,
	}

	router := ivr.NewRouter(registry, classifier, callLog, log, ivr.RouterConfig{
		AgentPhoneNumber: cfg.IVR.AgentPhoneNumber,
		VoiceName:        cfg.IVR.VoiceName,
		OnTerminated: func(ctx context.Context, _ string) {
			limiter.Release(ctx)
		},
	})

	svc := ivr.NewService(acs, registry, router, callLog, limiter, log, ivr.ServiceConfig{
		CallbackBaseURL: cfg.ACS.CallbackBaseURL,
		TransportURL:    cfg.WebsocketTransportURL(),
		SilenceRetries:  cfg.IVR.SilenceRetries,
	})

	streams := mediastream.NewHandler(log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Service: svc,
		Records: callLog,
		Streams: streams,
	}
	registerRoutes(r, handlers, streams, auth.RequireServiceToken(authManager), db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
