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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"familycall-platform/internal/auth"
	"familycall-platform/internal/badge"
	"familycall-platform/internal/calls"
	"familycall-platform/internal/config"
	"familycall-platform/internal/family"
	"familycall-platform/internal/history"
	"familycall-platform/internal/httpapi"
	"familycall-platform/internal/notify"
	"familycall-platform/internal/presence"
	"familycall-platform/internal/session"
	"familycall-platform/internal/signaling"
	"familycall-platform/internal/ws"
	"familycall-platform/pkg/logger"
	"familycall-platform/pkg/utils"
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

	// Domain wiring. The session store is the single source of truth; badges
	// and history consume its change events as derived views.
	directory := family.NewPostgresDirectory(db)
	store := session.NewStore(session.NewPostgresRepo(db))
	relay := signaling.NewRedisRelay(rdb, log, cfg.Call.SignalBuffer)

	dispatcher := notify.NewDispatcher(
		directory,
		notify.NewLogPusher(log),
		notify.NewRedisDeduper(rdb, 24*time.Hour),
		log,
	)

	tracker := presence.NewTracker(
		presence.NewRedisStore(rdb, cfg.Call.HeartbeatGrace),
		cfg.Call.OfflineDebounce,
		nil,
	)

	machine := calls.NewMachine(store, relay, directory, dispatcher, nil, cfg.Call, log)

	badges := badge.NewReconciler(badge.NewPostgresRepo(db), log)
	badgeEvents, unsubBadges := store.Subscribe(cfg.Call.SignalBuffer)
	defer unsubBadges()
	go badges.Run(rootCtx, badgeEvents)

	recorder := history.NewRecorder(history.NewPostgresRepo(db), log)
	historyEvents, unsubHistory := store.Subscribe(cfg.Call.SignalBuffer)
	defer unsubHistory()
	go recorder.Run(rootCtx, historyEvents)

	gateway := ws.NewGateway(relay, func(ctx context.Context, familyID, sessionID string) (session.Status, error) {
		s, err := store.Get(ctx, familyID, sessionID)
		if err != nil {
			return "", err
		}
		return s.Status, nil
	}, tracker, directory, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Machine:   machine,
		Store:     store,
		Presence:  tracker,
		Badges:    badges,
		History:   recorder,
		Notify:    dispatcher,
		Directory: directory,
	}
	registerRoutes(r, h, gateway, auth.RequireAccessToken(authManager), db, rdb)

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
}
