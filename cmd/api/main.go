package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"draftline/api/internal/app"
	"draftline/api/internal/config"
	"draftline/api/internal/gitrepo"
	"draftline/api/internal/logging"
	"draftline/api/internal/metrics"
	"draftline/api/internal/notify"
	"draftline/api/internal/search"
	"draftline/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := app.Options{
		Metrics: metrics.New(registry),
		Logger:  logger,
	}

	var ds app.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		ds = store.NewMemoryStore()
	case config.StorePostgres:
		if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		ds = store.NewPostgresStore(db)

		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		}
		searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)
		defer searchService.Close()
		if meiliClient != nil {
			go searchService.ReindexAllFromPG(ctx)
		}
		opts.Search = searchService
	default:
		logger.Fatal().Str("store", cfg.Store).Msg("unknown DRAFTLINE_STORE")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		inbox, err := notify.NewRedisInbox(cfg.RedisURL, cfg.InboxSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer inbox.Close()
		opts.Inbox = inbox
		logger.Info().Msg("notifications delivered to redis")
	} else {
		opts.Inbox = notify.NewMemoryInbox(cfg.InboxSize)
	}
	opts.Notifier = notify.NewBridge(logger, opts.Inbox)

	if dir := strings.TrimSpace(cfg.MirrorDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create mirror dir")
		}
		opts.Mirror = gitrepo.New(dir)
	}

	service := app.New(cfg, ds, opts)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, registry)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("draftline API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
