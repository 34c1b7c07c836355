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

	"softphone-platform/internal/audit"
	"softphone-platform/internal/auth"
	"softphone-platform/internal/calls"
	"softphone-platform/internal/config"
	"softphone-platform/internal/configsync"
	"softphone-platform/internal/eventbus"
	"softphone-platform/internal/httpapi"
	"softphone-platform/internal/messaging"
	"softphone-platform/internal/metrics"
	"softphone-platform/internal/routing"
	"softphone-platform/internal/storage"
	"softphone-platform/internal/telephony"
	"softphone-platform/internal/tenant"
	"softphone-platform/pkg/logger"
	"softphone-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
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
	rootCtx = logger.With(rootCtx, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := httpapi.RegisterValidators(); err != nil {
		log.Error("validator init failed", "err", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if _, err := storage.Migrate(rootCtx, db); err != nil {
			log.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tenantRepo := tenant.NewPostgresRepo(db)
	callRepo := calls.NewPostgresRepo(db)
	messageRepo := messaging.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	dir := tenant.NewDirectory(tenantRepo, tenant.DirectoryOptions{
		TTL:       cfg.Cache.CredentialTTL,
		Publisher: rdb,
		Audit:     auditSvc,
		Metrics:   m,
	})
	provider := telephony.NewTwilioProvider(cfg.Twilio.RequestTimeout)

	hub := eventbus.NewHub(historySource{messageRepo}, eventbus.HubOptions{
		Backlog:   cfg.EventBus.Backlog,
		QueueSize: cfg.EventBus.QueueSize,
		Metrics:   m,
	})
	relay := eventbus.NewRelay(hub, rdb)
	msgRouter := messaging.NewRouter(messageRepo, dir, tenantRepo, provider, hub, m, messaging.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		HistoryLimit:  cfg.EventBus.Backlog,
	})

	callRouter := routing.NewRouter(dir, tenantRepo, callRepo, routing.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		TokenTTL:      cfg.Twilio.TokenTTL,
		Record:        cfg.Twilio.RecordCalls,
	})
	correlator := calls.NewCorrelator(callRepo, dir, hub, m)
	syncer := configsync.NewService(tenantRepo, provider, dir, configsync.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		Locker:        rdb,
		Audit:         auditSvc,
		Metrics:       m,
	})
	reg.MustRegister(metrics.NewCollector(hub, dir, time.Now()))

	limiter := httpapi.NewRateLimiter(cfg.Webhook.RateLimit, cfg.Webhook.RateBurst)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps{
		cfg:      cfg,
		db:       db,
		registry: reg,
		auth:     authManager,
		dir:      dir,
		limiter:  limiter,
		webhooks: httpapi.Webhooks{Voice: callRouter, Calls: correlator, Messages: msgRouter, Metrics: m},
		ui: httpapi.UI{
			Calls:    callRouter,
			Messages: msgRouter,
			Realtime: eventbus.NewServer(hub, msgRouter, originChecker(cfg.App.AllowedOrigins)),
		},
		admin: httpapi.Admin{Config: syncer, Credentials: dir, Audit: auditSvc},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return background(gctx, "eventbus relay", relay.Run) })
	g.Go(func() error {
		return background(gctx, "tenant invalidation listener", func(ctx context.Context) error { return dir.Listen(ctx, rdb) })
	})
	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("api stopped")
}

// background runs a subscriber until ctx ends. Cancellation is a clean stop.
func background(ctx context.Context, name string, run func(context.Context) error) error {
	err := run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.From(ctx).Error(name+" stopped", "err", err)
		return err
	}
	return nil
}

// historySource feeds the hub's join checks and backlog straight from storage.
type historySource struct{ repo messaging.Repository }

func (s historySource) Conversation(ctx context.Context, id string) (messaging.Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}

func (s historySource) History(ctx context.Context, conversationID string, limit int) ([]messaging.Message, error) {
	return s.repo.RecentMessages(ctx, conversationID, limit)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}
