package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketguard-backend/internal/agent"
	"marketguard-backend/internal/alerts"
	"marketguard-backend/internal/auth"
	"marketguard-backend/internal/cache"
	"marketguard-backend/internal/config"
	"marketguard-backend/internal/handlers"
	"marketguard-backend/internal/hub"
	"marketguard-backend/internal/ingest"
	"marketguard-backend/internal/metrics"
	"marketguard-backend/internal/middleware"
	"marketguard-backend/internal/natsbus"
	"marketguard-backend/internal/rpc"
	"marketguard-backend/internal/security"
	"marketguard-backend/internal/storage"
	"marketguard-backend/internal/workers"
)

const driverMemory = "memory"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, analyzer and remediation agent",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	feed := hub.NewHub(logger.Named("hub"))

	events := security.NewEventLog(store, cfg.StoreTimeout, logger, m)
	events.SetFeed(feed)
	blocks := security.NewBlockRegistry(store, cfg.StoreTimeout, cfg.Admission.CacheSize, cfg.Admission.CacheFreshness, logger, m)
	enforcer := security.NewEnforcer(blocks, store, events, cfg.StoreTimeout, logger, m)
	analyzer := security.NewAnalyzer(cfg.Analyzer, events, enforcer, store, cfg.StoreTimeout, logger, m)
	ingestor := security.NewIngestor(events, cfg.Ingestion.LargePayloadBytes, cfg.Ingestion.MaxPayloadSample, logger)

	detector := agent.NewCoinFlipDetector(cfg.Agent.TriggerProbability, time.Now().UnixNano())
	remediation := agent.New(cfg.Agent, detector, logger.Named("agent"), m)
	remediation.SetFeed(feed)

	if cfg.SlackWebhookURL != "" {
		enforcer.AddNotifier(alerts.NewSlackNotifier(cfg.SlackWebhookURL))
	}

	proxies, err := middleware.NewProxyTrust(cfg.Admission.TrustedProxies)
	if err != nil {
		return err
	}

	rateLimit := middleware.LocalRateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window, proxies)
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		enforcer.SetMirror(redisClient)
		rateLimit = middleware.RateLimit(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, proxies, logger.Named("ratelimit"))
		if !workers.StartRedisKeyeventWorker(ctx, redisClient, blocks, logger.Named("keyevents")) {
			logger.Warn("redis keyspace notifications are not active; expired blocks are cleaned up on read only")
		}
	}
	if !cfg.RateLimit.Enabled {
		rateLimit = nil
	}

	var consumer *ingest.OutcomeConsumer
	var responder *rpc.Responder
	if cfg.NATS.URL != "" {
		natsClient, err := natsbus.Connect(cfg.NATS.URL, logger.Named("nats"))
		if err != nil {
			return err
		}
		defer natsClient.Close()

		enforcer.AddNotifier(alerts.NewNATSNotifier(natsClient.NC()))
		consumer = ingest.NewOutcomeConsumer(natsClient.JS(), ingestor, logger.Named("outcomes"))
		if err := consumer.Start(ctx); err != nil {
			return err
		}

		responder = rpc.NewResponder(blocks, analyzer, cfg.Admission.LockdownAllowPrefixes, cfg.StoreTimeout, logger.Named("rpc"))
		if err := responder.Start(natsClient.NC()); err != nil {
			return err
		}
	}

	workers.StartThreatAnalyzer(ctx, analyzer, cfg.Analyzer.Interval, logger.Named("scheduler"))
	workers.StartAgentMonitor(ctx, remediation, cfg.Agent.Interval, logger.Named("scheduler"))

	status := security.NewStatusFacade(analyzer, events, blocks, remediation, cfg.Status.PageSize, cfg.Status.CriticalPenalty)
	h := handlers.New(status, analyzer, enforcer, remediation, feed.ServeWS, logger.Named("http"))
	router := handlers.NewRouter(handlers.RouterDeps{
		Handler:   h,
		Issuer:    issuer,
		Store:     store,
		Gatherer:  reg,
		Admission: middleware.Admission(blocks, analyzer, cfg.Admission.LockdownAllowPrefixes, proxies, m, logger.Named("admission")),
		Observe:   middleware.Observe(ingestor, cfg.NATS.Service, cfg.Ingestion.LargePayloadBytes, proxies),
		RateLimit: rateLimit,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if consumer != nil {
		_ = consumer.Stop()
	}
	if responder != nil {
		_ = responder.Stop()
	}
	feed.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := remediation.Wait(shutdownCtx); err != nil {
		logger.Warn("remediation cycle still running at exit", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its cleanup. SQLite
// databases are migrated on open.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	if cfg.Database.Driver == driverMemory {
		logger.Warn("using in-memory store; events and blocks are lost on exit")
		return storage.NewMemoryStore(), func() {}, nil
	}

	db, err := storage.Connect(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Attempts, logger)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStorage(db)

	if cfg.Database.Driver == "sqlite3" {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	logger.Info("connected to database", zap.String("driver", cfg.Database.Driver))
	return store, func() { db.Close() }, nil
}
