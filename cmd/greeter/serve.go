package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/analytics"
	"github.com/sulthonmb/greeting-app/internal/broker"
	"github.com/sulthonmb/greeting-app/internal/circuitbreaker"
	"github.com/sulthonmb/greeting-app/internal/cohort"
	"github.com/sulthonmb/greeting-app/internal/compose"
	"github.com/sulthonmb/greeting-app/internal/config"
	"github.com/sulthonmb/greeting-app/internal/cron"
	"github.com/sulthonmb/greeting-app/internal/dispatcher"
	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/greetconfig"
	"github.com/sulthonmb/greeting-app/internal/leaderelection"
	"github.com/sulthonmb/greeting-app/internal/logger"
	"github.com/sulthonmb/greeting-app/internal/metrics"
	"github.com/sulthonmb/greeting-app/internal/orchestrator"
	"github.com/sulthonmb/greeting-app/internal/reconciler"
	"github.com/sulthonmb/greeting-app/internal/scheduler"
	"github.com/sulthonmb/greeting-app/internal/store/postgres"
	"github.com/sulthonmb/greeting-app/internal/timezone"
)

func runServe() int {
	cfg, code := loadConfig()
	if code != exitSuccess {
		return code
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitRuntimeError
	}
	defer func() { _ = log.Sync() }()

	logConfigWarnings(cfg, log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	log.Info("db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
	)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)
	provider, err := greetconfig.NewProvider(store)
	if err != nil {
		log.Error("failed to build config provider", zap.Error(err))
		return exitRuntimeError
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", zap.String("port", cfg.MetricsPort), zap.String("path", cfg.MetricsPath))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	brokerLost := make(chan error, 1)
	mq := broker.New(cfg.RabbitMQURL, log,
		broker.WithMetrics(sink),
		broker.WithFatalHandler(func(err error) {
			select {
			case brokerLost <- err:
			default:
			}
		}),
	)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = mq.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		log.Error("failed to connect to broker", zap.Error(err))
		return exitRuntimeError
	}

	zones, err := timezone.Resolve(cfg.Timezones, cfg.DefaultTimezone)
	if err != nil {
		log.Warn("timezone enumeration failed, using default timezone only",
			zap.String("timezone", cfg.DefaultTimezone), zap.Error(err))
	}
	log.Info("timezones resolved", zap.Int("count", len(zones)))
	zoneSource := func() []string { return zones }

	orch := orchestrator.New(
		orchestrator.Config{
			ConfigName:      cfg.GreetingConfigName,
			Queue:           cfg.DeliveryQueue,
			RunTimeout:      cfg.RunTimeout,
			DefaultEvent:    domain.EventType(cfg.DefaultEvent),
			DefaultTimezone: cfg.DefaultTimezone,
		},
		provider,
		cohort.NewSelector(provider, store, cfg.GreetingConfigName, log),
		compose.New(log),
		mq,
		store,
		log,
	).WithMetrics(sink).WithTimezones(zoneSource)

	email := dispatcher.NewHTTPEmailSender(cfg.EmailServiceURL, cfg.EmailTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		email = email.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	disp := dispatcher.New(store, email, log).WithMetrics(sink)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		disp = disp.WithAnalytics(analytics.NewRedisSink(redisClient, log))
		log.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	maxRetries := consumerRetries(provider, cfg.GreetingConfigName, cfg.DBOpTimeout, log)

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	defer cancelConsume()
	if err := mq.Consume(consumeCtx, cfg.DeliveryQueue, disp.Handle, broker.ConsumeOptions{
		Prefetch:   cfg.RabbitMQPrefetch,
		MaxRetries: maxRetries,
	}); err != nil {
		log.Error("failed to start consumer", zap.Error(err))
		_ = mq.Close()
		return exitRuntimeError
	}

	sched := scheduler.New(
		scheduler.Config{ConfigName: cfg.GreetingConfigName},
		provider,
		orch,
		cron.NewParser(),
		zoneSource,
		log,
	).WithMetrics(sink)

	// schedMu orders a late election callback after the demotion that
	// cancelled it.
	var schedMu sync.Mutex
	startScheduler := func(ctx context.Context) {
		schedMu.Lock()
		defer schedMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := sched.InitWithRetry(ctx, cfg.SchedulerInitRetry); err != nil {
			if ctx.Err() == nil {
				log.Error("scheduler init failed, no triggers registered", zap.Error(err))
			}
			return
		}
		sched.Start()
	}
	stopScheduler := func() {
		schedMu.Lock()
		defer schedMu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn("scheduler stop timed out", zap.Error(err))
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	var leaderWg sync.WaitGroup
	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(db, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
			startScheduler, stopScheduler, log,
		).WithMetrics(sink)
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			elector.Run(leaderCtx)
		}()
	} else {
		// Init may wait for the config row to appear; serving does not.
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			startScheduler(leaderCtx)
		}()
	}

	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	var reconcilerWg sync.WaitGroup
	if cfg.ReconcileEnabled {
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
				Queue:     cfg.DeliveryQueue,
			},
			store,
			mq,
			log,
		).WithMetrics(sink)
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthHandler(store, cfg.DBOpTimeout))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}()

	log.Info("greeter started",
		zap.String("version", version),
		zap.String("queue", cfg.DeliveryQueue),
		zap.Bool("leader_election", cfg.LeaderElectionEnabled),
		zap.Bool("reconciler", cfg.ReconcileEnabled),
	)

	exit := exitSuccess
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		log.Info("received signal, shutting down", zap.String("signal", received.String()))
	case err := <-brokerLost:
		log.Error("broker lost, shutting down", zap.Error(err))
		exit = exitRuntimeError
	}

	// Phase 1: no new triggers fire.
	cancelLeader()
	leaderWg.Wait()
	if !cfg.LeaderElectionEnabled {
		stopScheduler()
	}
	log.Info("scheduler stopped")

	// Phase 2: no stale deliveries re-published.
	cancelReconciler()
	reconcilerWg.Wait()

	// Phase 3: in-flight runs finish publishing.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := orch.Wait(waitCtx); err != nil {
		log.Warn("delivery runs still in flight at shutdown", zap.Error(err))
	}
	cancelWait()

	// Phase 4: consumers settle in-flight messages, then the connection closes.
	cancelConsume()
	if err := mq.Close(); err != nil {
		log.Warn("broker close error", zap.Error(err))
	}

	// Phase 5: HTTP servers.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", zap.Error(err))
		}
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info("greeter stopped")
	return exit
}

// consumerRetries reads the retry budget from the greeting configuration.
// A missing or broken configuration falls back to the minimum budget.
func consumerRetries(configs orchestrator.ConfigSource, name string, timeout time.Duration, log *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	gc, err := configs.Load(ctx, name)
	if err != nil {
		fallback := domain.RetryPolicy{}.MaxRetries()
		log.Warn("greeting config unavailable, using default retry budget",
			zap.Int("max_retries", fallback), zap.Error(err))
		return fallback
	}
	return gc.Delivery.RetryPolicy.MaxRetries()
}
