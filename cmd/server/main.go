// server runs the session core: background cleanup and monitoring jobs plus a gRPC
// health endpoint. Without DATABASE_URL all state is in memory.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	accountrepo "auth-session-core/internal/account/repository"
	"auth-session-core/internal/audit"
	auditrepo "auth-session-core/internal/audit/repository"
	"auth-session-core/internal/auth/service"
	"auth-session-core/internal/blacklist"
	blacklistrepo "auth-session-core/internal/blacklist/repository"
	"auth-session-core/internal/cleanup"
	"auth-session-core/internal/config"
	"auth-session-core/internal/db"
	"auth-session-core/internal/db/migrate"
	healthhandler "auth-session-core/internal/health/handler"
	"auth-session-core/internal/notify"
	"auth-session-core/internal/security"
	"auth-session-core/internal/server"
	sessionrepo "auth-session-core/internal/session/repository"
	"auth-session-core/internal/telemetry"
	otelsetup "auth-session-core/internal/telemetry/otel"
)

const serviceName = "auth-session-core"

type stores struct {
	accounts  accountrepo.Repository
	sessions  sessionrepo.Repository
	events    auditrepo.Repository
	blacklist blacklistrepo.Repository
	db        healthhandler.Pinger
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure, logger)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(serviceName))
	if err != nil {
		logger.Fatal("metrics", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("stores", zap.Error(err))
	}
	defer st.close()

	var (
		publishers []notify.Publisher
		names      []string
		cache      healthhandler.Pinger
	)
	if cfg.RedisURL != "" {
		rdb, err := notify.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		st.blacklist = blacklistrepo.NewRedisCache(st.blacklist, rdb, logger)
		publishers = append(publishers, notify.NewRedisPublisher(rdb))
		names = append(names, "redis")
		cache = redisPinger(rdb)
	}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := notify.NewKafkaPublisher(brokers)
		if err != nil {
			logger.Fatal("kafka", zap.Error(err))
		}
		publishers = append(publishers, kp)
		names = append(names, "kafka")
	}
	publisher := notify.NewFanout(publishers...)
	defer publisher.Close()
	logger.Info("notify: publishers configured", zap.Strings("publishers", names))

	auditLog := audit.NewLogger(st.events, logger,
		audit.WithEmitter(otelsetup.NewEventEmitter(providers.LoggerProvider)),
		audit.WithPublisher(publisher),
		audit.WithMetrics(metrics),
	)
	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTTL())
	verifier := blacklist.NewVerifier(tokens, st.blacklist)
	tokenSvc := service.NewTokenService(st.sessions, st.accounts, tokens, verifier, auditLog,
		service.Config{
			RefreshTTL:         cfg.RefreshTTL(),
			RememberMeTTL:      cfg.RememberMeTTL(),
			DefaultMaxSessions: cfg.MaxConcurrentSessions,
		},
		service.WithPublisher(publisher),
		service.WithMetrics(metrics),
		service.WithLogger(logger),
		service.WithEventReader(audit.NewReader(st.events)),
	)
	policy, err := cleanup.LoadPolicy(cfg.SuspiciousPolicyFile)
	if err != nil {
		logger.Fatal("suspicious policy", zap.Error(err))
	}
	sweeper := cleanup.NewSweeper(st.sessions, verifier, st.events, cleanup.SweeperConfig{
		InactivityPeriod: cfg.InactivityPeriod(),
		AuditRetention:   cfg.AuditRetention(),
	}, metrics, logger)
	monitor := cleanup.NewMonitor(st.events, policy, auditLog, publisher, metrics, logger, cleanup.MonitorConfig{
		Window:    cfg.SuspiciousScanEvery(),
		Threshold: cfg.SuspiciousActivityThreshold,
	})
	sched := cleanup.NewScheduler(logger)
	for _, job := range []cleanup.Job{sweeper.Job(cfg.CleanupEvery()), monitor.Job(cfg.SuspiciousScanEvery())} {
		if err := sched.Register(job); err != nil {
			logger.Fatal("register job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	sched.Start(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	s := server.NewGRPCServer(server.Deps{
		Health:   healthhandler.NewServer(st.db, cache, policy, logger),
		Verifier: tokenSvc,
		Logger:   logger,
	})
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := s.Serve(lis); err != nil {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	s.GracefulStop()
	cancel()
	sched.Wait()
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStores selects Postgres when DATABASE_URL is set and applies pending migrations;
// otherwise everything lives in memory.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		accounts := accountrepo.NewMemoryRepository()
		return &stores{
			accounts:  accounts,
			sessions:  sessionrepo.NewMemoryRepository(accounts),
			events:    auditrepo.NewMemoryRepository(),
			blacklist: blacklistrepo.NewMemoryRepository(),
			close:     func() {},
		}, nil
	}
	if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{
		accounts:  accountrepo.NewPostgresRepository(pool),
		sessions:  sessionrepo.NewPostgresRepository(pool),
		events:    auditrepo.NewPostgresRepository(pool),
		blacklist: blacklistrepo.NewPostgresRepository(pool),
		db:        pool,
		close:     pool.Close,
	}, nil
}

func redisPinger(rdb *redis.Client) healthhandler.Pinger {
	return healthhandler.PingerFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}
