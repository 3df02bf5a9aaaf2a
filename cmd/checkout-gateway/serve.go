package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/config"
	checkoutgrpc "github.com/mostafaomar7/tadawi-checkout/internal/grpc"
	h "github.com/mostafaomar7/tadawi-checkout/internal/http"
	"github.com/mostafaomar7/tadawi-checkout/internal/metrics"
	"github.com/mostafaomar7/tadawi-checkout/internal/paypal"
	"github.com/mostafaomar7/tadawi-checkout/internal/publisher"
	"github.com/mostafaomar7/tadawi-checkout/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the gRPC health server and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, l)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, l *zap.Logger) error {
	m := metrics.New()

	repo, err := openRepository(cfg, l)
	if err != nil {
		return err
	}
	defer repo.Close()

	backendClient, err := backend.NewClient(cfg.Backend, l, backend.WithCallObserver(m.ObserveBackendCall))
	if err != nil {
		return err
	}
	provider := paypal.NewClient(cfg.PayPal, l)

	checks := map[string]checkoutgrpc.Checker{"database": repo.Ping}

	var (
		snapshots   cache.SnapshotCache = cache.NewMemoryCache()
		captureLock cache.CaptureLock   = cache.NewMemoryCaptureLock()
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		l.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
		snapshots = cache.NewRedisCache(redisClient, cfg.Redis.SnapshotTTL)
		captureLock = cache.NewRedisCaptureLock(redisClient)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		l.Warn("redis not configured; cart snapshots and capture locks are process local")
	}

	registry := service.NewRegistry(service.Deps{
		Checkout:       backendClient,
		Orders:         backendClient,
		ProviderConfig: backendClient,
		Provider:       provider,
		CaptureLock:    captureLock,
		CaptureLockTTL: cfg.Session.CaptureLockTTL,
		CartBackend:    backendClient,
		CartCache:      snapshots,
		Incidents:      repo,
		Observer:       m,
		SubmitTimeout:  cfg.Session.SubmitTimeout,
		Logger:         l,
	}, cfg.Session.TTL)

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	sweep := cfg.Session.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(runCtx, sweep)
	}()

	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(repo, cfg.Kafka.Config, l)
		consumer := publisher.NewCompletionConsumer(cfg.Kafka.Config, cfg.Kafka.ConsumerGroup, snapshots, l)
		wg.Add(2)
		go func() {
			defer wg.Done()
			poller.Run(runCtx)
			if err := poller.Close(); err != nil {
				l.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			consumer.Run(runCtx)
			consumer.Close()
		}()
	} else {
		l.Warn("kafka brokers not configured; outbox events stay in the database")
	}

	healthServer := checkoutgrpc.NewHealthServer(checks, l)
	grpcLis, err := net.Listen("tcp", cfg.App.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.App.GRPCAddr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthServer.Watch(runCtx, 10*time.Second)
	}()

	srv := &http.Server{
		Addr: cfg.App.HTTPAddr,
		Handler: h.NewRouter(h.RouterConfig{
			Sessions: registry,
			Auth: h.AuthConfig{
				Secret:   cfg.Security.JWTSecret,
				Issuer:   cfg.Security.Issuer,
				Audience: cfg.Security.Audience,
			},
			Metrics:        m,
			HandlerTimeout: cfg.HTTP.HandlerTimeout,
			MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
			Logger:         l,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := healthServer.Serve(grpcLis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		l.Info("checkout gateway starting", zap.String("addr", cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		l.Info("shutting down server")
	case serveErr = <-errCh:
		l.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("server forced to shutdown", zap.Error(err))
	}
	healthServer.GracefulStop()
	l.Info("server exited", zap.Int("sessions", registry.Len()))
	return serveErr
}
