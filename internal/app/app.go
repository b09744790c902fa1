// Package app собирает зависимости сервиса и управляет жизненным циклом серверов.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/shop/internal/auth"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/notify/email"
	httpsvc "github.com/vladislavdragonenkov/shop/internal/service/http"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/product"
	"github.com/vladislavdragonenkov/shop/internal/service/user"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

const (
	// grpcServiceName — имя сервиса в grpc.health.v1, его статус следует за проверкой хранилища.
	grpcServiceName     = "shop.OrderService"
	shutdownTimeout     = 5 * time.Second
	healthWatchInterval = 10 * time.Second
)

// Run поднимает HTTP API, gRPC health и сервер метрик и блокируется до отмены ctx
// или падения одного из серверов. При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	pipeline, err := newNotificationPipeline(cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		pipeline.close(closeCtx, logger)
	}()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}

	orderService := order.NewService(deps.catalog, deps.orders, pipeline.orders,
		order.WithLogger(logger.WithField("component", "order-service")),
		order.WithMetrics(metrics.NewOrderMetrics(registry)),
		order.WithCallTimeout(cfg.CallTimeout),
	)
	productOptions := []product.Option{
		product.WithLogger(logger.WithField("component", "product-service")),
		product.WithCallTimeout(cfg.CallTimeout),
	}
	if deps.invalidator != nil {
		productOptions = append(productOptions, product.WithInvalidator(deps.invalidator))
	}
	productService := product.NewService(deps.products, pipeline.products, productOptions...)

	userService := user.NewService(deps.users, auth.NewBcryptHasher(cfg.BcryptCost), tokens,
		user.WithLogger(logger.WithField("component", "user-service")),
		user.WithCallTimeout(cfg.CallTimeout),
	)
	if err := ensureAdmin(ctx, cfg, userService, logger); err != nil {
		return err
	}

	var digest *email.Digest
	if cfg.DigestInterval > 0 {
		if digest, err = pipeline.subscribeDigest(deps.users, logger); err != nil {
			return err
		}
	}

	api := httpsvc.NewRouter(orderService, productService,
		httpsvc.WithLogger(logger.WithField("component", "http")),
		httpsvc.WithTokens(tokens),
		httpsvc.WithUsers(userService),
		httpsvc.WithRealtime(pipeline.orderHub, pipeline.productHub),
	)

	healthHandler := healthcheck.NewHandler(version.Version(), cfg.CallTimeout)
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registry.Register(grpcMetrics); err != nil {
		return fmt.Errorf("register grpc metrics: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	listeners, err := listenAll(cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)
	if err != nil {
		return err
	}
	apiLis, grpcLis, metricsLis := listeners[0], listeners[1], listeners[2]

	apiSrv := &http.Server{Handler: api, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: newMetricsMux(registry, healthHandler), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiLis.Addr().String()).Info("HTTP API слушает")
		return serveHTTP(apiSrv, apiLis)
	})
	g.Go(func() error {
		logger.WithField("addr", metricsLis.Addr().String()).Info("метрики и health checks доступны")
		return serveHTTP(metricsSrv, metricsLis)
	})
	g.Go(func() error {
		logger.WithField("addr", grpcLis.Addr().String()).Info("gRPC health сервер слушает")
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watchServingStatus(gctx, healthHandler, healthServer)
		return nil
	})
	if digest != nil {
		g.Go(func() error {
			logger.WithField("interval", cfg.DigestInterval).Info("рассылка о новых товарах включена")
			digest.Run(gctx, cfg.DigestInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ensureAdmin создаёт администратора из конфигурации, если он задан.
func ensureAdmin(ctx context.Context, cfg Config, users *user.Service, logger *log.Entry) error {
	if cfg.AdminUsername == "" {
		return nil
	}
	admin, err := users.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	logger.WithField("user_id", admin.ID).Info("администратор готов")
	return nil
}

// newMetricsMux отдаёт /metrics и health-эндпоинты на отдельном порту.
func newMetricsMux(registry *prometheus.Registry, healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// watchServingStatus переключает статус gRPC health по результатам проверок.
func watchServingStatus(ctx context.Context, checks *healthcheck.Handler, server *health.Server) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if !checks.Ready(ctx) {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus("", status)
		server.SetServingStatus(grpcServiceName, status)
	}

	update()
	ticker := time.NewTicker(healthWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func listenAll(addrs ...string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, lis)
	}
	return listeners, nil
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopGRPC ждёт завершения активных вызовов, но не дольше shutdownTimeout.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
