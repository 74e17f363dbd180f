package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/inventory-sync/internal/adapter/handler"
	"github.com/rl1809/inventory-sync/internal/adapter/metrics"
	"github.com/rl1809/inventory-sync/internal/adapter/queue"
	"github.com/rl1809/inventory-sync/internal/adapter/storage"
	"github.com/rl1809/inventory-sync/internal/config"
	"github.com/rl1809/inventory-sync/internal/core/service"
	"github.com/rl1809/inventory-sync/internal/logging"
	"github.com/rl1809/inventory-sync/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.MustNewLogger(config.ServiceName, cfg.Env, cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, item := range cfg.Seed {
		if err := store.UpsertItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %d: %w", item.ID, err)
		}
	}
	if len(cfg.Seed) > 0 {
		logger.Info("inventory_seeded", zap.Int("items", len(cfg.Seed)))
	}

	mq := queue.NewRabbitMQAdapter(
		queue.URL(cfg.Rabbit, cfg.RabbitUser, cfg.RabbitPassword),
		queue.QueueOptions{Durable: cfg.Queue.Durable, Quorum: cfg.Queue.Quorum, Prefetch: cfg.Queue.Prefetch},
	)

	consumerCfg := service.DefaultConsumerConfig()
	consumerCfg.Queue = cfg.Queue.Name
	consumerCfg.DeadLetterQueue = cfg.Queue.DeadLetterQueue
	consumerCfg.Workers = cfg.Consumer.Workers
	consumerCfg.ApplyAttempts = cfg.Consumer.ApplyAttempts
	consumerCfg.ApplyTimeout = cfg.Consumer.ApplyTimeout
	consumerCfg.MaxDeliveries = cfg.Consumer.MaxDeliveries
	consumerCfg.ValidateAttempts = cfg.Consumer.ValidateAttempts
	consumerCfg.ValidateBudget = cfg.Consumer.ValidateBudget

	stockMetrics := metrics.NewPrometheusStockMetrics(prometheus.DefaultRegisterer)
	consumer := service.NewStockConsumer(mq, store, consumerCfg, logger, stockMetrics)
	query := service.NewInventoryQueryService(store)

	// Start consumer workers
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterInventoryQueryServer(grpcServer, handler.NewGRPCHandler(query, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.InventoryQueryServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stop()
		wg.Wait()
		return fmt.Errorf("listen grpc: %w", err)
	}

	go func() {
		logger.Info("grpc_server_start", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc_server_error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(query, consumer, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_server_start", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		logger.Info("http_server_stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("grpc_server_stopped")

	// Workers finish their in-flight message before the connection goes away
	wg.Wait()
	if err := mq.Close(); err != nil {
		logger.Error("queue_close_error", zap.Error(err))
	}
	logger.Info("queue_connection_closed")
	return nil
}

// openStore connects the configured backend. Each backend records applied
// message IDs itself, in the same atomic step as the stock change.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.InventoryStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("store_connected", zap.String("backend", config.StoreMySQL))
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("store_connected", zap.String("backend", config.StoreRedis))
		return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil

	default:
		logger.Info("store_connected", zap.String("backend", config.StoreMemory))
		return storage.NewMemoryAdapter(), func() {}, nil
	}
}
