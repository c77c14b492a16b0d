// Composer Worker — выполняет асинхронные компиляции.
//
// Worker:
//   - Получает компиляции из RabbitMQ (с polling fallback по БД)
//   - Выполняет каскад стратегий в sandbox
//   - Сохраняет FSM или диагностику
//   - Публикует compilation.completed
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/config"
	"github.com/shaiso/composer/internal/mq"
	"github.com/shaiso/composer/internal/repo"
	"github.com/shaiso/composer/internal/telemetry"
	"github.com/shaiso/composer/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting composer-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("composer-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("composer-worker stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	wcfg := worker.Config{
		Store:        repo.NewCompilationRepo(pool),
		PollInterval: cfg.PollInterval(),
		BatchSize:    cfg.Worker.BatchSize,
		Prefetch:     cfg.Worker.Prefetch,
		Logger:       logger,
	}

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		wcfg.Conn = mqConn
		wcfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	wcfg.Compiler = compiler.New(compiler.Config{
		ExecTimeout:    cfg.ExecTimeout(),
		LibraryAliases: cfg.Compiler.LibraryAliases,
		HideEnv:        !cfg.Compiler.InheritEnv,
		Observer:       telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:         logger,
	})

	w := worker.New(wcfg)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if w.IsStopped() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.WorkerAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
