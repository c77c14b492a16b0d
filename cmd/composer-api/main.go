// Composer API — HTTP API компилятора.
//
// API:
//   - Синхронно компилирует скрипты (POST /api/v1/compile)
//   - Ставит компиляции в очередь для воркеров (POST /api/v1/compilations)
//   - Отдаёт статус и результат компиляций
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

	"github.com/shaiso/composer/internal/api"
	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/config"
	"github.com/shaiso/composer/internal/mq"
	"github.com/shaiso/composer/internal/repo"
	"github.com/shaiso/composer/internal/telemetry"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting composer-api")

	if err := run(cfg, logger); err != nil {
		logger.Error("composer-api failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// RabbitMQ (опционально: без него воркеры подхватят компиляции через polling)
	var publisher api.Publisher
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, compilations will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
		logger.Info("RabbitMQ connected")
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	handler := api.NewHandler(api.Config{
		Store:     repo.NewCompilationRepo(pool),
		Publisher: publisher,
		Compiler: compiler.New(compiler.Config{
			ExecTimeout:    cfg.ExecTimeout(),
			LibraryAliases: cfg.Compiler.LibraryAliases,
			HideEnv:        !cfg.Compiler.InheritEnv,
			Observer:       metrics,
			Logger:         logger,
		}),
		Logger: logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.APIAddr(),
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
		logger.Info("shutting down")

		// Graceful shutdown с таймаутом 10 секунд
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
