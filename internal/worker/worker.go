package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// Store — хранилище компиляций (repo.CompilationRepo).
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Compilation, error)
	ListQueued(ctx context.Context, limit int) ([]domain.Compilation, error)
	MarkRunning(ctx context.Context, c *domain.Compilation) error
	Update(ctx context.Context, c *domain.Compilation) error
}

// Publisher публикует события завершения (mq.Publisher).
type Publisher interface {
	PublishCompilationCompleted(ctx context.Context, payload mq.CompilationCompletedPayload) error
}

// Compiler компилирует документ (compiler.Compiler).
type Compiler interface {
	CompileDocument(ctx context.Context, doc domain.SourceDocument, opts compiler.CompileOptions) (*compiler.Result, error)
}

// Worker выполняет асинхронные компиляции.
//
// Worker — stateless компонент системы, который:
//   - Получает компиляции из очереди RabbitMQ (event-driven)
//   - Периодически проверяет QUEUED компиляции в БД (polling fallback)
//   - Сохраняет FSM или диагностику
//   - Отправляет событие в очередь compilations.completed
//
// Workers масштабируются горизонтально: запись захватывается
// атомарным переходом QUEUED → RUNNING.
type Worker struct {
	store     Store
	publisher Publisher
	compiler  Compiler

	conn     *mq.Connection
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int
	prefetch     int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store    Store
	Compiler Compiler

	// MQ (опционально; без Conn воркер работает только через polling)
	Publisher Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество компиляций за один poll (default: 50)
	Prefetch     int           // prefetch consumer'а (default: 5)

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		compiler:     cfg.Compiler,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		prefetch:     prefetch,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для compilations.requested (если есть соединение)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"consumer", w.conn != nil,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueCompilationsRequested,
			Handler:  w.handleCompilationRequested,
			Prefetch: w.prefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("compilation consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения горутин.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем компиляции, созданные пока воркер был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	queued, err := w.store.ListQueued(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to list queued compilations", "error", err)
		}
		return
	}

	if len(queued) == 0 {
		return
	}

	w.logger.Debug("poll found queued compilations", "count", len(queued))

	for i := range queued {
		id := queued[i].ID
		if err := w.processCompilation(ctx, id); err != nil {
			if errors.Is(err, ErrCompilationNotQueued) || errors.Is(err, ErrCompilationNotFound) {
				continue
			}
			w.logger.Error("failed to process compilation from poll",
				"compilation_id", id,
				"error", err,
			)
		}
	}
}
