package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
)

// Store — хранилище компиляций (repo.CompilationRepo).
type Store interface {
	Create(ctx context.Context, c *domain.Compilation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Compilation, error)
	List(ctx context.Context, limit int) ([]domain.Compilation, error)
}

// Publisher публикует запросы на компиляцию (mq.Publisher).
type Publisher interface {
	PublishCompilationRequested(ctx context.Context, id uuid.UUID) error
}

// Compiler компилирует документ (compiler.Compiler).
type Compiler interface {
	CompileDocument(ctx context.Context, doc domain.SourceDocument, opts compiler.CompileOptions) (*compiler.Result, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	store     Store
	publisher Publisher
	compiler  Compiler
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Store     Store
	Publisher Publisher // nil — воркер подхватит компиляцию через polling
	Compiler  Compiler
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		compiler:  cfg.Compiler,
		logger:    logger,
	}
}
