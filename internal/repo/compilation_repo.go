package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/composer/internal/domain"
)

// uniqueViolation — SQLSTATE нарушения уникальности.
const uniqueViolation = "23505"

const compilationColumns = `
	id, filename, source, include_source, status, fsm, diagnostic,
	strategy, candidate_source, started_at, finished_at, created_at
`

// CompilationRepo — репозиторий для работы с compilations.
type CompilationRepo struct {
	pool *pgxpool.Pool
}

// NewCompilationRepo создаёт новый CompilationRepo.
func NewCompilationRepo(pool *pgxpool.Pool) *CompilationRepo {
	return &CompilationRepo{pool: pool}
}

// Create создаёт новую компиляцию.
// Возвращает ErrAlreadyExists, если компиляция с таким ID уже есть.
func (r *CompilationRepo) Create(ctx context.Context, c *domain.Compilation) error {
	query := `
		INSERT INTO compilations (id, filename, source, include_source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Filename,
		c.Source,
		c.IncludeSource,
		c.Status,
		c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: compilation %s", ErrAlreadyExists, c.ID)
	}
	if err != nil {
		return fmt.Errorf("insert compilation: %w", err)
	}
	return nil
}

// GetByID возвращает компиляцию по ID.
func (r *CompilationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Compilation, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations WHERE id = $1`
	return scanCompilation(r.pool.QueryRow(ctx, query, id))
}

// List возвращает последние компиляции, новые первыми.
func (r *CompilationRepo) List(ctx context.Context, limit int) ([]domain.Compilation, error) {
	query := `SELECT ` + compilationColumns + `
		FROM compilations
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.query(ctx, "list compilations", query, limit)
}

// ListQueued возвращает компиляции в статусе QUEUED, старые первыми.
func (r *CompilationRepo) ListQueued(ctx context.Context, limit int) ([]domain.Compilation, error) {
	query := `SELECT ` + compilationColumns + `
		FROM compilations
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.query(ctx, "list queued compilations", query, limit)
}

// MarkRunning атомарно переводит QUEUED компиляцию в RUNNING.
//
// Возвращает ErrNotFound, если записи нет, и ErrInvalidState,
// если её уже взял другой воркер.
func (r *CompilationRepo) MarkRunning(ctx context.Context, c *domain.Compilation) error {
	c.MarkRunning()

	query := `
		UPDATE compilations
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = 'QUEUED'
	`
	result, err := r.pool.Exec(ctx, query, c.ID, c.Status, c.StartedAt)
	if err != nil {
		return fmt.Errorf("mark compilation running: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// Update сохраняет результат компиляции.
func (r *CompilationRepo) Update(ctx context.Context, c *domain.Compilation) error {
	var fsmJSON []byte
	if c.FSM != nil {
		data, err := json.Marshal(c.FSM)
		if err != nil {
			return fmt.Errorf("marshal fsm: %w", err)
		}
		fsmJSON = data
	}

	query := `
		UPDATE compilations
		SET status = $2, fsm = $3, diagnostic = $4, strategy = $5,
		    candidate_source = $6, started_at = $7, finished_at = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Status,
		fsmJSON,
		nullString(c.Diagnostic),
		nullString(c.Strategy),
		nullString(c.CandidateSource),
		c.StartedAt,
		c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update compilation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CompilationRepo) query(ctx context.Context, op, query string, args ...any) ([]domain.Compilation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Compilation
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- Helpers ---

// scanCompilation сканирует одну строку в Compilation.
// pgx.Rows тоже реализует pgx.Row, поэтому функция общая.
func scanCompilation(row pgx.Row) (*domain.Compilation, error) {
	var c domain.Compilation
	var fsmJSON []byte
	var diagnostic, strategy, candidateSource *string

	err := row.Scan(
		&c.ID,
		&c.Filename,
		&c.Source,
		&c.IncludeSource,
		&c.Status,
		&fsmJSON,
		&diagnostic,
		&strategy,
		&candidateSource,
		&c.StartedAt,
		&c.FinishedAt,
		&c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan compilation: %w", err)
	}

	if fsmJSON != nil {
		if err := json.Unmarshal(fsmJSON, &c.FSM); err != nil {
			return nil, fmt.Errorf("unmarshal fsm: %w", err)
		}
	}
	c.Diagnostic = deref(diagnostic)
	c.Strategy = deref(strategy)
	c.CandidateSource = deref(candidateSource)

	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
