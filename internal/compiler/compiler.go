package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/source"
)

// Исходы компиляции для Observer.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeNoCandidate = "no_candidate"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected"
)

// Observer получает итог каждой компиляции (метрики).
type Observer interface {
	ObserveCompilation(outcome, strategy string, attempts int, duration time.Duration)
}

// Config — конфигурация Compiler.
type Config struct {
	// ExecTimeout — предел времени одной попытки. 0 — DefaultExecTimeout.
	ExecTimeout time.Duration

	// LibraryAliases — дополнительные имена, под которыми доступна
	// библиотека composer в require().
	LibraryAliases []string

	// HideEnv — не отдавать окружение процесса в process.env скрипта.
	HideEnv bool

	Observer Observer
	Logger   *slog.Logger
}

// CompileOptions — параметры одного вызова.
type CompileOptions struct {
	// IncludeSource — вернуть {fsm, code} вместо голого FSM.
	IncludeSource bool
}

// Result — успешный итог компиляции.
type Result struct {
	FSM           domain.FSM
	Code          string
	Strategy      string
	Source        CandidateSource
	Attempts      int
	IncludeSource bool
}

// MarshalJSON отдаёт голый FSM или конверт {fsm, code}.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.IncludeSource {
		return json.Marshal(r.Envelope())
	}
	return json.Marshal(r.FSM)
}

// Envelope возвращает результат в конверте {fsm, code}.
func (r *Result) Envelope() domain.Envelope {
	return domain.Envelope{FSM: r.FSM, Code: r.Code}
}

// Compiler компилирует скрипты композиции в FSM.
//
// Compiler не хранит состояния между вызовами и безопасен
// для конкурентного использования.
type Compiler struct {
	exec     *Executor
	observer Observer
	logger   *slog.Logger
}

// New создаёт Compiler.
func New(cfg Config) *Compiler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Compiler{
		exec: NewExecutor(ExecutorConfig{
			Resolver: NewResolver(cfg.LibraryAliases...),
			Timeout:  cfg.ExecTimeout,
			HideEnv:  cfg.HideEnv,
		}),
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
}

// Compile читает файл и компилирует его.
//
// Ошибки: source.ErrNotFound, source.ErrEmptyInput или *Diagnostic
// (ErrCompilation, ErrNoCandidate, ErrTimeout).
func (c *Compiler) Compile(ctx context.Context, path string, opts CompileOptions) (*Result, error) {
	doc, err := source.Load(ctx, path)
	if err != nil {
		c.observe(OutcomeRejected, "", 0, 0)
		return nil, err
	}
	return c.CompileDocument(ctx, doc, opts)
}

// CompileDocument компилирует уже загруженный документ.
func (c *Compiler) CompileDocument(ctx context.Context, doc domain.SourceDocument, opts CompileOptions) (*Result, error) {
	if err := source.CheckNotEmpty(doc); err != nil {
		c.observe(OutcomeRejected, "", 0, 0)
		return nil, err
	}

	start := time.Now()
	logger := c.logger.With("path", doc.Path)

	rep, err := newCascade(c.exec, doc, logger).run(ctx)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	if rep.Winner != nil {
		logger.Info("composition compiled",
			"strategy", rep.Strategy,
			"source", rep.Winner.Source,
			"attempts", rep.Attempts,
			"duration", duration,
		)
		c.observe(OutcomeSucceeded, rep.Strategy, rep.Attempts, duration)

		return &Result{
			FSM:           rep.Winner.FSM,
			Code:          doc.RawText,
			Strategy:      rep.Strategy,
			Source:        rep.Winner.Source,
			Attempts:      rep.Attempts,
			IncludeSource: opts.IncludeSource,
		}, nil
	}

	diag := rep.Abort
	if diag == nil {
		diag = diagnose(doc, rep.Failures)
	}

	logger.Info("composition rejected",
		"kind", diag.Kind,
		"strategy", diag.Strategy,
		"attempts", rep.Attempts,
		"duration", duration,
	)
	c.observe(outcomeOf(diag), diag.Strategy, rep.Attempts, duration)
	return nil, diag
}

func (c *Compiler) observe(outcome, strategy string, attempts int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCompilation(outcome, strategy, attempts, d)
	}
}

func outcomeOf(d *Diagnostic) string {
	switch {
	case errors.Is(d, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(d, ErrNoCandidate):
		return OutcomeNoCandidate
	default:
		return OutcomeFailed
	}
}
