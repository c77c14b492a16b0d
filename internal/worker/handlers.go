package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/mq"
	"github.com/shaiso/composer/internal/repo"
	"github.com/shaiso/composer/internal/telemetry"
)

// handleCompilationRequested обрабатывает событие из очереди compilations.requested.
func (w *Worker) handleCompilationRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CompilationRequestedPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse compilation.requested payload", "error", err)
		return err
	}

	w.logger.Debug("received compilation.requested event",
		"compilation_id", payload.CompilationID,
		"redelivered", delivery.Redelivered,
	)

	if err := w.processCompilation(ctx, payload.CompilationID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrCompilationNotFound) || errors.Is(err, ErrCompilationNotQueued) {
			w.logger.Debug("compilation not processed", "compilation_id", payload.CompilationID, "reason", err)
			return nil
		}
		return err
	}
	return nil
}

// processCompilation загружает компиляцию, компилирует и сохраняет результат.
func (w *Worker) processCompilation(ctx context.Context, id uuid.UUID) error {
	logger := telemetry.WithCompilationID(w.logger, id.String())

	// 1. Загружаем компиляцию
	c, err := w.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCompilationNotFound, id)
		}
		return fmt.Errorf("get compilation: %w", err)
	}

	// 2. Проверяем статус
	if c.Status != domain.CompilationStatusQueued {
		return ErrCompilationNotQueued
	}

	// 3. Захватываем запись
	if err := w.store.MarkRunning(ctx, c); err != nil {
		switch {
		case errors.Is(err, repo.ErrInvalidState):
			return ErrCompilationNotQueued
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrCompilationNotFound, id)
		}
		return fmt.Errorf("mark compilation running: %w", err)
	}

	logger.Info("compilation started", "filename", c.Filename)

	// 4. Компилируем
	res, compileErr := w.compiler.CompileDocument(ctx, c.Document(), compiler.CompileOptions{
		IncludeSource: c.IncludeSource,
	})
	if compileErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	// 5. Сохраняем результат. Запись не делит map с результатом компилятора.
	var fsm domain.FSM
	if compileErr == nil {
		fsm, compileErr = res.FSM.Clone()
	}
	if compileErr == nil {
		c.MarkSucceeded(fsm, res.Strategy, string(res.Source))
		telemetry.WithStrategy(logger, res.Strategy).Info("compilation succeeded",
			"candidate_source", res.Source,
			"duration", c.Duration(),
		)
	} else {
		c.MarkFailed(diagnosticMessage(compileErr))
		logger.Warn("compilation failed", "diagnostic", c.Diagnostic)
	}

	if err := w.store.Update(ctx, c); err != nil {
		return fmt.Errorf("update compilation: %w", err)
	}

	return w.publishCompletion(ctx, c)
}

// diagnosticMessage возвращает текст, который увидит пользователь.
func diagnosticMessage(err error) string {
	var diag *compiler.Diagnostic
	if errors.As(err, &diag) {
		return diag.Message
	}
	return err.Error()
}

// publishCompletion публикует событие compilation.completed.
func (w *Worker) publishCompletion(ctx context.Context, c *domain.Compilation) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping compilation.completed publish",
			"compilation_id", c.ID,
		)
		return nil
	}

	payload := mq.CompilationCompletedPayload{
		CompilationID:   c.ID,
		Status:          c.Status.String(),
		Strategy:        c.Strategy,
		CandidateSource: c.CandidateSource,
		Diagnostic:      c.Diagnostic,
	}
	if c.FSM != nil {
		payload.FSM = c.FSM
	}

	if err := w.publisher.PublishCompilationCompleted(ctx, payload); err != nil {
		// Не возвращаем ошибку — результат уже в БД, его можно получить через API
		w.logger.Warn("failed to publish compilation.completed",
			"compilation_id", c.ID,
			"error", err,
		)
	}
	return nil
}
