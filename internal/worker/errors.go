package worker

import "errors"

// Ошибки воркера.
var (
	// ErrCompilationNotFound — компиляция не найдена в БД.
	ErrCompilationNotFound = errors.New("compilation not found")

	// ErrCompilationNotQueued — компиляция не в статусе QUEUED.
	ErrCompilationNotQueued = errors.New("compilation is not in QUEUED status")
)
