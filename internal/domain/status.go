package domain

// CompilationStatus — статус компиляции.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED
type CompilationStatus string

const (
	// CompilationStatusQueued — компиляция создана и ждёт воркера.
	CompilationStatusQueued CompilationStatus = "QUEUED"

	// CompilationStatusRunning — воркер выполняет каскад стратегий.
	CompilationStatusRunning CompilationStatus = "RUNNING"

	// CompilationStatusSucceeded — получен валидный FSM.
	CompilationStatusSucceeded CompilationStatus = "SUCCEEDED"

	// CompilationStatusFailed — каскад исчерпан, сохранена диагностика.
	CompilationStatusFailed CompilationStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s CompilationStatus) IsTerminal() bool {
	switch s {
	case CompilationStatusSucceeded, CompilationStatusFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление CompilationStatus.
func (s CompilationStatus) String() string {
	return string(s)
}

// ParseCompilationStatus парсит строку в CompilationStatus.
func ParseCompilationStatus(s string) CompilationStatus {
	switch s {
	case "RUNNING":
		return CompilationStatusRunning
	case "SUCCEEDED":
		return CompilationStatusSucceeded
	case "FAILED":
		return CompilationStatusFailed
	default:
		return CompilationStatusQueued
	}
}
