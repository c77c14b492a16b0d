package compiler

import (
	"errors"

	"github.com/shaiso/composer/internal/domain"
)

// Ошибки компиляции.
var (
	// ErrCompilation — все попытки завершились ошибкой скрипта.
	ErrCompilation = errors.New("compilation failed")

	// ErrNoCandidate — попытки выполнились, но ни одна не дала FSM.
	ErrNoCandidate = errors.New("no valid fsm candidate")

	// ErrTimeout — выполнение скрипта превысило таймаут.
	ErrTimeout = errors.New("sandbox execution timed out")

	// ErrExited — скрипт вызвал process.exit.
	ErrExited = errors.New("script called process.exit")
)

// Сообщения, которые видит пользователь.
const (
	// MessageNoCandidate — ни одна стратегия не дала FSM.
	MessageNoCandidate = "Your code could not be composed"

	// MessageInvalidApp — библиотека отвергла аргумент compile().
	MessageInvalidApp = "Your source code did not produce a valid app."
)

// Kind — категория диагностики.
type Kind string

const (
	KindSyntaxOrRuntime Kind = "SyntaxOrRuntimeFailure"
	KindNoCandidate     Kind = "ExhaustedNoCandidate"
	KindTimeout         Kind = "Timeout"
)

// Diagnostic — итоговая ошибка компиляции.
type Diagnostic struct {
	Message       string // очищенное сообщение для пользователя
	OriginalStack string // сообщение и стек выбранной ошибки как есть
	Code          string // исходный текст скрипта
	Strategy      string // стратегия, в которой произошла выбранная ошибка
	Kind          Kind   // категория
	Err           error  // ErrCompilation, ErrNoCandidate или ErrTimeout
}

// Error реализует интерфейс error.
func (d *Diagnostic) Error() string {
	return d.Message
}

// Unwrap возвращает базовую ошибку.
func (d *Diagnostic) Unwrap() error {
	return d.Err
}

// Envelope возвращает диагностику в конверте {fsm, code}.
func (d *Diagnostic) Envelope() domain.Envelope {
	return domain.Envelope{FSM: d.Message, Code: d.Code}
}

func newDiagnostic(kind Kind, err error, message, stack, code, strategy string) *Diagnostic {
	return &Diagnostic{
		Message:       message,
		OriginalStack: stack,
		Code:          code,
		Strategy:      strategy,
		Kind:          kind,
		Err:           err,
	}
}
