package domain

import (
	"time"

	"github.com/google/uuid"
)

// Compilation — запись о компиляции скрипта, отправленного через API.
//
// Запись создаётся в статусе QUEUED, worker переводит её в RUNNING,
// а затем в SUCCEEDED (с FSM) или FAILED (с диагностикой).
type Compilation struct {
	// ID — уникальный идентификатор компиляции.
	ID uuid.UUID `json:"id"`

	// Filename — имя файла, под которым пользователь прислал скрипт.
	// Используется в диагностике вместо внутреннего имени sandbox.
	Filename string `json:"filename"`

	// Source — исходный текст скрипта.
	Source string `json:"source"`

	// IncludeSource — вернуть исходник вместе с FSM ({fsm, code}).
	IncludeSource bool `json:"include_source"`

	// Status — текущий статус компиляции.
	Status CompilationStatus `json:"status"`

	// FSM — скомпилированный автомат. Nil, пока компиляция не удалась.
	FSM FSM `json:"fsm,omitempty"`

	// Diagnostic — очищенное сообщение об ошибке, если статус FAILED.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Strategy — стратегия bootstrap, которая дала результат.
	Strategy string `json:"strategy,omitempty"`

	// CandidateSource — где экстрактор нашёл FSM (return, exports, ...).
	CandidateSource string `json:"candidate_source,omitempty"`

	// StartedAt — время начала компиляции воркером.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения компиляции.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewCompilation создаёт компиляцию в статусе QUEUED.
func NewCompilation(filename, source string, includeSource bool) *Compilation {
	return &Compilation{
		ID:            uuid.New(),
		Filename:      filename,
		Source:        source,
		IncludeSource: includeSource,
		Status:        CompilationStatusQueued,
		CreatedAt:     time.Now(),
	}
}

// Document возвращает исходник компиляции как SourceDocument.
func (c *Compilation) Document() SourceDocument {
	return NewSourceDocument(c.Filename, c.Source)
}

// Duration возвращает продолжительность компиляции.
// Возвращает 0, если компиляция ещё не завершена.
func (c *Compilation) Duration() time.Duration {
	if c.StartedAt == nil || c.FinishedAt == nil {
		return 0
	}
	return c.FinishedAt.Sub(*c.StartedAt)
}

// IsFinished возвращает true, если компиляция завершена (в любом статусе).
func (c *Compilation) IsFinished() bool {
	return c.Status.IsTerminal()
}

// MarkRunning переводит компиляцию в статус RUNNING.
func (c *Compilation) MarkRunning() {
	now := time.Now()
	c.Status = CompilationStatusRunning
	c.StartedAt = &now
}

// MarkSucceeded переводит компиляцию в статус SUCCEEDED с результатом.
func (c *Compilation) MarkSucceeded(fsm FSM, strategy, candidateSource string) {
	now := time.Now()
	c.Status = CompilationStatusSucceeded
	c.FinishedAt = &now
	c.FSM = fsm
	c.Strategy = strategy
	c.CandidateSource = candidateSource
	c.Diagnostic = ""
}

// MarkFailed переводит компиляцию в статус FAILED с диагностикой.
func (c *Compilation) MarkFailed(diagnostic string) {
	now := time.Now()
	c.Status = CompilationStatusFailed
	c.FinishedAt = &now
	c.Diagnostic = diagnostic
}

// Envelope возвращает результат в виде конверта {fsm, code}.
// Для FAILED в поле fsm лежит текст диагностики.
func (c *Compilation) Envelope() Envelope {
	if c.Status == CompilationStatusFailed {
		return Envelope{FSM: c.Diagnostic, Code: c.Source}
	}
	return Envelope{FSM: c.FSM, Code: c.Source}
}
