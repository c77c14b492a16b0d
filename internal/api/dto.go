package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/domain"
)

// Compile DTOs

// CompileRequest — запрос на компиляцию скрипта.
type CompileRequest struct {
	Filename      string `json:"filename,omitempty"`
	Source        string `json:"source"`
	IncludeSource bool   `json:"include_source,omitempty"`
}

// Document возвращает исходник запроса как SourceDocument.
func (r CompileRequest) Document() domain.SourceDocument {
	return domain.NewSourceDocument(r.Filename, r.Source)
}

// CompileResponse — ответ синхронной компиляции.
//
// Result — голый FSM или конверт {fsm, code}, как в CLI.
type CompileResponse struct {
	Result          *compiler.Result `json:"result"`
	Strategy        string           `json:"strategy"`
	CandidateSource string           `json:"candidate_source"`
	Attempts        int              `json:"attempts"`
}

// CompileResponseFromResult конвертирует compiler.Result в CompileResponse.
func CompileResponseFromResult(r *compiler.Result) CompileResponse {
	return CompileResponse{
		Result:          r,
		Strategy:        r.Strategy,
		CandidateSource: string(r.Source),
		Attempts:        r.Attempts,
	}
}

// CompileErrorResponse — ответ с диагностикой.
//
// Кроме стандартного error содержит конверт {fsm, code}: в fsm
// лежит текст диагностики.
type CompileErrorResponse struct {
	Error ErrorDetail `json:"error"`
	FSM   any         `json:"fsm"`
	Code  string      `json:"code"`
}

// Compilation DTOs

// CompilationResponse — ответ с компиляцией.
type CompilationResponse struct {
	ID              uuid.UUID  `json:"id"`
	Filename        string     `json:"filename"`
	Status          string     `json:"status"`
	IncludeSource   bool       `json:"include_source"`
	FSM             domain.FSM `json:"fsm,omitempty"`
	Diagnostic      string     `json:"diagnostic,omitempty"`
	Strategy        string     `json:"strategy,omitempty"`
	CandidateSource string     `json:"candidate_source,omitempty"`
	Source          string     `json:"source,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// CompilationFromDomain конвертирует domain.Compilation в CompilationResponse.
// Исходник возвращается только если его попросили при отправке.
func CompilationFromDomain(c domain.Compilation) CompilationResponse {
	resp := CompilationResponse{
		ID:              c.ID,
		Filename:        c.Filename,
		Status:          c.Status.String(),
		IncludeSource:   c.IncludeSource,
		FSM:             c.FSM,
		Diagnostic:      c.Diagnostic,
		Strategy:        c.Strategy,
		CandidateSource: c.CandidateSource,
		CreatedAt:       c.CreatedAt,
		StartedAt:       c.StartedAt,
		FinishedAt:      c.FinishedAt,
	}
	if c.IncludeSource {
		resp.Source = c.Source
	}
	return resp
}
