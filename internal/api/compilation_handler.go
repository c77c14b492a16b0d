package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/composer/internal/domain"
	"github.com/shaiso/composer/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SubmitCompilation сохраняет компиляцию в очередь.
// POST /api/v1/compilations
func (h *Handler) SubmitCompilation(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSourceBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	doc := req.Document()
	if doc.IsBlank() {
		Error(w, http.StatusBadRequest, ErrCodeEmptySource, "source is empty")
		return
	}

	c := domain.NewCompilation(doc.Path, req.Source, req.IncludeSource)
	if err := h.store.Create(r.Context(), c); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	logger := telemetry.WithCompilationID(telemetry.FromContext(r.Context()), c.ID.String())
	if h.publisher != nil {
		if err := h.publisher.PublishCompilationRequested(r.Context(), c.ID); err != nil {
			// Запись уже в БД — воркер подхватит её через polling
			logger.Warn("failed to publish compilation.requested", "error", err)
		}
	}
	logger.Info("compilation queued", "filename", c.Filename)

	Accepted(w, CompilationFromDomain(*c))
}

// ListCompilations возвращает последние компиляции.
// GET /api/v1/compilations?limit=N
func (h *Handler) ListCompilations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := h.store.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]CompilationResponse, len(items))
	for i, c := range items {
		result[i] = CompilationFromDomain(c)
	}

	List(w, result, len(result))
}

// GetCompilation возвращает компиляцию по ID.
// GET /api/v1/compilations/{id}
func (h *Handler) GetCompilation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid compilation id")
		return
	}

	c, err := h.store.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "compilation not found") {
		return
	}

	Success(w, CompilationFromDomain(*c))
}
