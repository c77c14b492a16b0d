package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/telemetry"
)

// maxSourceBytes — предел размера тела запроса с исходником.
const maxSourceBytes = 1 << 20

// Compile синхронно компилирует скрипт из тела запроса.
// POST /api/v1/compile
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSourceBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	res, err := h.compiler.CompileDocument(r.Context(), req.Document(), compiler.CompileOptions{
		IncludeSource: req.IncludeSource,
	})
	if err != nil {
		telemetry.FromContext(r.Context()).Debug("compile rejected", "filename", req.Filename, "error", err)
		HandleCompileError(w, h.logger, err)
		return
	}

	Success(w, CompileResponseFromResult(res))
}
