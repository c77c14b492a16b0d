package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Синхронная компиляция
	mux.Handle("POST /api/v1/compile", chain(http.HandlerFunc(h.Compile)))

	// Асинхронные компиляции
	mux.Handle("GET /api/v1/compilations", chain(http.HandlerFunc(h.ListCompilations)))
	mux.Handle("POST /api/v1/compilations", chain(http.HandlerFunc(h.SubmitCompilation)))
	mux.Handle("GET /api/v1/compilations/{id}", chain(http.HandlerFunc(h.GetCompilation)))
}
