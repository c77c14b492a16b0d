// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go             — Handler с DI (хранилище, publisher, compiler, logger)
//   - routes.go              — регистрация маршрутов
//   - middleware.go          — middleware (logging, recovery)
//   - response.go            — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                 — Data Transfer Objects (request/response)
//   - compile_handler.go     — синхронная компиляция /compile
//   - compilation_handler.go — асинхронные компиляции /compilations
//
// API предоставляет REST endpoints для компиляции скриптов композиции.
package api
