// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий компиляции
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - compilation.requested — компиляция сохранена и ждёт воркера
//   - compilation.completed — компиляция завершена (FSM или диагностика)
//
// Exchanges:
//   - composer.compilations — события компиляций
//   - composer.dlq          — dead letter queue
package mq
