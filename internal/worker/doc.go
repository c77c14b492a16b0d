// Package worker реализует воркер асинхронных компиляций.
//
// Воркер получает compilation.requested из RabbitMQ (и, на случай
// потерянных сообщений, периодически опрашивает QUEUED записи в БД),
// компилирует исходник и сохраняет FSM или диагностику. После
// завершения публикуется compilation.completed.
package worker
