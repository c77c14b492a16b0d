// Package composer — встроенная заглушка библиотеки композиции.
//
// Скрипты пользователей описывают workflow через fluent API
// (sequence, if, while, try) и импортируют библиотеку по фиксированному
// имени "composer". Внутри sandbox компилятора вместо настоящей
// библиотеки подставляется эта реализация:
//
//   - fsm.go     — документ FSM и сборка автоматов из компонентов
//   - library.go — объект библиотеки для goja runtime (комбинаторы, compile)
//   - deploy.go  — no-op клиент actions/packages/rules/triggers
//
// Комбинаторы настоящие: они строят документ {Entry, States, Exit}.
// Все операции развёртывания — заглушки без сетевых вызовов,
// возвращающие маркер успеха.
package composer
