// Package compiler превращает скрипт композиции в FSM документ.
//
// Автор скрипта может писать его по-разному: голым выражением,
// CommonJS модулем или функцией main без экспорта. Компилятор
// перебирает гипотезы в фиксированном порядке и останавливается
// на первой, которая дала валидный FSM:
//
//   - bootstrap.go — каталог текстовых трансформаций (стратегий)
//   - sandbox.go   — выполнение обёрнутого текста в изолированном goja runtime
//   - resolver.go  — require() внутри sandbox
//   - extract.go   — поиск FSM в результате выполнения
//   - cascade.go   — порядок попыток: attempt zero, каталог (LIFO), поздние стратегии
//   - diagnose.go  — выбор и очистка одной ошибки из всех неудачных попыток
//   - validator.go — минимальная проверка FSM (строковое поле Entry)
//
// Каждая попытка получает свой runtime, свои буферы console и свой
// экземпляр библиотеки composer. Между попытками и между вызовами
// Compile ничего не разделяется.
package compiler
