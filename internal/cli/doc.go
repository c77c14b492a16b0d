// Package cli реализует инструмент командной строки Composer.
//
// # Обзор
//
// CLI компилирует скрипты композиции локально (compile) и работает
// с асинхронными компиляциями через HTTP API (compilation).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Composer API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Не импортирует internal/api.
//
//	client := cli.NewClient("http://localhost:8080")
//	items, err := client.ListCompilations(20)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: composer compile app.js | jq .
//
// ## Commands
//
//   - compile FILE [--code] [--timeout] [--watch] — локальная компиляция
//   - compilation: submit, show, list
//
// Фабричные функции (NewCompileCmd, NewCompilationCmd) принимают
// замыкания для ленивого создания Client, Output и конфигурации
// после парсинга PersistentFlags.
package cli
