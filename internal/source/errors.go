package source

import "errors"

// Ошибки загрузки исходника.
var (
	// ErrNotFound — файл не существует или не читается.
	ErrNotFound = errors.New("source not found")

	// ErrEmptyInput — файл не содержит ничего кроме пробельных символов.
	ErrEmptyInput = errors.New("source is empty")
)
