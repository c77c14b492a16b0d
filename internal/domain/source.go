package domain

import (
	"path/filepath"
	"strings"
)

// SourceDocument — исходный текст скрипта композиции с метаданными пути.
//
// Создаётся один раз на вызов компиляции и дальше не изменяется.
type SourceDocument struct {
	// Path — путь к файлу (абсолютный, если документ загружен с диска).
	Path string `json:"path"`

	// Basename — имя файла без директории.
	Basename string `json:"basename"`

	// Dirname — директория файла. Относительные require() разрешаются от неё.
	Dirname string `json:"dirname"`

	// RawText — исходный текст скрипта как есть.
	RawText string `json:"raw_text"`
}

// NewSourceDocument создаёт документ из пути и текста.
// Используется для исходников, которые пришли не с диска (API, очередь).
func NewSourceDocument(path, text string) SourceDocument {
	if path == "" {
		path = "composition.js"
	}
	return SourceDocument{
		Path:     path,
		Basename: filepath.Base(path),
		Dirname:  filepath.Dir(path),
		RawText:  text,
	}
}

// IsBlank возвращает true, если в тексте нет ничего кроме пробельных символов.
func (d SourceDocument) IsBlank() bool {
	return strings.TrimSpace(d.RawText) == ""
}
