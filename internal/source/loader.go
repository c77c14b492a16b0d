// Package source загружает исходные скрипты композиции с диска.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shaiso/composer/internal/domain"
)

// Load читает скрипт и заполняет метаданные пути.
//
// Возвращает ErrNotFound для отсутствующего или нечитаемого файла
// и ErrEmptyInput для файла без содержимого.
func Load(ctx context.Context, path string) (domain.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return domain.SourceDocument{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.SourceDocument{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return domain.SourceDocument{}, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	if info.IsDir() {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}

	doc := domain.SourceDocument{
		Path:     abs,
		Basename: filepath.Base(abs),
		Dirname:  filepath.Dir(abs),
		RawText:  string(data),
	}

	if err := CheckNotEmpty(doc); err != nil {
		return domain.SourceDocument{}, err
	}
	return doc, nil
}

// CheckNotEmpty возвращает ErrEmptyInput, если в документе только пробелы.
func CheckNotEmpty(doc domain.SourceDocument) error {
	if doc.IsBlank() {
		return fmt.Errorf("%w: %s", ErrEmptyInput, doc.Path)
	}
	return nil
}
