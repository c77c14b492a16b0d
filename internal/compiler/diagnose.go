package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/shaiso/composer/internal/domain"
)

// noise — сообщения, которые порождает сам каскад, а не скрипт.
var noise = []string{
	"has already been declared",
	"composer is not defined",
}

// mainNoise — ссылка на main, которую добавляют const-main стратегии.
// Шумом считается только в их попытках.
const mainNoise = "main is not defined"

var (
	// pcSuffix — счётчик инструкций goja после позиции: file:1:2(15).
	pcSuffix = regexp.MustCompile(`(:\d+:\d+)\(\d+\)`)

	// placeholderPos — позиция внутри текста попытки.
	placeholderPos = regexp.MustCompile(regexp.QuoteMeta(placeholderName) + `:(\d+):(\d+)`)

	// syntaxPos — позиция в сообщении синтаксической ошибки.
	syntaxPos = regexp.MustCompile(`Line (\d+):(\d+)`)
)

// diagnose выбирает одну ошибку из всех неудачных попыток
// и переписывает её для пользователя.
//
// Ошибки-артефакты каскада отбрасываются. Берётся первая оставшаяся
// в порядке выполнения, иначе последняя ошибка поздних стратегий.
// Если ошибок не было вовсе, FSM просто не нашёлся.
func diagnose(doc domain.SourceDocument, failures []failure) *Diagnostic {
	selected, ok := selectFailure(failures)
	if !ok {
		return newDiagnostic(KindNoCandidate, ErrNoCandidate, MessageNoCandidate, "", doc.RawText, "")
	}

	stack := errorText(selected.Err)
	if strings.Contains(stack, "Invalid argument to compile") {
		return newDiagnostic(KindSyntaxOrRuntime, ErrCompilation, MessageInvalidApp, stack, doc.RawText, selected.Strategy)
	}

	msg := cleanStack(stack, doc.Path, selected.LineOffset, selected.ColumnOffset)
	return newDiagnostic(KindSyntaxOrRuntime, ErrCompilation, msg, stack, doc.RawText, selected.Strategy)
}

func selectFailure(failures []failure) (failure, bool) {
	for _, f := range failures {
		if !isNoise(f) {
			return f, true
		}
	}
	for i := len(failures) - 1; i >= 0; i-- {
		if failures[i].Late {
			return failures[i], true
		}
	}
	return failure{}, false
}

func isNoise(f failure) bool {
	msg := errorText(f.Err)
	for _, n := range noise {
		if strings.Contains(msg, n) {
			return true
		}
	}
	constMain := f.Strategy == StrategyConstMain || f.Strategy == StrategyConstMainWithRequire
	return constMain && strings.Contains(msg, mainNoise)
}

// cleanStack убирает из текста ошибки всё, что относится к sandbox:
// ведущие native кадры, кадры после первого native кадра за кадром
// пользователя, счётчики инструкций goja. Имя попытки заменяется на
// путь файла, позиции исправляются на сдвиг стратегии: строки на
// lineOffset, колонки первой строки пользователя на columnOffset.
func cleanStack(text, path string, lineOffset, columnOffset int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	out := make([]string, 0, len(lines))
	seenUser := false
	for _, line := range lines {
		frame, ok := stackFrame(line)
		if !ok {
			out = append(out, line)
			continue
		}
		if isNativeFrame(frame) {
			if seenUser {
				break
			}
			continue
		}
		seenUser = true
		out = append(out, "    at "+frame)
	}

	msg := strings.Join(out, "\n")
	msg = pcSuffix.ReplaceAllString(msg, "$1")
	msg = placeholderPos.ReplaceAllStringFunc(msg, func(m string) string {
		parts := placeholderPos.FindStringSubmatch(m)
		line, col := shiftPos(parts[1], parts[2], lineOffset, columnOffset)
		return fmt.Sprintf("%s:%d:%d", path, line, col)
	})
	msg = syntaxPos.ReplaceAllStringFunc(msg, func(m string) string {
		parts := syntaxPos.FindStringSubmatch(m)
		line, col := shiftPos(parts[1], parts[2], lineOffset, columnOffset)
		return fmt.Sprintf("Line %d:%d", line, col)
	})
	msg = strings.ReplaceAll(msg, placeholderName, path)

	if !strings.Contains(msg, path) {
		msg += "\n    at " + path
	}
	return msg
}

// stackFrame возвращает текст кадра без префикса "at".
func stackFrame(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "at ") {
		return "", false
	}
	return strings.TrimPrefix(trimmed, "at "), true
}

func isNativeFrame(frame string) bool {
	return frame == "native" || strings.HasSuffix(frame, "(native)")
}

// shiftPos переводит позицию в тексте попытки в позицию в исходном файле.
func shiftPos(lineText, colText string, lineOffset, columnOffset int) (int, int) {
	line, err := strconv.Atoi(lineText)
	if err != nil {
		return 0, 0
	}
	col, err := strconv.Atoi(colText)
	if err != nil {
		return 0, 0
	}

	if line == lineOffset+1 {
		col = max(col-columnOffset, 1)
	}
	return max(line-lineOffset, 1), col
}

// errorText возвращает сообщение ошибки вместе со стеком, если он есть.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.String()
	}
	return err.Error()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
