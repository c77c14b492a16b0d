package compiler

import (
	"strings"
)

// Имена стратегий.
const (
	StrategyDefault                  = "default"
	StrategyRequireForModule         = "require-for-module"
	StrategyModuleExports            = "module-exports"
	StrategyModuleExportsWithRequire = "module-exports-with-require"
	StrategyModuleExportsTrimmed     = "module-exports-with-require-trimmed"
	StrategyConstMain                = "const-main"
	StrategyConstMainWithRequire     = "const-main-with-require"

	StrategyDirectEval           = "direct-eval"
	StrategyScriptValue          = "script-value"
	StrategyPrintBuffer          = "print-buffer"
	StrategyRequireForModuleEval = "require-for-module-eval"
)

const (
	// importBinding связывает библиотеку с именем composer.
	importBinding = `const composer = require("composer");`

	// envShim стоит в первой строке, поэтому не сдвигает номера строк.
	envShim = `var exports = module.exports;`

	exportMain = "\nmodule.exports = main;"

	exportsPrefix            = envShim + " module.exports = "
	exportsWithRequirePrefix = envShim + " " + importBinding + " module.exports = "
)

// Variant — гипотеза о том, как автор написал скрипт.
//
// LineOffset равен числу строк, которые Transform добавляет перед
// текстом пользователя, ColumnOffset — длине префикса в строке, где
// текст пользователя начинается. На них исправляются позиции в диагностике.
type Variant struct {
	Name         string
	Transform    func(string) string
	LineOffset   int
	ColumnOffset int
}

// defaultVariant — attempt zero: исходный текст без изменений.
var defaultVariant = Variant{
	Name:      StrategyDefault,
	Transform: func(s string) string { return s },
}

// Catalog возвращает каталог стратегий в каноническом порядке.
func Catalog() []Variant {
	return []Variant{
		{
			Name:       StrategyRequireForModule,
			Transform:  requireForModule,
			LineOffset: 1,
		},
		{
			Name: StrategyModuleExports,
			Transform: func(s string) string {
				return exportsPrefix + s
			},
			ColumnOffset: len(exportsPrefix),
		},
		{
			Name: StrategyModuleExportsWithRequire,
			Transform: func(s string) string {
				return exportsWithRequirePrefix + s
			},
			ColumnOffset: len(exportsWithRequirePrefix),
		},
		{
			Name: StrategyModuleExportsTrimmed,
			Transform: func(s string) string {
				return exportsWithRequirePrefix + blankLeading(s)
			},
			ColumnOffset: len(exportsWithRequirePrefix),
		},
		{
			Name: StrategyConstMain,
			Transform: func(s string) string {
				return envShim + "\n" + s + exportMain
			},
			LineOffset: 1,
		},
		{
			Name: StrategyConstMainWithRequire,
			Transform: func(s string) string {
				return importBinding + "\n" + s + exportMain
			},
			LineOffset: 1,
		},
	}
}

// RetryOrder возвращает каталог в порядке попыток: с конца (LIFO).
func RetryOrder() []Variant {
	c := Catalog()
	out := make([]Variant, 0, len(c))
	for i := len(c) - 1; i >= 0; i-- {
		out = append(out, c[i])
	}
	return out
}

func requireForModule(s string) string {
	return importBinding + "\n" + s
}

// blankLeading заменяет ведущие ';' и табуляции пробелами. Переводы
// строк остаются на месте, так что позиции в тексте не меняются.
func blankLeading(s string) string {
	body := strings.TrimLeft(s, "; \t\r\n")
	prefix := strings.Map(func(r rune) rune {
		if r == ';' || r == '\t' {
			return ' '
		}
		return r
	}, s[:len(s)-len(body)])
	return prefix + body
}
