package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// placeholderName — имя, под которым компилируется текст попытки.
// В диагностике заменяется на настоящий путь файла.
const placeholderName = "evalmachine.<anonymous>"

// Обёртка CommonJS модуля. Префикс стоит на той же строке, что и текст:
// номера строк не сдвигаются.
const (
	moduleWrapperPrefix = "(function (exports, require, module, __filename, __dirname) {"
	moduleWrapperSuffix = "\n})"
)

// DefaultExecTimeout — таймаут одной попытки по умолчанию.
const DefaultExecTimeout = 5 * time.Second

// Mode — как выполняется текст попытки.
type Mode int

const (
	// ModeModule — тело модуля: доступны exports, require, module,
	// __filename и __dirname.
	ModeModule Mode = iota

	// ModeScript — текст без обёртки: доступны только require,
	// console и process.
	ModeScript
)

// String возвращает строковое представление Mode.
func (m Mode) String() string {
	if m == ModeScript {
		return "script"
	}
	return "module"
}

// Request — одна попытка выполнения.
type Request struct {
	Strategy     string
	Text         string
	Filename     string
	Dirname      string
	LineOffset   int
	ColumnOffset int
	Mode         Mode
}

// Attempt — результат одной попытки.
//
// Запись неизменяема после Execute, кроме вызовов функций скрипта
// (thunk) во время извлечения. Close освобождает таймер попытки.
type Attempt struct {
	Strategy     string
	Mode         Mode
	Text         string
	LineOffset   int
	ColumnOffset int // включая обёртку функции модуля, если она понадобилась

	Value   goja.Value // значение завершения текста
	Err     error      // исключение, синтаксическая ошибка или прерывание
	Printed []string   // console.log
	Errors  []string   // console.error и console.warn

	TimedOut bool
	ExitCode *int

	rt     *goja.Runtime
	module *goja.Object
	stop   func()
}

// PrintBuffer возвращает console.log вывод, склеенный переводами строк.
func (a *Attempt) PrintBuffer() string {
	return strings.Join(a.Printed, "\n")
}

// ErrorBuffer возвращает console.error вывод.
func (a *Attempt) ErrorBuffer() string {
	return strings.Join(a.Errors, "\n")
}

// Exports возвращает module.exports попытки (только ModeModule).
func (a *Attempt) Exports() goja.Value {
	if a.module == nil {
		return nil
	}
	return a.module.Get("exports")
}

// Runtime возвращает runtime попытки.
func (a *Attempt) Runtime() *goja.Runtime {
	return a.rt
}

// Close освобождает ресурсы попытки. Повторный вызов безопасен.
func (a *Attempt) Close() {
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
}

// Сигналы, с которыми прерывается runtime.
type timeoutSignal struct{}

type exitSignal struct{ code int }

// ExecutorConfig — конфигурация Executor.
type ExecutorConfig struct {
	Resolver *Resolver

	// Timeout — предел времени одной попытки. 0 — DefaultExecTimeout.
	Timeout time.Duration

	// HideEnv — не копировать окружение процесса в process.env.
	// По умолчанию скрипт видит копию окружения только для чтения.
	HideEnv bool
}

// Executor выполняет текст попыток в изолированных runtime.
type Executor struct {
	resolver *Resolver
	timeout  time.Duration
	hideEnv  bool
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExecTimeout
	}
	return &Executor{
		resolver: cfg.Resolver,
		timeout:  cfg.Timeout,
		hideEnv:  cfg.HideEnv,
	}
}

// Execute выполняет попытку в новом runtime.
//
// Таймаут и отмена ctx прерывают runtime. Вызывающий должен
// вызвать Close у результата после извлечения.
func (e *Executor) Execute(ctx context.Context, req Request) (a *Attempt) {
	rt := goja.New()
	a = &Attempt{
		Strategy:     req.Strategy,
		Mode:         req.Mode,
		Text:         req.Text,
		LineOffset:   req.LineOffset,
		ColumnOffset: req.ColumnOffset,
		rt:           rt,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	stopWatch := context.AfterFunc(runCtx, func() {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			rt.Interrupt(timeoutSignal{})
			return
		}
		rt.Interrupt(runCtx.Err())
	})
	a.stop = func() {
		stopWatch()
		cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			a.Err = fmt.Errorf("sandbox panic: %v", r)
		}
	}()

	if err := e.install(rt, a, req); err != nil {
		a.Err = err
		return a
	}

	var v goja.Value
	prg, err := goja.Compile(placeholderName, req.Text, false)
	switch {
	case err == nil:
		v, err = rt.RunProgram(prg)
	case req.Mode == ModeModule && isIllegalReturn(err):
		// return на верхнем уровне допустим в теле модуля: текст
		// выполняется как функция модуля, значение — то, что она вернула.
		if a.LineOffset == 0 {
			a.ColumnOffset += len(moduleWrapperPrefix)
		}
		v, err = callModuleFunction(rt, a.module, req.Text)
	default:
		a.Err = err
		return a
	}
	if err != nil {
		a.Err = err
		a.classify(err)
		return a
	}
	a.Value = v
	return a
}

func isIllegalReturn(err error) bool {
	return strings.Contains(err.Error(), "Illegal return statement")
}

// callModuleFunction выполняет text в обёртке CommonJS и вызывает её
// с глобальными module, exports, require, __filename и __dirname.
func callModuleFunction(rt *goja.Runtime, module *goja.Object, text string) (goja.Value, error) {
	prg, err := goja.Compile(placeholderName, moduleWrapperPrefix+text+moduleWrapperSuffix, false)
	if err != nil {
		return nil, err
	}
	fn, err := rt.RunProgram(prg)
	if err != nil {
		return nil, err
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("module wrapper did not compile to a function")
	}
	return call(goja.Undefined(),
		module.Get("exports"),
		rt.Get("require"),
		module,
		rt.Get("__filename"),
		rt.Get("__dirname"),
	)
}

// classify отмечает прерывания таймаутом и process.exit.
func (a *Attempt) classify(err error) {
	var ie *goja.InterruptedError
	if !errors.As(err, &ie) {
		return
	}
	switch sig := ie.Value().(type) {
	case timeoutSignal:
		a.TimedOut = true
	case exitSignal:
		code := sig.code
		a.ExitCode = &code
	}
}

// install создаёт окружение попытки: require, console, process
// и для ModeModule — module, exports, __filename, __dirname.
func (e *Executor) install(rt *goja.Runtime, a *Attempt, req Request) error {
	loader := e.resolver.loader(rt)

	set := func(name string, v any) error {
		if err := rt.Set(name, v); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
		return nil
	}

	if err := set("require", loader.requireFrom(req.Dirname)); err != nil {
		return err
	}
	if err := set("console", e.console(rt, a)); err != nil {
		return err
	}
	if err := set("process", e.process(rt)); err != nil {
		return err
	}

	if req.Mode != ModeModule {
		return nil
	}

	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}
	a.module = module

	if err := set("module", module); err != nil {
		return err
	}
	if err := set("exports", exports); err != nil {
		return err
	}
	if err := set("__filename", req.Filename); err != nil {
		return err
	}
	return set("__dirname", req.Dirname)
}

// console пишет в буферы попытки, а не в настоящий вывод.
func (e *Executor) console(rt *goja.Runtime, a *Attempt) *goja.Object {
	c := rt.NewObject()

	log := func(call goja.FunctionCall) goja.Value {
		a.Printed = append(a.Printed, formatArgs(rt, call.Arguments))
		return goja.Undefined()
	}
	errLog := func(call goja.FunctionCall) goja.Value {
		a.Errors = append(a.Errors, formatArgs(rt, call.Arguments))
		return goja.Undefined()
	}

	_ = c.Set("log", log)
	_ = c.Set("info", log)
	_ = c.Set("debug", log)
	_ = c.Set("error", errLog)
	_ = c.Set("warn", errLog)
	return c
}

// process отдаёт копию окружения и exit, который прерывает скрипт.
func (e *Executor) process(rt *goja.Runtime) *goja.Object {
	p := rt.NewObject()

	env := rt.NewObject()
	if !e.hideEnv {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if ok && k != "" {
				_ = env.Set(k, v)
			}
		}
	}
	if freeze, ok := goja.AssertFunction(rt.Get("Object").ToObject(rt).Get("freeze")); ok {
		_, _ = freeze(goja.Undefined(), env)
	}
	_ = p.Set("env", env)

	_ = p.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			code = int(arg.ToInteger())
		}
		rt.Interrupt(exitSignal{code: code})
		// Прерывание срабатывает на следующей инструкции; дальше
		// скрипт не выполняется.
		return goja.Undefined()
	})
	return p
}

// formatArgs склеивает аргументы console через пробел.
// Строки пишутся как есть, объекты — через JSON.stringify.
func formatArgs(rt *goja.Runtime, args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatValue(rt, arg))
	}
	return strings.Join(parts, " ")
}

func formatValue(rt *goja.Runtime, v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return v.String()
	}
	if s, err := stringify(rt, obj); err == nil {
		return s
	}
	return v.String()
}

// stringify вызывает JSON.stringify внутри runtime.
func stringify(rt *goja.Runtime, v goja.Value) (string, error) {
	fn, ok := goja.AssertFunction(rt.Get("JSON").ToObject(rt).Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify is not a function")
	}
	out, err := fn(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(out) {
		return "", errors.New("value has no JSON representation")
	}
	return out.String(), nil
}
