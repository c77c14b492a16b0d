package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/shaiso/composer/internal/composer"
)

// ModuleFactory строит встроенный модуль в конкретном runtime.
type ModuleFactory func(rt *goja.Runtime) (goja.Value, error)

// Resolver решает, что вернёт require() внутри sandbox.
//
// Встроенные имена отдают модули из фабрик. Спецификаторы,
// начинающиеся с "./", "../" или "/", разрешаются от директории
// скрипта в .js/.json файлы. Остальные ищутся в node_modules этой
// директории и всех её родителей.
//
// Resolver неизменяем после создания и безопасен для конкурентного
// использования; кэш загруженных файлов живёт внутри одной попытки.
type Resolver struct {
	builtins map[string]ModuleFactory
}

// NewResolver создаёт резолвер с библиотекой composer под её именем
// и под дополнительными aliases.
func NewResolver(aliases ...string) *Resolver {
	r := &Resolver{builtins: make(map[string]ModuleFactory)}
	r.builtins[composer.Name] = composer.Module
	for _, alias := range aliases {
		if alias != "" {
			r.builtins[alias] = composer.Module
		}
	}
	return r
}

// WithModule возвращает копию резолвера с дополнительным встроенным модулем.
func (r *Resolver) WithModule(name string, factory ModuleFactory) *Resolver {
	builtins := make(map[string]ModuleFactory, len(r.builtins)+1)
	for k, v := range r.builtins {
		builtins[k] = v
	}
	builtins[name] = factory
	return &Resolver{builtins: builtins}
}

// moduleLoader — require() одной попытки.
type moduleLoader struct {
	resolver *Resolver
	rt       *goja.Runtime
	cache    map[string]*goja.Object // путь или имя → module
}

func (r *Resolver) loader(rt *goja.Runtime) *moduleLoader {
	return &moduleLoader{
		resolver: r,
		rt:       rt,
		cache:    make(map[string]*goja.Object),
	}
}

// requireFrom возвращает функцию require для модуля из директории dir.
func (l *moduleLoader) requireFrom(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		v, err := l.require(spec, dir)
		if err != nil {
			l.throw(err)
		}
		return v
	}
}

func (l *moduleLoader) require(spec, dir string) (goja.Value, error) {
	if m, ok := l.cache[spec]; ok {
		return m.Get("exports"), nil
	}

	if factory, ok := l.resolver.builtins[spec]; ok {
		v, err := factory(l.rt)
		if err != nil {
			return nil, fmt.Errorf("load module '%s': %w", spec, err)
		}
		m := l.rt.NewObject()
		_ = m.Set("exports", v)
		l.cache[spec] = m
		return v, nil
	}

	path, ok := resolveModule(spec, dir)
	if !ok {
		return nil, fmt.Errorf("Cannot find module '%s'", spec)
	}
	if m, ok := l.cache[path]; ok {
		return m.Get("exports"), nil
	}
	return l.load(path)
}

// load выполняет файл как CommonJS модуль.
func (l *moduleLoader) load(path string) (goja.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Cannot find module '%s'", path)
	}

	module := l.rt.NewObject()
	exports := l.rt.NewObject()
	_ = module.Set("exports", exports)
	l.cache[path] = module

	if strings.EqualFold(filepath.Ext(path), ".json") {
		parse, _ := goja.AssertFunction(l.rt.Get("JSON").ToObject(l.rt).Get("parse"))
		v, err := parse(goja.Undefined(), l.rt.ToValue(string(data)))
		if err != nil {
			delete(l.cache, path)
			return nil, err
		}
		_ = module.Set("exports", v)
		return v, nil
	}

	prg, err := goja.Compile(path, moduleWrapperPrefix+string(data)+moduleWrapperSuffix, false)
	if err != nil {
		delete(l.cache, path)
		return nil, err
	}
	fn, err := l.rt.RunProgram(prg)
	if err != nil {
		delete(l.cache, path)
		return nil, err
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		delete(l.cache, path)
		return nil, fmt.Errorf("module %s did not compile to a function", path)
	}

	dir := filepath.Dir(path)
	_, err = call(goja.Undefined(),
		exports,
		l.rt.ToValue(l.requireFrom(dir)),
		module,
		l.rt.ToValue(path),
		l.rt.ToValue(dir),
	)
	if err != nil {
		delete(l.cache, path)
		return nil, err
	}
	return module.Get("exports"), nil
}

// throw пробрасывает ошибку в скрипт как JS исключение.
func (l *moduleLoader) throw(err error) {
	if ex, ok := err.(*goja.Exception); ok {
		panic(ex.Value())
	}
	if obj, e := l.rt.New(l.rt.Get("Error"), l.rt.ToValue(err.Error())); e == nil {
		panic(obj)
	}
	panic(l.rt.NewGoError(err))
}

func isPathSpec(spec string) bool {
	return strings.HasPrefix(spec, "./") ||
		strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") ||
		spec == "." || spec == ".."
}

// resolveModule находит файл модуля: путь — от dir, остальное —
// в ближайшем node_modules вверх по дереву.
func resolveModule(spec, dir string) (string, bool) {
	if isPathSpec(spec) {
		return resolveFile(spec, dir)
	}
	if spec == "" || filepath.IsAbs(spec) {
		return "", false
	}

	for d := dir; ; {
		if filepath.Base(d) != "node_modules" {
			if path, ok := resolveFile(filepath.Join(d, "node_modules", spec), ""); ok {
				return path, true
			}
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", false
		}
		d = parent
	}
}

// resolveFile подбирает файл так же, как node: точное имя, .js, .json,
// затем директория: main из package.json, index.js, index.json.
func resolveFile(spec, dir string) (string, bool) {
	base := spec
	if !filepath.IsAbs(base) {
		base = filepath.Join(dir, spec)
	}

	if path, ok := firstFile(base, base+".js", base+".json"); ok {
		return path, true
	}
	if main := packageMain(base); main != "" {
		m := filepath.Join(base, main)
		if path, ok := firstFile(m, m+".js", m+".json", filepath.Join(m, "index.js"), filepath.Join(m, "index.json")); ok {
			return path, true
		}
	}
	return firstFile(filepath.Join(base, "index.js"), filepath.Join(base, "index.json"))
}

func firstFile(candidates ...string) (string, bool) {
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// packageMain читает поле main из dir/package.json. Ошибки чтения
// и разбора означают, что main нет.
func packageMain(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Main
}
