package composer

import (
	"github.com/dop251/goja"
)

// namespaces — сущности backend, которыми управляет клиент развёртывания.
var namespaces = []string{"actions", "packages", "rules", "triggers"}

// operations — операции клиента развёртывания.
var operations = []string{"create", "update", "invoke", "get", "delete"}

// client создаёт клиент развёртывания, в котором каждая операция — no-op.
func (l *library) client() *goja.Object {
	c := l.rt.NewObject()
	for _, ns := range namespaces {
		o := l.rt.NewObject()
		for _, op := range operations {
			_ = o.Set(op, l.noop(ns, op))
		}
		_ = c.Set(ns, o)
	}
	return c
}

// noop возвращает операцию, которая ничего не делает и возвращает
// Promise с маркером успеха {ok: true, name, namespace, operation}.
func (l *library) noop(ns, op string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		marker := map[string]any{
			"ok":        true,
			"name":      entityName(call.Argument(0)),
			"namespace": ns,
			"operation": op,
		}
		return l.resolved(marker)
	}
}

// resolved оборачивает значение в уже выполненный Promise.
func (l *library) resolved(v any) goja.Value {
	ctor := l.rt.Get("Promise")
	if ctor == nil {
		return l.rt.ToValue(v)
	}
	resolve, ok := goja.AssertFunction(ctor.ToObject(l.rt).Get("resolve"))
	if !ok {
		return l.rt.ToValue(v)
	}
	p, err := resolve(ctor, l.rt.ToValue(v))
	if err != nil {
		return l.rt.ToValue(v)
	}
	return p
}

// entityName достаёт имя сущности из аргумента: строки или {name: ...}.
func entityName(arg goja.Value) string {
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return ""
	}
	if obj, ok := arg.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			return name.String()
		}
		return ""
	}
	return arg.String()
}
