package compiler

import (
	"github.com/dop251/goja"

	"github.com/shaiso/composer/internal/domain"
)

// IsFSM проверяет минимальный признак FSM: объект с собственным
// строковым полем Entry. Более глубокая структура не проверяется.
func IsFSM(v any) bool {
	var m map[string]any
	switch t := v.(type) {
	case map[string]any:
		m = t
	case domain.FSM:
		m = t
	default:
		return false
	}
	if m == nil {
		return false
	}

	_, ok := m["Entry"].(string)
	return ok
}

// isFSMValue — тот же признак для значения из sandbox. Entry может
// быть неперечислимым, но должен принадлежать самому объекту.
func isFSMValue(rt *goja.Runtime, v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return false
	}
	if !hasOwn(rt, obj, "Entry") {
		return false
	}

	_, ok = obj.Get("Entry").Export().(string)
	return ok
}

// hasOwn — Object.prototype.hasOwnProperty.call(obj, key).
func hasOwn(rt *goja.Runtime, obj *goja.Object, key string) bool {
	proto := rt.Get("Object").ToObject(rt).Get("prototype").ToObject(rt)
	fn, ok := goja.AssertFunction(proto.Get("hasOwnProperty"))
	if !ok {
		return false
	}
	res, err := fn(obj, rt.ToValue(key))
	return err == nil && res.ToBoolean()
}
