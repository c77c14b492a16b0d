package composer

import (
	"encoding/json"
	"errors"

	"github.com/dop251/goja"
)

// Name — имя, под которым скрипты импортируют библиотеку.
const Name = "composer"

// library — привязка комбинаторов к конкретному goja runtime.
type library struct {
	rt *goja.Runtime
}

// New создаёт объект библиотеки для runtime.
//
// Объект не хранит состояния между вызовами и не выполняет
// никаких действий против настоящего backend.
func New(rt *goja.Runtime) *goja.Object {
	l := &library{rt: rt}
	obj := rt.NewObject()

	combinators := map[string]func(goja.FunctionCall) goja.Value{
		"task":        l.task,
		"action":      l.task,
		"function":    l.function,
		"literal":     l.literal,
		"value":       l.literal,
		"sequence":    l.sequence,
		"seq":         l.sequence,
		"if":          l.ifThen,
		"while":       l.while,
		"try":         l.try,
		"compile":     l.compile,
		"deserialize": l.deserialize,
	}
	for name, fn := range combinators {
		_ = obj.Set(name, fn)
	}

	client := l.client()
	for _, ns := range namespaces {
		_ = obj.Set(ns, client.Get(ns))
	}
	_ = obj.Set("openwhisk", func(goja.FunctionCall) goja.Value {
		return client
	})

	return obj
}

// Module — фабрика модуля для require() в sandbox.
func Module(rt *goja.Runtime) (goja.Value, error) {
	return New(rt), nil
}

// component превращает значение из скрипта в автомат.
//
//   - undefined/null → Pass
//   - строка         → Task с именем action
//   - функция        → Task с исходным текстом функции
//   - объект FSM     → сам автомат
func (l *library) component(v goja.Value) (*FSM, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Pass(), nil
	}

	if _, ok := goja.AssertFunction(v); ok {
		return Function(v.String()), nil
	}

	if obj, ok := v.(*goja.Object); ok {
		return ParseFSM(obj.Export())
	}

	if s, ok := v.Export().(string); ok {
		if s == "" {
			return nil, errors.New("empty action name")
		}
		return Task(s), nil
	}

	return nil, ErrInvalidComposition
}

// components превращает все аргументы вызова в автоматы.
func (l *library) components(args []goja.Value, fn string) []*FSM {
	parts := make([]*FSM, 0, len(args))
	for _, arg := range args {
		part, err := l.component(arg)
		if err != nil {
			panic(l.rt.NewTypeError("Invalid argument to " + fn + ": " + err.Error()))
		}
		parts = append(parts, part)
	}
	return parts
}

func (l *library) value(f *FSM) goja.Value {
	return l.rt.ToValue(f.Map())
}

func (l *library) task(call goja.FunctionCall) goja.Value {
	name, ok := call.Argument(0).Export().(string)
	if !ok || name == "" {
		panic(l.rt.NewTypeError("Invalid argument to task: expected action name"))
	}
	return l.value(Task(name))
}

func (l *library) function(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if _, ok := goja.AssertFunction(arg); !ok {
		if _, isString := arg.Export().(string); !isString {
			panic(l.rt.NewTypeError("Invalid argument to function: expected function or source"))
		}
	}
	return l.value(Function(arg.String()))
}

func (l *library) literal(call goja.FunctionCall) goja.Value {
	return l.value(Literal(call.Argument(0).Export()))
}

func (l *library) sequence(call goja.FunctionCall) goja.Value {
	return l.value(Sequence(l.components(call.Arguments, "sequence")...))
}

func (l *library) ifThen(call goja.FunctionCall) goja.Value {
	parts := l.components([]goja.Value{call.Argument(0), call.Argument(1), call.Argument(2)}, "if")
	return l.value(If(parts[0], parts[1], parts[2]))
}

func (l *library) while(call goja.FunctionCall) goja.Value {
	parts := l.components([]goja.Value{call.Argument(0), call.Argument(1)}, "while")
	return l.value(While(parts[0], parts[1]))
}

func (l *library) try(call goja.FunctionCall) goja.Value {
	parts := l.components([]goja.Value{call.Argument(0), call.Argument(1)}, "try")
	return l.value(Try(parts[0], parts[1]))
}

// compile проверяет композицию и возвращает её FSM.
// Для значения, которое не является композицией, бросает
// "Invalid argument to compile" — компилятор распознаёт это сообщение.
func (l *library) compile(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(l.rt.NewTypeError("Invalid argument to compile"))
	}

	f, err := l.component(arg)
	if err != nil {
		panic(l.rt.NewTypeError("Invalid argument to compile"))
	}
	return l.value(f)
}

// deserialize восстанавливает FSM из JSON строки или объекта.
func (l *library) deserialize(call goja.FunctionCall) goja.Value {
	var raw any
	switch v := call.Argument(0).Export().(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			panic(l.rt.NewTypeError("Invalid argument to deserialize: " + err.Error()))
		}
	default:
		raw = v
	}

	f, err := ParseFSM(raw)
	if err != nil {
		panic(l.rt.NewTypeError("Invalid argument to deserialize: " + err.Error()))
	}
	return l.value(f)
}
