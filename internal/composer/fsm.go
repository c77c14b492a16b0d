package composer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Типы состояний автомата.
const (
	StateTask   = "Task"
	StatePass   = "Pass"
	StateChoice = "Choice"
	StateTry    = "Try"
)

// ErrInvalidComposition — значение нельзя использовать как компонент композиции.
var ErrInvalidComposition = errors.New("invalid composition")

// State — состояние автомата.
type State struct {
	Type     string `json:"Type"`
	Action   string `json:"Action,omitempty"`
	Function string `json:"Function,omitempty"`
	Value    any    `json:"Value,omitempty"`
	Then     string `json:"Then,omitempty"`
	Else     string `json:"Else,omitempty"`
	Handler  string `json:"Handler,omitempty"`
	Next     string `json:"Next,omitempty"`
}

// FSM — автомат, который строят комбинаторы.
type FSM struct {
	Entry  string            `json:"Entry"`
	States map[string]*State `json:"States"`
	Exit   string            `json:"Exit"`
}

// Map возвращает автомат как JSON объект.
func (f *FSM) Map() map[string]any {
	data, _ := json.Marshal(f)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// Validate проверяет, что Entry и Exit ссылаются на существующие состояния.
func (f *FSM) Validate() error {
	if f.Entry == "" {
		return fmt.Errorf("%w: missing Entry", ErrInvalidComposition)
	}
	if len(f.States) == 0 {
		return fmt.Errorf("%w: no states", ErrInvalidComposition)
	}
	if _, ok := f.States[f.Entry]; !ok {
		return fmt.Errorf("%w: unknown Entry state %q", ErrInvalidComposition, f.Entry)
	}
	if _, ok := f.States[f.Exit]; !ok {
		return fmt.Errorf("%w: unknown Exit state %q", ErrInvalidComposition, f.Exit)
	}
	return nil
}

// ParseFSM разбирает JSON объект в автомат и проверяет его.
func ParseFSM(v any) (*FSM, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidComposition, err)
	}

	var f FSM
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidComposition, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// single возвращает автомат из одного состояния.
func single(s *State) *FSM {
	return &FSM{
		Entry:  "s1",
		Exit:   "s1",
		States: map[string]*State{"s1": s},
	}
}

// Task — вызов action по имени.
func Task(action string) *FSM {
	return single(&State{Type: StateTask, Action: action})
}

// Function — inline функция (исходный текст сохраняется в состоянии).
func Function(code string) *FSM {
	return single(&State{Type: StateTask, Function: code})
}

// Literal — состояние, возвращающее константу.
func Literal(v any) *FSM {
	return single(&State{Type: StatePass, Value: v})
}

// Pass — пустое состояние.
func Pass() *FSM {
	return single(&State{Type: StatePass})
}

// builder собирает новый автомат, переименовывая состояния компонентов.
// Имена выдаются последовательно (s1, s2, ...), поэтому результат
// детерминирован для одинакового входа.
type builder struct {
	fsm *FSM
	n   int
}

func newBuilder() *builder {
	return &builder{fsm: &FSM{States: make(map[string]*State)}}
}

func (b *builder) next() string {
	b.n++
	return fmt.Sprintf("s%d", b.n)
}

// add добавляет состояние и возвращает его имя.
func (b *builder) add(s *State) string {
	name := b.next()
	b.fsm.States[name] = s
	return name
}

// embed копирует part с новыми именами. Возвращает новые entry и exit.
func (b *builder) embed(part *FSM) (string, string) {
	names := make([]string, 0, len(part.States))
	for name := range part.States {
		names = append(names, name)
	}
	sort.Strings(names)

	rename := make(map[string]string, len(names))
	for _, name := range names {
		rename[name] = b.next()
	}

	for _, name := range names {
		s := *part.States[name]
		s.Next = rename[s.Next]
		s.Then = rename[s.Then]
		s.Else = rename[s.Else]
		s.Handler = rename[s.Handler]
		b.fsm.States[rename[name]] = &s
	}

	return rename[part.Entry], rename[part.Exit]
}

func (b *builder) link(from, to string) {
	b.fsm.States[from].Next = to
}

func (b *builder) build(entry, exit string) *FSM {
	b.fsm.Entry = entry
	b.fsm.Exit = exit
	return b.fsm
}

// Sequence соединяет компоненты последовательно.
func Sequence(parts ...*FSM) *FSM {
	if len(parts) == 0 {
		return Pass()
	}

	b := newBuilder()
	var entry, prevExit string
	for i, part := range parts {
		e, x := b.embed(part)
		if i == 0 {
			entry = e
		} else {
			b.link(prevExit, e)
		}
		prevExit = x
	}
	return b.build(entry, prevExit)
}

// If — ветвление: test, затем consequent или alternate.
func If(test, consequent, alternate *FSM) *FSM {
	b := newBuilder()

	te, tx := b.embed(test)
	choice := b.add(&State{Type: StateChoice})
	b.link(tx, choice)

	ce, cx := b.embed(consequent)
	ae, ax := b.embed(alternate)
	join := b.add(&State{Type: StatePass})

	b.fsm.States[choice].Then = ce
	b.fsm.States[choice].Else = ae
	b.link(cx, join)
	b.link(ax, join)

	return b.build(te, join)
}

// While — цикл: пока test истинен, выполняется body.
func While(test, body *FSM) *FSM {
	b := newBuilder()

	te, tx := b.embed(test)
	choice := b.add(&State{Type: StateChoice})
	b.link(tx, choice)

	be, bx := b.embed(body)
	join := b.add(&State{Type: StatePass})

	b.fsm.States[choice].Then = be
	b.fsm.States[choice].Else = join
	b.link(bx, te)

	return b.build(te, join)
}

// Try — выполнение body с обработчиком ошибок handler.
func Try(body, handler *FSM) *FSM {
	b := newBuilder()

	try := b.add(&State{Type: StateTry})
	be, bx := b.embed(body)
	he, hx := b.embed(handler)
	join := b.add(&State{Type: StatePass})

	b.fsm.States[try].Next = be
	b.fsm.States[try].Handler = he
	b.link(bx, join)
	b.link(hx, join)

	return b.build(try, join)
}
