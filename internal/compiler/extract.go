package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/shaiso/composer/internal/domain"
)

// CandidateSource — где был найден FSM.
type CandidateSource string

const (
	SourceReturn      CandidateSource = "return"
	SourceExportsMain CandidateSource = "exports.main"
	SourceExports     CandidateSource = "exports"
	SourceThunk       CandidateSource = "thunk"
	SourcePrintBuffer CandidateSource = "print-buffer"
	SourceScriptValue CandidateSource = "script-value"
	SourceJSONLiteral CandidateSource = "json-literal"
)

// candidate — найденный FSM.
type candidate struct {
	FSM    domain.FSM
	Source CandidateSource
}

// extract ищет FSM в попытке, которая не бросила исключение:
// значение текста, module.exports.main, module.exports, вызов
// thunk без аргументов, JSON из console.log.
//
// Ошибка возвращается, только если её бросил вызванный thunk.
func extract(a *Attempt) (*candidate, error) {
	rt := a.Runtime()

	ret := a.Value
	var main, exports goja.Value
	if ex := a.Exports(); ex != nil {
		exports = ex
		if obj, ok := ex.(*goja.Object); ok {
			main = obj.Get("main")
		}
	}

	ordered := []struct {
		v   goja.Value
		src CandidateSource
	}{
		{ret, SourceReturn},
		{main, SourceExportsMain},
		{exports, SourceExports},
	}
	for _, c := range ordered {
		if fsm, ok := toFSM(rt, c.v); ok {
			return &candidate{FSM: fsm, Source: c.src}, nil
		}
	}

	// Кандидат для thunk — первое непустое значение в том же порядке.
	var pick goja.Value
	for _, c := range ordered {
		if truthy(c.v) {
			pick = c.v
			break
		}
	}
	if fn, ok := thunk(pick); ok {
		v, err := fn(goja.Undefined())
		if err != nil {
			a.classify(err)
			return nil, err
		}
		if fsm, ok := toFSM(rt, v); ok {
			return &candidate{FSM: fsm, Source: SourceThunk}, nil
		}
	}

	if fsm, ok := parseFSMText(a.PrintBuffer()); ok {
		return &candidate{FSM: fsm, Source: SourcePrintBuffer}, nil
	}
	return nil, nil
}

// thunk возвращает функцию, если v вызываем без обязательных аргументов.
func thunk(v goja.Value) (goja.Callable, bool) {
	if v == nil {
		return nil, false
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, false
	}
	obj := v.(*goja.Object)
	if n := obj.Get("length"); n != nil && n.ToInteger() != 0 {
		return nil, false
	}
	return fn, true
}

func truthy(v goja.Value) bool {
	return v != nil && v.ToBoolean()
}

// toFSM проверяет значение и переводит его в FSM через JSON.stringify,
// так что функции и undefined внутри документа отбрасываются как в JSON.
// Неперечислимый Entry stringify теряет, он возвращается отдельно.
func toFSM(rt *goja.Runtime, v goja.Value) (domain.FSM, bool) {
	if !isFSMValue(rt, v) {
		return nil, false
	}
	s, err := stringify(rt, v)
	if err != nil {
		return nil, false
	}
	parsed, err := parseJSON(s)
	if err != nil {
		return nil, false
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := m["Entry"]; !ok {
		m["Entry"] = v.(*goja.Object).Get("Entry").String()
	}
	return domain.FSM(m), true
}

// parseFSMText разбирает JSON текст и проверяет, что это FSM.
func parseFSMText(text string) (domain.FSM, bool) {
	v, err := parseJSON(text)
	if err != nil || !IsFSM(v) {
		return nil, false
	}
	return domain.FSM(v.(map[string]any)), true
}

var errEmptyJSON = errors.New("empty input")

// parseJSON разбирает произвольный JSON документ.
func parseJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyJSON
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return v, nil
}
