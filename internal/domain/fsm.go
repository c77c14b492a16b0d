package domain

import (
	"encoding/json"
	"fmt"
)

// FSM — документ конечного автомата, результат компиляции.
//
// Структура документа определяется библиотекой композиции. Компилятор
// гарантирует только наличие строкового поля Entry, поэтому FSM хранится
// как обычный JSON объект.
type FSM map[string]any

// Entry возвращает имя начального состояния.
func (f FSM) Entry() string {
	s, _ := f["Entry"].(string)
	return s
}

// Clone возвращает глубокую копию документа через JSON.
func (f FSM) Clone() (FSM, error) {
	return NormalizeFSM(f)
}

// NormalizeFSM приводит произвольное значение к FSM через JSON.
//
// Числа становятся float64, так документ выглядит одинаково
// независимо от того, откуда он пришёл. Значения без JSON
// представления (функции, каналы) — ошибка.
func NormalizeFSM(v any) (FSM, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal fsm: %w", err)
	}

	var fsm FSM
	if err := json.Unmarshal(data, &fsm); err != nil {
		return nil, fmt.Errorf("unmarshal fsm: %w", err)
	}
	return fsm, nil
}

// Envelope — конверт результата компиляции {fsm, code}.
//
// Поле FSM содержит либо документ автомата, либо текст диагностики.
// Так UI может показать вкладку "fsm" одинаково для успеха и ошибки,
// а вкладку "code" — с исходником пользователя.
type Envelope struct {
	FSM  any    `json:"fsm"`
	Code string `json:"code"`
}
