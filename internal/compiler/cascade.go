package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/shaiso/composer/internal/domain"
)

// errSkipped — поздняя стратегия неприменима и не выполнялась.
var errSkipped = errors.New("strategy skipped")

// failure — ошибка одной попытки, сохранённая для диагностики.
type failure struct {
	Strategy     string
	Late         bool
	LineOffset   int
	ColumnOffset int
	Err          error
}

// report — итог каскада.
type report struct {
	Winner   *candidate
	Strategy string
	Failures []failure

	// Attempts — число опробованных стратегий, включая attempt zero.
	Attempts int

	// Abort — каскад остановлен досрочно (таймаут, process.exit).
	Abort *Diagnostic
}

// cascade перебирает стратегии для одного документа.
type cascade struct {
	exec   *Executor
	doc    domain.SourceDocument
	logger *slog.Logger

	rep *report
}

// lateState — данные, которые поздние стратегии берут у direct-eval.
type lateState struct {
	direct *Attempt
}

// lateStep — одна поздняя стратегия.
type lateStep struct {
	name   string
	offset int
	run    func(ctx context.Context, st *lateState) (*candidate, error)
}

func newCascade(exec *Executor, doc domain.SourceDocument, logger *slog.Logger) *cascade {
	return &cascade{
		exec:   exec,
		doc:    doc,
		logger: logger,
		rep:    &report{},
	}
}

// run выполняет обе фазы и останавливается на первом FSM.
func (c *cascade) run(ctx context.Context) (*report, error) {
	done, err := c.catalogPhase(ctx)
	if err != nil || done {
		return c.rep, err
	}

	_, err = c.latePhase(ctx)
	return c.rep, err
}

// catalogPhase: attempt zero и каталог в порядке RetryOrder.
func (c *cascade) catalogPhase(ctx context.Context) (bool, error) {
	plan := append([]Variant{defaultVariant}, RetryOrder()...)

	for _, v := range plan {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		req := c.request(v.Name, v.Transform(c.doc.RawText), v.LineOffset, ModeModule)
		req.ColumnOffset = v.ColumnOffset
		a := c.exec.Execute(ctx, req)
		c.rep.Attempts++

		cand, err := c.inspect(a)
		a.Close()

		if c.rep.Abort != nil {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if err != nil {
			c.fail(failure{Strategy: v.Name, LineOffset: a.LineOffset, ColumnOffset: a.ColumnOffset, Err: err})
			continue
		}
		if cand != nil {
			c.win(v.Name, cand)
			return true, nil
		}
		c.logger.Debug("strategy produced no fsm", "strategy", v.Name)
	}
	return false, nil
}

// inspect проверяет попытку: ошибку выполнения, прерывание, кандидата.
func (c *cascade) inspect(a *Attempt) (*candidate, error) {
	if a.Err != nil {
		c.checkAbort(a, a.Err)
		return nil, a.Err
	}

	cand, err := extract(a)
	if err != nil {
		c.checkAbort(a, err)
	}
	return cand, err
}

// checkAbort превращает таймаут и process.exit в досрочную диагностику.
func (c *cascade) checkAbort(a *Attempt, err error) {
	switch {
	case a.TimedOut:
		msg := fmt.Sprintf("Your code did not finish within %s\n    at %s", c.exec.timeout, c.doc.Path)
		c.rep.Abort = newDiagnostic(KindTimeout, ErrTimeout, msg, err.Error(), c.doc.RawText, a.Strategy)
	case a.ExitCode != nil:
		msg := fmt.Sprintf("process.exit(%d) was called\n    at %s", *a.ExitCode, c.doc.Path)
		c.rep.Abort = newDiagnostic(KindSyntaxOrRuntime, fmt.Errorf("%w: %w", ErrCompilation, ErrExited),
			msg, err.Error(), c.doc.RawText, a.Strategy)
	}
}

// latePhase — поздние стратегии в фиксированном порядке, каждая
// в своей границе восстановления.
func (c *cascade) latePhase(ctx context.Context) (bool, error) {
	st := &lateState{}
	defer func() {
		if st.direct != nil {
			st.direct.Close()
		}
	}()

	for _, step := range c.lateSteps() {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		c.rep.Attempts++
		cand, err := guard(func() (*candidate, error) { return step.run(ctx, st) })

		if c.rep.Abort != nil {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			c.fail(failure{Strategy: step.name, Late: true, LineOffset: step.offset, Err: err})
			continue
		}
		if cand != nil {
			c.win(step.name, cand)
			return true, nil
		}
		c.logger.Debug("strategy produced no fsm", "strategy", step.name)
	}
	return false, nil
}

func (c *cascade) lateSteps() []lateStep {
	return []lateStep{
		{name: StrategyDirectEval, run: c.directEval},
		{name: StrategyScriptValue, run: c.scriptValue},
		{name: StrategyPrintBuffer, run: c.printBuffer},
		{name: StrategyRequireForModuleEval, offset: 1, run: c.requireForModuleEval},
	}
}

// directEval выполняет исходный текст без обёртки.
func (c *cascade) directEval(ctx context.Context, st *lateState) (*candidate, error) {
	a := c.exec.Execute(ctx, c.request(StrategyDirectEval, c.doc.RawText, 0, ModeScript))
	st.direct = a

	if a.Err != nil {
		c.checkAbort(a, a.Err)
		return nil, a.Err
	}
	if fsm, ok := toFSM(a.Runtime(), a.Value); ok {
		return &candidate{FSM: fsm, Source: SourceReturn}, nil
	}
	return nil, nil
}

// scriptValue берёт значение direct-eval как кандидата, если скрипт
// ничего не писал в console.error. Строка разбирается как JSON.
// Если значения нет, как JSON разбирается исходный текст.
func (c *cascade) scriptValue(_ context.Context, st *lateState) (*candidate, error) {
	a := st.direct
	if a == nil || len(a.Errors) > 0 {
		return nil, errSkipped
	}

	if a.Err != nil || a.Value == nil {
		return jsonCandidate(c.doc.RawText, SourceJSONLiteral)
	}

	if s, ok := a.Value.Export().(string); ok {
		return jsonCandidate(s, SourceScriptValue)
	}
	if fsm, ok := toFSM(a.Runtime(), a.Value); ok {
		return &candidate{FSM: fsm, Source: SourceScriptValue}, nil
	}
	return nil, nil
}

// printBuffer разбирает console.log вывод direct-eval как JSON.
func (c *cascade) printBuffer(_ context.Context, st *lateState) (*candidate, error) {
	if st.direct == nil || len(st.direct.Printed) == 0 {
		return nil, errSkipped
	}
	return jsonCandidate(st.direct.PrintBuffer(), SourcePrintBuffer)
}

// requireForModuleEval — последняя попытка: привязка библиотеки и текст без обёртки.
func (c *cascade) requireForModuleEval(ctx context.Context, _ *lateState) (*candidate, error) {
	a := c.exec.Execute(ctx, c.request(StrategyRequireForModuleEval, requireForModule(c.doc.RawText), 1, ModeScript))
	defer a.Close()

	if a.Err != nil {
		c.checkAbort(a, a.Err)
		return nil, a.Err
	}
	if fsm, ok := toFSM(a.Runtime(), a.Value); ok {
		return &candidate{FSM: fsm, Source: SourceReturn}, nil
	}
	return nil, nil
}

func jsonCandidate(text string, src CandidateSource) (*candidate, error) {
	v, err := parseJSON(text)
	if err != nil {
		return nil, err
	}
	if !IsFSM(v) {
		return nil, nil
	}
	return &candidate{FSM: domain.FSM(v.(map[string]any)), Source: src}, nil
}

func (c *cascade) request(strategy, text string, offset int, mode Mode) Request {
	return Request{
		Strategy:   strategy,
		Text:       text,
		Filename:   c.doc.Path,
		Dirname:    c.doc.Dirname,
		LineOffset: offset,
		Mode:       mode,
	}
}

func (c *cascade) fail(f failure) {
	c.logger.Debug("strategy failed",
		"strategy", f.Strategy,
		"late", f.Late,
		"error", firstLine(errorText(f.Err)),
	)
	c.rep.Failures = append(c.rep.Failures, f)
}

func (c *cascade) win(strategy string, cand *candidate) {
	c.rep.Winner = cand
	c.rep.Strategy = strategy
}

// guard выполняет fn и превращает panic в ошибку.
func guard(fn func() (*candidate, error)) (cand *candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ex, ok := r.(*goja.Exception); ok {
				err = ex
				return
			}
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return fn()
}
