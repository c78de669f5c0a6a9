// internal/rules/engine.go
package rules

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Engine entry points.
 *
 * One engine serves three call sites that differ only in which actions their
 * rules may carry:
 *
 *   - form:    visibility, required, recalculate and assignment
 *   - task:    visibility, required and recalculate; conditions may read
 *              caller-resolved sql values
 *   - routing: visibility and assignment; the decision is "nothing hidden"
 *
 * An Engine is immutable after construction and holds no per-call state, so
 * a single instance is safe for concurrent use. Every call re-evaluates the
 * full rule set from the supplied values.
 */

// Mode selects which action kinds an engine applies.
type Mode string

const (
	ModeForm    Mode = "form"
	ModeTask    Mode = "task"
	ModeRouting Mode = "routing"
)

// ParseMode parses a mode name. Empty means form.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeForm:
		return ModeForm, nil
	case ModeTask:
		return ModeTask, nil
	case ModeRouting:
		return ModeRouting, nil
	default:
		return "", fmt.Errorf("%w: %q", types.ErrInvalidMode, s)
	}
}

// Allows reports whether actions of kind k take effect in mode m.
// Unknown modes behave as form.
func (m Mode) Allows(k types.ActionKind) bool {
	switch m {
	case ModeTask:
		return k == types.ActionSetVisibility || k == types.ActionSetRequired || k == types.ActionSetRecalculate
	case ModeRouting:
		return k == types.ActionSetVisibility || k == types.ActionAssignValue
	default:
		return true
	}
}

// Observer receives one callback per resolve. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveResolve(mode Mode, rules int, state types.DerivedState, elapsed time.Duration)
}

// RouteDecision is the program-routing verdict for one candidate target.
type RouteDecision struct {
	Pass      bool            `json:"pass"`
	Converged bool            `json:"converged"`
	Passes    int             `json:"passes"`
	Hidden    []types.FieldID `json:"hidden"`
}

// Engine evaluates rule sets. Construct with NewEngine.
type Engine struct {
	passBudget int
	mode       Mode
	logger     *zap.Logger
	observer   Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPassBudget caps the number of cascade passes.
// Values outside [1, types.MaxPassBudget] are clamped.
func WithPassBudget(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		if n > types.MaxPassBudget {
			n = types.MaxPassBudget
		}
		e.passBudget = n
	}
}

// WithMode sets the engine mode.
func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a resolve observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a form-mode engine with the default pass budget.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		passBudget: types.DefaultPassBudget,
		mode:       ModeForm,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForMode returns a copy of e running in mode m.
func (e *Engine) ForMode(m Mode) *Engine {
	cp := *e
	cp.mode = m
	return &cp
}

// Mode returns the engine mode.
func (e *Engine) Mode() Mode { return e.mode }

// PassBudget returns the configured pass budget.
func (e *Engine) PassBudget() int { return e.passBudget }

// Resolve evaluates rules against values and returns the derived state.
func (e *Engine) Resolve(rules []types.Rule, fields []types.Field, values types.ValueBag) types.DerivedState {
	return e.ResolveProgram(Compile(rules, fields), values, nil)
}

// ResolveWith is Resolve with caller-resolved sql values.
func (e *Engine) ResolveWith(rules []types.Rule, fields []types.Field, values, resolved types.ValueBag) types.DerivedState {
	return e.ResolveProgram(Compile(rules, fields), values, resolved)
}

// ResolveProgram evaluates a compiled program.
func (e *Engine) ResolveProgram(p *Program, values, resolved types.ValueBag) types.DerivedState {
	start := time.Now()
	res := runCascade(p, values, resolved, e.mode, e.passBudget)
	elapsed := time.Since(start)

	if ce := e.logger.Check(zap.DebugLevel, "cascade resolved"); ce != nil {
		ce.Write(
			zap.String("mode", string(e.mode)),
			zap.Int("rules", len(p.rules)),
			zap.Int("passes", res.state.Passes),
			zap.Bool("converged", res.state.Converged),
			zap.Uint64s("signatures", res.trace),
			zap.Duration("elapsed", elapsed),
		)
	}
	if !res.state.Converged {
		e.logger.Warn("cascade exhausted pass budget",
			zap.String("mode", string(e.mode)),
			zap.Int("rules", len(p.rules)),
			zap.Int("pass_budget", e.passBudget),
		)
	}
	if e.observer != nil {
		e.observer.ObserveResolve(e.mode, len(p.rules), res.state, elapsed)
	}
	return res.state
}

// Route decides whether a candidate target passes its rule set.
func (e *Engine) Route(rules []types.Rule, fields []types.Field, values types.ValueBag) RouteDecision {
	return e.RouteProgram(Compile(rules, fields), values)
}

// RouteProgram decides a compiled routing program.
// Non-convergence fails closed: the target does not pass.
func (e *Engine) RouteProgram(p *Program, values types.ValueBag) RouteDecision {
	state := e.ForMode(ModeRouting).ResolveProgram(p, values, nil)
	return RouteDecision{
		Pass:      state.Converged && len(state.Hidden) == 0,
		Converged: state.Converged,
		Passes:    state.Passes,
		Hidden:    state.Hidden.Sorted(),
	}
}
