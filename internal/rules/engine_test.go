package rules

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/solatis/cascade/internal/types"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeForm, false},
		{"form", ModeForm, false},
		{" Task ", ModeTask, false},
		{"routing", ModeRouting, false},
		{"webhook", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, types.ErrInvalidMode) {
				t.Errorf("ParseMode(%q) error = %v, want ErrInvalidMode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestEngine_ModesFilterActions(t *testing.T) {
	rules := []types.Rule{{Actions: []types.Action{
		types.SetVisibility(types.TargetField("a"), false),
		types.SetRequired(types.TargetField("b"), true),
		types.SetRecalculate("c", true),
		types.AssignValue("d", types.Literal("1")),
	}}}

	tests := []struct {
		mode                                  Mode
		hidden, required, recalc, hasComputed bool
	}{
		{ModeForm, true, true, true, true},
		{ModeTask, true, true, true, false},
		{ModeRouting, true, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			state := NewEngine(WithMode(tt.mode)).Resolve(rules, nil, types.ValueBag{})
			if state.Hidden.Has("a") != tt.hidden {
				t.Errorf("hidden a = %v, want %v", state.Hidden.Has("a"), tt.hidden)
			}
			if state.Required.Has("b") != tt.required {
				t.Errorf("required b = %v, want %v", state.Required.Has("b"), tt.required)
			}
			if state.Recalculate.Has("c") != tt.recalc {
				t.Errorf("recalculate c = %v, want %v", state.Recalculate.Has("c"), tt.recalc)
			}
			if state.Computed.Has("d") != tt.hasComputed {
				t.Errorf("computed d = %v, want %v", state.Computed.Has("d"), tt.hasComputed)
			}
		})
	}
}

func TestEngine_ForModeDoesNotMutate(t *testing.T) {
	e := NewEngine(WithMode(ModeTask))
	routing := e.ForMode(ModeRouting)
	if e.Mode() != ModeTask || routing.Mode() != ModeRouting {
		t.Errorf("modes = %q, %q, want task, routing", e.Mode(), routing.Mode())
	}
}

func TestEngine_PassBudgetClamped(t *testing.T) {
	if got := NewEngine(WithPassBudget(0)).PassBudget(); got != 1 {
		t.Errorf("PassBudget() = %d, want 1", got)
	}
	if got := NewEngine(WithPassBudget(1 << 20)).PassBudget(); got != types.MaxPassBudget {
		t.Errorf("PassBudget() = %d, want %d", got, types.MaxPassBudget)
	}
	if got := NewEngine().PassBudget(); got != types.DefaultPassBudget {
		t.Errorf("PassBudget() = %d, want %d", got, types.DefaultPassBudget)
	}
}

func TestEngine_Route(t *testing.T) {
	fields := []types.Field{{ID: "loan_amount", Type: types.TypeNumber}, {ID: "program", Type: types.TypeString}}
	rules := []types.Rule{{
		Conditions: []types.Condition{{Field: "loan_amount", Operator: ">", Source: types.Literal("766550")}},
		Actions:    []types.Action{types.SetVisibility(types.TargetField("program"), false)},
	}}

	e := NewEngine()

	d := e.Route(rules, fields, types.ValueBag{"loan_amount": types.Number(400000)})
	if !d.Pass || !d.Converged {
		t.Errorf("Route(400000) = %+v, want pass", d)
	}

	d = e.Route(rules, fields, types.ValueBag{"loan_amount": types.Number(900000)})
	if d.Pass {
		t.Errorf("Route(900000) = %+v, want reject", d)
	}
	if len(d.Hidden) != 1 || d.Hidden[0] != "program" {
		t.Errorf("Hidden = %v, want [program]", d.Hidden)
	}
}

func TestEngine_RouteFailsClosedWithoutConvergence(t *testing.T) {
	rules := []types.Rule{
		{Actions: []types.Action{types.AssignValue("x", types.Expression("y + 1"))}},
		{Actions: []types.Action{types.AssignValue("y", types.Expression("x + 1"))}},
	}

	d := NewEngine(WithPassBudget(3)).Route(rules, nil, types.ValueBag{"x": types.Number(0), "y": types.Number(0)})
	if d.Pass || d.Converged {
		t.Errorf("Route() = %+v, want no pass and not converged", d)
	}
	if d.Passes != 3 {
		t.Errorf("Passes = %d, want 3", d.Passes)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []types.DerivedState
	modes []Mode
}

func (o *recordingObserver) ObserveResolve(mode Mode, rules int, state types.DerivedState, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, state)
	o.modes = append(o.modes, mode)
}

func TestEngine_Observer(t *testing.T) {
	obs := &recordingObserver{}
	e := NewEngine(WithObserver(obs))

	e.Resolve(nil, nil, types.ValueBag{})
	e.Route(nil, nil, types.ValueBag{})

	if len(obs.calls) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(obs.calls))
	}
	if obs.modes[0] != ModeForm || obs.modes[1] != ModeRouting {
		t.Errorf("observed modes = %v, want [form routing]", obs.modes)
	}
}

func TestEngine_LogsExhaustion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEngine(WithLogger(zap.New(core)), WithPassBudget(2))

	rules := []types.Rule{
		{Actions: []types.Action{types.AssignValue("x", types.Expression("y + 1"))}},
		{Actions: []types.Action{types.AssignValue("y", types.Expression("x + 1"))}},
	}
	e.Resolve(rules, nil, types.ValueBag{"x": types.Number(0), "y": types.Number(0)})

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("cascade exhausted pass budget").All()
	if len(warnings) != 1 {
		t.Fatalf("exhaustion warnings = %d, want 1", len(warnings))
	}
	if got := warnings[0].ContextMap()["pass_budget"]; got != int64(2) {
		t.Errorf("pass_budget field = %v, want 2", got)
	}
	if logs.FilterMessage("cascade resolved").Len() != 1 {
		t.Errorf("missing debug resolve entry")
	}
}

func TestEngine_ConcurrentUse(t *testing.T) {
	p := Compile([]types.Rule{
		{Actions: []types.Action{types.AssignValue("total", types.Expression("a * 2"))}},
		{
			Conditions: []types.Condition{{Field: "total", Operator: ">", Source: types.Literal("10")}},
			Actions:    []types.Action{types.SetRequired(types.TargetField("note"), true)},
		},
	}, []types.Field{{ID: "a", Type: types.TypeNumber}, {ID: "total", Type: types.TypeNumber}})
	e := NewEngine()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := e.ResolveProgram(p, types.ValueBag{"a": types.Number(float64(i))}, nil)
			want := float64(i) * 2
			if got, _ := state.Computed["total"].Num(); got != want {
				t.Errorf("total = %v, want %v", got, want)
			}
			if state.Required.Has("note") != (want > 10) {
				t.Errorf("a=%d: required note = %v", i, state.Required.Has("note"))
			}
		}(i)
	}
	wg.Wait()
}
