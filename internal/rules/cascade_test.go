package rules

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/cascade/internal/types"
)

func TestResolve_RequiredScenario(t *testing.T) {
	rules := []types.Rule{{
		Conditions: []types.Condition{
			{Field: "loan_type", Operator: "equals", Source: types.Literal("bridge")},
		},
		Actions: []types.Action{
			types.SetRequired(types.TargetField("exit_strategy"), true),
		},
	}}

	state := NewEngine().Resolve(rules, testFields, types.ValueBag{"loan_type": types.String("bridge")})

	if got := state.Required.Sorted(); !reflect.DeepEqual(got, []types.FieldID{"exit_strategy"}) {
		t.Errorf("Required = %v, want [exit_strategy]", got)
	}
	if len(state.Hidden) != 0 {
		t.Errorf("Hidden = %v, want empty", state.Hidden.Sorted())
	}
	if !state.Converged || state.Passes != 1 {
		t.Errorf("Converged = %v, Passes = %d, want true, 1", state.Converged, state.Passes)
	}
}

func TestResolve_ExpressionAssignment(t *testing.T) {
	rules := []types.Rule{{
		Actions: []types.Action{
			types.AssignValue("rate_pct", types.Expression("rate * 100")),
		},
	}}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{"rate": types.Number(0.0725)})

	got, ok := state.Computed["rate_pct"].Num()
	if !ok {
		t.Fatalf("Computed[rate_pct] = %v, want number", state.Computed["rate_pct"].Text())
	}
	if math.Abs(got-7.25) > 1e-9 {
		t.Errorf("Computed[rate_pct] = %v, want 7.25", got)
	}
}

func TestResolve_NoAssignmentsConvergeInOnePass(t *testing.T) {
	rules := []types.Rule{
		{Actions: []types.Action{types.SetVisibility(types.TargetField("a"), false)}},
		{Actions: []types.Action{types.SetRequired(types.TargetField("b"), true)}},
		{Actions: []types.Action{types.SetRecalculate("c", true)}},
	}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{})
	if !state.Converged || state.Passes != 1 {
		t.Errorf("Converged = %v, Passes = %d, want true, 1", state.Converged, state.Passes)
	}
	if !state.Hidden.Has("a") || !state.Required.Has("b") || !state.Recalculate.Has("c") {
		t.Errorf("state = %+v", state)
	}
}

func TestResolve_IntraPassChaining(t *testing.T) {
	rules := []types.Rule{
		{Name: "A", Actions: []types.Action{types.AssignValue("x", types.Literal("5"))}},
		{Name: "B", Actions: []types.Action{types.AssignValue("y", types.FieldRef("x"))}},
	}

	// One pass must already carry x into y.
	state := NewEngine(WithPassBudget(1)).Resolve(rules, nil, types.ValueBag{})
	if got := state.Computed["y"].Text(); got != "5" {
		t.Errorf("Computed[y] after one pass = %q, want 5", got)
	}
	if state.Passes != 1 {
		t.Errorf("Passes = %d, want 1", state.Passes)
	}

	state = NewEngine().Resolve(rules, nil, types.ValueBag{})
	if !state.Converged || state.Passes != 2 {
		t.Errorf("Converged = %v, Passes = %d, want true, 2", state.Converged, state.Passes)
	}
}

func TestResolve_ChainingSeesLaterRulesNextPass(t *testing.T) {
	// B reads x before A writes it; the value arrives on pass 2.
	rules := []types.Rule{
		{Name: "B", Actions: []types.Action{types.AssignValue("y", types.Expression("x * 2"))}},
		{Name: "A", Actions: []types.Action{types.AssignValue("x", types.Literal("5"))}},
	}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{})
	if got, _ := state.Computed["y"].Num(); got != 10 {
		t.Errorf("Computed[y] = %v, want 10", state.Computed["y"].Text())
	}
	if !state.Converged || state.Passes != 3 {
		t.Errorf("Converged = %v, Passes = %d, want true, 3", state.Converged, state.Passes)
	}
}

func TestResolve_LastWriteWins(t *testing.T) {
	values := []string{"first", "second", "third"}

	// Every rotation of the rule order: the last rule's value wins.
	for shift := 0; shift < len(values); shift++ {
		var rules []types.Rule
		for i := range values {
			v := values[(i+shift)%len(values)]
			rules = append(rules, types.Rule{
				Name:    v,
				Actions: []types.Action{types.AssignValue("target", types.Literal(v))},
			})
		}
		want := values[(len(values)-1+shift)%len(values)]

		state := NewEngine().Resolve(rules, nil, types.ValueBag{})
		if got := state.Computed["target"].Text(); got != want {
			t.Errorf("shift %d: Computed[target] = %q, want %q", shift, got, want)
		}
	}
}

func TestResolve_MalformedExpressionSkipsAssignment(t *testing.T) {
	rules := []types.Rule{{
		Actions: []types.Action{types.AssignValue("total", types.Expression("1 + "))},
	}}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{})
	if state.Computed.Has("total") {
		t.Errorf("Computed[total] = %q, want absent", state.Computed["total"].Text())
	}
}

func TestResolve_FailedExpressionKeepsPriorValue(t *testing.T) {
	// Pass 1 sets total; once "divisor" is computed as 0 the expression
	// fails and the earlier total must survive.
	rules := []types.Rule{
		{Actions: []types.Action{types.AssignValue("total", types.Expression("100 / divisor"))}},
		{Actions: []types.Action{types.AssignValue("divisor", types.Literal("0"))}},
	}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{"divisor": types.Number(4)})
	if got, _ := state.Computed["total"].Num(); got != 25 {
		t.Errorf("Computed[total] = %q, want 25", state.Computed["total"].Text())
	}
}

func TestResolve_CategoryExpansion(t *testing.T) {
	fields := []types.Field{
		{ID: "toggle", Type: types.TypeString},
		{ID: "a", Type: types.TypeString, CategoryID: "C"},
		{ID: "b", Type: types.TypeString, CategoryID: "C"},
		{ID: "c", Type: types.TypeString, CategoryID: "C"},
		{ID: "d", Type: types.TypeString, CategoryID: "D"},
	}
	rules := []types.Rule{
		{
			Name:       "hide C",
			Conditions: []types.Condition{{Field: "toggle", Operator: "equals", Source: types.Literal("hide")}},
			Actions:    []types.Action{types.SetVisibility(types.TargetCategory("C"), false)},
		},
		{
			Name:       "flip once computed",
			Conditions: []types.Condition{{Field: "stage", Operator: "equals", Source: types.Literal("2")}},
			Actions:    []types.Action{types.SetVisibility(types.TargetCategory("C"), true)},
		},
		{
			Name:    "advance stage",
			Actions: []types.Action{types.AssignValue("stage", types.Literal("2"))},
		},
	}

	e := NewEngine()

	state := e.Resolve(rules[:1], fields, types.ValueBag{"toggle": types.String("hide")})
	if got := state.Hidden.Sorted(); !reflect.DeepEqual(got, []types.FieldID{"a", "b", "c"}) {
		t.Fatalf("Hidden = %v, want [a b c]", got)
	}

	// Pass 1 hides C; pass 2 sees stage=2 and un-hides it again.
	state = e.Resolve(rules, fields, types.ValueBag{"toggle": types.String("hide")})
	if len(state.Hidden) != 0 {
		t.Errorf("Hidden = %v, want empty after later pass un-hides C", state.Hidden.Sorted())
	}
	if !state.Converged {
		t.Errorf("Converged = false, want true")
	}
}

func TestResolve_UnknownCategoryExpandsToNothing(t *testing.T) {
	rules := []types.Rule{{Actions: []types.Action{types.SetVisibility(types.TargetCategory("nope"), false)}}}

	state := NewEngine().Resolve(rules, testFields, types.ValueBag{})
	if len(state.Hidden) != 0 {
		t.Errorf("Hidden = %v, want empty", state.Hidden.Sorted())
	}
}

func TestResolve_VisibilityNotCumulativeAcrossPasses(t *testing.T) {
	// Pass 1 hides "note" while counter is absent; from pass 2 on the
	// computed counter makes the condition false, so "note" must be visible.
	rules := []types.Rule{
		{
			Conditions: []types.Condition{{Field: "counter", Operator: "is_empty"}},
			Actions:    []types.Action{types.SetVisibility(types.TargetField("note"), false)},
		},
		{Actions: []types.Action{types.AssignValue("counter", types.Literal("1"))}},
	}

	state := NewEngine().Resolve(rules, nil, types.ValueBag{})
	if state.Hidden.Has("note") {
		t.Errorf("Hidden contains note, want visible")
	}
}

func TestResolve_PassBudgetExhaustion(t *testing.T) {
	rules := []types.Rule{
		{Name: "A", Actions: []types.Action{types.AssignValue("x", types.Expression("y + 1"))}},
		{Name: "B", Actions: []types.Action{types.AssignValue("y", types.Expression("x + 1"))}},
	}
	values := types.ValueBag{"x": types.Number(0), "y": types.Number(0)}

	state := NewEngine().Resolve(rules, nil, values)

	if state.Converged {
		t.Errorf("Converged = true, want false")
	}
	if state.Passes != types.DefaultPassBudget {
		t.Errorf("Passes = %d, want %d", state.Passes, types.DefaultPassBudget)
	}
	// Pass n yields x = 2n-1, y = 2n; the last pass is returned.
	x, _ := state.Computed["x"].Num()
	y, _ := state.Computed["y"].Num()
	if x != 2*float64(types.DefaultPassBudget)-1 || y != 2*float64(types.DefaultPassBudget) {
		t.Errorf("Computed = x:%v y:%v, want last pass values", x, y)
	}
}

func TestResolve_InputNotMutated(t *testing.T) {
	values := types.ValueBag{"x": types.Number(1)}
	resolved := types.ValueBag{"q": types.Number(2)}
	rules := []types.Rule{{Actions: []types.Action{
		types.AssignValue("x", types.Literal("changed")),
		types.AssignValue("q", types.Literal("changed")),
	}}}

	NewEngine().ResolveWith(rules, nil, values, resolved)

	if got, _ := values["x"].Num(); got != 1 || len(values) != 1 {
		t.Errorf("values mutated: %v", values)
	}
	if got, _ := resolved["q"].Num(); got != 2 || len(resolved) != 1 {
		t.Errorf("resolved mutated: %v", resolved)
	}
}

// Property-based test: resolve is deterministic
func TestResolve_PropertyDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs give identical derived state", prop.ForAll(
		func(seed int, n int, amount float64) bool {
			rules := generatedRules(seed, n)
			values := types.ValueBag{"f0": types.Number(amount), "f1": types.String("bridge")}

			e := NewEngine()
			first := e.Resolve(rules, generatedFields(), values)
			second := e.Resolve(rules, generatedFields(), values)
			return reflect.DeepEqual(first, second)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 20),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}

// Property-based test: resolve always terminates within the budget
func TestResolve_PropertyTerminates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("passes never exceed budget", prop.ForAll(
		func(seed int, n int, budget int) bool {
			state := NewEngine(WithPassBudget(budget)).Resolve(generatedRules(seed, n), generatedFields(),
				types.ValueBag{"f0": types.Number(1)})
			return state.Passes >= 1 && state.Passes <= budget
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 20),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}

func generatedFields() []types.Field {
	return []types.Field{
		{ID: "f0", Type: types.TypeNumber, CategoryID: "c0"},
		{ID: "f1", Type: types.TypeString, CategoryID: "c0"},
		{ID: "f2", Type: types.TypeNumber, CategoryID: "c1"},
		{ID: "f3", Type: types.TypeBoolean},
	}
}

// generatedRules builds a pseudo-random but reproducible rule set.
func generatedRules(seed, n int) []types.Rule {
	ops := []string{"equals", "greater_than", "less_than", "is_empty", "contains", "bogus"}
	sources := []types.ValueSource{
		types.Literal("1"),
		types.FieldRef("f2"),
		types.Expression("f0 + f2"),
		types.Expression("f0 / 0"),
		types.Literal("bridge"),
	}

	rules := make([]types.Rule, 0, n)
	for i := 0; i < n; i++ {
		k := seed + i*7
		field := types.FieldID(fmt.Sprintf("f%d", k%4))
		rule := types.Rule{
			Name:      fmt.Sprintf("r%d", i),
			Connector: []types.Connector{types.ConnectorAnd, types.ConnectorOr}[k%2],
			Conditions: []types.Condition{
				{Field: field, Operator: ops[k%len(ops)], Source: sources[k%len(sources)]},
			},
		}
		switch k % 4 {
		case 0:
			rule.Actions = []types.Action{types.SetVisibility(types.TargetCategory("c0"), k%3 == 0)}
		case 1:
			rule.Actions = []types.Action{types.SetRequired(types.TargetField(field), true)}
		case 2:
			rule.Actions = []types.Action{types.AssignValue("f2", sources[(k/3)%len(sources)])}
		default:
			rule.Actions = []types.Action{types.AssignValue("f0", types.Expression("f2 + 1"))}
		}
		rules = append(rules, rule)
	}
	return rules
}
