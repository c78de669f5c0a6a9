// internal/rules/compile.go
package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compile turns a rule set plus its field declarations into an immutable
 * Program: operators normalized, expressions parsed once, categories indexed,
 * conditions ordered by ascending cost. A Program is safe to share between
 * goroutines and to resolve against any number of ValueBags.
 *
 * Compile never fails. Malformed pieces compile into something that fails
 * closed at evaluation time (an expression that did not parse resolves to
 * null, an unknown connector behaves as AND), so one bad rule cannot stop the
 * others from running.
 *
 * Validate is the authoring-time lint run before a rule set is stored. It
 * reports every problem at once, joined with errors.Join around the sentinel
 * errors in internal/types.
 *
 * Why stable sort: conditions with equal cost keep their authored order so
 * that evaluation traces are identical across identical inputs.
 */

// CompiledCondition is a pre-processed condition ready for evaluation.
type CompiledCondition struct {
	Field    types.FieldID
	Type     types.DeclaredType
	Operator string // normalized
	Source   types.ValueSource
	Expr     *Expr // parsed expression source, nil if absent or unparsable
	Cost     int
}

// CompiledAction is a pre-processed action.
type CompiledAction struct {
	Kind   types.ActionKind
	Target types.FieldTarget
	Flag   bool
	Source types.ValueSource
	Expr   *Expr
}

// CompiledRule keeps the authored position; rule order is never changed.
type CompiledRule struct {
	ID         types.RuleID
	Name       string
	Position   int
	Connector  types.Connector
	Conditions []CompiledCondition // ordered by ascending cost
	Actions    []CompiledAction    // authored order
}

// Program is a compiled rule set with its field declarations.
type Program struct {
	fields     map[types.FieldID]types.DeclaredType
	categories CategoryIndex
	rules      []CompiledRule
}

// Rules returns the compiled rules in evaluation order.
func (p *Program) Rules() []CompiledRule { return p.rules }

// FieldType returns the declared type of id; undeclared fields read as string.
func (p *Program) FieldType(id types.FieldID) types.DeclaredType {
	if t, ok := p.fields[id]; ok && t.Valid() {
		return t
	}
	return types.TypeString
}

// Compile builds a Program from rules and fields.
func Compile(rules []types.Rule, fields []types.Field) *Program {
	p := &Program{
		fields:     make(map[types.FieldID]types.DeclaredType, len(fields)),
		categories: BuildCategoryIndex(fields),
		rules:      make([]CompiledRule, 0, len(rules)),
	}
	for _, f := range fields {
		if _, dup := p.fields[f.ID]; dup {
			continue
		}
		p.fields[f.ID] = f.Type
	}

	for i := range rules {
		p.rules = append(p.rules, p.compileRule(i, &rules[i]))
	}
	return p
}

func (p *Program) compileRule(position int, rule *types.Rule) CompiledRule {
	cr := CompiledRule{
		ID:         rule.ID,
		Name:       rule.Name,
		Position:   position,
		Connector:  normalizeConnector(rule.Connector),
		Conditions: make([]CompiledCondition, 0, len(rule.Conditions)),
		Actions:    make([]CompiledAction, 0, len(rule.Actions)),
	}

	for _, cond := range rule.Conditions {
		cr.Conditions = append(cr.Conditions, p.compileCondition(cond))
	}

	// Stable sort: equal-cost conditions keep authored order
	sort.SliceStable(cr.Conditions, func(i, j int) bool {
		return cr.Conditions[i].Cost < cr.Conditions[j].Cost
	})

	for _, act := range rule.Actions {
		cr.Actions = append(cr.Actions, CompiledAction{
			Kind:   act.Kind,
			Target: act.Target,
			Flag:   act.Flag,
			Source: act.Source,
			Expr:   parseSource(act.Source),
		})
	}
	return cr
}

func (p *Program) compileCondition(cond types.Condition) CompiledCondition {
	declared := p.FieldType(cond.Field)
	op := NormalizeOperator(cond.Operator)
	expr := parseSource(cond.Source)
	return CompiledCondition{
		Field:    cond.Field,
		Type:     declared,
		Operator: op,
		Source:   cond.Source,
		Expr:     expr,
		Cost:     CalculateConditionCost(declared, op, cond.Source, expr),
	}
}

// parseSource parses expression sources; anything else yields nil.
func parseSource(source types.ValueSource) *Expr {
	if source.Kind != types.SourceExpression {
		return nil
	}
	expr, err := ParseExpression(source.Value)
	if err != nil {
		return nil
	}
	return expr
}

// normalizeConnector maps empty and unknown connectors to AND.
func normalizeConnector(c types.Connector) types.Connector {
	if c == types.ConnectorOr || c == "or" {
		return types.ConnectorOr
	}
	return types.ConnectorAnd
}

// Validate lints a rule set against its field declarations.
// Returns nil when the set is clean, otherwise every problem joined.
func Validate(rules []types.Rule, fields []types.Field) error {
	var errs []error

	declared := make(map[types.FieldID]types.DeclaredType, len(fields))
	for _, f := range fields {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("%w: empty field id", types.ErrInvalidAction))
			continue
		}
		if _, dup := declared[f.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", types.ErrDuplicateField, f.ID))
			continue
		}
		if !f.Type.Valid() {
			errs = append(errs, fmt.Errorf("field %q: %w: %q", f.ID, types.ErrInvalidFieldType, f.Type))
		}
		declared[f.ID] = f.Type
	}
	categories := BuildCategoryIndex(fields)

	if len(rules) > types.MaxRulesPerSet {
		errs = append(errs, fmt.Errorf("%w: %d > %d", types.ErrTooManyRules, len(rules), types.MaxRulesPerSet))
	}

	for i := range rules {
		errs = append(errs, validateRule(i, &rules[i], declared, categories)...)
	}
	return errors.Join(errs...)
}

func validateRule(position int, rule *types.Rule, declared map[types.FieldID]types.DeclaredType, categories CategoryIndex) []error {
	var errs []error
	label := fmt.Sprintf("rule %d", position)
	if rule.Name != "" {
		label = fmt.Sprintf("rule %d (%s)", position, rule.Name)
	}
	wrap := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %w", label, fmt.Errorf(format, args...)))
	}

	switch rule.Connector {
	case "", types.ConnectorAnd, types.ConnectorOr:
	default:
		wrap("%w: %q", types.ErrInvalidConnector, rule.Connector)
	}
	if len(rule.Conditions) > types.MaxConditionsPerRule {
		wrap("%w: %d > %d", types.ErrTooManyConditions, len(rule.Conditions), types.MaxConditionsPerRule)
	}
	if len(rule.Actions) > types.MaxActionsPerRule {
		wrap("%w: %d > %d", types.ErrTooManyActions, len(rule.Actions), types.MaxActionsPerRule)
	}

	for j, cond := range rule.Conditions {
		t, ok := declared[cond.Field]
		if !ok {
			wrap("condition %d: %w: %q", j, types.ErrUnknownField, cond.Field)
			t = types.TypeString
		}
		op := NormalizeOperator(cond.Operator)
		// Unknown operators are allowed; they compare as raw strings.
		if OperatorKnown(op) && !OperatorValid(t, op) {
			wrap("condition %d: %w: %q on %s field %q", j, types.ErrInvalidOperator, cond.Operator, t, cond.Field)
		}
		if needsOperand(op) {
			if err := validateSource(cond.Source, declared); err != nil {
				wrap("condition %d: %w", j, err)
			}
		}
	}

	for j, act := range rule.Actions {
		if err := validateAction(act, declared, categories); err != nil {
			wrap("action %d: %w", j, err)
		}
	}
	return errs
}

func validateSource(source types.ValueSource, declared map[types.FieldID]types.DeclaredType) error {
	switch source.Kind {
	case "", types.SourceLiteral, types.SourceSQL:
		return nil
	case types.SourceField:
		if _, ok := declared[types.FieldID(source.Value)]; !ok {
			return fmt.Errorf("%w: %q", types.ErrUnknownField, source.Value)
		}
		return nil
	case types.SourceExpression:
		_, err := ParseExpression(source.Value)
		return err
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidSource, source.Kind)
	}
}

func validateAction(act types.Action, declared map[types.FieldID]types.DeclaredType, categories CategoryIndex) error {
	switch act.Kind {
	case types.ActionSetVisibility, types.ActionSetRequired:
		return validateTarget(act.Target, declared, categories)
	case types.ActionSetRecalculate:
		if act.Target.Category != "" {
			return fmt.Errorf("%w: %s cannot target a category", types.ErrInvalidAction, act.Kind)
		}
		return validateTarget(act.Target, declared, categories)
	case types.ActionAssignValue:
		if act.Target.Category != "" || act.Target.Field == "" {
			return fmt.Errorf("%w: %s needs a single field target", types.ErrInvalidAction, act.Kind)
		}
		return validateSource(act.Source, declared)
	default:
		return fmt.Errorf("%w: unknown kind %q", types.ErrInvalidAction, act.Kind)
	}
}

func validateTarget(target types.FieldTarget, declared map[types.FieldID]types.DeclaredType, categories CategoryIndex) error {
	if target.Category != "" {
		if !categories.Has(target.Category) {
			return fmt.Errorf("%w: %q", types.ErrUnknownCategory, target.Category)
		}
		return nil
	}
	if target.Field == "" {
		return fmt.Errorf("%w: empty target", types.ErrInvalidAction)
	}
	if _, ok := declared[target.Field]; !ok {
		return fmt.Errorf("%w: %q", types.ErrUnknownField, target.Field)
	}
	return nil
}
