// internal/rules/actions.go
package rules

import "github.com/solatis/cascade/internal/types"

// passState is the mutable state of one cascade pass.
// Only the cascade loop creates it; nothing escapes a pass except Computed.
type passState struct {
	derived    *types.DerivedState
	eval       *Evaluation
	categories CategoryIndex
	mode       Mode
}

// apply runs one action of a satisfied rule.
// Actions the mode does not allow are ignored.
func (s *passState) apply(act *CompiledAction) {
	if !s.mode.Allows(act.Kind) {
		return
	}

	switch act.Kind {
	case types.ActionSetVisibility:
		// Flag is "visible": hiding adds to the hidden set.
		for _, id := range s.categories.Expand(act.Target) {
			if act.Flag {
				s.derived.Hidden.Remove(id)
			} else {
				s.derived.Hidden.Add(id)
			}
		}
	case types.ActionSetRequired:
		for _, id := range s.categories.Expand(act.Target) {
			if act.Flag {
				s.derived.Required.Add(id)
			} else {
				s.derived.Required.Remove(id)
			}
		}
	case types.ActionSetRecalculate:
		if act.Target.Category != "" || act.Target.Field == "" {
			return
		}
		if act.Flag {
			s.derived.Recalculate.Add(act.Target.Field)
		} else {
			s.derived.Recalculate.Remove(act.Target.Field)
		}
	case types.ActionAssignValue:
		s.assign(act)
	}
}

// assign writes a computed value and makes it visible to later rules in the
// same pass. A null expression result skips the write.
func (s *passState) assign(act *CompiledAction) {
	target := act.Target.Field
	if act.Target.Category != "" || target == "" {
		return
	}
	v, ok := s.eval.resolveSource(act.Source, act.Expr)
	if !ok {
		return
	}
	s.derived.Computed[target] = v
	s.eval.Working[target] = v
}
