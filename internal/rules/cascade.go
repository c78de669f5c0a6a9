// internal/rules/cascade.go
package rules

import (
	"github.com/cespare/xxhash/v2"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Cascade loop.
 *
 * State machine: Idle -> Pass(n) -> {Pass(n+1) | Converged | Exhausted}
 *
 * Each pass:
 *   1. Start from fresh hidden/required/recalculate sets. They are not
 *      cumulative: a later pass may decide a field is no longer hidden.
 *   2. Build the working view: caller values overlaid with computed so far.
 *   3. Run every rule in authored order; apply every action of each satisfied
 *      rule. Assignments land in the working view immediately.
 *   4. Compare the signature of computed before and after the pass.
 *
 * Only computed values take part in the convergence signature. Visibility is
 * recomputed every pass from scratch, so a rule set that flips visibility
 * without changing computed values still converges.
 *
 * Exhausted returns the last pass's state with Converged=false rather than
 * discarding it. Callers that gate side effects (routing) must check the flag.
 */

// cascadeResult is the outcome of the fixed-point loop.
type cascadeResult struct {
	state types.DerivedState
	// trace holds one computed signature per pass, for debug logging.
	trace []uint64
}

// runCascade iterates passes until computed stops changing or budget runs out.
// values and resolved are never mutated.
func runCascade(p *Program, values, resolved types.ValueBag, mode Mode, budget int) cascadeResult {
	if budget < 1 {
		budget = 1
	}

	computed := make(types.ValueBag)
	before := signature(computed)
	res := cascadeResult{trace: make([]uint64, 0, budget)}

	for pass := 1; pass <= budget; pass++ {
		state := runPass(p, values, resolved, computed, mode)
		computed = state.Computed

		after := signature(computed)
		res.trace = append(res.trace, after)
		state.Passes = pass

		if after == before {
			state.Converged = true
			res.state = state
			return res
		}
		before = after
		res.state = state
	}
	return res
}

// runPass is one sweep over every rule. computed is copied, never mutated.
func runPass(p *Program, values, resolved, computed types.ValueBag, mode Mode) types.DerivedState {
	derived := types.NewDerivedState()
	for k, v := range computed {
		derived.Computed[k] = v
	}

	s := &passState{
		derived:    &derived,
		eval:       &Evaluation{Working: types.Overlay(values, computed), Resolved: resolved},
		categories: p.categories,
		mode:       mode,
	}

	for i := range p.rules {
		rule := &p.rules[i]
		if !s.eval.RuleSatisfied(rule) {
			continue
		}
		for j := range rule.Actions {
			s.apply(&rule.Actions[j])
		}
	}
	return derived
}

// signature hashes the canonical serialization of a computed bag:
// sorted keys, each followed by the value's kind and JSON form.
func signature(bag types.ValueBag) uint64 {
	d := xxhash.New()
	for _, k := range bag.Keys() {
		v := bag[k]
		_, _ = d.WriteString(string(k))
		_, _ = d.Write([]byte{0, byte(v.Kind())})
		enc, err := v.MarshalJSON()
		if err != nil {
			enc = []byte(v.Text())
		}
		_, _ = d.Write(enc)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
