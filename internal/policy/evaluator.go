package policy

import (
	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
)

// Policy is the root of an overwriting-policy tree: an Action evaluated
// against a Pair (spec §4.4).
type Policy struct {
	Root Action
}

// Default is `constant(data_preserve, EA_preserve)` (spec §4.4: "Default
// policy: constant(data_preserve, EA_preserve)").
var Default = Policy{Root: Constant{Data: DataPreserve, EA: EAPreserve}}

// Evaluate runs policy against (inPlace, toBeAdded) and returns the
// resolved (DataAction, EAAction) pair, consulting ask for any leaf that
// evaluates to `ask` (spec §4.4). Evaluation always terminates because a
// Policy is a finite tree with no cycles (Testing/Chain only ever recurse
// into Action values referenced by value, never back into the root).
//
// If the tree leaves either field Undefined after evaluation — a
// malformed or incomplete policy — Evaluate reports it as a Range error
// rather than silently defaulting, so callers learn about a bad policy
// definition instead of an archive getting silently mis-restored (spec
// §4.4 correctness property: "evaluate(P, a, b) terminates and returns a
// pair where data_action ≠ undefined ∧ ea_action ≠ undefined, or the
// policy is reported as incomplete").
func Evaluate(policy Policy, inPlace, toBeAdded catalogue.Entry, ask AskFunc) (DataAction, EAAction, error) {
	p := Pair{InPlace: inPlace, ToBeAdded: toBeAdded}
	d := policy.Root.Eval(p, ask)
	if !d.resolved() {
		return d.Data, d.EA, direrr.Newf(direrr.Range, "policy.Evaluate",
			"overwriting policy left data=%s ea=%s unresolved", d.Data, d.EA)
	}
	return d.Data, d.EA, nil
}
