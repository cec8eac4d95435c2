package hooks

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/game/stats"
)

// Invocation says who runs an operation list and against whom.
type Invocation struct {
	SourceID string
	TargetID string
	// OwnerID is the instance or zone on whose behalf the operations run.
	OwnerID string
	Label   string
}

// Executor runs operations. The effect lifecycle provides the only
// implementation; hooks and the scheduler call back into it through this
// interface.
type Executor interface {
	Execute(s *state.GameState, inv Invocation, ops ruleset.Ops) []string
}

// Event is one dispatch: a scope and event name raised on an actor.
type Event struct {
	Scope string
	Event string
	// ActorID is the actor whose hooks are consulted.
	ActorID string
	Attrs   map[string]string
}

// Decision is the fold of every matched hook's actions.
type Decision struct {
	// Outcome is the last set_outcome value, or "" when no hook forced one.
	Outcome string
	Add     int
	// Factor is the product of multiply actions; 1 when none matched.
	Factor float64
	// Cap is the lowest cap action, or -1 when none matched.
	Cap            int
	ReflectPercent int
	// Reroll is "higher" or "lower" when a hook asked for a reroll.
	Reroll      string
	Conversions []ruleset.Convert
	Lines       []string
}

// Blocked reports whether a hook blocked the event.
func (d Decision) Blocked() bool {
	return d.Outcome == ruleset.OutcomeBlock
}

// Dispatcher matches hooks for an event and folds their actions.
type Dispatcher struct {
	registry *Registry
	eval     *expr.Evaluator
	exec     Executor
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher over registry.
//
// Precondition: registry and eval must be non-nil; a nil logger discards warnings.
func NewDispatcher(registry *Registry, eval *expr.Evaluator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, eval: eval, logger: logger}
}

// Registry returns the registry the dispatcher matches against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// SetExecutor installs the executor used for operation actions.
func (d *Dispatcher) SetExecutor(e Executor) {
	d.exec = e
}

// Dispatch folds every hook matching ev. Operation actions run immediately
// with the hook's source as source and the listening actor as target. A
// failing action is logged and skipped; it never aborts its siblings.
func (d *Dispatcher) Dispatch(s *state.GameState, ev Event) Decision {
	dec := Decision{Factor: 1, Cap: -1}
	for _, reg := range d.registry.Match(ev.Scope, ev.ActorID, ev.Event, ev.Attrs) {
		for _, act := range reg.Hook.Actions {
			d.apply(s, ev, reg, act.HookAction, &dec)
		}
	}
	return dec
}

func (d *Dispatcher) apply(s *state.GameState, ev Event, reg *Registered, act ruleset.HookAction, dec *Decision) {
	label := reg.Owner.Label
	switch a := act.(type) {
	case ruleset.SetOutcome:
		dec.Outcome = a.Outcome
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: %s forces %s", label, ev.Scope, a.Outcome))
	case ruleset.Modify:
		src, _ := s.Actor(reg.Owner.SourceID)
		tgt, _ := s.Actor(ev.ActorID)
		v, err := d.eval.EvaluateInt(a.Amount, stats.ActorContext(src, tgt))
		if err != nil {
			d.logger.Warn("hook modify evaluation failed",
				zap.String("owner", reg.Owner.ID),
				zap.String("formula", a.Amount),
				zap.Error(err),
			)
			dec.Lines = append(dec.Lines, fmt.Sprintf("%s: modify failed: %v", label, err))
			return
		}
		dec.Add += v
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: modify %+d", label, v))
	case ruleset.Multiply:
		dec.Factor *= a.Factor
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: multiply x%g", label, a.Factor))
	case ruleset.Cap:
		if dec.Cap < 0 || a.Amount < dec.Cap {
			dec.Cap = a.Amount
		}
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: cap %d", label, a.Amount))
	case ruleset.Reflect:
		dec.ReflectPercent = min(100, dec.ReflectPercent+a.Percent)
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: reflect %d%%", label, a.Percent))
	case ruleset.Reroll:
		dec.Reroll = a.Keep
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: reroll keep %s", label, a.Keep))
	case ruleset.Convert:
		dec.Conversions = append(dec.Conversions, a)
		dec.Lines = append(dec.Lines, fmt.Sprintf("%s: convert %s to %s", label, a.From, a.To))
	case ruleset.OperationAction:
		if d.exec == nil {
			d.logger.Warn("hook operation without executor", zap.String("owner", reg.Owner.ID))
			return
		}
		inv := Invocation{SourceID: reg.Owner.SourceID, TargetID: ev.ActorID, OwnerID: reg.Owner.ID, Label: label}
		dec.Lines = append(dec.Lines, d.exec.Execute(s, inv, ruleset.Ops{a.Op})...)
	}
}
