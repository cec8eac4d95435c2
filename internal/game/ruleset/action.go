package ruleset

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ActionKind is the discriminator of a hook action written under "action".
type ActionKind string

// Hook action kinds. Any operation may also appear in a hook's action list
// under "op".
const (
	ActionSetOutcome ActionKind = "set_outcome"
	ActionModify     ActionKind = "modify"
	ActionMultiply   ActionKind = "multiply"
	ActionCap        ActionKind = "cap"
	ActionReflect    ActionKind = "reflect"
	ActionReroll     ActionKind = "reroll"
	ActionConvert    ActionKind = "convert"
	ActionOperation  ActionKind = "operation"
)

// Outcomes a set_outcome action may force.
const (
	OutcomeBlock    = "block"
	OutcomeAllow    = "allow"
	OutcomeSuppress = "suppress"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeSuccess  = "success"
	OutcomeFail     = "fail"
)

var outcomes = []string{OutcomeBlock, OutcomeAllow, OutcomeSuppress, OutcomeHit, OutcomeMiss, OutcomeSuccess, OutcomeFail}

// HookAction is one action of a rule hook. The implementations are closed.
type HookAction interface {
	ActionKind() ActionKind
	hookAction()
}

// SetOutcome forces the outcome of the intercepted event.
type SetOutcome struct {
	Outcome string `yaml:"outcome"`
}

// Modify adds Amount (a formula evaluated with the hook owner's source as
// actor) to the intercepted roll or damage.
type Modify struct {
	Amount string `yaml:"amount"`
}

// Multiply scales intercepted damage.
type Multiply struct {
	Factor float64 `yaml:"factor"`
}

// Cap limits intercepted damage per packet.
type Cap struct {
	Amount int `yaml:"amount"`
}

// Reflect sends Percent of intercepted damage back to its source.
type Reflect struct {
	Percent int `yaml:"percent"`
}

// Reroll rerolls the intercepted d20, keeping the higher or lower result.
type Reroll struct {
	Keep string `yaml:"keep"`
}

// Convert changes intercepted packets of kind From into kind To.
type Convert struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// OperationAction runs an operation through the shared executor.
type OperationAction struct {
	Op Op
}

func (SetOutcome) ActionKind() ActionKind      { return ActionSetOutcome }
func (Modify) ActionKind() ActionKind          { return ActionModify }
func (Multiply) ActionKind() ActionKind        { return ActionMultiply }
func (Cap) ActionKind() ActionKind             { return ActionCap }
func (Reflect) ActionKind() ActionKind         { return ActionReflect }
func (Reroll) ActionKind() ActionKind          { return ActionReroll }
func (Convert) ActionKind() ActionKind         { return ActionConvert }
func (OperationAction) ActionKind() ActionKind { return ActionOperation }

func (SetOutcome) hookAction()      {}
func (Modify) hookAction()          {}
func (Multiply) hookAction()        {}
func (Cap) hookAction()             {}
func (Reflect) hookAction()         {}
func (Reroll) hookAction()          {}
func (Convert) hookAction()         {}
func (OperationAction) hookAction() {}

// Action wraps a HookAction for YAML. A mapping with "action" decodes a hook
// action; a mapping with "op" decodes an operation.
type Action struct {
	HookAction
}

// UnmarshalYAML decodes either form, rejecting unknown kinds and fields.
func (a *Action) UnmarshalYAML(n *yaml.Node) error {
	if _, err := discriminator(n, "op"); err == nil {
		var op Op
		if err := op.UnmarshalYAML(n); err != nil {
			return err
		}
		a.HookAction = OperationAction{Op: op}
		return nil
	}
	kind, err := discriminator(n, "action")
	if err != nil {
		return fmt.Errorf("line %d: hook action needs \"action\" or \"op\"", n.Line)
	}
	var act HookAction
	switch ActionKind(kind) {
	case ActionSetOutcome:
		act, err = decodeAs[SetOutcome](n, "action")
	case ActionModify:
		act, err = decodeAs[Modify](n, "action")
	case ActionMultiply:
		act, err = decodeAs[Multiply](n, "action")
	case ActionCap:
		act, err = decodeAs[Cap](n, "action")
	case ActionReflect:
		act, err = decodeAs[Reflect](n, "action")
	case ActionReroll:
		act, err = decodeAs[Reroll](n, "action")
	case ActionConvert:
		act, err = decodeAs[Convert](n, "action")
	default:
		return fmt.Errorf("line %d: unknown hook action %q", n.Line, kind)
	}
	if err != nil {
		return err
	}
	a.HookAction = act
	return nil
}

// MarshalYAML writes the action back in the form UnmarshalYAML accepts.
func (a Action) MarshalYAML() (any, error) {
	switch v := a.HookAction.(type) {
	case nil:
		return nil, fmt.Errorf("ruleset: cannot marshal empty hook action")
	case OperationAction:
		return v.Op.MarshalYAML()
	default:
		return withDiscriminator("action", string(v.ActionKind()), v)
	}
}
