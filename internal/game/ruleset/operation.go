package ruleset

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// OpKind is the discriminator of an operation as written in YAML under "op".
type OpKind string

// Operation kinds.
const (
	KindDamage          OpKind = "damage"
	KindHeal            OpKind = "heal"
	KindAbilityDamage   OpKind = "ability.damage"
	KindAbilityRestore  OpKind = "ability.restore"
	KindResourceCreate  OpKind = "resource.create"
	KindResourceSpend   OpKind = "resource.spend"
	KindResourceRestore OpKind = "resource.restore"
	KindResourceSet     OpKind = "resource.set"
	KindConditionApply  OpKind = "condition.apply"
	KindConditionRemove OpKind = "condition.remove"
	KindEffectAttach    OpKind = "effect.attach"
	KindEffectDetach    OpKind = "effect.detach"
	KindZoneCreate      OpKind = "zone.create"
	KindZoneDestroy     OpKind = "zone.destroy"
	KindSchedule        OpKind = "schedule"
	KindSave            OpKind = "save"
	KindSaveBranch      OpKind = "save.branch"
)

// Operation is one tagged action of a definition. The set of implementations
// is closed: every concrete type lives in this file.
type Operation interface {
	Kind() OpKind
	operation()
}

// Who selects which actor an operation affects.
type Who string

// Operation subjects.
const (
	WhoTarget Who = "target"
	WhoSelf   Who = "self"
)

// Damage deals damage. Dice is a dice expression and Bonus a formula; either
// may be empty. With UseWeapon the source's main-hand weapon supplies dice,
// kind and bypass properties.
type Damage struct {
	Dice       string   `yaml:"dice,omitempty"`
	Bonus      string   `yaml:"bonus,omitempty"`
	DamageKind string   `yaml:"kind,omitempty"`
	Magic      bool     `yaml:"magic,omitempty"`
	Materials  []string `yaml:"materials,omitempty"`
	Alignments []string `yaml:"alignments,omitempty"`
	UseWeapon  bool     `yaml:"use_weapon,omitempty"`
	NoCrit     bool     `yaml:"no_crit,omitempty"`
	Who        Who      `yaml:"who,omitempty"`
	// OnInjury runs only if physical damage actually reached hit points.
	OnInjury Ops `yaml:"on_injury,omitempty"`
}

// Heal restores hit points.
type Heal struct {
	Amount string `yaml:"amount"`
	Who    Who    `yaml:"who,omitempty"`
}

// AbilityDamage damages or drains an ability score.
type AbilityDamage struct {
	Ability string `yaml:"ability"`
	Amount  string `yaml:"amount"`
	Drain   bool   `yaml:"drain,omitempty"`
	Who     Who    `yaml:"who,omitempty"`
}

// AbilityRestore removes ability damage (or drain).
type AbilityRestore struct {
	Ability string `yaml:"ability"`
	Amount  string `yaml:"amount"`
	Drain   bool   `yaml:"drain,omitempty"`
	Who     Who    `yaml:"who,omitempty"`
}

// ResourceCreate instantiates a resource pool. Capacity and Initial override
// the definition's formulas. Scope "effect" ties the pool to the instance
// executing the operation.
type ResourceCreate struct {
	Resource string `yaml:"resource"`
	Capacity string `yaml:"capacity,omitempty"`
	Initial  string `yaml:"initial,omitempty"`
	Scope    string `yaml:"scope,omitempty"`
	Who      Who    `yaml:"who,omitempty"`
}

// ResourceSpend spends from an actor's pool.
type ResourceSpend struct {
	Resource string `yaml:"resource"`
	Amount   string `yaml:"amount"`
	Who      Who    `yaml:"who,omitempty"`
}

// ResourceRestore restores an actor's pool.
type ResourceRestore struct {
	Resource string `yaml:"resource"`
	Amount   string `yaml:"amount,omitempty"`
	ToMax    bool   `yaml:"to_max,omitempty"`
	Who      Who    `yaml:"who,omitempty"`
}

// ResourceSet sets an actor's pool.
type ResourceSet struct {
	Resource string `yaml:"resource"`
	Amount   string `yaml:"amount"`
	Who      Who    `yaml:"who,omitempty"`
}

// ConditionApply applies a condition, optionally overriding its duration.
type ConditionApply struct {
	Condition string    `yaml:"condition"`
	Duration  *Duration `yaml:"duration,omitempty"`
	Stack     bool      `yaml:"stack,omitempty"`
	Who       Who       `yaml:"who,omitempty"`
}

// ConditionRemove removes every instance of a condition.
type ConditionRemove struct {
	Condition string `yaml:"condition"`
	Who       Who    `yaml:"who,omitempty"`
}

// EffectAttach attaches another effect from the same source.
type EffectAttach struct {
	Effect string `yaml:"effect"`
	Stack  bool   `yaml:"stack,omitempty"`
	Who    Who    `yaml:"who,omitempty"`
}

// EffectDetach detaches every instance of an effect.
type EffectDetach struct {
	Effect string `yaml:"effect"`
	Who    Who    `yaml:"who,omitempty"`
}

// ZoneCreate creates a zone owned by the source.
type ZoneCreate struct {
	Zone          string `yaml:"zone"`
	IncludeTarget bool   `yaml:"include_target,omitempty"`
}

// ZoneDestroy destroys the source's zones of a definition.
type ZoneDestroy struct {
	Zone string `yaml:"zone"`
}

// Schedule defers operations by Delay rounds.
type Schedule struct {
	Delay int `yaml:"delay"`
	Ops   Ops `yaml:"ops"`
}

// Save is a nested conditional saving throw made by the target.
type Save struct {
	Type      string `yaml:"type"`
	DC        string `yaml:"dc"`
	OnSuccess Ops    `yaml:"on_success,omitempty"`
	OnFail    Ops    `yaml:"on_fail,omitempty"`
}

// SaveBranch branches on the gate save result of the executing effect.
type SaveBranch struct {
	OnSuccess Ops `yaml:"on_success,omitempty"`
	OnFail    Ops `yaml:"on_fail,omitempty"`
}

func (Damage) Kind() OpKind          { return KindDamage }
func (Heal) Kind() OpKind            { return KindHeal }
func (AbilityDamage) Kind() OpKind   { return KindAbilityDamage }
func (AbilityRestore) Kind() OpKind  { return KindAbilityRestore }
func (ResourceCreate) Kind() OpKind  { return KindResourceCreate }
func (ResourceSpend) Kind() OpKind   { return KindResourceSpend }
func (ResourceRestore) Kind() OpKind { return KindResourceRestore }
func (ResourceSet) Kind() OpKind     { return KindResourceSet }
func (ConditionApply) Kind() OpKind  { return KindConditionApply }
func (ConditionRemove) Kind() OpKind { return KindConditionRemove }
func (EffectAttach) Kind() OpKind    { return KindEffectAttach }
func (EffectDetach) Kind() OpKind    { return KindEffectDetach }
func (ZoneCreate) Kind() OpKind      { return KindZoneCreate }
func (ZoneDestroy) Kind() OpKind     { return KindZoneDestroy }
func (Schedule) Kind() OpKind        { return KindSchedule }
func (Save) Kind() OpKind            { return KindSave }
func (SaveBranch) Kind() OpKind      { return KindSaveBranch }

func (Damage) operation()          {}
func (Heal) operation()            {}
func (AbilityDamage) operation()   {}
func (AbilityRestore) operation()  {}
func (ResourceCreate) operation()  {}
func (ResourceSpend) operation()   {}
func (ResourceRestore) operation() {}
func (ResourceSet) operation()     {}
func (ConditionApply) operation()  {}
func (ConditionRemove) operation() {}
func (EffectAttach) operation()    {}
func (EffectDetach) operation()    {}
func (ZoneCreate) operation()      {}
func (ZoneDestroy) operation()     {}
func (Schedule) operation()        {}
func (Save) operation()            {}
func (SaveBranch) operation()      {}

// Op wraps an Operation so it can be read from and written to YAML with the
// "op" discriminator.
type Op struct {
	Operation
}

// Ops is an ordered operation list.
type Ops []Op

// UnmarshalYAML decodes a tagged operation, rejecting unknown kinds and fields.
func (o *Op) UnmarshalYAML(n *yaml.Node) error {
	kind, err := discriminator(n, "op")
	if err != nil {
		return err
	}
	op, err := decodeOperation(OpKind(kind), n)
	if err != nil {
		return err
	}
	o.Operation = op
	return nil
}

// MarshalYAML writes the operation's fields with its "op" discriminator first.
func (o Op) MarshalYAML() (any, error) {
	if o.Operation == nil {
		return nil, fmt.Errorf("ruleset: cannot marshal empty operation")
	}
	return withDiscriminator("op", string(o.Kind()), o.Operation)
}

func decodeOperation(kind OpKind, n *yaml.Node) (Operation, error) {
	switch kind {
	case KindDamage:
		return decodeAs[Damage](n, "op")
	case KindHeal:
		return decodeAs[Heal](n, "op")
	case KindAbilityDamage:
		return decodeAs[AbilityDamage](n, "op")
	case KindAbilityRestore:
		return decodeAs[AbilityRestore](n, "op")
	case KindResourceCreate:
		return decodeAs[ResourceCreate](n, "op")
	case KindResourceSpend:
		return decodeAs[ResourceSpend](n, "op")
	case KindResourceRestore:
		return decodeAs[ResourceRestore](n, "op")
	case KindResourceSet:
		return decodeAs[ResourceSet](n, "op")
	case KindConditionApply:
		return decodeAs[ConditionApply](n, "op")
	case KindConditionRemove:
		return decodeAs[ConditionRemove](n, "op")
	case KindEffectAttach:
		return decodeAs[EffectAttach](n, "op")
	case KindEffectDetach:
		return decodeAs[EffectDetach](n, "op")
	case KindZoneCreate:
		return decodeAs[ZoneCreate](n, "op")
	case KindZoneDestroy:
		return decodeAs[ZoneDestroy](n, "op")
	case KindSchedule:
		return decodeAs[Schedule](n, "op")
	case KindSave:
		return decodeAs[Save](n, "op")
	case KindSaveBranch:
		return decodeAs[SaveBranch](n, "op")
	default:
		return nil, fmt.Errorf("line %d: unknown operation %q", n.Line, kind)
	}
}

// discriminator returns the scalar value of key in mapping node n.
func discriminator(n *yaml.Node, key string) (string, error) {
	if n.Kind != yaml.MappingNode {
		return "", fmt.Errorf("line %d: expected a mapping with %q", n.Line, key)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1].Value, nil
		}
	}
	return "", fmt.Errorf("line %d: missing %q", n.Line, key)
}

// decodeAs decodes n into a T with unknown-field checking, ignoring the
// discriminator key. Strictness is not inherited by Node.Decode, so the node
// is re-encoded and decoded with KnownFields enabled.
func decodeAs[T any](n *yaml.Node, key string) (T, error) {
	var out T
	stripped := *n
	stripped.Content = nil
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			continue
		}
		stripped.Content = append(stripped.Content, n.Content[i], n.Content[i+1])
	}
	data, err := yaml.Marshal(&stripped)
	if err != nil {
		return out, fmt.Errorf("line %d: %w", n.Line, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return out, nil
}

// withDiscriminator encodes v as a mapping node with key: value prepended.
func withDiscriminator(key, value string, v any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	head := []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	}
	n.Content = append(head, n.Content...)
	return &n, nil
}
