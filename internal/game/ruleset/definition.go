// Package ruleset holds the immutable rule definitions the engine resolves:
// effects, conditions, resources and zones, plus the loader that reads and
// validates them from YAML content directories.
package ruleset

import "slices"

// AbilityType classifies where an effect's power comes from.
type AbilityType string

// Ability types.
const (
	Extraordinary AbilityType = "Ex"
	Supernatural  AbilityType = "Su"
	SpellLike     AbilityType = "Sp"
	Spell         AbilityType = "Spell"
)

// Magical reports whether t is suppressed by antimagic.
func (t AbilityType) Magical() bool {
	return t == Supernatural || t == SpellLike || t == Spell
}

// ResistedBySR reports whether spell resistance can apply to t.
func (t AbilityType) ResistedBySR() bool {
	return t == SpellLike || t == Spell
}

func (t AbilityType) valid() bool {
	return t == "" || t == Extraordinary || t.Magical()
}

// Kind distinguishes the two flavours of attachable definition.
type Kind string

// Definition kinds.
const (
	KindEffect    Kind = "effect"
	KindCondition Kind = "condition"
)

// DurationType names how an instance's lifetime is measured.
type DurationType string

// Duration types.
const (
	Instantaneous DurationType = "instantaneous"
	Rounds        DurationType = "rounds"
	Minutes       DurationType = "minutes"
	Hours         DurationType = "hours"
	Days          DurationType = "days"
	Permanent     DurationType = "permanent"
	Concentration DurationType = "concentration"
)

// Duration says how long an instance lasts. Value is an integer literal or a
// formula evaluated against the source actor at attach time.
type Duration struct {
	Type  DurationType `yaml:"type"`
	Value string       `yaml:"value,omitempty"`
}

// Persistent reports whether instances of this duration are retained after attach.
func (d Duration) Persistent() bool {
	return d.Type != "" && d.Type != Instantaneous
}

// Timed reports whether the duration counts down in rounds.
func (d Duration) Timed() bool {
	return d.RoundsPerUnit() > 0
}

// RoundsPerUnit returns how many rounds one unit of Value lasts, or 0 for
// untimed durations.
func (d Duration) RoundsPerUnit() int {
	switch d.Type {
	case Rounds:
		return 1
	case Minutes:
		return 10
	case Hours:
		return 600
	case Days:
		return 14400
	default:
		return 0
	}
}

// ModOp is a modifier operator.
type ModOp string

// Modifier operators.
const (
	OpAdd      ModOp = "add"
	OpSubtract ModOp = "subtract"
	OpMultiply ModOp = "multiply"
	OpDivide   ModOp = "divide"
	OpSet      ModOp = "set"
	OpReplace  ModOp = "replace"
	OpMin      ModOp = "min"
	OpMax      ModOp = "max"
	OpCap      ModOp = "cap"
	OpClamp    ModOp = "clamp"
)

var modOps = []ModOp{OpAdd, OpSubtract, OpMultiply, OpDivide, OpSet, OpReplace, OpMin, OpMax, OpCap, OpClamp}

// BonusTypes lists every recognised bonus type. The empty string and
// "untyped" both mean untyped.
var BonusTypes = []string{
	"alchemical", "armor", "circumstance", "competence", "deflection", "dodge",
	"enhancement", "insight", "luck", "morale", "natural_armor", "profane",
	"racial", "resistance", "sacred", "shield", "size", "untyped",
}

// Modifier changes the resolved value of one stat path.
type Modifier struct {
	Target    string `yaml:"target"`
	Op        ModOp  `yaml:"op"`
	Value     string `yaml:"value"`
	BonusType string `yaml:"type,omitempty"`
	SourceKey string `yaml:"source_key,omitempty"`
}

// Save branches.
const (
	BranchNegates = "negates"
	BranchHalf    = "half"
	BranchPartial = "partial"
	BranchNone    = "none"
)

// SaveGate declares a saving throw.
type SaveGate struct {
	Type   string `yaml:"type"`
	DC     string `yaml:"dc"`
	Branch string `yaml:"branch"`
}

// Attack modes and AC variants.
const (
	AttackNone        = "none"
	AttackMelee       = "melee"
	AttackRanged      = "ranged"
	AttackTouchMelee  = "touch_melee"
	AttackTouchRanged = "touch_ranged"

	ACNormal     = "normal"
	ACTouch      = "touch"
	ACFlatFooted = "flat_footed"
)

// AttackGate declares an attack roll.
type AttackGate struct {
	Mode   string `yaml:"mode"`
	AC     string `yaml:"ac,omitempty"`
	NoCrit bool   `yaml:"no_crit,omitempty"`
}

// Ranged reports whether the attack uses the ranged bonus.
func (a AttackGate) Ranged() bool {
	return a.Mode == AttackRanged || a.Mode == AttackTouchRanged
}

// Gates groups the checks run before an effect's operations.
type Gates struct {
	SR     bool        `yaml:"sr,omitempty"`
	Save   *SaveGate   `yaml:"save,omitempty"`
	Attack *AttackGate `yaml:"attack,omitempty"`
}

// Hook scopes.
const (
	ScopeIncomingEffect    = "incoming.effect"
	ScopeIncomingCondition = "incoming.condition"
	ScopeIncomingDamage    = "incoming.damage"
	ScopeOnAttack          = "on.attack"
	ScopeOnSave            = "on.save"
	ScopeOnDamageTaken     = "on.damage_taken"
	ScopeScheduler         = "scheduler"
)

var hookScopes = []string{
	ScopeIncomingEffect, ScopeIncomingCondition, ScopeIncomingDamage,
	ScopeOnAttack, ScopeOnSave, ScopeOnDamageTaken, ScopeScheduler,
}

// Hook is an authored rule hook. Event narrows the scope by prefix (for
// example "pre" or "post" on incoming.damage, "start_of_turn" on scheduler).
type Hook struct {
	Scope    string            `yaml:"scope"`
	Event    string            `yaml:"event,omitempty"`
	Priority int               `yaml:"priority,omitempty"`
	Match    map[string]string `yaml:"match,omitempty"`
	Actions  []Action          `yaml:"actions"`
}

// Stacking policies.
const (
	StackRefresh     = "refresh"
	StackIndependent = "independent"
)

// EffectDef is the definition shared by effects and conditions.
type EffectDef struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	AbilityType AbilityType `yaml:"ability_type,omitempty"`
	Descriptors []string    `yaml:"descriptors,omitempty"`
	Duration    Duration    `yaml:"duration"`
	Stacking    string      `yaml:"stacking,omitempty"`
	Modifiers   []Modifier  `yaml:"modifiers,omitempty"`
	Operations  Ops         `yaml:"operations,omitempty"`
	Hooks       []Hook      `yaml:"hooks,omitempty"`
	Gates       Gates       `yaml:"gates,omitempty"`
	// Tags are the standardized labels a condition (or effect) confers,
	// e.g. "invisible", "prone", "helpless".
	Tags       []string `yaml:"tags,omitempty"`
	Precedence int      `yaml:"precedence,omitempty"`

	// Kind is set by the loader from the directory the definition came from.
	Kind Kind `yaml:"-"`
}

// HasDescriptor reports whether d carries descriptor.
func (d *EffectDef) HasDescriptor(descriptor string) bool {
	return slices.Contains(d.Descriptors, descriptor)
}

// Refresh cadences.
const (
	CadencePerRound     = "per_round"
	CadencePerEncounter = "per_encounter"
	CadencePerRest      = "per_rest"
	CadencePerDay       = "per_day"
	CadencePerWeek      = "per_week"
	CadenceNone         = "none"
)

// Cadences lists the refresh cadences a host may trigger.
var Cadences = []string{CadencePerRound, CadencePerEncounter, CadencePerRest, CadencePerDay, CadencePerWeek}

// Refresh behaviours.
const (
	RefreshResetToMax = "reset_to_max"
	RefreshIncrement  = "increment"
	RefreshNone       = "none"
)

// Capacity compute points.
const (
	ComputeAtAttach  = "attach"
	ComputeAtRefresh = "refresh"
	ComputeAtQuery   = "query"
)

// Resource owner scopes.
const (
	ScopeEntity = "entity"
	ScopeEffect = "effect"
	ScopeItem   = "item"
	ScopeZone   = "zone"
)

// RefreshPolicy declares how a pool regenerates.
type RefreshPolicy struct {
	Cadence   string `yaml:"cadence,omitempty"`
	Behavior  string `yaml:"behavior,omitempty"`
	Increment string `yaml:"increment,omitempty"`
}

// Absorption lets a pool soak incoming damage. Kinds may name exact damage
// kinds, the categories "physical" and "energy", or "any". PerHit caps how
// much the pool absorbs from a single attack; 0 means uncapped.
type Absorption struct {
	Kinds  []string `yaml:"kinds"`
	PerHit int      `yaml:"per_hit,omitempty"`
}

// ResourceDef declares a consumable or regenerating pool.
type ResourceDef struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Description    string        `yaml:"description,omitempty"`
	Scope          string        `yaml:"scope,omitempty"`
	Capacity       string        `yaml:"capacity"`
	Cap            *int          `yaml:"cap,omitempty"`
	ComputeAt      string        `yaml:"compute_at,omitempty"`
	Initial        string        `yaml:"initial,omitempty"`
	Refresh        RefreshPolicy `yaml:"refresh,omitempty"`
	Absorption     *Absorption   `yaml:"absorption,omitempty"`
	FreezeOnAttach bool          `yaml:"freeze_on_attach,omitempty"`
}

// Shape describes a zone's area. It is declarative only.
type Shape struct {
	Kind string `yaml:"kind"`
	Size int    `yaml:"size,omitempty"`
}

// Suppression kinds.
const SuppressAntimagic = "antimagic"

// Suppression is a zone's suppression policy.
type Suppression struct {
	Kind         string        `yaml:"kind"`
	AbilityTypes []AbilityType `yaml:"ability_types,omitempty"`
}

// Suppresses reports whether the policy suppresses effects of type t.
func (s *Suppression) Suppresses(t AbilityType) bool {
	if s == nil || !t.Magical() {
		return false
	}
	if len(s.AbilityTypes) == 0 {
		return true
	}
	return slices.Contains(s.AbilityTypes, t)
}

// ZoneDef declares an area-scoped persistent effect.
type ZoneDef struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	AbilityType AbilityType  `yaml:"ability_type,omitempty"`
	Shape       Shape        `yaml:"shape"`
	Duration    Duration     `yaml:"duration"`
	Hooks       []Hook       `yaml:"hooks,omitempty"`
	Suppression *Suppression `yaml:"suppression,omitempty"`
}
