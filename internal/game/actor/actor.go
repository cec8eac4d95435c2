// Package actor defines the creature model the rules engine resolves against.
//
// Actors are plain data owned by the game state. Only the rules pipeline
// mutates them; hosts treat every field as read-only once an actor has been
// handed to the engine.
package actor

import (
	"maps"
	"slices"
)

// Ability score keys.
const (
	Str = "str"
	Dex = "dex"
	Con = "con"
	Int = "int"
	Wis = "wis"
	Cha = "cha"
)

// Abilities lists the six ability keys in canonical order.
var Abilities = []string{Str, Dex, Con, Int, Wis, Cha}

// IsAbility reports whether name is one of the six ability keys.
func IsAbility(name string) bool {
	return slices.Contains(Abilities, name)
}

// AbilityScore tracks the layers that make up one ability score.
type AbilityScore struct {
	Base   int `yaml:"base"`
	Temp   int `yaml:"temp,omitempty"`
	Damage int `yaml:"damage,omitempty"`
	Drain  int `yaml:"drain,omitempty"`
}

// Score returns Base + Temp - Damage - Drain, never below zero.
func (a AbilityScore) Score() int {
	return max(0, a.Base+a.Temp-a.Damage-a.Drain)
}

// Modifier returns floor((score - 10) / 2).
//
// Postcondition: Modifier(10) == 0, Modifier(9) == -1, Modifier(18) == 4.
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

// Saves holds fortitude, reflex and will values.
type Saves struct {
	Fort int `yaml:"fort"`
	Ref  int `yaml:"ref"`
	Will int `yaml:"will"`
}

// Item is a piece of equipment occupying a slot.
type Item struct {
	Name        string   `yaml:"name"`
	Enhancement int      `yaml:"enhancement,omitempty"`
	Magic       bool     `yaml:"magic,omitempty"`
	Material    string   `yaml:"material,omitempty"`
	Alignments  []string `yaml:"alignments,omitempty"`
	// DamageKind is the physical subtype a weapon deals, e.g. "physical.slashing".
	DamageKind     string `yaml:"damage_kind,omitempty"`
	Damage         string `yaml:"damage,omitempty"`
	ThreatRange    int    `yaml:"threat_range,omitempty"`
	CritMultiplier int    `yaml:"crit_multiplier,omitempty"`
	Ranged         bool   `yaml:"ranged,omitempty"`
	ArmorBonus     int    `yaml:"armor_bonus,omitempty"`
	ShieldBonus    int    `yaml:"shield_bonus,omitempty"`
	// MaxDex caps the dexterity bonus to AC while worn; nil means no cap.
	MaxDex *int `yaml:"max_dex,omitempty"`
}

// Equipment slots the engine reads.
const (
	SlotMainHand = "main_hand"
	SlotOffHand  = "off_hand"
	SlotArmor    = "armor"
	SlotShield   = "shield"
)

// DR is one damage-reduction entry such as 5/magic or 10/-.
type DR struct {
	Value  int    `yaml:"value"`
	Bypass string `yaml:"bypass"`
}

// Actor is a creature participating in rules resolution.
type Actor struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	Abilities map[string]AbilityScore `yaml:"abilities"`

	CharacterLevel int            `yaml:"level,omitempty"`
	HD             int            `yaml:"hd,omitempty"`
	Classes        map[string]int `yaml:"classes,omitempty"`
	CasterLevels   map[string]int `yaml:"caster_levels,omitempty"`
	Initiator      int            `yaml:"initiator_level,omitempty"`

	BAB          int   `yaml:"bab"`
	BaseSaves    Saves `yaml:"saves"`
	SizeMod      int   `yaml:"size_mod,omitempty"`
	NaturalArmor int   `yaml:"natural_armor,omitempty"`
	Speed        int   `yaml:"speed,omitempty"`

	Equipment map[string]Item `yaml:"equipment,omitempty"`

	Immunities      []string           `yaml:"immunities,omitempty"`
	Resistances     map[string]int     `yaml:"resistances,omitempty"`
	Vulnerabilities map[string]float64 `yaml:"vulnerabilities,omitempty"`
	DR              []DR               `yaml:"dr,omitempty"`
	SR              int                `yaml:"sr,omitempty"`

	HP        int `yaml:"hp"`
	MaxHP     int `yaml:"max_hp"`
	Nonlethal int `yaml:"nonlethal,omitempty"`

	Tags []string `yaml:"tags,omitempty"`
}

// Ability returns the score record for name, zero-valued if absent.
func (a *Actor) Ability(name string) AbilityScore {
	return a.Abilities[name]
}

// SetAbility stores the score record for name.
func (a *Actor) SetAbility(name string, s AbilityScore) {
	if a.Abilities == nil {
		a.Abilities = make(map[string]AbilityScore)
	}
	a.Abilities[name] = s
}

// AbilityMod returns the modifier of the unadjusted-by-effects score for name.
func (a *Actor) AbilityMod(name string) int {
	return Modifier(a.Ability(name).Score())
}

// Level returns the character level, falling back to the sum of class levels.
func (a *Actor) Level() int {
	if a.CharacterLevel > 0 {
		return a.CharacterLevel
	}
	total := 0
	for _, l := range a.Classes {
		total += l
	}
	return total
}

// ClassLevel returns the level in class, zero if the actor has none.
func (a *Actor) ClassLevel(class string) int {
	return a.Classes[class]
}

// CasterLevel returns the caster level for class, or the highest caster level
// across classes when class is empty.
func (a *Actor) CasterLevel(class string) int {
	if class != "" {
		return a.CasterLevels[class]
	}
	best := 0
	for _, l := range a.CasterLevels {
		best = max(best, l)
	}
	return best
}

// InitiatorLevel returns the martial initiator level.
func (a *Actor) InitiatorLevel() int {
	return a.Initiator
}

// HitDice returns HD, falling back to Level.
func (a *Actor) HitDice() int {
	if a.HD > 0 {
		return a.HD
	}
	return a.Level()
}

// HasTag reports whether the actor carries tag.
func (a *Actor) HasTag(tag string) bool {
	return slices.Contains(a.Tags, tag)
}

// Weapon returns the main-hand item, or an unarmed strike when the hand is empty.
// Threat range and crit multiplier are defaulted to 20 and x2.
func (a *Actor) Weapon() Item {
	w, ok := a.Equipment[SlotMainHand]
	if !ok {
		w = Item{Name: "unarmed strike", DamageKind: "physical.bludgeoning", Damage: "1d3"}
	}
	if w.ThreatRange < 2 || w.ThreatRange > 20 {
		w.ThreatRange = 20
	}
	if w.CritMultiplier < 2 {
		w.CritMultiplier = 2
	}
	if w.DamageKind == "" {
		w.DamageKind = "physical.bludgeoning"
	}
	if w.Enhancement > 0 {
		w.Magic = true
	}
	return w
}

// Clone returns a deep copy of a.
func (a *Actor) Clone() *Actor {
	c := *a
	c.Abilities = maps.Clone(a.Abilities)
	c.Classes = maps.Clone(a.Classes)
	c.CasterLevels = maps.Clone(a.CasterLevels)
	c.Resistances = maps.Clone(a.Resistances)
	c.Vulnerabilities = maps.Clone(a.Vulnerabilities)
	c.Immunities = slices.Clone(a.Immunities)
	c.DR = slices.Clone(a.DR)
	c.Tags = slices.Clone(a.Tags)
	if a.Equipment != nil {
		c.Equipment = make(map[string]Item, len(a.Equipment))
		for slot, item := range a.Equipment {
			item.Alignments = slices.Clone(item.Alignments)
			if item.MaxDex != nil {
				v := *item.MaxDex
				item.MaxDex = &v
			}
			c.Equipment[slot] = item
		}
	}
	return &c
}
