package ruleset

import (
	"slices"
	"strings"
)

// Stat paths that modifiers may target.
const (
	PathACNatural    = "ac.natural"
	PathACDeflection = "ac.deflection"
	PathACDodge      = "ac.dodge"
	PathACArmor      = "ac.armor"
	PathACShield     = "ac.shield"
	PathACMisc       = "ac.misc"
	PathACTotal      = "ac.total"
	PathACTouch      = "ac.touch"
	PathACFlatFooted = "ac.flat_footed"
	PathSaveFort     = "save.fort"
	PathSaveRef      = "save.ref"
	PathSaveWill     = "save.will"
	PathSaveAll      = "save.all"
	PathBAB          = "attack.bab.effective"
	PathAttackMelee  = "attack.melee.bonus"
	PathAttackRanged = "attack.ranged.bonus"
	PathAttackAll    = "attack.all"
	PathSpeedLand    = "speed.land"
	PathSR           = "sr"

	prefixAbility = "abilities."
	prefixResist  = "resist."
	prefixVuln    = "vuln."
	prefixDR      = "dr."
)

var staticPaths = []string{
	PathACNatural, PathACDeflection, PathACDodge, PathACArmor, PathACShield, PathACMisc,
	PathACTotal, PathACTouch, PathACFlatFooted,
	PathSaveFort, PathSaveRef, PathSaveWill, PathSaveAll,
	PathBAB, PathAttackMelee, PathAttackRanged, PathAttackAll,
	PathSpeedLand, PathSR,
}

// AbilityPath returns the stat path of an ability score.
func AbilityPath(ability string) string { return prefixAbility + ability }

// ResistPath returns the stat path of energy resistance to kind.
func ResistPath(kind string) string { return prefixResist + kind }

// VulnPath returns the stat path of vulnerability to kind, in percent of the
// damage taken (100 means not vulnerable).
func VulnPath(kind string) string { return prefixVuln + kind }

// DRPath returns the stat path of damage reduction with the given bypass.
func DRPath(bypass string) string { return prefixDR + bypass }

// DRBypass extracts the bypass from a dr.* path.
func DRBypass(path string) (string, bool) {
	return strings.CutPrefix(path, prefixDR)
}

// SavePath returns the stat path for a save type ("fort", "ref", "will").
func SavePath(save string) string { return "save." + save }

// SaveTypes lists the three saving throws.
var SaveTypes = []string{"fort", "ref", "will"}

// ValidPath reports whether path is a known modifier target.
func ValidPath(path string) bool {
	if slices.Contains(staticPaths, path) {
		return true
	}
	if ab, ok := strings.CutPrefix(path, prefixAbility); ok {
		return slices.Contains(abilityKeys, ab)
	}
	if kind, ok := strings.CutPrefix(path, prefixResist); ok {
		return ValidDamageKind(kind) && kind != DamageNonlethal
	}
	if kind, ok := strings.CutPrefix(path, prefixVuln); ok {
		return ValidDamageKind(kind)
	}
	if bypass, ok := DRBypass(path); ok {
		return ValidBypass(bypass)
	}
	return false
}

var abilityKeys = []string{"str", "dex", "con", "int", "wis", "cha"}

// Damage kinds and categories.
const (
	DamagePhysicalPrefix = "physical."
	DamageSlashing       = "physical.slashing"
	DamagePiercing       = "physical.piercing"
	DamageBludgeoning    = "physical.bludgeoning"
	DamageNonlethal      = "nonlethal"
	DamageUntyped        = "untyped"

	CategoryPhysical = "physical"
	CategoryEnergy   = "energy"
	CategoryAny      = "any"
)

// EnergyKinds are the five energy damage kinds.
var EnergyKinds = []string{"acid", "cold", "electricity", "fire", "sonic"}

var otherKinds = []string{"force", "negative", "positive", "divine", DamageNonlethal, DamageUntyped}

// IsPhysical reports whether kind is a physical damage kind.
func IsPhysical(kind string) bool {
	return strings.HasPrefix(kind, DamagePhysicalPrefix)
}

// IsEnergy reports whether kind is an energy damage kind.
func IsEnergy(kind string) bool {
	return slices.Contains(EnergyKinds, kind)
}

// Category returns "physical", "energy" or "" for kind.
func Category(kind string) string {
	switch {
	case IsPhysical(kind):
		return CategoryPhysical
	case IsEnergy(kind):
		return CategoryEnergy
	default:
		return ""
	}
}

// ValidDamageKind reports whether kind is a recognised damage kind.
func ValidDamageKind(kind string) bool {
	switch kind {
	case DamageSlashing, DamagePiercing, DamageBludgeoning:
		return true
	}
	return IsEnergy(kind) || slices.Contains(otherKinds, kind)
}

// DR bypass values.
var (
	Materials  = []string{"adamantine", "silver", "cold_iron"}
	Alignments = []string{"good", "evil", "law", "chaos"}
)

// ValidBypass reports whether bypass is a recognised DR bypass.
func ValidBypass(bypass string) bool {
	switch bypass {
	case "-", "magic", "slashing", "piercing", "bludgeoning":
		return true
	}
	return slices.Contains(Materials, bypass) || slices.Contains(Alignments, bypass)
}
