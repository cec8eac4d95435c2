// Package stats resolves an actor's effective statistics from its base
// record and the modifiers of its active, unsuppressed instances.
package stats

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/expr"
	"github.com/cory-johannsen/d20rules/internal/game/modifier"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
)

var (
	// ErrUnknownActor is returned when the actor id is not in the state.
	ErrUnknownActor = errors.New("stats: unknown actor")
	// ErrUnknownPath is returned by Explain for a path that is not a stat.
	ErrUnknownPath = errors.New("stats: unknown stat path")
)

// Tags that deny an actor its dexterity and dodge bonuses to AC.
var deniesDex = []string{"flat_footed", "helpless", "paralyzed", "stunned", "pinned"}

// Concealment tags and their miss chance in percent.
var concealment = map[string]int{
	"total_concealment": 50,
	"invisible":         50,
	"concealed":         20,
}

// Resolved is an actor's effective statistics at one point in time.
type Resolved struct {
	ActorID     string
	Abilities   map[string]int
	AbilityMods map[string]int
	AC          int
	TouchAC     int
	FlatFooted  int
	Saves       map[string]int
	BAB         int
	Melee       int
	Ranged      int
	Speed       int
	SR          int
	Resist      map[string]int
	// Vuln holds damage multipliers in percent for kinds other than 100.
	Vuln map[string]int
	DR   []actor.DR
	Tags []string
}

// ACFor returns the AC variant named by an attack gate ("normal", "touch",
// "flat_footed").
func (r Resolved) ACFor(variant string) int {
	switch variant {
	case ruleset.ACTouch:
		return r.TouchAC
	case ruleset.ACFlatFooted:
		return r.FlatFooted
	default:
		return r.AC
	}
}

// HasTag reports whether the actor carries tag from its record or an active condition.
func (r Resolved) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// MissChance returns the concealment miss chance in percent.
func (r Resolved) MissChance() int {
	best := 0
	for _, t := range r.Tags {
		best = max(best, concealment[t])
	}
	return best
}

// Flatten returns every resolved value keyed by stat path, for diffs.
func (r Resolved) Flatten() map[string]int {
	out := map[string]int{
		ruleset.PathACTotal:      r.AC,
		ruleset.PathACTouch:      r.TouchAC,
		ruleset.PathACFlatFooted: r.FlatFooted,
		ruleset.PathBAB:          r.BAB,
		ruleset.PathAttackMelee:  r.Melee,
		ruleset.PathAttackRanged: r.Ranged,
		ruleset.PathSpeedLand:    r.Speed,
		ruleset.PathSR:           r.SR,
	}
	for ab, v := range r.Abilities {
		out[ruleset.AbilityPath(ab)] = v
	}
	for save, v := range r.Saves {
		out[ruleset.SavePath(save)] = v
	}
	for kind, v := range r.Resist {
		out[ruleset.ResistPath(kind)] = v
	}
	for kind, v := range r.Vuln {
		out[ruleset.VulnPath(kind)] = v
	}
	for _, dr := range r.DR {
		p := ruleset.DRPath(dr.Bypass)
		out[p] = max(out[p], dr.Value)
	}
	return out
}

// Resolver computes Resolved records. It holds no game state of its own.
type Resolver struct {
	content *ruleset.Content
	eval    *expr.Evaluator
	logger  *zap.Logger
}

// NewResolver creates a Resolver.
//
// Precondition: content and eval must be non-nil; a nil logger discards warnings.
func NewResolver(content *ruleset.Content, eval *expr.Evaluator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{content: content, eval: eval, logger: logger}
}

// Resolve computes actorID's effective statistics.
func (r *Resolver) Resolve(s *state.GameState, actorID string) (Resolved, error) {
	sh, err := r.sheetFor(s, actorID)
	if err != nil {
		return Resolved{}, err
	}
	return sh.resolved(), nil
}

// Explain traces how path resolves for actorID.
func (r *Resolver) Explain(s *state.GameState, actorID, path string) (modifier.Trace, error) {
	if !ruleset.ValidPath(path) {
		return modifier.Trace{}, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	sh, err := r.sheetFor(s, actorID)
	if err != nil {
		return modifier.Trace{}, err
	}
	sh.value(path)
	return sh.traces[path], nil
}

// Subject returns an expr.Subject for actorID whose ability modifiers come
// from resolved scores. Operation formulas use it; modifier values are
// evaluated against raw scores so resolution never recurses.
func (r *Resolver) Subject(s *state.GameState, actorID string) (expr.Subject, error) {
	res, err := r.Resolve(s, actorID)
	if err != nil {
		return nil, err
	}
	a, _ := s.Actor(actorID)
	return resolvedSubject{Actor: a, mods: res.AbilityMods}, nil
}

// Context builds an operation evaluation context with sourceID as actor and
// targetID as target. Unknown actors are left unset.
func (r *Resolver) Context(s *state.GameState, sourceID, targetID string) expr.Context {
	var ctx expr.Context
	if src, err := r.Subject(s, sourceID); err == nil {
		ctx.Actor = src
	}
	if tgt, err := r.Subject(s, targetID); err == nil {
		ctx.Target = tgt
	}
	return ctx
}

// Rounds converts d into rounds, evaluating its value with sourceID as actor.
// Untimed durations return 0.
func (r *Resolver) Rounds(s *state.GameState, d ruleset.Duration, sourceID, targetID string) (int, error) {
	per := d.RoundsPerUnit()
	if per == 0 {
		return 0, nil
	}
	if d.Value == "" {
		return per, nil
	}
	v, err := r.eval.EvaluateInt(d.Value, r.Context(s, sourceID, targetID))
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", d.Value, err)
	}
	return max(v, 0) * per, nil
}

type resolvedSubject struct {
	*actor.Actor
	mods map[string]int
}

func (r resolvedSubject) AbilityMod(ability string) int {
	return r.mods[ability]
}

// ActorContext builds an evaluation context, leaving nil actors unset so
// formulas that reference them fail instead of dereferencing nil.
func ActorContext(source, target *actor.Actor) expr.Context {
	var ctx expr.Context
	if source != nil {
		ctx.Actor = source
	}
	if target != nil {
		ctx.Target = target
	}
	return ctx
}

// Tags returns the tags conferred on actorID by its active, unsuppressed
// instances, plus the actor's own tags.
func (r *Resolver) Tags(s *state.GameState, actorID string) []string {
	a, ok := s.Actor(actorID)
	if !ok {
		return nil
	}
	tags := slices.Clone(a.Tags)
	for _, inst := range s.InstancesOf(actorID) {
		if !counts(inst) {
			continue
		}
		if def, ok := r.content.Attachable(inst.DefinitionID); ok {
			for _, t := range def.Tags {
				if !slices.Contains(tags, t) {
					tags = append(tags, t)
				}
			}
		}
	}
	return tags
}

func counts(inst *state.Instance) bool {
	return inst.Status == state.StatusActive && !inst.Suppressed
}

// sheet memoizes path values for one resolution pass.
type sheet struct {
	a      *actor.Actor
	tags   []string
	mods   map[string][]modifier.Applied
	traces map[string]modifier.Trace
}

func (r *Resolver) sheetFor(s *state.GameState, actorID string) (*sheet, error) {
	a, ok := s.Actor(actorID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActor, actorID)
	}
	sh := &sheet{
		a:      a,
		tags:   r.Tags(s, actorID),
		mods:   make(map[string][]modifier.Applied),
		traces: make(map[string]modifier.Trace),
	}
	for _, inst := range s.InstancesOf(actorID) {
		if !counts(inst) {
			continue
		}
		def, ok := r.content.Attachable(inst.DefinitionID)
		if !ok {
			continue
		}
		src, _ := s.Actor(inst.SourceID)
		ctx := ActorContext(src, a)
		for _, m := range def.Modifiers {
			v, err := r.eval.Evaluate(m.Value, ctx)
			if err != nil {
				r.logger.Warn("modifier evaluation failed",
					zap.String("instance", inst.ID),
					zap.String("definition", def.ID),
					zap.String("target", m.Target),
					zap.Error(err),
				)
				v = 0
			}
			sh.mods[m.Target] = append(sh.mods[m.Target], modifier.Applied{
				Op:        m.Op,
				Value:     v,
				BonusType: m.BonusType,
				SourceKey: m.SourceKey,
				Source:    def.ID,
			})
		}
	}
	return sh, nil
}

// value resolves path, memoizing its trace.
func (sh *sheet) value(path string) int {
	if t, ok := sh.traces[path]; ok {
		return t.Final
	}
	mods := sh.mods[path]
	switch {
	case strings.HasPrefix(path, "save.") && path != ruleset.PathSaveAll:
		mods = append(slices.Clone(mods), sh.mods[ruleset.PathSaveAll]...)
	case path == ruleset.PathAttackMelee || path == ruleset.PathAttackRanged:
		mods = append(slices.Clone(mods), sh.mods[ruleset.PathAttackAll]...)
	case path == ruleset.PathACTouch || path == ruleset.PathACFlatFooted:
		mods = append(slices.Clone(mods), sh.mods[ruleset.PathACTotal]...)
	}
	t := modifier.Explain(path, sh.base(path), mods)
	sh.traces[path] = t
	return t.Final
}

func (sh *sheet) abilityMod(ability string) int {
	return actor.Modifier(sh.value(ruleset.AbilityPath(ability)))
}

// base returns the unmodified value of path.
func (sh *sheet) base(path string) int {
	a := sh.a
	switch path {
	case ruleset.PathACArmor:
		if it, ok := a.Equipment[actor.SlotArmor]; ok {
			return it.ArmorBonus + it.Enhancement
		}
		return 0
	case ruleset.PathACShield:
		if it, ok := a.Equipment[actor.SlotShield]; ok {
			return it.ShieldBonus + it.Enhancement
		}
		return 0
	case ruleset.PathACNatural:
		return a.NaturalArmor
	case ruleset.PathACDeflection, ruleset.PathACDodge, ruleset.PathACMisc, ruleset.PathSaveAll, ruleset.PathAttackAll:
		return 0
	case ruleset.PathACTotal:
		return 10 + a.SizeMod + sh.dexToAC() + sh.dodge() +
			sh.value(ruleset.PathACArmor) + sh.value(ruleset.PathACShield) + sh.value(ruleset.PathACNatural) +
			sh.value(ruleset.PathACDeflection) + sh.value(ruleset.PathACMisc)
	case ruleset.PathACTouch:
		return 10 + a.SizeMod + sh.dexToAC() + sh.dodge() +
			sh.value(ruleset.PathACDeflection) + sh.value(ruleset.PathACMisc)
	case ruleset.PathACFlatFooted:
		return 10 + a.SizeMod + min(sh.dexToAC(), 0) +
			sh.value(ruleset.PathACArmor) + sh.value(ruleset.PathACShield) + sh.value(ruleset.PathACNatural) +
			sh.value(ruleset.PathACDeflection) + sh.value(ruleset.PathACMisc)
	case ruleset.PathSaveFort:
		return a.BaseSaves.Fort + sh.abilityMod(actor.Con)
	case ruleset.PathSaveRef:
		return a.BaseSaves.Ref + sh.abilityMod(actor.Dex)
	case ruleset.PathSaveWill:
		return a.BaseSaves.Will + sh.abilityMod(actor.Wis)
	case ruleset.PathBAB:
		return a.BAB
	case ruleset.PathAttackMelee:
		w := a.Weapon()
		bonus := sh.value(ruleset.PathBAB) + sh.abilityMod(actor.Str) + a.SizeMod
		if !w.Ranged {
			bonus += w.Enhancement
		}
		return bonus
	case ruleset.PathAttackRanged:
		w := a.Weapon()
		bonus := sh.value(ruleset.PathBAB) + sh.abilityMod(actor.Dex) + a.SizeMod
		if w.Ranged {
			bonus += w.Enhancement
		}
		return bonus
	case ruleset.PathSpeedLand:
		return a.Speed
	case ruleset.PathSR:
		return a.SR
	}
	if ab, ok := strings.CutPrefix(path, "abilities."); ok {
		return a.Ability(ab).Score()
	}
	if kind, ok := strings.CutPrefix(path, "resist."); ok {
		return a.Resistances[kind]
	}
	if kind, ok := strings.CutPrefix(path, "vuln."); ok {
		if m, ok := a.Vulnerabilities[kind]; ok {
			return int(math.Round(m * 100))
		}
		return 100
	}
	return 0
}

// dexToAC is the dexterity modifier to AC after armor caps and denial.
func (sh *sheet) dexToAC() int {
	dex := sh.abilityMod(actor.Dex)
	for _, slot := range []string{actor.SlotArmor, actor.SlotShield} {
		if it, ok := sh.a.Equipment[slot]; ok && it.MaxDex != nil {
			dex = min(dex, *it.MaxDex)
		}
	}
	if sh.deniedDex() {
		return min(dex, 0)
	}
	return dex
}

func (sh *sheet) dodge() int {
	if sh.deniedDex() {
		return 0
	}
	return sh.value(ruleset.PathACDodge)
}

func (sh *sheet) deniedDex() bool {
	for _, t := range deniesDex {
		if slices.Contains(sh.tags, t) {
			return true
		}
	}
	return false
}

func (sh *sheet) resolved() Resolved {
	out := Resolved{
		ActorID:     sh.a.ID,
		Abilities:   make(map[string]int, len(actor.Abilities)),
		AbilityMods: make(map[string]int, len(actor.Abilities)),
		Saves:       make(map[string]int, len(ruleset.SaveTypes)),
		Resist:      make(map[string]int),
		Vuln:        make(map[string]int),
		Tags:        sh.tags,
	}
	for _, ab := range actor.Abilities {
		out.Abilities[ab] = sh.value(ruleset.AbilityPath(ab))
		out.AbilityMods[ab] = actor.Modifier(out.Abilities[ab])
	}
	out.AC = sh.value(ruleset.PathACTotal)
	out.TouchAC = sh.value(ruleset.PathACTouch)
	out.FlatFooted = sh.value(ruleset.PathACFlatFooted)
	for _, save := range ruleset.SaveTypes {
		out.Saves[save] = sh.value(ruleset.SavePath(save))
	}
	out.BAB = sh.value(ruleset.PathBAB)
	out.Melee = sh.value(ruleset.PathAttackMelee)
	out.Ranged = sh.value(ruleset.PathAttackRanged)
	out.Speed = sh.value(ruleset.PathSpeedLand)
	out.SR = sh.value(ruleset.PathSR)

	kinds := slices.Collect(maps.Keys(sh.a.Resistances))
	for p := range sh.mods {
		if kind, ok := strings.CutPrefix(p, "resist."); ok {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	for _, kind := range slices.Compact(kinds) {
		if v := sh.value(ruleset.ResistPath(kind)); v > 0 {
			out.Resist[kind] = v
		}
	}

	vkinds := slices.Collect(maps.Keys(sh.a.Vulnerabilities))
	for p := range sh.mods {
		if kind, ok := strings.CutPrefix(p, "vuln."); ok {
			vkinds = append(vkinds, kind)
		}
	}
	slices.Sort(vkinds)
	for _, kind := range slices.Compact(vkinds) {
		if v := sh.value(ruleset.VulnPath(kind)); v != 100 {
			out.Vuln[kind] = max(v, 0)
		}
	}

	out.DR = slices.Clone(sh.a.DR)
	bypasses := make([]string, 0)
	for p := range sh.mods {
		if bypass, ok := ruleset.DRBypass(p); ok {
			bypasses = append(bypasses, bypass)
		}
	}
	slices.Sort(bypasses)
	for _, bypass := range bypasses {
		if v := sh.value(ruleset.DRPath(bypass)); v > 0 {
			out.DR = append(out.DR, actor.DR{Value: v, Bypass: bypass})
		}
	}
	return out
}
