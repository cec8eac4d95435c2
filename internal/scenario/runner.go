package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/d20rules/internal/engine"
	"github.com/cory-johannsen/d20rules/internal/game/actor"
	"github.com/cory-johannsen/d20rules/internal/game/damage"
	"github.com/cory-johannsen/d20rules/internal/game/effect"
	"github.com/cory-johannsen/d20rules/internal/game/resource"
	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
	"github.com/cory-johannsen/d20rules/internal/game/state"
	"github.com/cory-johannsen/d20rules/internal/storage/postgres"
)

// ErrSavesDisabled is returned by save and load steps when no store is configured.
var ErrSavesDisabled = errors.New("saves are disabled")

// SaveStore persists snapshots by slot. *postgres.SaveRepository satisfies it.
type SaveStore interface {
	Save(ctx context.Context, slot, label string, snap state.Snapshot) (postgres.SaveInfo, error)
	Load(ctx context.Context, slot string) (state.Snapshot, postgres.SaveInfo, error)
}

// Runner plays scenarios against one engine.
type Runner struct {
	eng    *engine.Engine
	saves  SaveStore
	logger *zap.Logger
	// refs maps step "as" names to the instance or zone ids they captured.
	refs map[string]string
}

// NewRunner creates a Runner. saves may be nil, which disables save and load
// steps.
//
// Precondition: eng must be non-nil.
func NewRunner(eng *engine.Engine, saves SaveStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{eng: eng, saves: saves, logger: logger, refs: make(map[string]string)}
}

// Options returns base with the scenario's seed applied.
func (sc *Scenario) Options(base engine.Options) engine.Options {
	if sc.Seed != nil {
		base.Seed = *sc.Seed
	}
	return base
}

// Run adds the scenario's actors and plays every step in order. Each step's
// output is preceded by a header line naming it.
//
// Postcondition: Returns every line produced up to the first failing step;
// the error names that step.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]string, error) {
	start := time.Now()
	for _, a := range sc.Actors {
		if err := r.eng.AddActor(a); err != nil {
			return nil, fmt.Errorf("adding actor %q: %w", a.ID, err)
		}
	}
	var lines []string
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return lines, err
		}
		kind, ok := defaultRegistry.Resolve(st.Do)
		if !ok {
			return lines, fmt.Errorf("step %d: unknown step %q", i+1, st.Do)
		}
		lines = append(lines, fmt.Sprintf("[%d] %s", i+1, kind.Name))
		out, err := kind.run(r, ctx, st)
		lines = append(lines, out...)
		if err != nil {
			return lines, fmt.Errorf("step %d (%s): %w", i+1, kind.Name, err)
		}
	}
	r.logger.Info("scenario finished",
		zap.String("scenario", sc.Name),
		zap.Int("steps", len(sc.Steps)),
		zap.Int("round", r.eng.Round()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return lines, nil
}

func (r *Runner) remember(name, id string) {
	if name != "" && id != "" {
		r.refs[name] = id
	}
}

// ref resolves a step reference: a remembered name, or a literal id.
func (r *Runner) ref(name string) string {
	if id, ok := r.refs[name]; ok {
		return id
	}
	return name
}

func options(st Step) effect.Options {
	opts := effect.Options{Stack: st.Stack}
	if st.Rounds > 0 {
		opts.Duration = &ruleset.Duration{Type: ruleset.Rounds, Value: strconv.Itoa(st.Rounds)}
	}
	return opts
}

func (r *Runner) attach(_ context.Context, st Step) ([]string, error) {
	id, lines := r.eng.Attach(st.Def, st.Source, st.Target, options(st))
	r.remember(st.As, id)
	return lines, nil
}

func (r *Runner) condition(_ context.Context, st Step) ([]string, error) {
	id, lines := r.eng.ApplyCondition(st.Def, st.Source, st.Target, options(st))
	r.remember(st.As, id)
	return lines, nil
}

func (r *Runner) detach(_ context.Context, st Step) ([]string, error) {
	lines, ok := r.eng.Detach(r.ref(st.Ref))
	if !ok {
		lines = append(lines, fmt.Sprintf("nothing attached as %s", st.Ref))
	}
	return lines, nil
}

func (r *Runner) damage(_ context.Context, st Step) ([]string, error) {
	if st.Source == "" {
		return r.eng.ApplyDamage(st.Target, st.Packets).Log, nil
	}
	label := st.Label
	if label == "" {
		label = "attack"
	}
	res := r.eng.ApplyAttack(damage.Attack{
		SourceID: st.Source,
		TargetID: st.Target,
		Label:    label,
		Packets:  st.Packets,
	})
	return res.Log, nil
}

func (r *Runner) heal(_ context.Context, st Step) ([]string, error) {
	return r.eng.Heal(st.Target, st.Amount), nil
}

func (r *Runner) advance(_ context.Context, st Step) ([]string, error) {
	return r.eng.AdvanceRound(st.Rounds), nil
}

func (r *Runner) zoneCreate(_ context.Context, st Step) ([]string, error) {
	id, lines := r.eng.CreateZone(st.Def, st.Source, st.Members...)
	r.remember(st.As, id)
	return lines, nil
}

func (r *Runner) zoneEnter(_ context.Context, st Step) ([]string, error) {
	return r.eng.EnterZone(r.ref(st.Ref), st.Target)
}

func (r *Runner) zoneLeave(_ context.Context, st Step) ([]string, error) {
	return r.eng.LeaveZone(r.ref(st.Ref), st.Target)
}

func (r *Runner) zoneDestroy(_ context.Context, st Step) ([]string, error) {
	lines, ok := r.eng.DestroyZone(r.ref(st.Ref))
	if !ok {
		lines = append(lines, fmt.Sprintf("no zone %s", st.Ref))
	}
	return lines, nil
}

func (r *Runner) resourceCreate(_ context.Context, st Step) ([]string, error) {
	return r.eng.CreateResource(st.Def, st.Target)
}

func (r *Runner) resourceSpend(_ context.Context, st Step) ([]string, error) {
	err := r.eng.SpendResource(st.Target, st.Def, st.Amount)
	switch {
	case errors.Is(err, resource.ErrInsufficient):
		return []string{fmt.Sprintf("%s cannot spend %d %s", st.Target, st.Amount, st.Def)}, nil
	case err != nil:
		return nil, err
	}
	return []string{fmt.Sprintf("%s spends %d %s", st.Target, st.Amount, st.Def)}, nil
}

func (r *Runner) refresh(_ context.Context, st Step) ([]string, error) {
	return r.eng.RefreshResources(st.Cadence), nil
}

func (r *Runner) explain(_ context.Context, st Step) ([]string, error) {
	_, lines := r.eng.Explain(st.Path, st.Target)
	return lines, nil
}

func (r *Runner) stats(_ context.Context, st Step) ([]string, error) {
	rs, err := r.eng.ResolvedStats(st.Target)
	if err != nil {
		return nil, err
	}
	var abilities []string
	for _, ab := range actor.Abilities {
		abilities = append(abilities, fmt.Sprintf("%s %d", ab, rs.Abilities[ab]))
	}
	lines := []string{
		fmt.Sprintf("%s: %s", st.Target, strings.Join(abilities, " ")),
		fmt.Sprintf("%s: ac %d touch %d flat-footed %d", st.Target, rs.AC, rs.TouchAC, rs.FlatFooted),
		fmt.Sprintf("%s: fort %+d ref %+d will %+d", st.Target, rs.Saves["fort"], rs.Saves["ref"], rs.Saves["will"]),
		fmt.Sprintf("%s: bab %+d melee %+d ranged %+d", st.Target, rs.BAB, rs.Melee, rs.Ranged),
	}
	if len(rs.Tags) > 0 {
		lines = append(lines, fmt.Sprintf("%s: tags %s", st.Target, strings.Join(rs.Tags, ", ")))
	}
	return lines, nil
}

func (r *Runner) active(_ context.Context, st Step) ([]string, error) {
	insts := r.eng.ListActive(st.Target)
	if len(insts) == 0 {
		return []string{fmt.Sprintf("%s: nothing active", st.Target)}, nil
	}
	lines := make([]string, 0, len(insts))
	for _, inst := range insts {
		left := string(inst.DurationType)
		if inst.Timed() {
			left = fmt.Sprintf("%d rounds left", inst.Remaining)
		}
		if inst.Suppressed {
			left += ", suppressed"
		}
		lines = append(lines, fmt.Sprintf("%s: %s %s from %s (%s)", st.Target, inst.Kind, inst.DefinitionID, inst.SourceID, left))
	}
	return lines, nil
}

func (r *Runner) resources(_ context.Context, st Step) ([]string, error) {
	pools := r.eng.Resources(st.Target)
	if len(pools) == 0 {
		return []string{fmt.Sprintf("%s: no pools", st.Target)}, nil
	}
	lines := make([]string, 0, len(pools))
	for _, p := range pools {
		lines = append(lines, fmt.Sprintf("%s: %s %d/%d", st.Target, p.DefinitionID, p.Current, p.Max))
	}
	return lines, nil
}

func (r *Runner) remove(_ context.Context, st Step) ([]string, error) {
	return r.eng.RemoveActor(st.Target)
}

func (r *Runner) save(ctx context.Context, st Step) ([]string, error) {
	if r.saves == nil {
		return nil, ErrSavesDisabled
	}
	snap, err := r.eng.Snapshot()
	if err != nil {
		return nil, err
	}
	info, err := r.saves.Save(ctx, st.Slot, st.Label, snap)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("saved round %d to %s (digest %.12s)", info.Round, info.Slot, info.Digest)}, nil
}

func (r *Runner) load(ctx context.Context, st Step) ([]string, error) {
	if r.saves == nil {
		return nil, ErrSavesDisabled
	}
	snap, info, err := r.saves.Load(ctx, st.Slot)
	if err != nil {
		return nil, err
	}
	if err := r.eng.Restore(snap); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("loaded %s at round %d (digest %.12s)", info.Slot, info.Round, info.Digest)}, nil
}

func (r *Runner) digest(_ context.Context, _ Step) ([]string, error) {
	d, err := r.eng.Digest()
	if err != nil {
		return nil, err
	}
	return []string{"digest " + d}, nil
}
