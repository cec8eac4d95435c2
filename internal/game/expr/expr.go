// Package expr compiles and evaluates the small arithmetic formulas that rule
// definitions use for durations, DCs, capacities and modifier values.
//
// Formulas are Lua expressions evaluated in a sandbox whose only globals are
// the fixed rule function set. Actor and target are passed explicitly on
// every call; nothing is read from ambient state.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/cory-johannsen/d20rules/internal/scripting"
)

var (
	// ErrSyntax is returned for formulas that do not parse as a single expression.
	ErrSyntax = errors.New("expr: malformed formula")
	// ErrEvaluation is returned when a well-formed formula cannot produce a number.
	ErrEvaluation = errors.New("expr: evaluation failed")
)

// Subject is the read-only view of an actor that formulas can query.
type Subject interface {
	AbilityMod(ability string) int
	Level() int
	ClassLevel(class string) int
	// CasterLevel returns the caster level for class, or the highest caster
	// level across all classes when class is empty.
	CasterLevel(class string) int
	InitiatorLevel() int
	HitDice() int
}

// Context carries the actors a formula is evaluated against.
// Target may be nil; formulas that reference "target" then fail.
type Context struct {
	Actor  Subject
	Target Subject
}

type compiled struct {
	proto *lua.FunctionProto
	err   error
}

// Evaluator compiles formulas once and evaluates them on a private sandboxed
// Lua state. It is safe for concurrent use.
type Evaluator struct {
	mu    sync.Mutex
	L     *lua.LState
	limit int
	cache map[string]compiled
}

// New returns an Evaluator whose evaluations may run at most instLimit Lua
// opcodes each.
//
// Precondition: instLimit >= 0; 0 uses scripting.DefaultInstructionLimit.
// Postcondition: Returns a ready Evaluator; the caller should Close it.
func New(instLimit int) *Evaluator {
	return &Evaluator{
		L:     scripting.NewSandboxedState(instLimit),
		limit: instLimit,
		cache: make(map[string]compiled),
	}
}

// Close releases the underlying Lua state.
func (e *Evaluator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
}

// Cached reports how many distinct formulas have been compiled.
func (e *Evaluator) Cached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Compile parses formula and caches the result, returning any syntax error.
// It is used by content validation to reject malformed formulas at load time.
func (e *Evaluator) Compile(formula string) error {
	if _, ok := literal(formula); ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compile(formula).err
}

func (e *Evaluator) compile(formula string) compiled {
	if c, ok := e.cache[formula]; ok {
		return c
	}
	var c compiled
	src := strings.TrimSpace(formula)
	if src == "" {
		c.err = fmt.Errorf("%w: empty formula", ErrSyntax)
	} else {
		chunk, err := parse.Parse(strings.NewReader("return "+src), formula)
		if err != nil {
			c.err = fmt.Errorf("%w: %q: %v", ErrSyntax, formula, err)
		} else if c.proto, err = lua.Compile(chunk, formula); err != nil {
			c.err = fmt.Errorf("%w: %q: %v", ErrSyntax, formula, err)
		}
	}
	e.cache[formula] = c
	return c
}

// Evaluate computes formula against ctx.
//
// Precondition: ctx.Actor must be non-nil when the formula calls any actor function.
// Postcondition: Returns a finite number with integral results normalized, or an
// error wrapping ErrSyntax or ErrEvaluation. Never returns a silent zero.
func (e *Evaluator) Evaluate(formula string, ctx Context) (float64, error) {
	if v, ok := literal(formula); ok {
		return v, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.compile(formula)
	if c.err != nil {
		return 0, c.err
	}

	fn := e.L.NewFunctionFromProto(c.proto)
	fn.Env = e.environment(ctx)

	release := scripting.Budget(e.L, e.limit)
	err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true})
	release()
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrEvaluation, formula, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("%w: %q produced %s, not a number (unknown identifier?)", ErrEvaluation, formula, ret.Type())
	}
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q produced %v", ErrEvaluation, formula, v)
	}
	return normalize(v), nil
}

// EvaluateInt evaluates formula and rounds the result down, the d20 rule for
// fractional values.
func (e *Evaluator) EvaluateInt(formula string, ctx Context) (int, error) {
	v, err := e.Evaluate(formula, ctx)
	if err != nil {
		return 0, err
	}
	return int(math.Floor(v)), nil
}

func literal(formula string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(formula), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return normalize(v), true
}

func normalize(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < 1e-9 {
		return r
	}
	return v
}
