package expr

import (
	"math"

	lua "github.com/yuin/gopher-lua"
)

// Functions lists the names formulas may call. Any other identifier is an error.
var Functions = []string{
	"min", "max", "floor", "ceil",
	"ability_mod", "level", "class_level", "caster_level", "initiator_level", "hd",
}

// environment builds the global table for one evaluation. Every closure is
// bound to ctx, so nothing leaks between evaluations.
func (e *Evaluator) environment(ctx Context) *lua.LTable {
	env := e.L.NewTable()
	set := func(name string, fn lua.LGFunction) {
		env.RawSetString(name, e.L.NewFunction(fn))
	}

	set("min", func(L *lua.LState) int {
		return fold(L, math.Min)
	})
	set("max", func(L *lua.LState) int {
		return fold(L, math.Max)
	})
	set("floor", func(L *lua.LState) int {
		L.Push(lua.LNumber(math.Floor(float64(L.CheckNumber(1)))))
		return 1
	})
	set("ceil", func(L *lua.LState) int {
		L.Push(lua.LNumber(math.Ceil(float64(L.CheckNumber(1)))))
		return 1
	})
	set("ability_mod", func(L *lua.LState) int {
		ability := L.CheckString(1)
		s := subject(L, ctx, L.OptString(2, "actor"))
		L.Push(lua.LNumber(s.AbilityMod(ability)))
		return 1
	})
	set("level", func(L *lua.LState) int {
		L.Push(lua.LNumber(subject(L, ctx, L.OptString(1, "actor")).Level()))
		return 1
	})
	set("class_level", func(L *lua.LState) int {
		class := L.CheckString(1)
		L.Push(lua.LNumber(subject(L, ctx, L.OptString(2, "actor")).ClassLevel(class)))
		return 1
	})
	set("caster_level", func(L *lua.LState) int {
		class := L.OptString(1, "")
		who := L.OptString(2, "actor")
		// caster_level("target") names the subject, not a class.
		if L.GetTop() == 1 && (class == "actor" || class == "target") {
			class, who = "", class
		}
		L.Push(lua.LNumber(subject(L, ctx, who).CasterLevel(class)))
		return 1
	})
	set("initiator_level", func(L *lua.LState) int {
		L.Push(lua.LNumber(subject(L, ctx, L.OptString(1, "actor")).InitiatorLevel()))
		return 1
	})
	set("hd", func(L *lua.LState) int {
		L.Push(lua.LNumber(subject(L, ctx, L.OptString(1, "actor")).HitDice()))
		return 1
	})
	return env
}

func fold(L *lua.LState, op func(a, b float64) float64) int {
	n := L.GetTop()
	if n == 0 {
		L.RaiseError("expected at least one argument")
		return 0
	}
	acc := float64(L.CheckNumber(1))
	for i := 2; i <= n; i++ {
		acc = op(acc, float64(L.CheckNumber(i)))
	}
	L.Push(lua.LNumber(acc))
	return 1
}

func subject(L *lua.LState, ctx Context, who string) Subject {
	var s Subject
	switch who {
	case "actor":
		s = ctx.Actor
	case "target":
		s = ctx.Target
	default:
		L.RaiseError("unknown subject %q (want \"actor\" or \"target\")", who)
		return nil
	}
	if s == nil {
		L.RaiseError("no %s in evaluation context", who)
	}
	return s
}
