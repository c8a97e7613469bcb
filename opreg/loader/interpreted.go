package loader

import (
	"bytes"
	"fmt"

	"github.com/ZanzyTHEbar/operator-registry/opreg/artifact"
	"github.com/ZanzyTHEbar/operator-registry/opreg/operator"

	lua "github.com/yuin/gopher-lua"
)

// luaOperatorGlobal is the table an interpreted script must define.
const luaOperatorGlobal = "operator"

// Interpreted loads Lua script operators. A script qualifies when it defines
// a global table
//
//	operator = {
//	  command = "Add", title = "Add values", categories = {"Math"},
//	  scope = "generic", hidden = false, installable = true,
//	  parameters = { {name = "a", value = 1}, {name = "b", value = 2} },
//	  result = function(a, b) return a + b end,
//	}
//
// Anything else, including syntax and runtime errors, is not installable.
type Interpreted struct{}

// NewInterpreted creates the interpreted strategy.
func NewInterpreted() *Interpreted { return &Interpreted{} }

func (i *Interpreted) Load(a artifact.Artifact) (operator.Operator, artifact.Locator, error) {
	src, err := a.ReadAll()
	if err != nil {
		return nil, a.Locator, err
	}
	op, err := NewLuaOperator(src, a.Key())
	if err != nil {
		return nil, a.Locator, err
	}
	return op, a.Locator, nil
}

// LuaOperator runs its script in a fresh interpreter state per Result call,
// so no live state is held between invocations.
type LuaOperator struct {
	operator.Base
	source    []byte
	chunkName string
	scope     operator.Scope
	hidden    bool
}

// NewLuaOperator evaluates src once to read the operator description.
func NewLuaOperator(src []byte, chunkName string) (*LuaOperator, error) {
	L, err := newSandboxState()
	if err != nil {
		return nil, err
	}
	defer L.Close()

	tbl, err := evalOperatorTable(L, src, chunkName)
	if err != nil {
		return nil, err
	}
	if v := tbl.RawGetString("installable"); v != lua.LNil && lua.LVIsFalse(v) {
		return nil, fmt.Errorf("%w: installable = false", ErrNotInstallable)
	}
	command, ok := tbl.RawGetString("command").(lua.LString)
	if !ok || command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrNotInstallable)
	}
	if tbl.RawGetString("result").Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: result is not a function", ErrNotInstallable)
	}

	scope := operator.ScopeGeneric
	if s, ok := tbl.RawGetString("scope").(lua.LString); ok && s == "dataset" {
		scope = operator.ScopeDataSet
	}
	op := &LuaOperator{
		Base: operator.Base{
			Cmd:        string(command),
			Categories: operator.Categories(scope, stringList(tbl.RawGetString("categories"))...),
		},
		source:    src,
		chunkName: chunkName,
		scope:     scope,
		hidden:    lua.LVAsBool(tbl.RawGetString("hidden")),
	}
	if title, ok := tbl.RawGetString("title").(lua.LString); ok {
		op.Name = string(title)
	}
	if params, ok := tbl.RawGetString("parameters").(*lua.LTable); ok {
		for n := 1; n <= params.Len(); n++ {
			p, ok := params.RawGetInt(n).(*lua.LTable)
			if !ok {
				return nil, fmt.Errorf("%w: parameter %d is not a table", ErrNotInstallable, n)
			}
			name, ok := p.RawGetString("name").(lua.LString)
			if !ok || name == "" {
				return nil, fmt.Errorf("%w: parameter %d has no name", ErrNotInstallable, n)
			}
			op.Params = append(op.Params, operator.Parameter{Name: string(name), Value: fromLua(p.RawGetString("value"))})
		}
	}
	return op, nil
}

// FileName returns the script's artifact key.
func (op *LuaOperator) FileName() string { return op.chunkName }

func (op *LuaOperator) Scope() operator.Scope { return op.scope }

func (op *LuaOperator) IsHidden() bool { return op.hidden }

func (op *LuaOperator) Result() (result any, err error) {
	L, err := newSandboxState()
	if err != nil {
		return nil, err
	}
	defer L.Close()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("lua panic: %v", r)
		}
	}()

	tbl, err := evalOperatorTable(L, op.source, op.chunkName)
	if err != nil {
		return nil, err
	}
	fn := tbl.RawGetString("result")
	args := make([]lua.LValue, len(op.Params))
	for i, p := range op.Params {
		args[i] = toLua(L, p.Value)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op.Cmd, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// newSandboxState opens only the base, table, string and math libraries.
func newSandboxState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua library %s: %w", lib.name, err)
		}
	}
	// Not available in the sandbox.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}

func evalOperatorTable(L *lua.LState, src []byte, chunkName string) (tbl *lua.LTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			tbl, err = nil, fmt.Errorf("%w: lua panic: %v", ErrNotInstallable, r)
		}
	}()
	fn, err := L.Load(bytes.NewReader(src), chunkName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInstallable, err)
	}
	tbl, ok := L.GetGlobal(luaOperatorGlobal).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: no %q table", ErrNotInstallable, luaOperatorGlobal)
	}
	return tbl, nil
}

func stringList(v lua.LValue) []string {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for n := 1; n <= t.Len(); n++ {
		if s, ok := t.RawGetInt(n).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []float64:
		t := L.NewTable()
		for _, f := range val {
			t.Append(lua.LNumber(f))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, e := range val {
			t.Append(toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range val {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, e lua.LValue) {
			out[k.String()] = fromLua(e)
		})
		if len(out) == 0 {
			return []any{}
		}
		return out
	default:
		return nil
	}
}
