package validator

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// luaValidator runs a script defining a global validate(filename, content, root).
// Returning a non-empty string rejects with that message; returning false or
// raising an error fails without one.
type luaValidator struct {
	name  string
	proto *lua.FunctionProto
	opts  Options
}

func newLuaValidator(name, source string, opts Options) (*luaValidator, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	v := &luaValidator{name: name, proto: proto, opts: opts}

	L := newSandboxedState()
	defer L.Close()
	if _, err := v.load(L); err != nil {
		return nil, err
	}
	return v, nil
}

// newSandboxedState opens only the libraries a content check needs.
func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       128,
		MinimizeStackMemory: true,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (v *luaValidator) load(L *lua.LState) (lua.LValue, error) {
	L.Push(L.NewFunctionFromProto(v.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", v.name, err)
	}
	fn := L.GetGlobal("validate")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%s: no validate function defined", v.name)
	}
	return fn, nil
}

func (v *luaValidator) Validate(ctx context.Context, filename, content, root string) error {
	ctx, cancel := withTimeout(ctx, v.opts.timeout())
	defer cancel()

	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)

	fn, err := v.load(L)
	if err != nil {
		return err
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(filename), lua.LString(content), lua.LString(root)); err != nil {
		return fmt.Errorf("%s: %w", v.name, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch r := ret.(type) {
	case lua.LString:
		if r == "" {
			return nil
		}
		return &ValidationError{Message: string(r)}
	case lua.LBool:
		if !bool(r) {
			return fmt.Errorf("%s: rejected without a reason", v.name)
		}
	}
	return nil
}
