package luadefaults

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// InjectViewLibs loads the libraries a view script may use into the given
// *lua.LState. Views get no io, os or debug access; everything else must
// come from modules preloaded by the caller.
func InjectViewLibs(L *lua.LState) error {
	for _, pair := range []struct {
		n string
		f lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // Must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.f),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.n)); err != nil {
			return fmt.Errorf("unable to open lua library %v, cause %w", pair.n, err)
		}
	}
	// base exposes file loaders, views only run embedded code
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}
