package views

import (
	"html"

	lua "github.com/yuin/gopher-lua"
)

// OpenHTML is the `html` module available to views.
func OpenHTML(L *lua.LState) int {
	module := L.NewTable()
	L.SetFuncs(module, map[string]lua.LGFunction{
		"escape": func(L *lua.LState) int {
			v := L.Get(1)
			if v == lua.LNil {
				L.Push(lua.LString(""))
				return 1
			}
			L.Push(lua.LString(html.EscapeString(L.ToString(1))))
			return 1
		},
	})
	L.Push(module)
	return 1
}
