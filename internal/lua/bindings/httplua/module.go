package httplua

import (
	"net/http"

	lua "github.com/yuin/gopher-lua"
)

// OpenRequest exposes a read only view of req to Lua code:
//
//	local request = require('request')
//	request.method, request.path
//	request.query('name')
//
// The request body is never exposed.
func OpenRequest(req *http.Request) lua.LGFunction {
	return func(L *lua.LState) int {
		module := L.NewTable()
		if req != nil {
			L.SetField(module, "method", lua.LString(req.Method))
			L.SetField(module, "path", lua.LString(req.URL.Path))
		} else {
			L.SetField(module, "method", lua.LString(""))
			L.SetField(module, "path", lua.LString("/"))
		}
		L.SetField(module, "query", L.NewFunction(func(L *lua.LState) int {
			name := L.CheckString(1)
			if req == nil {
				L.Push(lua.LNil)
				return 1
			}
			val := req.URL.Query().Get(name)
			if val == "" {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LString(val))
			}
			return 1
		}))
		L.Push(module)
		return 1
	}
}
