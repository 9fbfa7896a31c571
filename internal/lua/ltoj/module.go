package ltoj

import (
	"encoding/json"
	"reflect"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// OpenModule returns the loader of the json module:
//
//	json.to_json(value [, indent]) -> string
//	json.from_json(text) -> value
//
// Both raise a lua error on failure.
func OpenModule() lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"to_json":   encodeJSON,
			"from_json": decodeJSON,
		}))
		return 1
	}
}

func encodeJSON(L *lua.LState) int {
	obj := ToJSONValue(L.CheckAny(1))
	var buf []byte
	var err error
	if indent := L.OptInt(2, 0); indent > 0 {
		buf, err = json.MarshalIndent(obj, "", strings.Repeat(" ", indent))
	} else {
		buf, err = json.Marshal(obj)
	}
	if err != nil {
		L.RaiseError("json: unable to encode value, %v", err)
	}
	L.Push(lua.LString(buf))
	return 1
}

func decodeJSON(L *lua.LState) int {
	var obj interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &obj); err != nil {
		L.RaiseError("json: unable to decode value, %v", err)
	}
	if obj == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLuaValue(L, reflect.ValueOf(obj)))
	return 1
}
