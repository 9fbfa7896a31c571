package ltoj

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

var (
	stringSliceType = reflect.TypeOf([]string(nil))
	intSliceType    = reflect.TypeOf([]int64(nil))
)

// ToLuaValue takes a value that represents a JSON document and turns it
// into a Lua table.
//
// Nil values (including nil pointers and interfaces) become lua.LNil, so
// a view can test a field with a plain `if data.user then`. Values that
// cannot be represented are converted to their string form.
func ToLuaValue(L *lua.LState, val map[string]interface{}) lua.LValue {
	if val == nil {
		return L.NewTable()
	}
	return toLuaMap(L, reflect.ValueOf(val))
}

func toLuaMap(L *lua.LState, val reflect.Value) *lua.LTable {
	t := L.NewTable()
	iter := val.MapRange()
	for iter.Next() {
		lv := toLuaValue(L, iter.Value())
		if lv == lua.LNil {
			continue
		}
		L.SetTable(t, toLuaValue(L, iter.Key()), lv)
	}
	return t
}

func toLuaSlice(L *lua.LState, val reflect.Value) *lua.LTable {
	t := L.NewTable()
	switch val.Type() {
	case stringSliceType:
		for i, v := range val.Interface().([]string) {
			L.RawSetInt(t, i+1, lua.LString(v))
		}
	case intSliceType:
		for i, v := range val.Interface().([]int64) {
			L.RawSetInt(t, i+1, lua.LNumber(float64(v)))
		}
	default:
		sz := val.Len()
		for i := 0; i < sz; i++ {
			L.RawSetInt(t, i+1, toLuaValue(L, val.Index(i)))
		}
	}
	return t
}

func toLuaValue(L *lua.LState, v reflect.Value) lua.LValue {
	switch v.Kind() {
	case reflect.Invalid:
		return lua.LNil
	case reflect.Float64, reflect.Float32:
		return lua.LNumber(v.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(float64(v.Uint()))
	case reflect.String:
		return lua.LString(v.String())
	case reflect.Bool:
		return lua.LBool(v.Bool())
	case reflect.Map:
		if v.IsNil() {
			return lua.LNil
		}
		return toLuaMap(L, v)
	case reflect.Slice:
		if v.IsNil() {
			return lua.LNil
		}
		return toLuaSlice(L, v)
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return lua.LNil
		}
		return toLuaValue(L, v.Elem())
	}
	return lua.LString(v.String())
}
