package ltoj

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestToFromJSON(t *testing.T) {
	initialJSON := `{"user":{"id":"01ARZ3NDEKTSV4RRFFQ69G5FAV","username":"alice"},"counters":{"views":3},"flags":[true,false],"title":"Home"}`

	var initialMap map[string]interface{}
	var err error
	err = json.Unmarshal([]byte(initialJSON), &initialMap)
	if err != nil {
		t.Fatal(err)
	}
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer l.Close()
	val := ToLuaValue(l, initialMap)
	if val == nil {
		t.Fatal("Should have processed the value")
	}
	decodedMap := ToJSONValue(val)
	if decodedMap == nil {
		t.Fatal("Should have decoded the map")
	}
	buf, err := json.Marshal(decodedMap)
	if err != nil {
		t.Fatal(err)
	} else {
		assert.JSONEq(t, initialJSON, string(buf))
	}
	if !reflect.DeepEqual(decodedMap, initialMap) {
		t.Fatal("Lossy conversion")
	}
}

func TestNilsAndGoTypes(t *testing.T) {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer l.Close()
	var nilMap map[string]interface{}
	var nilPtr *struct{}
	val := ToLuaValue(l, map[string]interface{}{
		"missing": nil,
		"nilmap":  nilMap,
		"nilptr":  nilPtr,
		"views":   int64(3),
		"small":   uint8(7),
		"names":   []string{"alice", "bob"},
		"ids":     []int64{10, 20},
	})
	tbl := val.(*lua.LTable)
	require.Equal(t, lua.LNil, tbl.RawGetString("missing"))
	require.Equal(t, lua.LNil, tbl.RawGetString("nilmap"))
	require.Equal(t, lua.LNil, tbl.RawGetString("nilptr"))
	require.Equal(t, lua.LNumber(3), tbl.RawGetString("views"))
	require.Equal(t, lua.LNumber(7), tbl.RawGetString("small"))

	names := tbl.RawGetString("names").(*lua.LTable)
	require.Equal(t, 2, names.Len())
	require.Equal(t, lua.LString("alice"), names.RawGetInt(1))
	ids := tbl.RawGetString("ids").(*lua.LTable)
	require.Equal(t, lua.LNumber(20), ids.RawGetInt(2))

	require.NotNil(t, ToLuaValue(l, nil))
}

func TestModule(t *testing.T) {
	l := lua.NewState()
	defer l.Close()
	l.PreloadModule("json", OpenModule())
	err := l.DoString(`
	local json = require('json')
	local doc = json.from_json('{"views": 2}')
	if doc.views ~= 2 then
		error("unexpected views " .. tostring(doc.views))
	end
	doc.views = doc.views + 1
	result = json.to_json(doc)
	`)
	require.NoError(t, err)
	require.JSONEq(t, `{"views":3}`, l.GetGlobal("result").String())
}

func TestModuleArraysIndentAndErrors(t *testing.T) {
	l := lua.NewState()
	defer l.Close()
	l.PreloadModule("json", OpenModule())
	err := l.DoString(`
	local json = require('json')
	local list = json.from_json('["a", "b"]')
	if #list ~= 2 or list[2] ~= "b" then
		error("unexpected list")
	end
	if json.from_json('null') ~= nil then
		error("null should be nil")
	end
	pretty = json.to_json({ n = 1 }, 2)
	`)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"n\": 1\n}", l.GetGlobal("pretty").String())

	err = l.DoString(`require('json').from_json('{broken')`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "json: unable to decode value")
}
