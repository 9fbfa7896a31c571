// Package views renders HTML pages from Lua scripts.
//
// Every view is a Lua chunk that reads the global `data` and returns a
// table with a `title` and a `body`. The result is then passed, as the
// global `page`, to the `layout` chunk which returns the final document.
package views

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/andrebq/turnstile/internal/logutil"
	"github.com/andrebq/turnstile/internal/lua/bindings/httplua"
	"github.com/andrebq/turnstile/internal/lua/ltoj"
	"github.com/andrebq/turnstile/internal/lua/luadefaults"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

type (
	Page struct {
		Title string
		Body  string
	}

	// Renderer compiles every script once and runs them on a fresh Lua
	// state per render.
	Renderer struct {
		protos  map[string]*lua.FunctionProto
		timeout time.Duration
	}

	ViewNotFound struct {
		Name string
	}
)

const (
	LayoutView = "layout"

	DefaultRenderTimeout = time.Second
)

var (
	//go:embed scripts/*.lua
	embedded embed.FS
)

func (v ViewNotFound) Error() string {
	return fmt.Sprintf("view %v not found", v.Name)
}

// Default returns a Renderer with the built-in views.
func Default() (*Renderer, error) {
	sub, err := fs.Sub(embedded, "scripts")
	if err != nil {
		return nil, err
	}
	return New(sub)
}

// FromDir loads the views from dir, falling back to the built-in view of
// the same name when dir does not provide one.
func FromDir(dir string) (*Renderer, error) {
	if dir == "" {
		return Default()
	}
	sub, err := fs.Sub(embedded, "scripts")
	if err != nil {
		return nil, err
	}
	return New(overlay{top: os.DirFS(dir), bottom: sub})
}

// New compiles every *.lua file at the root of fsys. A layout view is
// required.
func New(fsys fs.FS) (*Renderer, error) {
	names, err := fs.Glob(fsys, "*.lua")
	if err != nil {
		return nil, fmt.Errorf("unable to list views, cause %w", err)
	}
	r := &Renderer{
		protos:  make(map[string]*lua.FunctionProto, len(names)),
		timeout: DefaultRenderTimeout,
	}
	for _, n := range names {
		proto, err := compile(fsys, n)
		if err != nil {
			return nil, err
		}
		r.protos[n[:len(n)-len(path.Ext(n))]] = proto
	}
	if _, ok := r.protos[LayoutView]; !ok {
		return nil, ViewNotFound{Name: LayoutView}
	}
	return r, nil
}

func compile(fsys fs.FS, name string) (*lua.FunctionProto, error) {
	code, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("unable to read view %v, cause %w", name, err)
	}
	chunk, err := parse.Parse(bytes.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("unable to parse view %v, cause %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("unable to compile view %v, cause %w", name, err)
	}
	return proto, nil
}

// Has reports whether a view with the given name exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.protos[name]
	return ok
}

// Render runs the view and writes the complete document with the given
// status. Nothing is written when rendering fails.
func (r *Renderer) Render(w http.ResponseWriter, req *http.Request, status int, view string, data map[string]interface{}) error {
	doc, err := r.Document(req.Context(), req, view, data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(status)
	_, err = w.Write(doc)
	return err
}

// Document renders view inside the layout and returns the result.
func (r *Renderer) Document(ctx context.Context, req *http.Request, view string, data map[string]interface{}) ([]byte, error) {
	proto, ok := r.protos[view]
	if !ok || view == LayoutView {
		return nil, ViewNotFound{Name: view}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	L, err := r.state(ctx, req)
	if err != nil {
		return nil, err
	}
	defer L.Close()

	L.SetGlobal("data", ltoj.ToLuaValue(L, data))
	ret, err := run(L, proto)
	if err != nil {
		return nil, fmt.Errorf("unable to run view %v, cause %w", view, err)
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("view %v returned %v instead of a table", view, ret.Type())
	}
	var page Page
	if err := gluamapper.Map(tbl, &page); err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Debug().Interface("page", ltoj.ToJSONValue(tbl)).Str("view", view).Msg("Unexpected page shape")
		return nil, fmt.Errorf("view %v returned an invalid page, cause %w", view, err)
	}

	pageTbl := L.NewTable()
	L.SetField(pageTbl, "title", lua.LString(page.Title))
	L.SetField(pageTbl, "body", lua.LString(page.Body))
	L.SetGlobal("page", pageTbl)
	ret, err = run(L, r.protos[LayoutView])
	if err != nil {
		return nil, fmt.Errorf("unable to run layout, cause %w", err)
	}
	doc, ok := ret.(lua.LString)
	if !ok {
		return nil, fmt.Errorf("layout returned %v instead of a string", ret.Type())
	}
	return []byte(doc), nil
}

func (r *Renderer) state(ctx context.Context, req *http.Request) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: true,
	})
	if err := luadefaults.InjectViewLibs(L); err != nil {
		L.Close()
		return nil, err
	}
	L.SetContext(ctx)
	L.PreloadModule("html", OpenHTML)
	L.PreloadModule("json", ltoj.OpenModule())
	L.PreloadModule("request", httplua.OpenRequest(req))
	return L, nil
}

func run(L *lua.LState, proto *lua.FunctionProto) (lua.LValue, error) {
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Type == lua.ApiErrorRun {
			return nil, fmt.Errorf("%v", apiErr.Object)
		}
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}
