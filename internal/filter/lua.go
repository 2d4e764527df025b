package filter

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaFilter delegates decisions to a Lua script. The script may define
// global functions is_area_relation(tags) and is_area_way(tags); a missing
// function falls back to the wrapped filter.
type LuaFilter struct {
	L        *lua.LState
	mu       sync.Mutex
	relation lua.LValue
	way      lua.LValue
	fallback Filter
}

// NewLuaFilter creates an empty Lua runtime. Load a script before use.
func NewLuaFilter(fallback Filter) *LuaFilter {
	if fallback == nil {
		fallback = NewTagFilter(nil)
	}
	return &LuaFilter{
		L:        lua.NewState(lua.Options{SkipOpenLibs: false}),
		relation: lua.LNil,
		way:      lua.LNil,
		fallback: fallback,
	}
}

// Close releases Lua resources
func (f *LuaFilter) Close() {
	f.L.Close()
}

// LoadFile loads and executes a Lua filter script
func (f *LuaFilter) LoadFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	f.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (f *LuaFilter) LoadString(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	f.extractCallbacks()
	return nil
}

func (f *LuaFilter) extractCallbacks() {
	f.relation = f.L.GetGlobal("is_area_relation")
	f.way = f.L.GetGlobal("is_area_way")
}

func (f *LuaFilter) IsAreaRelation(tags map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relation.Type() != lua.LTFunction {
		return f.fallback.IsAreaRelation(tags)
	}
	return f.call(f.relation, tags)
}

func (f *LuaFilter) IsAreaWay(tags map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.way.Type() != lua.LTFunction {
		return f.fallback.IsAreaWay(tags)
	}
	return f.call(f.way, tags)
}

// call runs fn(tags) and converts the result with Lua truthiness.
func (f *LuaFilter) call(fn lua.LValue, tags map[string]string) (bool, error) {
	tbl := f.L.NewTable()
	for k, v := range tags {
		tbl.RawSetString(k, lua.LString(v))
	}
	if err := f.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		return false, fmt.Errorf("lua callback error: %w", err)
	}
	ret := f.L.Get(-1)
	f.L.Pop(1)
	return lua.LVAsBool(ret), nil
}
