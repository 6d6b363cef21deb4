package coroutine

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

const recursion = "*RECURSION*"

// bridge converts frame locals into Lua values.
type bridge struct {
	L *lua.LState
	// containers on the current conversion path
	path map[visitKey]bool
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// enter marks rv as being converted. It reports false when rv is already on
// the path, i.e. the value contains itself.
func (b *bridge) enter(rv reflect.Value) (leave func(), ok bool) {
	key := visitKey{typ: rv.Type()}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		key.ptr = rv.Pointer()
	case reflect.Slice:
		key.ptr, key.len = rv.Pointer(), rv.Len()
	default:
		return func() {}, true
	}
	if key.ptr == 0 {
		return func() {}, true
	}
	if b.path == nil {
		b.path = map[visitKey]bool{}
	}
	if b.path[key] {
		return nil, false
	}
	b.path[key] = true
	return func() { delete(b.path, key) }, true
}

func (b *bridge) toLua(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case lua.LValue:
		return val
	case fmt.Stringer:
		return lua.LString(val.String())
	default:
		return b.reflectToLua(reflect.ValueOf(v))
	}
}

func (b *bridge) reflectToLua(rv reflect.Value) lua.LValue {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		leave, ok := b.enter(rv)
		if !ok {
			return lua.LString(recursion)
		}
		defer leave()
		return b.reflectToLua(rv.Elem())
	case reflect.Slice, reflect.Array:
		leave, ok := b.enter(rv)
		if !ok {
			return lua.LString(recursion)
		}
		defer leave()
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.toLua(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		leave, ok := b.enter(rv)
		if !ok {
			return lua.LString(recursion)
		}
		defer leave()
		t := b.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSetString(fmt.Sprint(iter.Key().Interface()), b.toLua(iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		t := b.L.NewTable()
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			if !rt.Field(i).IsExported() {
				continue
			}
			t.RawSetString(rt.Field(i).Name, b.toLua(rv.Field(i).Interface()))
		}
		return t
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	default:
		return lua.LString(fmt.Sprintf("%v", rv.Interface()))
	}
}
