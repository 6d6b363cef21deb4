package coroutine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	lua "github.com/yuin/gopher-lua"
)

// Eval evaluates a Lua expression or chunk with the locals of the frame at
// level bound as globals and returns the dumped result. Level 0 is the
// evaluation's own frame, level n the logical frame n-1. locals() returns a
// table of the frame locals.
func (co *Coroutine) Eval(expr string, level int) (string, error) {
	vars, err := co.frameVars(level)
	if err != nil {
		return "", err
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibraries(L)

	b := &bridge{L: L}
	for name, v := range vars {
		L.SetGlobal(name, b.toLua(v))
	}
	L.SetGlobal("locals", L.NewFunction(func(L *lua.LState) int {
		L.Push(b.toLua(vars))
		return 1
	}))

	fn, err := L.LoadString("return " + expr)
	if err != nil {
		fn, err = L.LoadString(expr)
		if err != nil {
			return "", fmt.Errorf("%w: %s", errdefs.ErrInvalidArgument, err)
		}
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	if L.GetTop() == 0 {
		return Dump(lua.LNil), nil
	}
	return Dump(L.Get(1)), nil
}

func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Dump renders a Lua value in var_dump style.
func Dump(v lua.LValue) string {
	var sb strings.Builder
	dump(&sb, v, 0, map[*lua.LTable]bool{})
	return sb.String()
}

func dump(sb *strings.Builder, v lua.LValue, depth int, visited map[*lua.LTable]bool) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case *lua.LNilType:
		sb.WriteString(indent + "NULL\n")
	case lua.LBool:
		fmt.Fprintf(sb, "%sbool(%t)\n", indent, bool(val))
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			fmt.Fprintf(sb, "%sint(%d)\n", indent, int64(f))
		} else {
			fmt.Fprintf(sb, "%sfloat(%s)\n", indent, strconv.FormatFloat(f, 'g', -1, 64))
		}
	case lua.LString:
		fmt.Fprintf(sb, "%sstring(%d) \"%s\"\n", indent, len(val), string(val))
	case *lua.LTable:
		if visited[val] {
			sb.WriteString(indent + "*RECURSION*\n")
			return
		}
		visited[val] = true
		defer delete(visited, val)

		keys := tableKeys(val)
		fmt.Fprintf(sb, "%sarray(%d) {\n", indent, len(keys))
		for _, k := range keys {
			if n, ok := k.(lua.LNumber); ok {
				fmt.Fprintf(sb, "%s  [%s]=>\n", indent, n.String())
			} else {
				fmt.Fprintf(sb, "%s  [%q]=>\n", indent, k.String())
			}
			dump(sb, val.RawGet(k), depth+1, visited)
		}
		sb.WriteString(indent + "}\n")
	default:
		fmt.Fprintf(sb, "%sobject(%s)\n", indent, v.Type().String())
	}
}

// tableKeys orders numeric keys first, ascending, then the rest by name.
func tableKeys(t *lua.LTable) []lua.LValue {
	var keys []lua.LValue
	t.ForEach(func(k, _ lua.LValue) {
		keys = append(keys, k)
	})
	sort.SliceStable(keys, func(i, j int) bool {
		ni, iNum := keys[i].(lua.LNumber)
		nj, jNum := keys[j].(lua.LNumber)
		switch {
		case iNum && jNum:
			return ni < nj
		case iNum != jNum:
			return iNum
		default:
			return keys[i].String() < keys[j].String()
		}
	})
	return keys
}
