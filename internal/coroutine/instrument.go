package coroutine

import (
	"fmt"
	"runtime"
)

// Func enters a frame for the calling Go function. File and Line come from
// the call site; kv are name/value pairs bound as the frame's arguments and
// locals. The caller must Leave when it returns.
func (co *Coroutine) Func(class, function string, kv ...any) {
	_, file, line, _ := runtime.Caller(1)
	f := Frame{Function: function, Class: class, File: file, Line: line}
	vars := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name := fmt.Sprint(kv[i])
		f.Args = append(f.Args, kv[i+1])
		vars[name] = kv[i+1]
	}
	co.Enter(f)
	for name, v := range vars {
		co.Set(name, v)
	}
}

// Line marks the caller's line as the statement being executed.
func (co *Coroutine) Line() {
	_, _, line, _ := runtime.Caller(1)
	co.Stmt(line)
}
