package coroutine

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// TraceClass is the class of the frame added on top of a trace a coroutine
// takes of itself.
const TraceClass = "coroutine.Coroutine"

// Frame is one logical call-stack entry. File is empty for frames that have
// no source, Line is the statement being executed.
type Frame struct {
	Function string
	Class    string
	Args     []any
	File     string
	Line     int
}

type frame struct {
	Frame
	vars map[string]any
}

// Enter pushes a call frame.
func (co *Coroutine) Enter(f Frame) {
	co.mu.Lock()
	co.frames = append(co.frames, &frame{Frame: f, vars: map[string]any{}})
	co.mu.Unlock()
}

// Leave pops the innermost call frame. The entry frame is never popped.
func (co *Coroutine) Leave() {
	co.mu.Lock()
	if len(co.frames) > 1 {
		co.frames[len(co.frames)-1] = nil
		co.frames = co.frames[:len(co.frames)-1]
	}
	co.mu.Unlock()
}

// Call runs body inside f.
func (co *Coroutine) Call(f Frame, body func()) {
	co.Enter(f)
	defer co.Leave()
	body()
}

// Set binds a local variable in the innermost frame.
func (co *Coroutine) Set(name string, value any) {
	co.mu.Lock()
	if n := len(co.frames); n > 0 {
		co.frames[n-1].vars[name] = value
	}
	co.mu.Unlock()
}

// Stmt marks the start of the statement at line in the innermost frame and
// runs the statement hooks.
func (co *Coroutine) Stmt(line int) {
	co.mu.Lock()
	if n := len(co.frames); n > 0 {
		co.frames[n-1].Line = line
	}
	co.mu.Unlock()

	for _, h := range co.sched.statementHooks() {
		co.Call(h.frame, func() { h.fn(co) })
	}
}

// Trace returns up to limit frames, innermost first, skipping offset
// frames. limit <= 0 means no limit. When the coroutine traces itself the
// first entry is the frame of the Trace call.
func (co *Coroutine) Trace(offset, limit int) []Frame {
	co.mu.Lock()
	trace := make([]Frame, 0, len(co.frames)+1)
	if co.sched.current.Load() == co {
		trace = append(trace, Frame{Class: TraceClass, Function: "Trace"})
	}
	for i := len(co.frames) - 1; i >= 0; i-- {
		f := co.frames[i].Frame
		f.Args = append([]any(nil), f.Args...)
		trace = append(trace, f)
	}
	co.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(trace) {
		return nil
	}
	trace = trace[offset:]
	if limit > 0 && limit < len(trace) {
		trace = trace[:limit]
	}
	return trace
}

// TraceDepth is the number of logical frames between the current statement
// and the entry point.
func (co *Coroutine) TraceDepth() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.frames)
}

// ExecutedFrame returns the logical frame at level, 0 being the innermost.
func (co *Coroutine) ExecutedFrame(level int) (Frame, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	i := len(co.frames) - 1 - level
	if level < 0 || i < 0 {
		return Frame{}, false
	}
	return co.frames[i].Frame, true
}

// frameVars returns a copy of the locals visible at an execution level:
// level 0 is the evaluation itself, level n the logical frame n-1.
func (co *Coroutine) frameVars(level int) (map[string]any, error) {
	vars := map[string]any{}
	if level == 0 {
		return vars, nil
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	i := len(co.frames) - level
	if level < 0 || i < 0 {
		return nil, fmt.Errorf("%w: execution level %d exceeds trace depth %d", errdefs.ErrOutOfRange, level, len(co.frames))
	}
	for k, v := range co.frames[i].vars {
		vars[k] = v
	}
	return vars, nil
}
