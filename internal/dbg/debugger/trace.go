package debugger

import (
	"path/filepath"
	"strings"
	"sync"

	"gni.dev/sdb/internal/coroutine"
)

// FrameClass is the class of every frame the debugger pushes onto a
// coroutine it inspects or suspends.
const FrameClass = "sdb.Debugger"

func isDebuggerFrame(f coroutine.Frame) bool {
	return f.Class == FrameClass || strings.HasPrefix(f.Class, FrameClass+".")
}

// TraceInspector hides debugger frames from traces so frame numbers match
// the user's code.
type TraceInspector struct {
	sched    *coroutine.Scheduler
	contexts *Contexts

	mu         sync.Mutex
	diffLevels map[string]int
}

func NewTraceInspector(sched *coroutine.Scheduler, contexts *Contexts) *TraceInspector {
	return &TraceInspector{
		sched:      sched,
		contexts:   contexts,
		diffLevels: map[string]int{},
	}
}

// DiffLevel is the number of debugger frames on top of co's trace, one less
// when co inspects itself since the trace call adds its own frame. The value
// is cached per key: a key must always be used from the same call depth.
func (ti *TraceInspector) DiffLevel(co *coroutine.Coroutine, key string) int {
	ti.mu.Lock()
	level, ok := ti.diffLevels[key]
	ti.mu.Unlock()
	if ok {
		return level
	}

	deepest := -1
	for i, f := range co.Trace(0, 0) {
		if isDebuggerFrame(f) {
			deepest = i
		}
	}
	level = deepest + 1
	if co == ti.sched.Current() && level > 0 {
		level--
	}

	ti.mu.Lock()
	ti.diffLevels[key] = level
	ti.mu.Unlock()
	return level
}

// traceLevel is the number of frames to skip when showing co.
func (ti *TraceInspector) traceLevel(co *coroutine.Coroutine) int {
	if ti.contexts.Get(co).Stopped() {
		return ti.DiffLevel(co, "traceLevel")
	}
	return 0
}

// executionLevel maps trace level to the evaluation level of frame 0.
func (ti *TraceInspector) executionLevel(co *coroutine.Coroutine) int {
	return ti.traceLevel(co) + 1
}

// Trace returns the trace of co as the user sees it.
func (ti *TraceInspector) Trace(co *coroutine.Coroutine) []coroutine.Frame {
	return co.Trace(ti.traceLevel(co), 0)
}

// Frame returns the frame at index of the user visible trace.
func (ti *TraceInspector) Frame(co *coroutine.Coroutine, index int) (coroutine.Frame, bool) {
	trace := co.Trace(ti.traceLevel(co)+index, 1)
	if len(trace) == 0 {
		return coroutine.Frame{}, false
	}
	return trace[0], true
}

func (ti *TraceInspector) stateName(co *coroutine.Coroutine) string {
	if ti.contexts.Get(co).Stopped() {
		return "stopped"
	}
	return co.StateName()
}

// SimpleInfo summarises co. withTrace adds what frame 0 is executing and
// where.
func (ti *TraceInspector) SimpleInfo(co *coroutine.Coroutine, withTrace bool) Row {
	info := Row{
		{"id", co.ID()},
		{"state", ti.stateName(co)},
		{"switches", co.Switches()},
		{"elapsed", co.ElapsedString()},
	}
	if !withTrace {
		return info
	}
	f, _ := ti.Frame(co, 0)
	position := "<internal space>"
	if f.File != "" {
		position = sourcePosition(coroutine.Frame{File: filepath.Base(f.File), Line: f.Line})
	}
	return append(info,
		Cell{"executing", executingString(f)},
		Cell{"source_position", position},
	)
}
