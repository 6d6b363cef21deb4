package coroutine

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceOrderAndSelfFrame(t *testing.T) {
	s := NewScheduler(context.Background())
	var self, other []Frame
	var depth int
	target := s.Run(func(co *Coroutine) {
		co.Call(Frame{Function: "outer", File: "/src/demo.go"}, func() {
			co.Stmt(3)
			co.Call(Frame{Class: "demo.Worker", Function: "inner", File: "/src/demo.go", Args: []any{1}}, func() {
				co.Stmt(10)
				self = co.Trace(0, 0)
				depth = co.TraceDepth()
				co.Yield()
			})
		})
	})
	s.Run(func(co *Coroutine) {
		for target.State() != StateWaiting {
			require.NoError(t, co.Sleep(time.Millisecond))
		}
		other = target.Trace(0, 0)
		require.NoError(t, target.Resume())
	})
	waitAll(t, s)

	require.Len(t, self, 4)
	assert.Equal(t, Frame{Class: TraceClass, Function: "Trace"}, self[0])
	assert.Equal(t, "inner", self[1].Function)
	assert.Equal(t, 10, self[1].Line)
	assert.Equal(t, "outer", self[2].Function)
	assert.Equal(t, 3, self[2].Line)
	assert.Equal(t, "{main}", self[3].Function)
	assert.Equal(t, 3, depth)

	require.Len(t, other, 3)
	assert.Equal(t, "inner", other[0].Function)
	assert.Equal(t, []any{1}, other[0].Args)
}

func TestTraceOffsetLimit(t *testing.T) {
	s := NewScheduler(context.Background())
	var trace, beyond []Frame
	s.Run(func(co *Coroutine) {
		co.Enter(Frame{Function: "a"})
		co.Enter(Frame{Function: "b"})
		trace = co.Trace(1, 1)
		beyond = co.Trace(10, 0)
		co.Leave()
		co.Leave()
		co.Leave()
		assert.Equal(t, 1, co.TraceDepth())
	})
	waitAll(t, s)
	require.Len(t, trace, 1)
	assert.Equal(t, "b", trace[0].Function)
	assert.Empty(t, beyond)
}

func TestStatementHookFrame(t *testing.T) {
	s := NewScheduler(context.Background())
	var seen []Frame
	remove := s.AddStatementHook(Frame{Class: "demo.Hook", Function: "onStatement"}, func(co *Coroutine) {
		f, ok := co.ExecutedFrame(0)
		require.True(t, ok)
		user, ok := co.ExecutedFrame(1)
		require.True(t, ok)
		seen = append(seen, f, user)
	})
	s.Run(func(co *Coroutine) {
		co.Call(Frame{Function: "work", File: "w.go"}, func() {
			co.Stmt(7)
			remove()
			co.Stmt(8)
		})
	})
	waitAll(t, s)
	require.Len(t, seen, 2)
	assert.Equal(t, "onStatement", seen[0].Function)
	assert.Equal(t, "demo.Hook", seen[0].Class)
	assert.Equal(t, "work", seen[1].Function)
	assert.Equal(t, 7, seen[1].Line)
}

func TestFuncAndLine(t *testing.T) {
	s := NewScheduler(context.Background())
	var f Frame
	var value string
	var line int
	s.Run(func(co *Coroutine) {
		co.Func("demo", "add", "a", 1, "b", 2)
		_, _, line, _ = runtime.Caller(0)
		co.Line()
		f, _ = co.ExecutedFrame(0)
		var err error
		value, err = co.Eval("a + b", 1)
		assert.NoError(t, err)
		co.Leave()
	})
	waitAll(t, s)

	assert.Equal(t, "add", f.Function)
	assert.Equal(t, "demo", f.Class)
	assert.Equal(t, []any{1, 2}, f.Args)
	assert.Equal(t, "frame_test.go", filepath.Base(f.File))
	assert.Equal(t, line+1, f.Line)
	assert.Equal(t, "int(3)\n", value)
}
