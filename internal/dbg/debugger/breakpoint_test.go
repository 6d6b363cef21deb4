package debugger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg/test"
	"gni.dev/sdb/internal/dbg/test/fixtures"
)

func worker(co *coroutine.Coroutine) {
	fixtures.Worker(co, 1000)
}

func TestBreakpointStopsOnlyTarget(t *testing.T) {
	h := newHarness(t)
	target := h.spawn(worker)
	other := h.spawn(fixtures.Spinner)
	h.start()

	line := test.Line(t, "program", "add")
	pattern := fmt.Sprintf("program.go:%d", line)
	out := h.exec("b " + pattern)
	assert.Contains(t, out, "Added global break-point <"+pattern+">")

	h.waitStopped(target)
	h.waitOutput(fmt.Sprintf("Hit breakpoint <%s> on Coroutine#%d", pattern, target.ID()))

	switches := other.Switches()
	require.Eventually(t, func() bool { return other.Switches() > switches }, 5*time.Second, time.Millisecond)
	assert.False(t, h.d.Contexts().Get(other).Stopped())
	assert.True(t, h.d.Contexts().Get(target).Stopped())

	out = h.exec("ps")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "fixtures::Add(0, 0)")
	assert.Contains(t, out, "fixtures::Spinner()")
	assert.Contains(t, out, fmt.Sprintf("program.go(%d)", line))
}

func TestBreakpointMatchForms(t *testing.T) {
	f := coroutine.Frame{Class: "fixtures", Function: "Add", File: "/src/fixtures/program.go", Line: 7}
	assert.Equal(t, "fixtures::Add", qualifiedName(f))
	assert.Equal(t, "Add", baseName(qualifiedName(f)))
	assert.Equal(t, "Add", baseName(`App\Math::Add`))
	assert.Equal(t, "Add", baseName("pkg.Add"))
	assert.Equal(t, "main", qualifiedName(coroutine.Frame{Function: "main"}))
}

func TestBreakpointByFunction(t *testing.T) {
	h := newHarness(t)
	target := h.spawn(worker)
	h.start()

	h.exec("breakpoint Add")
	h.waitStopped(target)
	h.exec(fmt.Sprintf("co %d", target.ID()))

	// third call: i=2, total=0+1
	for range 2 {
		h.exec("c")
		h.waitOutput(fmt.Sprintf("Coroutine#%d continue to run...", target.ID()))
		h.waitStopped(target)
	}
	require.Eventually(t, func() bool {
		return strings.Count(h.io.output(), "Hit breakpoint <Add>") == 3
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "int(3)", h.exec("p a + b"))
	assert.Contains(t, h.exec("vars"), `["b"]=>`)

	out := h.exec("f 1")
	assert.Contains(t, out, "Switch to frame 1")
	assert.Contains(t, out, "fixtures::Worker(1000)")
	assert.Equal(t, "int(2)", h.exec("p i"))
	assert.Equal(t, "int(1)", h.exec("print total"))
}

func TestStepOverAndInto(t *testing.T) {
	h := newHarness(t)
	target := h.spawn(worker)
	h.start()

	loop := test.Line(t, "program", "loop")
	add := test.Line(t, "program", "add")
	after := test.Line(t, "program", "after")

	h.exec(fmt.Sprintf("b %s:%d", test.Fixture("program"), loop))
	h.waitStopped(target)
	out := h.exec(fmt.Sprintf("coroutine %d", target.ID()))
	assert.Contains(t, out, fmt.Sprintf("%d->", loop))

	steps := []struct {
		command string
		line    int
		inAdd   bool
	}{
		{"s", add, true},
		{"n", after, false},
		{"n", loop, false},
		// step over the Add call
		{"n", after, false},
		{"s", loop, false},
		{"step_in", add, true},
	}
	for i, step := range steps {
		out := h.exec(step.command)
		assert.Contains(t, out, fmt.Sprintf("%d->", step.line), "step #%d", i)
		assert.Equal(t, step.inAdd, strings.Contains(out, "fixtures::Add("), "step #%d", i)
		assert.True(t, h.d.Contexts().Get(target).Stopped(), "step #%d", i)
	}

	out = h.exec("c")
	assert.Contains(t, out, "continue to run...")
	assert.False(t, h.d.Contexts().Get(target).StopPending())
	h.waitStopped(target)
}

func TestNotInDebugging(t *testing.T) {
	h := newHarness(t)
	target := h.spawn(fixtures.Spinner)
	h.start()

	h.exec(fmt.Sprintf("co %d", target.ID()))
	assert.Equal(t, "Not in debugging", h.exec("n"))
	assert.Equal(t, "Not in debugging", h.exec("continue"))
}

func TestAttach(t *testing.T) {
	h := newHarness(t)
	target := h.spawn(fixtures.Spinner)
	h.start()

	out := h.exec(fmt.Sprintf("attach %d", target.ID()))
	assert.Contains(t, out, "fixtures::Spinner()")
	h.waitStopped(target)

	out = h.exec("n")
	assert.Contains(t, out, fmt.Sprintf("%d->", test.Line(t, "program", "spin")))

	assert.Equal(t, "Attach debugger is not allowed", h.exec(fmt.Sprintf("attach %d", h.control.ID())))
}

func TestWaitStoppedInterrupted(t *testing.T) {
	h := newHarness(t)
	idle := h.spawn(fixtures.Idle)
	h.start()

	h.exec(fmt.Sprintf("attach %d", idle.ID()))
	require.NoError(t, h.interrupts.Push(nil, struct{}{}))
	assert.Equal(t, "Cancelled", h.exec("n"))

	entry, ok := h.log.find("wait for stopped coroutine interrupted")
	require.True(t, ok)
	assert.EqualValues(t, idle.ID(), entry.Fields["coroutine"])
}
