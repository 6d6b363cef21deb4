package debugger

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg"
)

const stoppedPollInterval = 100 * time.Millisecond

// AddBreakpoint adds a global breakpoint. A pattern is file:line,
// basename:line, a qualified function name or a bare function name.
func (d *Debugger) AddBreakpoint(pattern string) {
	d.ensureStatementHook()
	d.bpMu.Lock()
	d.breakpoints = append(d.breakpoints, pattern)
	d.bpMu.Unlock()
	d.log.Info("breakpoint added", "breakpoint", pattern)
}

// Breakpoints returns the active breakpoint patterns.
func (d *Debugger) Breakpoints() []string {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	return append([]string(nil), d.breakpoints...)
}

func (d *Debugger) ensureStatementHook() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if d.removeHook != nil {
		return
	}
	d.removeHook = d.sched.AddStatementHook(coroutine.Frame{Class: FrameClass, Function: "handleStatement"}, d.handleStatement)
	d.log.Debug("statement hook installed")
}

// handleStatement runs before every statement of every coroutine once a
// breakpoint or attach has been requested.
func (d *Debugger) handleStatement(co *coroutine.Coroutine) {
	dc := d.contexts.Get(co)
	if dc.StopPending() {
		depth := co.TraceDepth() - d.traces.DiffLevel(co, "handleStatement")
		if int64(depth) <= d.lastTraceDepth.Load() {
			d.Break(co)
		}
		return
	}

	// level 0 is this hook, level 1 the statement being executed
	f, ok := co.ExecutedFrame(1)
	if !ok {
		return
	}
	function := qualifiedName(f)
	baseFunction := baseName(function)
	var fullPosition, basePosition string
	if f.File != "" {
		fullPosition = fmt.Sprintf("%s:%d", f.File, f.Line)
		basePosition = fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	for _, bp := range d.Breakpoints() {
		if bp == "" {
			continue
		}
		if bp == basePosition || bp == baseFunction || bp == function || bp == fullPosition {
			d.out(fmt.Sprintf("Hit breakpoint <%s> on Coroutine#%d", bp, co.ID()))
			dc.stop.Store(true)
			d.Break(co)
			return
		}
	}
}

// Break suspends co, which must be the running coroutine, until another
// coroutine resumes it.
func (d *Debugger) Break(co *coroutine.Coroutine) {
	co.Call(coroutine.Frame{Class: FrameClass, Function: "Break"}, func() {
		dc := d.contexts.Get(co)
		dc.stopped.Store(true)
		defer dc.stopped.Store(false)
		co.Yield()
	})
}

// resume lets a suspended coroutine continue. stopped is cleared up front
// so a following wait does not observe the previous suspension.
func (d *Debugger) resume(target *coroutine.Coroutine) error {
	d.contexts.Get(target).stopped.Store(false)
	return target.Resume()
}

// waitStoppedCoroutine blocks co until target is suspended. SIGINT cancels
// the wait.
func (d *Debugger) waitStoppedCoroutine(co, target *coroutine.Coroutine) error {
	dc := d.contexts.Get(target)
	if dc.Stopped() {
		return nil
	}

	signals := coroutine.NewChannel(1)
	listener := d.sched.Run(func(l *coroutine.Coroutine) {
		// always listening so no interrupt slips through between polls
		if err := d.interrupt(l); err != nil {
			return
		}
		_ = signals.Push(l, struct{}{})
	})
	defer listener.Kill()

	for !dc.Stopped() {
		if !target.IsAlive() {
			return dbg.FailedPrecondition("Coroutine#%d has exited", target.ID())
		}
		_, err := signals.Pop(co, stoppedPollInterval)
		if err == nil {
			d.log.Info("wait for stopped coroutine interrupted", "coroutine", target.ID())
			return dbg.ErrCancelled
		}
		if !errors.Is(err, coroutine.ErrTimeout) {
			return err
		}
	}
	return nil
}

func qualifiedName(f coroutine.Frame) string {
	if f.Class == "" {
		return f.Function
	}
	return f.Class + "::" + f.Function
}

// baseName strips namespace, package and class qualifiers.
func baseName(function string) string {
	for _, sep := range []string{`\`, "::", "."} {
		if i := strings.LastIndex(function, sep); i >= 0 {
			function = function[i+len(sep):]
		}
	}
	return function
}
