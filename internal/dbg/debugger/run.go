package debugger

import (
	"sync/atomic"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg"
	"gni.dev/sdb/internal/dbg/stream"
	"gni.dev/sdb/internal/dbg/term"
)

// at most one debugger serves a process, on the terminal or on a socket
var running atomic.Bool

func claim() error {
	if !running.CompareAndSwap(false, true) {
		return dbg.FailedPrecondition("Debugger is already running")
	}
	return nil
}

func (d *Debugger) releaseOnClose() {
	d.onClose = append(d.onClose, func() { running.Store(false) })
}

type TTYConfig struct {
	Keyword     string
	Prompt      string
	HistoryFile string
}

// RunOnTTY runs the debugger on the process terminal from co. It returns
// when the operator quits, or right away after 'run' when co was the only
// coroutine.
func RunOnTTY(co *coroutine.Coroutine, cfg TTYConfig, opts ...Option) error {
	if err := claim(); err != nil {
		return err
	}
	t, err := term.New(co.Context(), term.Config{
		Prompt:      cfg.Prompt,
		HistoryFile: cfg.HistoryFile,
		Greeting:    dbg.Greeting,
	})
	if err != nil {
		running.Store(false)
		return err
	}
	d := New(co.Scheduler(), t, opts...)
	d.releaseOnClose()
	return d.Run(co, cfg.Keyword)
}

type StreamConfig struct {
	Addr    string
	Keyword string
}

// RunOnStream serves the debugger to remote clients on cfg.Addr from co.
// Quitting ends the client's session, the debugger keeps listening.
func RunOnStream(co *coroutine.Coroutine, cfg StreamConfig, opts ...Option) error {
	if err := claim(); err != nil {
		return err
	}
	s, err := stream.Listen(co.Context(), co.Scheduler(), cfg.Addr, dbg.Greeting)
	if err != nil {
		running.Store(false)
		return err
	}
	d := New(co.Scheduler(), s, append(opts, WithPersistentSession())...)
	d.releaseOnClose()
	return d.Run(co, cfg.Keyword)
}
