package dbg

import "gni.dev/sdb/internal/coroutine"

// Greeting is sent by every transport when a session starts.
const Greeting = "Welcome to SDB (Swow Debugger), input 'help' to see available commands"

// Transport is a line-oriented front-end of the debugger.
type Transport interface {
	// ReadLine blocks co until a line is available and returns its
	// whitespace separated tokens. An empty line yields no tokens.
	ReadLine(co *coroutine.Coroutine) ([]string, error)
	// WriteLine writes data followed by a line break.
	WriteLine(data string) error
	// WriteError writes diagnostic output.
	WriteError(data string) error
	// IsInteractive reports whether terminal control sequences are honoured.
	IsInteractive() bool
	// ShutdownSession ends the current operator session.
	ShutdownSession() error
}
