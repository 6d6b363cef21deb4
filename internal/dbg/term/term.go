package term

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
	"pkt.systems/pslog"

	"gni.dev/sdb/internal/coroutine"
)

const quitHint = ":) It's StdIO mode, can't quit, if you want to terminate the program, please use `killall` command"

type Config struct {
	Prompt      string
	HistoryFile string
	Greeting    string
	// Stdin, Stdout and Stderr default to the process streams.
	Stdin  io.ReadCloser
	Stdout io.Writer
	Stderr io.Writer
}

type lineResult struct {
	line string
	err  error
}

// Term is the debugger transport on the process terminal.
type Term struct {
	rl          *readline.Instance
	interactive bool
	log         pslog.Logger

	// a read that outlived a cancelled ReadLine, consumed by the next call
	pending chan lineResult
	last    []string
}

func New(ctx context.Context, cfg Config) (*Term, error) {
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	t := &Term{
		interactive: isTerminal(cfg.Stdin) && isTerminal(cfg.Stdout) && isTerminal(cfg.Stderr),
		log:         pslog.Ctx(ctx),
	}
	rlCfg := &readline.Config{
		Prompt:            cfg.Prompt,
		HistoryFile:       cfg.HistoryFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             cfg.Stdin,
		Stdout:            cfg.Stdout,
		Stderr:            cfg.Stderr,
		FuncIsTerminal:    func() bool { return t.interactive },
		FuncFilterInputRune: func(r rune) (rune, bool) {
			switch r {
			case readline.CharCtrlZ:
				return r, false
			}
			return r, true
		},
	}
	if !t.interactive {
		rlCfg.FuncMakeRaw = func() error { return nil }
		rlCfg.FuncExitRaw = func() error { return nil }
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	t.rl = rl
	t.log.Debug("terminal opened", "interactive", t.interactive, "history", cfg.HistoryFile)
	if cfg.Greeting != "" {
		if err := t.WriteLine(cfg.Greeting); err != nil {
			rl.Close()
			return nil, err
		}
	}
	return t, nil
}

func isTerminal(f any) bool {
	file, ok := f.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// ReadLine reads the next line and splits it into tokens. An empty line
// yields the tokens of the previous one.
func (t *Term) ReadLine(co *coroutine.Coroutine) ([]string, error) {
	for {
		var res lineResult
		err := coroutine.Await(co, func(ctx context.Context) error {
			if t.pending == nil {
				t.pending = make(chan lineResult, 1)
				go func(ch chan<- lineResult) {
					line, err := t.rl.Readline()
					ch <- lineResult{line, err}
				}(t.pending)
			}
			select {
			case res = <-t.pending:
				t.pending = nil
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return nil, err
		}

		if errors.Is(res.err, readline.ErrInterrupt) {
			continue
		}
		if res.err != nil {
			return nil, res.err
		}
		args := strings.Fields(res.line)
		if len(args) == 0 {
			args = t.last
		}
		t.last = args
		return args, nil
	}
}

func (t *Term) WriteLine(data string) error {
	_, err := fmt.Fprintln(t.rl.Stdout(), data)
	return err
}

func (t *Term) WriteError(data string) error {
	_, err := fmt.Fprintln(t.rl.Stderr(), data)
	return err
}

func (t *Term) IsInteractive() bool {
	return t.interactive
}

// ShutdownSession cannot detach from the process terminal, it tells the
// operator how to stop the program instead.
func (t *Term) ShutdownSession() error {
	return t.WriteLine(quitHint)
}

func (t *Term) Close() error {
	t.log.Debug("terminal closed")
	return t.rl.Close()
}
