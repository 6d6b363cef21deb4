package debugger

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg"
)

const logo = `  ██████ ▓█████▄  ▄▄▄▄
▒██    ▒ ▒██▀ ██▌▓█████▄
░ ▓██▄   ░██   █▌▒██▒ ▄██
  ▒   ██▒░▓█▄   ▌▒██░█▀
▒██████▒▒░▒████▓ ░▓█  ▀█▓
 ░▒▓▒ ▒ ░ ▒▒▓  ▒ ░▒▓███▀▒
  ░▒      ░ ▒  ▒ ▒░▒   ░
-------------------
SDB (Swow Debugger)
-------------------`

type Debugger struct {
	sched     *coroutine.Scheduler
	io        dbg.Transport
	log       pslog.Logger
	contexts  *Contexts
	traces    *TraceInspector
	sourceMap *SourceMap
	interrupt func(co *coroutine.Coroutine) error
	// persistent sessions survive quit, the loop waits for the next client
	persistent bool

	bpMu        sync.Mutex
	breakpoints []string
	removeHook  func()

	// trace depth a pending next must return to before it stops again
	lastTraceDepth atomic.Int64

	// cursor, owned by the control coroutine
	current     *coroutine.Coroutine
	frameIndex  int
	sourceFile  *sourceFile
	sourceLine  int
	lastCommand []string
	daemon      bool
	reloading   bool

	closeOnce sync.Once
	onClose   []func()
}

type Option func(d *Debugger)

func WithSourceMap(m *SourceMap) Option {
	return func(d *Debugger) { d.sourceMap = m }
}

func WithLogger(logger pslog.Logger) Option {
	return func(d *Debugger) { d.log = logger }
}

// WithInterrupt replaces the wait for SIGINT used to cancel blocking
// commands.
func WithInterrupt(fn func(co *coroutine.Coroutine) error) Option {
	return func(d *Debugger) { d.interrupt = fn }
}

// WithPersistentSession keeps the control loop alive across quit.
func WithPersistentSession() Option {
	return func(d *Debugger) { d.persistent = true }
}

func New(sched *coroutine.Scheduler, transport dbg.Transport, opts ...Option) *Debugger {
	d := &Debugger{
		sched:    sched,
		io:       transport,
		contexts: NewContexts(),
		daemon:   true,
		interrupt: func(co *coroutine.Coroutine) error {
			_, err := co.WaitSignal(os.Interrupt)
			return err
		},
	}
	d.traces = NewTraceInspector(sched, d.contexts)
	d.lastTraceDepth.Store(math.MaxInt64)
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = pslog.Ctx(sched.Context())
	}
	return d
}

// Contexts exposes the per-coroutine debug state.
func (d *Debugger) Contexts() *Contexts {
	return d.contexts
}

// Close removes the statement hook and releases the transport.
func (d *Debugger) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.bpMu.Lock()
		if d.removeHook != nil {
			d.removeHook()
			d.removeHook = nil
		}
		d.bpMu.Unlock()
		if c, ok := d.io.(io.Closer); ok {
			err = c.Close()
		}
		for _, fn := range d.onClose {
			fn()
		}
	})
	return err
}

func (d *Debugger) out(data string) {
	if err := d.io.WriteLine(data); err != nil {
		d.log.Debug("debugger output dropped", "err", err)
	}
}

func (d *Debugger) exception(msg string) {
	d.out(msg)
}

func (d *Debugger) error(msg string) {
	if err := d.io.WriteError(msg); err != nil {
		d.log.Debug("debugger error output dropped", "err", err)
	}
}

func (d *Debugger) lf() {
	d.out("")
}

func (d *Debugger) clear() {
	if d.io.IsInteractive() {
		d.out("\033c")
	}
}

func (d *Debugger) setCursorVisibility(visible bool) {
	if !d.io.IsInteractive() {
		return
	}
	if visible {
		d.out("\033[?25h")
	} else {
		d.out("\033[?25l")
	}
}

func (d *Debugger) table(rows []Row) {
	d.out(FormatTable(rows))
}

func (d *Debugger) logo() {
	d.clear()
	d.out(logo)
	d.lf()
}

// report shows an operator mistake as a plain message and anything else
// with full detail on the error stream.
func (d *Debugger) report(err error) {
	if err == nil {
		return
	}
	var de *dbg.Error
	if errors.As(err, &de) {
		d.exception(de.Msg)
		return
	}
	d.error(fmt.Sprintf("%+v", err))
}

func (d *Debugger) setCurrentCoroutine(co *coroutine.Coroutine) {
	d.current = co
	d.frameIndex = 0
}

func (d *Debugger) currentTrace() []coroutine.Frame {
	return d.traces.Trace(d.current)
}

func (d *Debugger) setFrameIndex(index int) error {
	if index < 0 || index >= len(d.currentTrace()) {
		return dbg.OutOfRange("Invalid frame index")
	}
	d.frameIndex = index
	return nil
}

func (d *Debugger) showTrace(trace []coroutine.Frame, frameIndex int) error {
	rows, err := traceTable(trace, frameIndex)
	if err != nil {
		return err
	}
	for i, row := range rows {
		position, _ := row.Get("source_position")
		rows[i] = row.Set("source_position", d.sourceMap.Apply(position.(string)))
	}
	d.table(rows)
	return nil
}

func (d *Debugger) showCoroutine(co *coroutine.Coroutine) error {
	info := d.traces.SimpleInfo(co, false)
	trace := d.traces.Trace(co)
	d.table([]Row{info})
	if len(trace) == 0 {
		return nil
	}
	d.lf()
	return d.showTrace(trace, -1)
}

func (d *Debugger) showCoroutines(list []*coroutine.Coroutine) {
	var rows []Row
	self := d.sched.Current()
	for _, co := range list {
		if co == self {
			continue
		}
		info := d.traces.SimpleInfo(co, true)
		position, _ := info.Get("source_position")
		rows = append(rows, info.Set("source_position", d.sourceMap.Apply(position.(string))))
	}
	d.table(rows)
}

func (d *Debugger) showSourceFileContentByTrace(trace []coroutine.Frame, frameIndex int, following bool) error {
	if frameIndex >= len(trace) || trace[frameIndex].File == "" || trace[frameIndex].Line <= 0 {
		d.sourceFile, d.sourceLine = nil, 0
		d.lf()
		return nil
	}
	f := trace[frameIndex]
	file, err := loadSourceFile(f.File)
	if err == nil {
		var rows []Row
		if rows, err = file.window(f.Line); err == nil {
			d.sourceFile, d.sourceLine = file, f.Line
			if following {
				d.lf()
			}
			d.table(rows)
			return nil
		}
	}
	d.lf()
	return err
}

func (d *Debugger) showFollowingSourceFileContent(count int) error {
	if d.sourceFile == nil {
		return dbg.FailedPrecondition("No source file was selected")
	}
	d.table(d.sourceFile.following(d.sourceLine, count))
	d.sourceLine += count - 1
	return nil
}

func (d *Debugger) noOtherCoroutines(self *coroutine.Coroutine) bool {
	for _, co := range d.sched.All() {
		if co != self && !d.ownsCoroutine(co) {
			return false
		}
	}
	return true
}

// ownsCoroutine reports coroutines that belong to the transport.
func (d *Debugger) ownsCoroutine(co *coroutine.Coroutine) bool {
	owner, ok := d.io.(interface {
		Owns(co *coroutine.Coroutine) bool
	})
	return ok && owner.Owns(co)
}

// Run drives the debugger from co until the operator quits or the
// transport ends. With a keyword the interface only comes up once the
// keyword has been entered. When nothing else runs yet the operator starts
// the program with 'run': Run then returns to its caller while the
// debugger continues in a new coroutine.
func (d *Debugger) Run(co *coroutine.Coroutine, keyword string) error {
	handedOff, err := d.loop(co, keyword)
	if !handedOff {
		if cerr := d.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Debugger) loop(co *coroutine.Coroutine, keyword string) (handedOff bool, err error) {
	d.setCurrentCoroutine(co)
	log := d.log.With("coroutine", co.ID())

	if d.reloading {
		d.reloading = false
	} else {
		d.setCursorVisibility(true)
		if d.noOtherCoroutines(co) {
			d.daemon = false
			d.logo()
			d.out("Enter 'r' to run your program")
		} else {
			if keyword != "" {
				d.lf()
				d.out(fmt.Sprintf("You can input '%s' to call out the debug interface...", keyword))
			}
			if err := d.waitKeyword(co, keyword); err != nil {
				return false, endOfInput(err)
			}
			d.logo()
		}
	}

	for {
		args, err := d.io.ReadLine(co)
		if err != nil {
			return false, endOfInput(err)
		}
		if len(args) == 0 {
			args = d.lastCommand
		}
		d.lastCommand = args
		if len(args) == 0 {
			continue
		}

		name := canonicalName(strings.ToLower(args[0]))
		switch name {
		case "quit", "exit":
			d.clear()
			if err := d.io.ShutdownSession(); err != nil {
				log.Warn("debugger session shutdown failed", "err", err)
			}
			log.Info("debugger session closed")
			if d.persistent {
				continue
			}
			if keyword != "" && !d.noOtherCoroutines(co) {
				if err := d.waitKeyword(co, keyword); err != nil {
					return false, endOfInput(err)
				}
				d.logo()
				continue
			}
			return false, nil
		case "run":
			if d.daemon {
				d.report(dbg.FailedPrecondition("Debugger is already running"))
				continue
			}
			d.sched.Run(func(next *coroutine.Coroutine) {
				d.reloading = true
				d.daemon = true
				d.out("Program is running...")
				if err := d.Run(next, keyword); err != nil {
					d.log.Error("debugger stopped", "err", err)
				}
			})
			return true, nil
		}
		d.report(d.execute(co, name, args[1:]))
	}
}

func (d *Debugger) waitKeyword(co *coroutine.Coroutine, keyword string) error {
	if keyword == "" {
		return nil
	}
	for {
		args, err := d.io.ReadLine(co)
		if err != nil {
			return err
		}
		if strings.Join(args, " ") == keyword {
			return nil
		}
	}
}

func endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
