package debugger

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg"
)

// CommandContext is what a command handler receives.
type CommandContext struct {
	Co        *coroutine.Coroutine
	Command   string
	Arguments []string
}

// Argument returns the i-th argument or "" when there is none.
func (c *CommandContext) Argument(i int) string {
	if i < 0 || i >= len(c.Arguments) {
		return ""
	}
	return c.Arguments[i]
}

type command struct {
	name  string
	usage string
	// nil for commands the control loop handles itself
	run func(d *Debugger, ctx *CommandContext) error
}

var aliases = map[string]string{
	"co":      "coroutine",
	"bt":      "backtrace",
	"f":       "frame",
	"b":       "breakpoint",
	"n":       "next",
	"s":       "step",
	"step_in": "step",
	"c":       "continue",
	"l":       "list",
	"p":       "print",
	"z":       "zombie",
	"q":       "quit",
	"r":       "run",
	"h":       "help",
}

var (
	commandsOnce sync.Once
	commandList  []*command
	commandIndex map[string]*command
)

func commands() ([]*command, map[string]*command) {
	commandsOnce.Do(func() {
		commandList = []*command{
			{"ps", "list coroutines", (*Debugger).ps},
			{"backtrace", "show the trace of the selected coroutine", (*Debugger).backtrace},
			{"coroutine", "select a coroutine: coroutine <id>", (*Debugger).coroutineOrAttach},
			{"attach", "select a coroutine and stop it: attach <id>", (*Debugger).coroutineOrAttach},
			{"frame", "select a frame: frame <index>", (*Debugger).frame},
			{"breakpoint", "add a breakpoint: breakpoint <file:line|function>", (*Debugger).breakpoint},
			{"next", "run to the next statement at the same depth", (*Debugger).debugging},
			{"step", "run to the next statement", (*Debugger).debugging},
			{"continue", "resume the selected coroutine", (*Debugger).debugging},
			{"list", "show following source lines: list [count]", (*Debugger).list},
			{"print", "evaluate in the selected frame: print <expr>", (*Debugger).print},
			{"exec", "evaluate in a new coroutine: exec <expr>", (*Debugger).exec},
			{"vars", "show the locals of the selected frame", (*Debugger).vars},
			{"zombie", "find coroutines that do not switch: zombie <seconds>", (*Debugger).zombie},
			{"kill", "kill coroutines: kill <id>...", (*Debugger).kill},
			{"killall", "kill every coroutine", (*Debugger).killAll},
			{"clear", "clear the screen", (*Debugger).clearScreen},
			{"help", "show this help", (*Debugger).help},
			{"run", "start the program", nil},
			{"quit", "leave the debugger", nil},
		}
		commandIndex = make(map[string]*command, len(commandList))
		for _, c := range commandList {
			commandIndex[c.name] = c
		}
	})
	return commandList, commandIndex
}

// canonicalName expands a command alias.
func canonicalName(name string) string {
	if full, ok := aliases[name]; ok {
		return full
	}
	return name
}

func aliasesOf(name string) []string {
	var list []string
	for alias, full := range aliases {
		if full == name {
			list = append(list, alias)
		}
	}
	sort.Strings(list)
	return list
}

func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return s != ""
}

// execute runs a command from the control coroutine co. A panicking handler
// is reported as an error, a kill is passed on.
func (d *Debugger) execute(co *coroutine.Coroutine, name string, args []string) (err error) {
	_, index := commands()
	cmd, ok := index[name]
	if !ok {
		if !isPrintable(name) {
			name = hex.EncodeToString([]byte(name))
		}
		return dbg.NotFound("Unknown command '%s'", name)
	}
	if cmd.run == nil {
		return dbg.FailedPrecondition("Command '%s' is only available at the prompt", name)
	}

	defer func() {
		if r := recover(); r != nil {
			if coroutine.IsKill(r) {
				panic(r)
			}
			d.log.Error("command panicked", "command", name, "panic", fmt.Sprint(r))
			err = fmt.Errorf("command %s: %v", name, r)
		}
	}()
	return cmd.run(d, &CommandContext{Co: co, Command: name, Arguments: args})
}

func (d *Debugger) ps(ctx *CommandContext) error {
	d.showCoroutines(d.sched.All())
	return nil
}

func (d *Debugger) backtrace(ctx *CommandContext) error {
	if err := d.showCoroutine(d.current); err != nil {
		return err
	}
	return d.showSourceFileContentByTrace(d.currentTrace(), 0, true)
}

func (d *Debugger) coroutineOrAttach(ctx *CommandContext) error {
	arg := ctx.Argument(0)
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return dbg.InvalidArgument("Argument[1]: Coroutine id must be numeric")
	}
	co, ok := d.sched.Get(id)
	if !ok {
		return dbg.NotFound("Coroutine#%s Not found", arg)
	}
	if ctx.Command == "attach" {
		if co == ctx.Co {
			return dbg.FailedPrecondition("Attach debugger is not allowed")
		}
		d.ensureStatementHook()
		d.contexts.Get(co).stop.Store(true)
		d.log.Info("coroutine attached", "coroutine", co.ID())
	}
	d.setCurrentCoroutine(co)
	return d.backtrace(ctx)
}

func (d *Debugger) frame(ctx *CommandContext) error {
	index, err := strconv.Atoi(ctx.Argument(0))
	if err != nil {
		return dbg.InvalidArgument("Frame index must be numeric")
	}
	previous := d.frameIndex
	if err := d.setFrameIndex(index); err != nil {
		return err
	}
	if previous != index {
		d.out(fmt.Sprintf("Switch to frame %d", index))
	}
	trace := d.currentTrace()
	if err := d.showTrace(trace, index); err != nil {
		return err
	}
	return d.showSourceFileContentByTrace(trace, index, true)
}

func (d *Debugger) breakpoint(ctx *CommandContext) error {
	pattern := ctx.Argument(0)
	if pattern == "" {
		return dbg.InvalidArgument("Invalid break point")
	}
	if d.current != ctx.Co {
		return dbg.FailedPrecondition("Switch back to Coroutine#%d to add break points", ctx.Co.ID())
	}
	d.out(fmt.Sprintf("Added global break-point <%s>", pattern))
	d.AddBreakpoint(pattern)
	return nil
}

// debugging implements next, step and continue on the selected coroutine.
func (d *Debugger) debugging(ctx *CommandContext) error {
	target := d.current
	dc := d.contexts.Get(target)
	if !dc.Stopped() {
		if !dc.StopPending() {
			return dbg.FailedPrecondition("Not in debugging")
		}
		if err := d.waitStoppedCoroutine(ctx.Co, target); err != nil {
			return err
		}
	}

	switch ctx.Command {
	case "next", "step":
		if ctx.Command == "next" {
			d.lastTraceDepth.Store(int64(target.TraceDepth() - d.traces.DiffLevel(target, "next")))
		}
		if err := d.resume(target); err != nil {
			d.lastTraceDepth.Store(math.MaxInt64)
			return err
		}
		err := d.waitStoppedCoroutine(ctx.Co, target)
		d.lastTraceDepth.Store(math.MaxInt64)
		if err != nil {
			return err
		}
		return d.frame(&CommandContext{Co: ctx.Co, Command: "frame", Arguments: []string{"0"}})
	case "continue":
		dc.stop.Store(false)
		d.out(fmt.Sprintf("Coroutine#%d continue to run...", target.ID()))
		return d.resume(target)
	}
	return fmt.Errorf("unexpected debugging command %q", ctx.Command)
}

func (d *Debugger) list(ctx *CommandContext) error {
	count := sourceLineCount
	if arg := ctx.Argument(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return dbg.InvalidArgument("Argument[1]: line no must be numeric")
		}
		count = n
	}
	return d.showFollowingSourceFileContent(count)
}

func expression(ctx *CommandContext) (string, error) {
	expr := strings.Join(ctx.Arguments, " ")
	if expr == "" {
		return "", dbg.InvalidArgument("No expression")
	}
	return expr, nil
}

func (d *Debugger) evalSelected(expr string) error {
	level := d.frameIndex + d.traces.executionLevel(d.current)
	result, err := d.current.Eval(expr, level)
	if err != nil {
		return err
	}
	d.out(strings.TrimRight(result, "\n"))
	return nil
}

func (d *Debugger) print(ctx *CommandContext) error {
	expr, err := expression(ctx)
	if err != nil {
		return err
	}
	return d.evalSelected(expr)
}

type evalResult struct {
	value string
	err   error
}

func (d *Debugger) exec(ctx *CommandContext) error {
	expr, err := expression(ctx)
	if err != nil {
		return err
	}
	transfer := coroutine.NewChannel(1)
	d.sched.Run(func(co *coroutine.Coroutine) {
		value, err := co.Eval(expr, 0)
		_ = transfer.Push(co, evalResult{value, err})
	})
	v, err := transfer.Pop(ctx.Co, -1)
	if err != nil {
		return err
	}
	res := v.(evalResult)
	if res.err != nil {
		return res.err
	}
	d.out(strings.TrimRight(res.value, "\n"))
	return nil
}

func (d *Debugger) vars(ctx *CommandContext) error {
	return d.evalSelected("locals()")
}

func (d *Debugger) zombie(ctx *CommandContext) error {
	arg := ctx.Argument(0)
	seconds, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(seconds) || seconds < 0 || seconds > math.MaxInt64/float64(time.Second) {
		return dbg.InvalidArgument("Argument[1]: Time must be numeric")
	}
	d.out(fmt.Sprintf("Scanning zombie coroutines (%ss)...", arg))

	all := d.sched.All()
	switches := make([]int64, len(all))
	for i, co := range all {
		switches[i] = co.Switches()
	}
	if err := ctx.Co.Sleep(time.Duration(seconds * float64(time.Second))); err != nil {
		return err
	}
	var zombies []*coroutine.Coroutine
	for i, co := range all {
		if co.IsAlive() && co.Switches() == switches[i] {
			zombies = append(zombies, co)
		}
	}
	d.out("Following coroutine maybe zombies:")
	d.showCoroutines(zombies)
	return nil
}

func (d *Debugger) kill(ctx *CommandContext) error {
	if len(ctx.Arguments) == 0 {
		return dbg.InvalidArgument("Required coroutine id")
	}
	for i, arg := range ctx.Arguments {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			d.exception(fmt.Sprintf("Argument[%d] '%s' is not numeric", i, arg))
			continue
		}
		co, ok := d.sched.Get(id)
		if !ok {
			d.exception(fmt.Sprintf("Coroutine#%s not exists", arg))
			continue
		}
		if co == ctx.Co {
			d.exception("Kill debugger coroutine is not allowed")
			continue
		}
		co.Kill()
		if err := ctx.Co.Join(co); err != nil {
			return err
		}
		if d.current == co {
			d.setCurrentCoroutine(ctx.Co)
		}
		d.log.Info("coroutine killed", "coroutine", id)
		d.out(fmt.Sprintf("Coroutine#%s killed", arg))
	}
	return nil
}

func (d *Debugger) killAll(ctx *CommandContext) error {
	d.sched.KillAll(ctx.Co, d.ownsCoroutine)
	d.setCurrentCoroutine(ctx.Co)
	d.log.Info("all coroutines killed")
	d.out("All coroutines has been killed")
	return nil
}

func (d *Debugger) clearScreen(ctx *CommandContext) error {
	d.clear()
	return nil
}

func (d *Debugger) help(ctx *CommandContext) error {
	list, _ := commands()
	rows := make([]Row, 0, len(list))
	for _, c := range list {
		rows = append(rows, Row{
			{"command", c.name},
			{"alias", strings.Join(aliasesOf(c.name), ", ")},
			{"description", c.usage},
		})
	}
	d.table(rows)
	return nil
}
