package coroutine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateInit State = iota
	StateWaiting
	StateRunning
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// ErrNotSuspended is returned by Resume when the coroutine is not parked in
// Yield.
var ErrNotSuspended = errors.New("coroutine is not suspended")

type killSignal struct {
	id int64
}

// IsKill reports whether a recovered panic value is the unwinding signal of
// a killed coroutine. Code that recovers panics must re-panic it.
func IsKill(r any) bool {
	_, ok := r.(killSignal)
	return ok
}

type Coroutine struct {
	id     int64
	sched  *Scheduler
	fn     func(co *Coroutine)
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time
	end    atomic.Int64

	state    atomic.Int32
	switches atomic.Int64
	killed   atomic.Bool
	yielded  atomic.Bool
	resume   chan struct{}
	done     chan struct{}

	// only touched by the coroutine's own goroutine
	holding bool

	mu     sync.Mutex
	frames []*frame
}

func (co *Coroutine) ID() int64 {
	return co.id
}

func (co *Coroutine) State() State {
	return State(co.state.Load())
}

func (co *Coroutine) StateName() string {
	return co.State().String()
}

// Switches counts how many times the coroutine has been scheduled in.
func (co *Coroutine) Switches() int64 {
	return co.switches.Load()
}

func (co *Coroutine) Elapsed() time.Duration {
	if end := co.end.Load(); end != 0 {
		return time.Unix(0, end).Sub(co.start)
	}
	return time.Since(co.start)
}

func (co *Coroutine) ElapsedString() string {
	return co.Elapsed().Round(time.Millisecond).String()
}

func (co *Coroutine) IsAlive() bool {
	return co.State() != StateDead
}

// Context is cancelled when the coroutine is killed or the scheduler
// context ends.
func (co *Coroutine) Context() context.Context {
	return co.ctx
}

// Done is closed once the coroutine has exited.
func (co *Coroutine) Done() <-chan struct{} {
	return co.done
}

func (co *Coroutine) Scheduler() *Scheduler {
	return co.sched
}

func (co *Coroutine) main() {
	defer co.sched.wg.Done()
	defer close(co.done)
	defer co.exit()
	co.acquire()
	co.fn(co)
}

func (co *Coroutine) exit() {
	r := recover()
	if r != nil && !IsKill(r) {
		co.sched.logger().Error("coroutine panicked", "coroutine", co.id, "panic", fmt.Sprint(r))
	}
	co.mu.Lock()
	co.frames = nil
	co.mu.Unlock()
	co.cancel()
	co.sched.forget(co)
	co.end.Store(time.Now().UnixNano())
	co.state.Store(int32(StateDead))
	if co.holding {
		co.holding = false
		co.sched.current.CompareAndSwap(co, nil)
		co.sched.baton <- struct{}{}
	}
}

func (co *Coroutine) acquire() {
	<-co.sched.baton
	co.holding = true
	co.sched.current.Store(co)
	co.state.Store(int32(StateRunning))
	co.switches.Add(1)
	if co.killed.Load() {
		panic(killSignal{id: co.id})
	}
}

func (co *Coroutine) release(state State) {
	co.state.Store(int32(state))
	co.sched.current.CompareAndSwap(co, nil)
	co.holding = false
	co.sched.baton <- struct{}{}
}

// Yield parks the coroutine until another one calls Resume.
func (co *Coroutine) Yield() {
	co.yielded.Store(true)
	co.release(StateWaiting)
	select {
	case <-co.resume:
	case <-co.ctx.Done():
	}
	co.yielded.Store(false)
	co.acquire()
}

// Resume wakes a coroutine parked in Yield. It runs as soon as the caller
// gives up the baton.
func (co *Coroutine) Resume() error {
	if !co.yielded.Load() {
		return fmt.Errorf("coroutine#%d: %w", co.id, ErrNotSuspended)
	}
	select {
	case co.resume <- struct{}{}:
	default:
	}
	return nil
}

// Block releases the baton while fn runs and takes it back afterwards. fn
// receives the coroutine context and must return once it is cancelled.
func (co *Coroutine) Block(fn func(ctx context.Context) error) error {
	co.release(StateWaiting)
	err := fn(co.ctx)
	co.acquire()
	return err
}

func (co *Coroutine) Sleep(d time.Duration) error {
	return co.Block(func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// WaitSignal blocks until one of sigs is delivered to the process.
func (co *Coroutine) WaitSignal(sigs ...os.Signal) (os.Signal, error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	var got os.Signal
	err := co.Block(func(ctx context.Context) error {
		select {
		case got = <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return got, err
}

// Join blocks the coroutine until target has exited.
func (co *Coroutine) Join(target *Coroutine) error {
	if target == co {
		return fmt.Errorf("coroutine#%d cannot join itself", co.id)
	}
	return co.Block(func(ctx context.Context) error {
		select {
		case <-target.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Kill makes the coroutine unwind at its next scheduling point. A coroutine
// killing itself unwinds immediately.
func (co *Coroutine) Kill() {
	if !co.IsAlive() {
		return
	}
	if co.sched.current.Load() == co {
		co.killed.Store(true)
		panic(killSignal{id: co.id})
	}
	co.requestKill()
}

func (co *Coroutine) requestKill() {
	co.killed.Store(true)
	co.cancel()
}

func (co *Coroutine) String() string {
	return fmt.Sprintf("Coroutine#%d", co.id)
}
