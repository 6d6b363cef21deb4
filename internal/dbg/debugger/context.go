package debugger

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"gni.dev/sdb/internal/coroutine"
)

// DebugContext is the debug state attached to one coroutine. stop asks the
// coroutine to suspend at the next qualifying statement, stopped is true
// while it is suspended.
type DebugContext struct {
	stopped atomic.Bool
	stop    atomic.Bool
}

func (c *DebugContext) Stopped() bool {
	return c.stopped.Load()
}

func (c *DebugContext) StopPending() bool {
	return c.stop.Load()
}

// Contexts associates coroutines with their DebugContext without keeping
// them alive. Entries go away when the coroutine is collected.
type Contexts struct {
	mu sync.Mutex
	m  map[weak.Pointer[coroutine.Coroutine]]*DebugContext
}

func NewContexts() *Contexts {
	return &Contexts{m: make(map[weak.Pointer[coroutine.Coroutine]]*DebugContext)}
}

// Get returns the context of co, creating it on first access.
func (c *Contexts) Get(co *coroutine.Coroutine) *DebugContext {
	key := weak.Make(co)
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.m[key]; ok {
		return dc
	}
	dc := &DebugContext{}
	c.m[key] = dc
	runtime.AddCleanup(co, c.remove, key)
	return dc
}

func (c *Contexts) remove(key weak.Pointer[coroutine.Coroutine]) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Contexts) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
