package coroutine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
)

// Scheduler runs coroutines cooperatively: many goroutines, one baton. Only
// the coroutine holding the baton executes, every other one is parked at a
// yield or blocking point.
type Scheduler struct {
	ctx     context.Context
	baton   chan struct{}
	nextID  atomic.Int64
	current atomic.Pointer[Coroutine]

	mu    sync.Mutex
	all   map[int64]*Coroutine
	hooks []*hook

	wg sync.WaitGroup
}

type hook struct {
	frame Frame
	fn    func(co *Coroutine)
}

// NewScheduler returns an empty scheduler. Coroutines inherit ctx and stop
// blocking when it is cancelled.
func NewScheduler(ctx context.Context) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Scheduler{
		ctx:   ctx,
		baton: make(chan struct{}, 1),
		all:   make(map[int64]*Coroutine),
	}
	s.baton <- struct{}{}
	return s
}

// Run creates a coroutine executing fn. The coroutine starts as soon as it
// can take the baton; Run itself never blocks.
func (s *Scheduler) Run(fn func(co *Coroutine)) *Coroutine {
	ctx, cancel := context.WithCancel(s.ctx)
	co := &Coroutine{
		id:     s.nextID.Add(1),
		sched:  s,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
		start:  time.Now(),
		frames: []*frame{{Frame: Frame{Function: "{main}"}, vars: map[string]any{}}},
	}

	s.mu.Lock()
	s.all[co.id] = co
	s.mu.Unlock()

	s.wg.Add(1)
	go co.main()
	return co
}

// Context returns the context the scheduler was created with.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Current returns the coroutine holding the baton, or nil.
func (s *Scheduler) Current() *Coroutine {
	return s.current.Load()
}

// Get returns the live coroutine with the given id.
func (s *Scheduler) Get(id int64) (*Coroutine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	co, ok := s.all[id]
	return co, ok
}

// All returns every live coroutine ordered by id.
func (s *Scheduler) All() []*Coroutine {
	s.mu.Lock()
	list := make([]*Coroutine, 0, len(s.all))
	for _, co := range s.all {
		list = append(list, co)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Count returns the number of live coroutines.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

// KillAll kills every live coroutine except caller and those keep reports.
// When caller is not nil it waits until all of them have unwound.
func (s *Scheduler) KillAll(caller *Coroutine, keep func(co *Coroutine) bool) {
	var victims []*Coroutine
	for _, co := range s.All() {
		if co == caller || (keep != nil && keep(co)) {
			continue
		}
		co.requestKill()
		victims = append(victims, co)
	}
	if caller == nil {
		return
	}
	for _, co := range victims {
		_ = caller.Join(co)
	}
}

// Shutdown kills every coroutine and waits for them to exit. It must not be
// called from a coroutine.
func (s *Scheduler) Shutdown() {
	s.KillAll(nil, nil)
	s.wg.Wait()
}

// Wait blocks until every coroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// AddStatementHook registers fn to run before every statement of every
// coroutine. The hook runs inside frame, so it shows up in traces taken from
// within it. The returned func removes the hook.
func (s *Scheduler) AddStatementHook(frame Frame, fn func(co *Coroutine)) (remove func()) {
	h := &hook{frame: frame, fn: fn}
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, other := range s.hooks {
				if other == h {
					s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Scheduler) statementHooks() []*hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hooks) == 0 {
		return nil
	}
	return append([]*hook(nil), s.hooks...)
}

func (s *Scheduler) forget(co *Coroutine) {
	s.mu.Lock()
	delete(s.all, co.id)
	s.mu.Unlock()
}

func (s *Scheduler) logger() pslog.Logger {
	return pslog.Ctx(s.ctx)
}
