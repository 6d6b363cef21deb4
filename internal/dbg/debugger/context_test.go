package debugger

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gni.dev/sdb/internal/coroutine"
)

func TestContextIdentity(t *testing.T) {
	sched := coroutine.NewScheduler(context.Background())
	a := sched.Run(func(co *coroutine.Coroutine) {})
	b := sched.Run(func(co *coroutine.Coroutine) {})
	sched.Wait()

	contexts := NewContexts()
	ca := contexts.Get(a)
	assert.False(t, ca.Stopped())
	assert.False(t, ca.StopPending())
	assert.Same(t, ca, contexts.Get(a))
	assert.NotSame(t, ca, contexts.Get(b))
	assert.Equal(t, 2, contexts.len())
}

func TestContextReleasedWithCoroutine(t *testing.T) {
	sched := coroutine.NewScheduler(context.Background())
	contexts := NewContexts()
	func() {
		co := sched.Run(func(co *coroutine.Coroutine) {})
		sched.Wait()
		contexts.Get(co).stop.Store(true)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return contexts.len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
