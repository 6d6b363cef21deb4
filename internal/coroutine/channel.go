package coroutine

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("channel operation timed out")
	ErrClosed  = errors.New("channel is closed")
)

// Channel passes values between coroutines. Push and Pop release the baton
// while they wait. A nil coroutine may be passed from plain goroutines.
type Channel struct {
	ch     chan any
	closed chan struct{}
	once   sync.Once
}

func NewChannel(capacity int) *Channel {
	return &Channel{
		ch:     make(chan any, capacity),
		closed: make(chan struct{}),
	}
}

func (c *Channel) Push(co *Coroutine, v any) error {
	return Await(co, func(ctx context.Context) error {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		select {
		case c.ch <- v:
			return nil
		case <-c.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Pop receives a value. A negative timeout waits forever.
func (c *Channel) Pop(co *Coroutine, timeout time.Duration) (any, error) {
	var v any
	err := Await(co, func(ctx context.Context) error {
		var expired <-chan time.Time
		if timeout >= 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case v = <-c.ch:
			return nil
		case <-c.closed:
			select {
			case v = <-c.ch:
				return nil
			default:
				return ErrClosed
			}
		case <-expired:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return v, err
}

func (c *Channel) Close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Channel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Await runs fn through co.Block, or directly when co is nil.
func Await(co *Coroutine, fn func(ctx context.Context) error) error {
	if co == nil {
		return fn(context.Background())
	}
	return co.Block(fn)
}
