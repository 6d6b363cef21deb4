package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gni.dev/sdb/internal/coroutine"
)

func newServer(t *testing.T) (*coroutine.Scheduler, *Server) {
	t.Helper()
	sched := coroutine.NewScheduler(context.Background())
	s, err := Listen(context.Background(), sched, "127.0.0.1:0", "hello")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		sched.Shutdown()
	})
	return sched, s
}

// reader runs a control coroutine that forwards every line it reads.
func reader(sched *coroutine.Scheduler, s *Server) <-chan []string {
	lines := make(chan []string, 8)
	sched.Run(func(co *coroutine.Coroutine) {
		for {
			args, err := s.ReadLine(co)
			if err != nil {
				return
			}
			lines <- args
		}
	})
	return lines
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, bufio.NewReader(conn)
}

func receive(t *testing.T, lines <-chan []string) []string {
	t.Helper()
	select {
	case args := <-lines:
		return args
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
		return nil
	}
}

func TestSecondClientRejected(t *testing.T) {
	sched, s := newServer(t)
	lines := reader(sched, s)

	first, r1 := dial(t, s)
	greeting, err := r1.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", greeting)

	_, r2 := dial(t, s)
	rest, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "hello\n"+inUse+"\n", string(rest))

	_, err = first.Write([]byte("bt 1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bt", "1"}, receive(t, lines))

	_, err = first.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, receive(t, lines))
}

func TestShutdownSession(t *testing.T) {
	sched, s := newServer(t)
	lines := reader(sched, s)

	first, r1 := dial(t, s)
	_, err := r1.ReadString('\n')
	require.NoError(t, err)
	_, err = first.Write([]byte("q\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, receive(t, lines))

	require.NoError(t, s.ShutdownSession())
	rest, err := io.ReadAll(r1)
	require.NoError(t, err)
	assert.Contains(t, string(rest), bye)

	require.Eventually(t, func() bool { return !s.busy() }, 5*time.Second, 10*time.Millisecond)

	next, r3 := dial(t, s)
	greeting, err := r3.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", greeting)
	_, err = next.Write([]byte("ps\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ps"}, receive(t, lines))
}

func TestOwns(t *testing.T) {
	sched, s := newServer(t)
	assert.True(t, s.Owns(s.acceptor))

	other := sched.Run(func(co *coroutine.Coroutine) { co.Yield() })
	assert.False(t, s.Owns(other))
	other.Kill()
}

func TestSinglePromptOnConnect(t *testing.T) {
	sched, s := newServer(t)
	lines := reader(sched, s)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reading
	}, 5*time.Second, 5*time.Millisecond)

	conn, r := dial(t, s)
	greeting, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", greeting)

	got := make([]byte, len(prompt))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, prompt, string(got))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write([]byte("ps\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ps"}, receive(t, lines))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, prompt, string(got))
}

func TestClientDisconnect(t *testing.T) {
	sched, s := newServer(t)
	lines := reader(sched, s)

	first, r1 := dial(t, s)
	_, err := r1.ReadString('\n')
	require.NoError(t, err)
	s.mu.Lock()
	session := s.session.co
	s.mu.Unlock()
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool { return !session.IsAlive() }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, s.busy())
	assert.NoError(t, s.Err())

	next, r2 := dial(t, s)
	greeting, err := r2.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", greeting)
	_, err = next.Write([]byte("bt\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bt"}, receive(t, lines))
}

type failingListener struct {
	mu      sync.Mutex
	accepts int
	closed  bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}
	l.accepts++
	return nil, errors.New("too many open files")
}

func (l *failingListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func TestAcceptFailuresStopListener(t *testing.T) {
	delay := acceptRetryDelay
	acceptRetryDelay = time.Millisecond
	t.Cleanup(func() { acceptRetryDelay = delay })

	sched := coroutine.NewScheduler(context.Background())
	l := &failingListener{}
	s := Serve(context.Background(), sched, l, "hello")
	t.Cleanup(func() {
		s.Close()
		sched.Shutdown()
	})

	errc := make(chan error, 1)
	sched.Run(func(co *coroutine.Coroutine) {
		_, err := s.ReadLine(co)
		errc <- err
	})

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accept: too many open files")
		assert.Equal(t, err, s.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not give up")
	}
	require.Eventually(t, func() bool { return !s.acceptor.IsAlive() }, 5*time.Second, 5*time.Millisecond)
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, maxAcceptErrors+1, l.accepts)
}
