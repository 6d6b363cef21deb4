package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"gni.dev/sdb/internal/coroutine"
)

const (
	prompt          = "\r> "
	inUse           = "Error: Debugger is already in use, please check if there is another client debugging"
	bye             = "Bye!"
	maxAcceptErrors = 10
)

var acceptRetryDelay = time.Second

// Server is the debugger transport for remote clients. It serves one
// line-oriented session at a time.
type Server struct {
	sched    *coroutine.Scheduler
	listener net.Listener
	greeting string
	log      pslog.Logger
	acceptor *coroutine.Coroutine

	mu       sync.Mutex
	session  *session
	messages *coroutine.Channel
	err      error
	// the control loop is blocked in ReadLine
	reading bool
}

// Listen starts accepting clients on addr.
func Listen(ctx context.Context, sched *coroutine.Scheduler, addr, greeting string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(ctx, sched, l, greeting), nil
}

// Serve accepts clients on l until it is closed.
func Serve(ctx context.Context, sched *coroutine.Scheduler, l net.Listener, greeting string) *Server {
	s := &Server{
		sched:    sched,
		listener: l,
		greeting: greeting,
		log:      pslog.Ctx(ctx).With("addr", l.Addr().String()),
		messages: coroutine.NewChannel(0),
	}
	s.acceptor = sched.Run(s.serve)
	s.log.Info("debugger listening")
	return s
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Err returns the error that stopped the accept loop.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Server) serve(co *coroutine.Coroutine) {
	stop := context.AfterFunc(co.Context(), func() { s.listener.Close() })
	defer stop()

	errorCount := 0
	for {
		var conn net.Conn
		err := co.Block(func(ctx context.Context) error {
			var err error
			conn, err = s.listener.Accept()
			return err
		})
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			errorCount++
			s.log.Warn("accept failed", "err", err, "failures", errorCount)
			if errorCount > maxAcceptErrors {
				s.fail(fmt.Errorf("accept: %w", err))
				return
			}
			if err := co.Sleep(acceptRetryDelay); err != nil {
				return
			}
			continue
		}
		errorCount = 0

		if s.busy() {
			s.reject(conn)
			continue
		}
		s.startSession(conn)
	}
}

func (s *Server) fail(err error) {
	s.log.Error("debugger listener stopped", "err", err)
	s.mu.Lock()
	s.err = err
	messages := s.messages
	s.mu.Unlock()
	messages.Close()
}

func (s *Server) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.co.IsAlive()
}

func (s *Server) reject(conn net.Conn) {
	s.log.Warn("debugger client rejected", "remote", conn.RemoteAddr().String())
	_, _ = fmt.Fprintf(conn, "%s\n%s\n", s.greeting, inUse)
	conn.Close()
}

func (s *Server) channel() *coroutine.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

func (s *Server) conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.conn
}

// waitInput marks the control loop as waiting and prompts the client once
// it has been greeted. A client greeted later is prompted by its session.
func (s *Server) waitInput(reading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = reading
	if reading && s.session != nil && s.session.greeted {
		_, _ = s.session.conn.Write([]byte(prompt))
	}
}

// ReadLine sends the prompt and waits for the next line of the client.
// An empty line yields no tokens.
func (s *Server) ReadLine(co *coroutine.Coroutine) ([]string, error) {
	for {
		s.waitInput(true)
		v, err := s.channel().Pop(co, -1)
		s.waitInput(false)
		if errors.Is(err, coroutine.ErrClosed) {
			if err := s.Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return strings.Fields(v.(string)), nil
	}
}

func (s *Server) WriteLine(data string) error {
	conn := s.conn()
	if conn == nil {
		s.log.Debug("no debugger client, output dropped")
		return nil
	}
	_, err := fmt.Fprintln(conn, data)
	return err
}

func (s *Server) WriteError(data string) error {
	return s.WriteLine(data)
}

func (s *Server) IsInteractive() bool {
	return false
}

// ShutdownSession says goodbye and disconnects the client. Lines it sent
// but nobody read yet are discarded.
func (s *Server) ShutdownSession() error {
	err := s.WriteLine(bye)
	s.mu.Lock()
	old := s.messages
	s.messages = coroutine.NewChannel(0)
	sess := s.session
	s.mu.Unlock()
	old.Close()
	if sess != nil {
		sess.conn.Close()
	}
	return err
}

// Owns reports whether co is one of the coroutines serving clients.
func (s *Server) Owns(co *coroutine.Coroutine) bool {
	if co == s.acceptor {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.co == co
}

// Close stops accepting and ends the current session.
func (s *Server) Close() error {
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.acceptor.Kill()
	s.mu.Lock()
	sess := s.session
	messages := s.messages
	s.mu.Unlock()
	if sess != nil {
		sess.co.Kill()
	}
	messages.Close()
	s.log.Info("debugger listener closed")
	return err
}
