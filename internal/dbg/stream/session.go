package stream

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/google/uuid"

	"gni.dev/sdb/internal/coroutine"
)

type session struct {
	id   uuid.UUID
	conn net.Conn
	co   *coroutine.Coroutine
	// set under Server.mu once the greeting went out
	greeted bool
}

func (s *Server) startSession(conn net.Conn) {
	sess := &session{id: uuid.New(), conn: conn}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
	sess.co = s.sched.Run(func(co *coroutine.Coroutine) { s.relay(co, sess) })
}

// relay forwards the client's lines to the control loop until the client
// goes away or the session is shut down.
func (s *Server) relay(co *coroutine.Coroutine, sess *session) {
	log := s.log.With("session", sess.id.String(), "remote", sess.conn.RemoteAddr().String())
	log.Info("debugger client connected")
	defer func() {
		sess.conn.Close()
		log.Info("debugger client disconnected")
	}()

	if err := s.greet(sess); err != nil {
		log.Debug("greeting failed", "err", err)
		return
	}

	r := bufio.NewReader(sess.conn)
	for {
		var line string
		err := co.Block(func(ctx context.Context) error {
			stop := context.AfterFunc(ctx, func() { sess.conn.Close() })
			defer stop()
			var err error
			line, err = r.ReadString('\n')
			return err
		})
		if err != nil {
			log.Debug("debugger client read failed", "err", err)
			return
		}
		if err := s.channel().Push(co, strings.TrimRight(line, "\r\n")); err != nil {
			log.Debug("debugger session channel closed", "err", err)
			return
		}
	}
}

// greet sends the greeting, plus the prompt when the control loop is
// already waiting for input.
func (s *Server) greet(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.greeting + "\n"
	if s.reading {
		data += prompt
	}
	sess.greeted = true
	_, err := sess.conn.Write([]byte(data))
	return err
}
