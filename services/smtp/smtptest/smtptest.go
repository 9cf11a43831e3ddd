// Package smtptest provides a minimal SMTP server that records the
// messages delivered to it.
package smtptest

import (
	"io/ioutil"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
)

// Message is a single mail captured by the server.
type Message struct {
	Header mail.Header
	Body   string
}

// Server speaks just enough SMTP to accept mail and keeps every
// delivered message for inspection.
type Server struct {
	Host string
	Port int

	l  net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	messages []*Message
	errs     []error
}

// NewServer starts a capturing SMTP server on a random localhost port.
func NewServer() (*Server, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		l.Close()
		return nil, err
	}

	s := &Server{
		Host: host,
		Port: port,
		l:    l,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// SentMessages returns the messages delivered so far, in order.
func (s *Server) SentMessages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]*Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Errors returns the protocol errors encountered so far.
func (s *Server) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]error, len(s.errs))
	copy(errs, s.errs)
	return errs
}

// Close stops the listener and waits for in-flight sessions.
func (s *Server) Close() error {
	err := s.l.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.session(conn); err != nil {
				s.mu.Lock()
				s.errs = append(s.errs, err)
				s.mu.Unlock()
			}
		}()
	}
}

// session drives one SMTP conversation until QUIT or an error.
func (s *Server) session(conn net.Conn) error {
	tc := textproto.NewConn(conn)
	if err := tc.PrintfLine("220 smtptest ready"); err != nil {
		return err
	}
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return err
		}
		verb := line
		if i := strings.IndexByte(line, ' '); i >= 0 {
			verb = line[:i]
		}
		switch strings.ToUpper(verb) {
		case "EHLO", "HELO", "MAIL", "RCPT", "RSET", "NOOP":
			if err := tc.PrintfLine("250 Ok"); err != nil {
				return err
			}
		case "DATA":
			if err := tc.PrintfLine("354 Send it"); err != nil {
				return err
			}
			msg, err := mail.ReadMessage(tc.DotReader())
			if err != nil {
				return err
			}
			body, err := ioutil.ReadAll(msg.Body)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.messages = append(s.messages, &Message{Header: msg.Header, Body: string(body)})
			s.mu.Unlock()
			if err := tc.PrintfLine("250 Ok"); err != nil {
				return err
			}
		case "QUIT":
			return tc.PrintfLine("221 Bye")
		default:
			if err := tc.PrintfLine("502 Command not implemented"); err != nil {
				return err
			}
		}
	}
}
