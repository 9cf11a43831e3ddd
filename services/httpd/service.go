package httpd

import (
	"context"
	"crypto/tls"
	"expvar"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

type Diagnostic interface {
	NewHTTPServerErrorLogger() *log.Logger

	StartingService()
	StoppedService()
	ShutdownTimeout()

	ListeningOn(addr string, proto string)

	HTTP(
		host string,
		username string,
		start time.Time,
		method string,
		uri string,
		proto string,
		status int,
		referer string,
		userAgent string,
		reqID string,
		duration time.Duration,
	)

	Error(msg string, err error)
	RecoveryError(
		msg string,
		err string,
		host string,
		username string,
		start time.Time,
		method string,
		uri string,
		proto string,
		status int,
		referer string,
		userAgent string,
		reqID string,
		duration time.Duration,
	)
}

type Service struct {
	addr  string
	https bool
	cert  string
	key   string
	err   chan error

	externalURL string

	mu     sync.Mutex
	ln     net.Listener
	server *http.Server
	wg     sync.WaitGroup

	shutdownTimeout time.Duration

	Handler *Handler

	diag Diagnostic
}

func NewService(c Config, hostname string, d Diagnostic, ds DiagnosticService) *Service {
	statMap := &expvar.Map{}
	statMap.Init()

	port, _ := c.Port()
	u := url.URL{
		Host:   fmt.Sprintf("%s:%d", hostname, port),
		Scheme: "http",
	}
	if c.HTTPSEnabled {
		u.Scheme = "https"
	}
	s := &Service{
		addr:            c.BindAddress,
		https:           c.HTTPSEnabled,
		cert:            c.HTTPSCertificate,
		key:             c.HTTPSPrivateKey,
		externalURL:     u.String(),
		err:             make(chan error, 1),
		shutdownTimeout: time.Duration(c.ShutdownTimeout),
		Handler: NewHandler(
			c.PprofEnabled,
			c.LogEnabled,
			c.GZIP,
			statMap,
			d,
			ds,
		),
		diag: d,
	}
	if s.key == "" {
		s.key = s.cert
	}

	return s
}

// Open binds the listener and starts serving requests.
func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diag.StartingService()

	ln, proto, err := s.listen()
	if err != nil {
		return err
	}
	s.diag.ListeningOn(ln.Addr().String(), proto)
	s.ln = ln

	s.server = &http.Server{
		Handler:  s.Handler,
		ErrorLog: s.diag.NewHTTPServerErrorLogger(),
	}

	s.wg.Add(1)
	go s.serve(s.server, s.ln)
	return nil
}

func (s *Service) listen() (net.Listener, string, error) {
	if !s.https {
		ln, err := net.Listen("tcp", s.addr)
		return ln, "http", err
	}

	cert, err := tls.LoadX509KeyPair(s.cert, s.key)
	if err != nil {
		return nil, "", err
	}
	ln, err := tls.Listen("tcp", s.addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	return ln, "https", err
}

// Close drains in-flight requests for up to the configured shutdown
// timeout, then forcefully closes whatever is left.
func (s *Service) Close() error {
	defer s.diag.StoppedService()
	s.mu.Lock()
	defer s.mu.Unlock()
	// Never started.
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err == context.DeadlineExceeded {
		s.diag.ShutdownTimeout()
		err = s.server.Close()
	}

	s.wg.Wait()
	s.server = nil
	s.ln = nil
	return err
}

func (s *Service) Err() <-chan error {
	return s.err
}

func (s *Service) serve(server *http.Server, ln net.Listener) {
	defer s.wg.Done()
	err := server.Serve(ln)
	if err == http.ErrServerClosed {
		s.err <- nil
		return
	}
	s.err <- fmt.Errorf("listener failed: addr=%s, err=%s", ln.Addr(), err)
}

func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

func (s *Service) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	scheme := "http://"
	if s.https {
		scheme = "https://"
	}
	return scheme + s.ln.Addr().String() + BasePath
}

// ExternalURL is the URL that should resolve to this server from outside.
// It is only as correct as the configured hostname.
func (s *Service) ExternalURL() string {
	return s.externalURL
}

func (s *Service) AddRoutes(routes []Route) error {
	return s.Handler.AddRoutes(routes)
}

func (s *Service) DelRoutes(routes []Route) {
	s.Handler.DelRoutes(routes)
}

// AddRawRoutes adds routes at their literal paths, without the base path.
func (s *Service) AddRawRoutes(routes []Route) error {
	return s.Handler.AddRawRoutes(routes)
}

// DelRawRoutes deletes routes at their literal paths, without the base path.
func (s *Service) DelRawRoutes(routes []Route) {
	s.Handler.DelRawRoutes(routes)
}
