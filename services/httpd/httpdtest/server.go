package httpdtest

import (
	"expvar"
	"io/ioutil"
	"net/http/httptest"
	"os"

	"github.com/nightcall/nightcall/services/diagnostic"
	"github.com/nightcall/nightcall/services/httpd"
)

type Server struct {
	Handler *httpd.Handler
	Server  *httptest.Server

	ds *diagnostic.Service
}

func NewServer(verbose bool) *Server {
	statMap := &expvar.Map{}
	statMap.Init()

	out := ioutil.Discard
	if verbose {
		out = os.Stderr
	}
	ds := diagnostic.NewService(diagnostic.NewConfig(), out, out)
	ds.Open()
	if verbose {
		ds.SetLogLevelFromName("DEBUG")
	}
	s := &Server{
		Handler: httpd.NewHandler(
			false,
			verbose,
			false,
			statMap,
			ds.NewHTTPDHandler(),
			ds,
		),
		ds: ds,
	}

	s.Server = httptest.NewServer(s.Handler)
	return s
}

func (s *Server) Close() error {
	s.Server.Close()
	return s.ds.Close()
}

func (s *Server) AddRoutes(routes []httpd.Route) error {
	return s.Handler.AddRoutes(routes)
}

func (s *Server) DelRoutes(routes []httpd.Route) {
	s.Handler.DelRoutes(routes)
}
