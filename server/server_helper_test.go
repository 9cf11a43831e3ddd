// This package is a set of convenience helpers and structs to make integration testing easier
package server_test

import (
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/nightcall/nightcall/client"
	"github.com/nightcall/nightcall/server"
	"github.com/nightcall/nightcall/services/diagnostic"
	"github.com/nightcall/nightcall/services/oncall"
)

// Well known responder IDs used by the default test config.
const (
	aliceID = "726b4971-f7a2-4bd3-b211-01e53b5a83ef"
	bobID   = "5edc5cdf-e35c-46cc-86fb-b4e3ef383614"
)

// Server represents a test wrapper for server.Server.
type Server struct {
	*server.Server
	Config      *server.Config
	buildInfo   server.BuildInfo
	diagService *diagnostic.Service
}

// NewServer returns a new instance of Server.
func NewServer(c *server.Config) *Server {
	buildInfo := server.BuildInfo{
		Version: "testServer",
		Commit:  "testCommit",
		Branch:  "testBranch",
	}
	c.HTTP.LogEnabled = testing.Verbose()
	var out io.Writer = ioutil.Discard
	if testing.Verbose() {
		out = os.Stderr
		c.Logging.Level = "DEBUG"
	}
	diagService := diagnostic.NewService(c.Logging, out, out)
	if err := diagService.Open(); err != nil {
		panic(err)
	}
	srv, err := server.New(c, buildInfo, diagService)
	if err != nil {
		panic(err)
	}
	s := Server{
		Server:      srv,
		Config:      c,
		buildInfo:   buildInfo,
		diagService: diagService,
	}
	return &s
}

func (s *Server) Restart() {
	s.Server.Close()
	srv, err := server.New(s.Config, s.buildInfo, s.diagService)
	if err != nil {
		panic(err.Error())
	}
	if err := srv.Open(); err != nil {
		panic(err.Error())
	}
	s.Server = srv
}

// OpenDefaultServer opens a test server with the default test config.
func OpenDefaultServer() (*Server, *client.Client) {
	c := NewConfig()
	s := OpenServer(c)
	client := Client(s)
	return s, client
}

// OpenServer opens a test server.
func OpenServer(c *server.Config) *Server {
	s := NewServer(c)
	if err := s.Open(); err != nil {
		panic(err.Error())
	}
	return s
}

func Client(s *Server) *client.Client {
	// Create client
	client, err := client.New(client.Config{
		URL: s.URL(),
	})
	if err != nil {
		panic(err)
	}
	return client
}

func (s *Server) Open() error {
	err := s.Server.Open()
	if err != nil {
		return err
	}
	u, _ := url.Parse(s.URL())
	s.Config.HTTP.BindAddress = u.Host
	return nil
}

// Close shuts down the server and removes all temporary paths.
func (s *Server) Close() {
	s.Server.Close()
	s.diagService.Close()
	os.RemoveAll(filepath.Dir(s.Config.Storage.BoltDBPath))
	os.RemoveAll(s.Config.DataDir)
}

// URL returns the base URL for the httpd endpoint.
func (s *Server) URL() string {
	if s.HTTPDService != nil {
		return s.HTTPDService.URL()
	}
	panic("httpd server not found in services")
}

// RawURL returns the URL for a route registered outside the API base path,
// such as the provider webhook endpoints.
func (s *Server) RawURL(path string) string {
	if s.HTTPDService != nil {
		return "http://" + s.HTTPDService.Addr().String() + path
	}
	panic("httpd server not found in services")
}

// AlertRetry polls for the alert behind link until check returns nil or the
// retries are spent.
func AlertRetry(cli *client.Client, link client.Link, check func(client.Alert) error, retries int, sleep time.Duration) error {
	var lastErr error
	for ; retries > 0; retries-- {
		alert, err := cli.Alert(link)
		if err != nil {
			return err
		}
		lastErr = check(alert)
		if lastErr == nil {
			return nil
		}
		time.Sleep(sleep)
	}
	return lastErr
}

// MustReadAll reads r. Panic on error.
func MustReadAll(r io.Reader) []byte {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		panic(err)
	}
	return b
}

// NewConfig returns the default config with temporary paths and a small
// escalation policy covering every priority.
func NewConfig() *server.Config {
	c := server.NewConfig()
	c.Storage.BoltDBPath = filepath.Join(MustTempDir(), "bolt.db")
	c.DataDir = MustTempDir()
	c.HTTP.BindAddress = "127.0.0.1:0"
	c.OnCall.TickInterval = toml.Duration(10 * time.Millisecond)
	c.OnCall.Responders = []oncall.ResponderConfig{
		{ID: aliceID, Name: "alice", Contact: "+15550100"},
		{ID: bobID, Name: "bob", Contact: "+15550101"},
	}
	c.OnCall.Policies = []oncall.PolicyConfig{
		{
			Name:       "default",
			Priorities: []string{"low", "medium", "high", "critical"},
			Levels: []oncall.LevelConfig{
				{
					Timeout: toml.Duration(time.Minute),
					Targets: []oncall.TargetConfig{{Responder: "alice", Channel: "voice"}},
				},
				{
					Timeout: toml.Duration(time.Minute),
					Targets: []oncall.TargetConfig{{Responder: "bob", Channel: "sms"}},
				},
			},
		},
	}
	return c
}

// NewEscalationConfig returns a config whose policy escalates and exhausts
// quickly enough for tests to observe with a real clock.
func NewEscalationConfig(levelTimeout time.Duration) *server.Config {
	c := NewConfig()
	for i := range c.OnCall.Policies[0].Levels {
		c.OnCall.Policies[0].Levels[i].Timeout = toml.Duration(levelTimeout)
	}
	return c
}

// NewLevelTimeoutConfig returns a config with one timeout per escalation
// level of the default policy.
func NewLevelTimeoutConfig(timeouts ...time.Duration) *server.Config {
	c := NewConfig()
	if len(timeouts) != len(c.OnCall.Policies[0].Levels) {
		panic("timeout count must match the default policy levels")
	}
	for i, timeout := range timeouts {
		c.OnCall.Policies[0].Levels[i].Timeout = toml.Duration(timeout)
	}
	return c
}

func MustTempDir() string {
	d, err := ioutil.TempDir("", "nightcalld-")
	if err != nil {
		panic(err)
	}
	return d
}

// RecordedRequest is one captured provider API request.
type RecordedRequest struct {
	Path string
	Form url.Values
}

// TwilioAPI is a fake provider endpoint recording the call and message
// requests the server issues.
type TwilioAPI struct {
	server   *httptest.Server
	requests chan RecordedRequest
}

func NewTwilioAPI() *TwilioAPI {
	api := &TwilioAPI{
		requests: make(chan RecordedRequest, 10),
	}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		select {
		case api.requests <- RecordedRequest{Path: r.URL.Path, Form: r.PostForm}:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"CA0123456789abcdef"}`)
	}))
	return api
}

func (api *TwilioAPI) URL() string {
	return api.server.URL
}

// Request returns the next recorded request, failing the test if none
// arrives in time.
func (api *TwilioAPI) Request(t *testing.T) RecordedRequest {
	t.Helper()
	select {
	case r := <-api.requests:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a provider request")
		return RecordedRequest{}
	}
}

func (api *TwilioAPI) Close() {
	api.server.Close()
}
