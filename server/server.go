// Package server provides a server type for starting and configuring a
// Nightcall server.
package server

import (
	"bytes"
	"expvar"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/services/diagnostic"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/services/oncall"
	"github.com/nightcall/nightcall/services/pushover"
	"github.com/nightcall/nightcall/services/servicetest"
	"github.com/nightcall/nightcall/services/slack"
	"github.com/nightcall/nightcall/services/smtp"
	"github.com/nightcall/nightcall/services/stats"
	"github.com/nightcall/nightcall/services/storage"
	"github.com/nightcall/nightcall/services/twilio"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

const serverIDFilename = "server.id"

// Published expvars, visible under /nightcall/v1/debug/vars.
var (
	versionVar  = expvar.NewString("version")
	serverIDVar = expvar.NewString("server_id")
	hostVar     = expvar.NewString("host")
)

// BuildInfo represents the build details for the server code.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
}

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	Info(msg string, ctx ...keyvalue.T)
	Debug(msg string, ctx ...keyvalue.T)
}

// Server is a container for the services that make up a Nightcall
// daemon. It is built from a Config and manages the startup and shutdown
// of every service in the proper order.
type Server struct {
	dataDir  string
	hostname string

	config *Config

	err chan error

	DiagService     *diagnostic.Service
	HTTPDService    *httpd.Service
	StorageService  *storage.Service
	OnCallService   *oncall.Service
	TwilioService   *twilio.Service
	SMTPService     *smtp.Service
	SlackService    *slack.Service
	PushoverService *pushover.Service
	TesterService   *servicetest.Service
	StatsService    *stats.Service

	// List of services in startup order
	Services []Service
	// Map of service name to index in Services list
	ServicesByName map[string]int

	// Map of services capable of receiving dynamic configuration updates.
	DynamicServices map[string]Updater

	BuildInfo BuildInfo
	ServerID  uuid.UUID

	// Profiling
	CPUProfile string
	MemProfile string

	profCPU *os.File
	profMem *os.File

	diag Diagnostic
}

// New returns a new instance of Server built from a config.
func New(c *Config, buildInfo BuildInfo, diagService *diagnostic.Service) (*Server, error) {
	err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("%s. To generate a valid configuration file run `nightcalld config > nightcall.generated.conf`.", err)
	}
	d := diagService.NewServerHandler()
	s := &Server{
		config:          c,
		BuildInfo:       buildInfo,
		dataDir:         c.DataDir,
		hostname:        c.Hostname,
		err:             make(chan error),
		DiagService:     diagService,
		ServicesByName:  make(map[string]int),
		DynamicServices: make(map[string]Updater),
		diag:            d,
	}
	s.diag.Info("nightcall hostname", keyvalue.KV("hostname", s.hostname))

	// Setup IDs
	if err := s.setupIDs(); err != nil {
		return nil, err
	}

	// Set published vars
	versionVar.Set(s.BuildInfo.Version)
	serverIDVar.Set(s.ServerID.String())
	hostVar.Set(s.hostname)
	s.diag.Info("server id", keyvalue.KV("server-id", s.ServerID.String()))

	// Append Nightcall services.
	s.initHTTPDService()
	s.appendStorageService()
	s.appendTesterService()

	// Append notification channel services before the engine so their
	// notifiers exist when the engine is constructed.
	s.appendSMTPService()
	s.appendSlackService()
	s.appendPushoverService()
	s.appendTwilioService()

	if err := s.appendOnCallService(); err != nil {
		return nil, errors.Wrap(err, "oncall service")
	}

	// Append StatsService last so all stats are ready to be reported.
	s.appendStatsService()

	// Append HTTPD Service last so that the API is not listening till
	// everything else succeeded.
	s.appendHTTPDService()

	return s, nil
}

func (s *Server) AppendService(name string, srv Service) {
	if _, ok := s.ServicesByName[name]; ok {
		// Should be unreachable code
		panic("cannot append service twice")
	}
	i := len(s.Services)
	s.Services = append(s.Services, srv)
	s.ServicesByName[name] = i
}

type dynamicService interface {
	Service
	Updater
	servicetest.Tester
}

func (s *Server) SetDynamicService(name string, srv dynamicService) {
	s.DynamicServices[name] = srv
	_ = s.TesterService.AddTester(name, srv)
}

func (s *Server) initHTTPDService() {
	d := s.DiagService.NewHTTPDHandler()
	srv := httpd.NewService(s.config.HTTP, s.hostname, d, s.DiagService)
	srv.Handler.Version = s.BuildInfo.Version

	s.HTTPDService = srv
}

func (s *Server) appendHTTPDService() {
	s.AppendService("httpd", s.HTTPDService)
}

func (s *Server) appendStorageService() {
	d := s.DiagService.NewStorageHandler()
	srv := storage.NewService(s.config.Storage, d)
	srv.HTTPDService = s.HTTPDService

	s.StorageService = srv
	s.AppendService("storage", srv)
}

func (s *Server) appendTesterService() {
	srv := servicetest.NewService(s.config.ServiceTests)
	srv.HTTPDService = s.HTTPDService

	s.TesterService = srv
	s.AppendService("tests", srv)
}

func (s *Server) appendSMTPService() {
	c := s.config.SMTP
	d := s.DiagService.NewSMTPHandler()
	srv := smtp.NewService(c, d)

	s.SMTPService = srv
	s.SetDynamicService("smtp", srv)
	s.AppendService("smtp", srv)
}

func (s *Server) appendSlackService() {
	c := s.config.Slack
	d := s.DiagService.NewSlackHandler()
	srv := slack.NewService(c, d)

	s.SlackService = srv
	s.SetDynamicService("slack", srv)
	s.AppendService("slack", srv)
}

func (s *Server) appendPushoverService() {
	c := s.config.Pushover
	d := s.DiagService.NewPushoverHandler()
	srv := pushover.NewService(c, d)

	s.PushoverService = srv
	s.SetDynamicService("pushover", srv)
	s.AppendService("pushover", srv)
}

func (s *Server) appendTwilioService() {
	c := s.config.Twilio
	d := s.DiagService.NewTwilioHandler()
	srv := twilio.NewService(c, d)
	srv.HTTPDService = s.HTTPDService

	s.TwilioService = srv
	s.SetDynamicService("twilio", srv)
	s.AppendService("twilio", srv)
}

func (s *Server) appendOnCallService() error {
	c := s.config.OnCall
	d := s.DiagService.NewOnCallHandler()
	srv, err := oncall.NewService(c, d)
	if err != nil {
		return err
	}
	srv.HTTPDService = s.HTTPDService
	srv.StorageService = s.StorageService

	// Install the channel notifiers. Each one ignores assignments whose
	// target is on another channel. The voice and sms adapters are only
	// installed once the provider credentials are complete.
	if s.config.SMTP.Enabled {
		srv.AddNotifier(s.SMTPService.EmailNotifier())
	}
	if s.config.Slack.Enabled {
		srv.AddNotifier(s.SlackService.ChatNotifier())
	}
	if s.config.Pushover.Enabled {
		srv.AddNotifier(s.PushoverService.PushNotifier())
	}
	if s.config.Twilio.Enabled {
		srv.AddNotifier(s.TwilioService.VoiceNotifier())
		srv.AddNotifier(s.TwilioService.SMSNotifier())
	}

	s.OnCallService = srv
	s.TwilioService.OnCallService = srv
	s.AppendService("oncall", srv)
	return nil
}

func (s *Server) appendStatsService() {
	c := s.config.Stats
	d := s.DiagService.NewStatsHandler()
	srv := stats.NewService(c, d)
	srv.Alerts = s.OnCallService
	srv.HTTPDService = s.HTTPDService

	s.StatsService = srv
	s.AppendService("stats", srv)
}

// Err returns an error channel that multiplexes all out of band errors received from all services.
func (s *Server) Err() <-chan error { return s.err }

// Open opens all the services.
func (s *Server) Open() error {
	// Start profiling, if set.
	if err := s.startProfile(s.CPUProfile, s.MemProfile); err != nil {
		return err
	}

	if err := s.startServices(); err != nil {
		s.Close()
		return err
	}

	go s.watchServices()

	return nil
}

func (s *Server) startServices() error {
	for _, service := range s.Services {
		s.diag.Debug("opening service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
		if err := service.Open(); err != nil {
			return fmt.Errorf("open service %T: %s", service, err)
		}
		s.diag.Debug("opened service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
	}
	return nil
}

// Watch if something dies
func (s *Server) watchServices() {
	s.err <- <-s.HTTPDService.Err()
}

// Close shuts down all services.
func (s *Server) Close() error {
	s.stopProfile()

	// Close the HTTPD service first so no new requests arrive while the
	// rest shuts down. Its Close is a no-op when repeated below.
	if err := s.HTTPDService.Close(); err != nil {
		s.diag.Error("error closing httpd service", err)
	}

	for i := len(s.Services) - 1; i >= 0; i-- {
		service := s.Services[i]
		s.diag.Debug("closing service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
		err := service.Close()
		if err != nil {
			s.diag.Error(fmt.Sprintf("error closing service %T", service), err)
		}
		s.diag.Debug("closed service", keyvalue.KV("service", fmt.Sprintf("%T", service)))
	}
	return nil
}

// setupIDs loads the persistent server ID, minting and saving one on the
// first start.
func (s *Server) setupIDs() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create data_dir %q", s.dataDir)
	}

	serverIDPath := filepath.Join(s.dataDir, serverIDFilename)
	serverID, err := readID(serverIDPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if serverID == uuid.Nil {
		serverID = uuid.New()
		if err := ioutil.WriteFile(serverIDPath, []byte(serverID.String()), 0644); err != nil {
			return errors.Wrap(err, "failed to save server ID")
		}
	}
	s.ServerID = serverID

	return nil
}

func readID(file string) (uuid.UUID, error) {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.ParseBytes(bytes.TrimSpace(b))
}

// Service represents a service attached to the server.
type Service interface {
	Open() error
	Close() error
}

// Updater represents a service that can have its configuration updated while running.
type Updater interface {
	Update(c []interface{}) error
}

// startProfile initializes the cpu and memory profile, if specified.
func (s *Server) startProfile(cpuprofile, memprofile string) error {
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("cpuprofile: %v", err)
		}
		s.diag.Info("writing CPU profile", keyvalue.KV("path", cpuprofile))
		s.profCPU = f
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %v", err)
		}
	}

	if memprofile != "" {
		f, err := os.Create(memprofile)
		if err != nil {
			return fmt.Errorf("memprofile: %v", err)
		}
		s.diag.Info("writing mem profile", keyvalue.KV("path", memprofile))
		s.profMem = f
		runtime.MemProfileRate = 4096
	}
	return nil
}

// stopProfile closes the cpu and memory profiles if they are running.
func (s *Server) stopProfile() {
	if s.profCPU != nil {
		pprof.StopCPUProfile()
		s.profCPU.Close()
		s.profCPU = nil
		s.diag.Info("CPU profile stopped")
	}
	if s.profMem != nil {
		if err := pprof.Lookup("heap").WriteTo(s.profMem, 0); err != nil {
			s.diag.Error("failed to write mem profile", err)
		}
		s.profMem.Close()
		s.profMem = nil
		s.diag.Info("mem profile stopped")
	}
}
