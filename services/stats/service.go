package stats

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Diagnostic interface {
	Error(msg string, err error)
}

// Service exposes the prometheus registry over the HTTP API and samples
// gauge style stats on an interval.
type Service struct {
	enabled  bool
	interval time.Duration

	mu      sync.Mutex
	open    bool
	closing chan struct{}
	wg      sync.WaitGroup

	clock  clock.Clock
	routes []httpd.Route

	Alerts interface {
		List(status *oncall.Status) ([]oncall.Alert, error)
	}
	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		enabled:  c.Enabled,
		interval: time.Duration(c.StatsInterval),
		clock:    clock.New(),
		diag:     d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.open {
		return nil
	}

	s.routes = []httpd.Route{
		{
			Method:      "GET",
			Pattern:     "/metrics",
			HandlerFunc: promhttp.Handler().ServeHTTP,
			NoJSON:      true,
			NoGzip:      true,
		},
	}
	if err := s.HTTPDService.AddRoutes(s.routes); err != nil {
		return err
	}

	s.open = true
	s.closing = make(chan struct{})
	s.wg.Add(1)
	go s.sampleStats()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	s.HTTPDService.DelRoutes(s.routes)
	return nil
}

func (s *Service) sampleStats() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) sample() {
	status := oncall.StatusPending
	alerts, err := s.Alerts.List(&status)
	if err != nil {
		s.diag.Error("failed to sample pending alerts", err)
		return
	}
	PendingAlerts.Set(float64(len(alerts)))
}
