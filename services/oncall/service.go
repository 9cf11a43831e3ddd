package oncall

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/services/stats"
	"github.com/nightcall/nightcall/services/storage"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrBlankMessage is returned by Raise when the message is blank.
	ErrBlankMessage = errors.New("alert message must not be blank")
	// ErrNoPolicy is returned by Raise when no policy routes the priority.
	ErrNoPolicy = errors.New("no escalation policy routes the priority")
)

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)

	RaisedAlert(id uuid.UUID, priority string)
	DispatchedLevel(id uuid.UUID, level int, targets int)
	Escalated(id uuid.UUID, level int)
	Exhausted(id uuid.UUID)
	Acknowledged(id uuid.UUID, responder string)
	StartedTicker(interval time.Duration)
	NotifiedConsole(id uuid.UUID, level int, channel, responder, address, message string)
}

// Service is the escalation engine. It owns policy routing, alert
// creation, the two acknowledgement paths and time advancement.
//
// A single mutex guards the read-inspect-mutate-persist sequence for
// every alert. Notifications are delivered after the lock is released
// so a slow sink cannot stall acknowledgements.
type Service struct {
	mu sync.Mutex

	alerts AlertDAO

	policies   map[oncall.Priority]oncall.Policy
	policyList []RoutedPolicy

	notifiers oncall.Notifiers

	tickInterval time.Duration
	clock        clock.Clock

	open    bool
	closing chan struct{}
	wg      sync.WaitGroup

	APIServer *apiServer

	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
	StorageService interface {
		Store(namespace string) storage.Interface
		Register(name string, store storage.StoreActioner)
		Versions() storage.Versions
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) (*Service, error) {
	policies, policyList, err := c.routes()
	if err != nil {
		return nil, err
	}
	s := &Service{
		policies:     policies,
		policyList:   policyList,
		tickInterval: time.Duration(c.TickInterval),
		clock:        clock.New(),
		diag:         d,
	}
	s.notifiers = oncall.Notifiers{consoleNotifier{diag: d}}
	s.APIServer = &apiServer{
		Alerts:   s,
		Policies: s,
		diag:     d,
	}
	return s, nil
}

// AddNotifier registers a delivery sink. It must be called before Open.
func (s *Service) AddNotifier(n oncall.Notifier) {
	s.notifiers = append(s.notifiers, n)
}

const (
	// Public name of the alerts store.
	alertsAPIName = "alerts"
	// The storage namespace for all alert data.
	alertNamespace = "oncall_store"

	alertStoreVersionKey = "alert_store_version"
	alertStoreVersion    = "1"
)

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}

	store := s.StorageService.Store(alertNamespace)
	alerts, err := newAlertKV(store)
	if err != nil {
		return err
	}
	s.alerts = alerts
	s.StorageService.Register(alertsAPIName, s.alerts)

	version, err := s.StorageService.Versions().Get(alertStoreVersionKey)
	if err != nil && err != storage.ErrNoKeyExists {
		return err
	}
	if version == "" {
		if err := s.StorageService.Versions().Set(alertStoreVersionKey, alertStoreVersion); err != nil {
			return err
		}
	} else if version != alertStoreVersion {
		return fmt.Errorf("unsupported alert store version %q", version)
	}

	s.APIServer.HTTPDService = s.HTTPDService
	if err := s.APIServer.Open(); err != nil {
		return err
	}

	s.open = true
	s.closing = make(chan struct{})
	s.wg.Add(1)
	go s.runTicker()
	s.diag.StartedTicker(s.tickInterval)

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
	return s.APIServer.Close()
}

func (s *Service) runTicker() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case now := <-ticker.C:
			if _, err := s.Advance(now.UTC()); err != nil {
				s.diag.Error("failed to advance alerts", err)
			}
		}
	}
}

// delivery is a dispatch set computed under the engine lock and
// delivered after it is released.
type delivery struct {
	alert       oncall.Alert
	assignments []oncall.Assignment
}

// Raise creates a pending alert routed by priority and dispatches its
// first escalation level.
func (s *Service) Raise(message string, priority oncall.Priority, at time.Time) (oncall.Alert, error) {
	if strings.TrimSpace(message) == "" {
		return oncall.Alert{}, ErrBlankMessage
	}
	policy, ok := s.policies[priority]
	if !ok {
		return oncall.Alert{}, errors.Wrapf(ErrNoPolicy, "priority %v", priority)
	}

	alert, dispatched, err := s.raise(message, priority, policy, at)
	if err != nil {
		return oncall.Alert{}, err
	}

	s.diag.RaisedAlert(alert.ID, priority.String())
	stats.AlertsRaised.Inc()
	s.deliver(delivery{alert: alert, assignments: dispatched})
	return alert, nil
}

func (s *Service) raise(message string, priority oncall.Priority, policy oncall.Policy, at time.Time) (oncall.Alert, []oncall.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert := oncall.Alert{
		ID:        uuid.New(),
		Message:   message,
		Priority:  priority,
		Status:    oncall.StatusPending,
		Policy:    policy,
		CreatedAt: at,
	}
	dispatched := s.dispatchLevel(&alert, 0, at)
	if err := s.alerts.Create(alert); err != nil {
		return oncall.Alert{}, nil, errors.Wrap(err, "failed to persist alert")
	}
	return alert, dispatched, nil
}

// dispatchLevel appends one assignment per target of level idx.
// The caller must hold the engine lock and deliver the returned
// assignments once it is released.
func (s *Service) dispatchLevel(a *oncall.Alert, idx int, at time.Time) []oncall.Assignment {
	level := a.Policy.Levels[idx]
	assignments := make([]oncall.Assignment, 0, len(level.Targets))
	for _, t := range level.Targets {
		assignment := oncall.Assignment{
			ID:           uuid.New(),
			Target:       t,
			Level:        idx,
			DispatchedAt: at,
			Deadline:     at.Add(level.Timeout),
			Token:        uuid.New(),
		}
		a.Assignments = append(a.Assignments, assignment)
		assignments = append(assignments, assignment)
	}
	s.diag.DispatchedLevel(a.ID, idx, len(assignments))
	return assignments
}

// deliver fans a dispatch set out to every notifier. Delivery is best
// effort, failures are logged and escalation timeouts provide recovery.
func (s *Service) deliver(d delivery) {
	for _, assignment := range d.assignments {
		channel := assignment.Target.Channel.String()
		if err := s.notifiers.Notify(d.alert, assignment); err != nil {
			stats.NotificationErrors.WithLabelValues(channel).Inc()
			s.diag.Error("failed to notify assignment", err,
				keyvalue.KV("alert", d.alert.ID.String()),
				keyvalue.KV("responder", assignment.Target.Responder.Name),
			)
			continue
		}
		stats.Notifications.WithLabelValues(channel).Inc()
	}
}

// List returns alerts in creation time order. When status is non-nil
// only alerts with that status are returned.
func (s *Service) List(status *oncall.Status) ([]oncall.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alerts, err := s.loadAlerts()
	if err != nil {
		return nil, err
	}
	if status == nil {
		return alerts, nil
	}
	filtered := alerts[:0]
	for _, a := range alerts {
		if a.Status == *status {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// Alert returns the alert with the given id.
// ErrNoAlertExists is returned if the alert does not exist.
func (s *Service) Alert(id uuid.UUID) (oncall.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts.Get(id)
}

// Policies returns the configured policies with their routed priorities.
func (s *Service) Policies() []RoutedPolicy {
	return s.policyList
}

// AcknowledgeByResponder acknowledges the alert on behalf of the first
// assignment targeting the responder. Lookup misses are outcomes, not
// errors.
func (s *Service) AcknowledgeByResponder(alertID, responderID uuid.UUID, at time.Time) (oncall.Ack, error) {
	ack, err := s.acknowledge(alertID, at, func(a *oncall.Alert) (int, oncall.AckStatus) {
		idx, ok := a.AssignmentByResponder(responderID)
		if !ok {
			return 0, oncall.AssignmentNotFound
		}
		return idx, oncall.Acknowledged
	})
	if err != nil {
		return oncall.Ack{}, err
	}
	if ack.Status == oncall.Acknowledged {
		s.diag.Acknowledged(alertID, ack.Responder.Name)
		stats.AlertsAcknowledged.WithLabelValues("responder").Inc()
	}
	return ack, nil
}

// AcknowledgeByToken acknowledges the alert on behalf of the assignment
// carrying the token.
func (s *Service) AcknowledgeByToken(alertID, token uuid.UUID, at time.Time) (oncall.Ack, error) {
	ack, err := s.acknowledge(alertID, at, func(a *oncall.Alert) (int, oncall.AckStatus) {
		idx, ok := a.AssignmentByToken(token)
		if !ok {
			return 0, oncall.TokenNotFound
		}
		return idx, oncall.Acknowledged
	})
	if err != nil {
		return oncall.Ack{}, err
	}
	if ack.Status == oncall.Acknowledged {
		s.diag.Acknowledged(alertID, ack.Responder.Name)
		stats.AlertsAcknowledged.WithLabelValues("token").Inc()
	}
	return ack, nil
}

// acknowledge resolves the assignment with locate and runs the
// completion algorithm on it.
func (s *Service) acknowledge(alertID uuid.UUID, at time.Time, locate func(*oncall.Alert) (int, oncall.AckStatus)) (oncall.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, err := s.alerts.Get(alertID)
	if err == ErrNoAlertExists {
		return oncall.Ack{Status: oncall.AlertNotFound}, nil
	} else if err != nil {
		return oncall.Ack{}, err
	}

	idx, status := locate(&alert)
	if status != oncall.Acknowledged {
		return oncall.Ack{Status: status}, nil
	}
	return s.complete(&alert, idx, at)
}

// complete finishes an acknowledgement attempt against a resolved
// assignment. It is the sole transition into the acknowledged status
// and is idempotent once reached: late attempts observe the original
// responder. The caller must hold the engine lock.
func (s *Service) complete(a *oncall.Alert, idx int, at time.Time) (oncall.Ack, error) {
	if a.Status != oncall.StatusPending {
		// Terminal alerts never transition again. Exhausted alerts
		// report no responder since none was recorded.
		return oncall.Ack{
			Status:    oncall.AlreadyAcknowledged,
			Responder: a.AcknowledgedBy,
			At:        a.AcknowledgedAt,
		}, nil
	}
	assignment := &a.Assignments[idx]
	if assignment.Acknowledged() {
		return oncall.Ack{
			Status:    oncall.AlreadyAcknowledged,
			Responder: assignment.Target.Responder,
			At:        assignment.AcknowledgedAt,
		}, nil
	}

	assignment.AcknowledgedAt = at
	a.Status = oncall.StatusAcknowledged
	a.AcknowledgedBy = assignment.Target.Responder
	a.AcknowledgedAt = at
	if err := s.alerts.Replace(*a); err != nil {
		return oncall.Ack{}, errors.Wrap(err, "failed to persist acknowledgement")
	}
	return oncall.Ack{
		Status:    oncall.Acknowledged,
		Responder: assignment.Target.Responder,
		At:        at,
	}, nil
}

// Advance evaluates every pending alert against now, escalating past
// levels whose deadline has expired. It returns the alerts that changed
// state on this tick.
func (s *Service) Advance(now time.Time) ([]oncall.Alert, error) {
	changed, deliveries, err := s.advance(now)
	if err != nil {
		return nil, err
	}
	for _, d := range deliveries {
		s.deliver(d)
	}
	return changed, nil
}

func (s *Service) advance(now time.Time) ([]oncall.Alert, []delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, err := s.loadAlerts()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list alerts")
	}

	var changed []oncall.Alert
	var deliveries []delivery
	for _, alert := range alerts {
		if alert.Status != oncall.StatusPending {
			continue
		}

		current := alert.AssignmentsAt(alert.Level)
		if len(current) == 0 {
			continue
		}
		acked := false
		var deadline time.Time
		for _, a := range current {
			if a.Acknowledged() {
				// The acknowledgement path owns the transition.
				acked = true
				break
			}
			if a.Deadline.After(deadline) {
				deadline = a.Deadline
			}
		}
		if acked || now.Before(deadline) {
			continue
		}

		next := alert.Level + 1
		if next >= len(alert.Policy.Levels) {
			alert.Status = oncall.StatusExhausted
			if err := s.alerts.Replace(alert); err != nil {
				s.diag.Error("failed to persist exhausted alert", err,
					keyvalue.KV("alert", alert.ID.String()))
				continue
			}
			s.diag.Exhausted(alert.ID)
			stats.AlertsExhausted.Inc()
			changed = append(changed, alert)
			continue
		}

		alert.Level = next
		assignments := s.dispatchLevel(&alert, next, now)
		if err := s.alerts.Replace(alert); err != nil {
			s.diag.Error("failed to persist escalated alert", err,
				keyvalue.KV("alert", alert.ID.String()))
			continue
		}
		s.diag.Escalated(alert.ID, next)
		stats.Escalations.Inc()
		changed = append(changed, alert)
		deliveries = append(deliveries, delivery{alert: alert, assignments: assignments})
	}
	return changed, deliveries, nil
}

// loadAlerts pages through the full alert store in creation time order.
// The caller must hold the engine lock.
func (s *Service) loadAlerts() ([]oncall.Alert, error) {
	var all []oncall.Alert
	offset := 0
	const limit = 100
	for {
		alerts, err := s.alerts.List(offset, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, alerts...)
		if len(alerts) != limit {
			break
		}
		offset += limit
	}
	return all, nil
}

// consoleNotifier logs every page through the service diagnostic so an
// operator can follow escalations in the daemon log even when no
// channel service is enabled.
type consoleNotifier struct {
	diag Diagnostic
}

func (n consoleNotifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	n.diag.NotifiedConsole(
		alert.ID,
		assignment.Level,
		assignment.Target.Channel.String(),
		assignment.Target.Responder.Name,
		assignment.Target.Address,
		alert.Message,
	)
	return nil
}
