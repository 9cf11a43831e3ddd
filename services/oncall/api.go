package oncall

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/nightcall/nightcall/client"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

const (
	alertsPath             = "/alerts"
	alertsPathAnchored     = "/alerts/"
	alertsBasePath         = httpd.BasePath + alertsPath
	alertsBasePathAnchored = httpd.BasePath + alertsPathAnchored

	policiesPath     = "/policies"
	policiesBasePath = httpd.BasePath + policiesPath

	acknowledgePath    = "acknowledge"
	acknowledgePattern = "*/" + acknowledgePath
)

// Alerts is the engine surface the REST API consumes.
type Alerts interface {
	Raise(message string, priority oncall.Priority, at time.Time) (oncall.Alert, error)
	List(status *oncall.Status) ([]oncall.Alert, error)
	Alert(id uuid.UUID) (oncall.Alert, error)
	AcknowledgeByResponder(alertID, responderID uuid.UUID, at time.Time) (oncall.Ack, error)
}

// PolicyFinder lists the configured escalation policies.
type PolicyFinder interface {
	Policies() []RoutedPolicy
}

type apiServer struct {
	Alerts   Alerts
	Policies PolicyFinder

	routes       []httpd.Route
	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}
	diag Diagnostic
}

func (s *apiServer) Open() error {
	// Define API routes
	s.routes = []httpd.Route{
		{
			Method:      "GET",
			Pattern:     alertsPath,
			HandlerFunc: s.handleListAlerts,
		},
		{
			Method:      "POST",
			Pattern:     alertsPath,
			HandlerFunc: s.handleRaiseAlert,
		},
		{
			Method:      "GET",
			Pattern:     alertsPathAnchored,
			HandlerFunc: s.handleAlertGet,
		},
		{
			Method:      "POST",
			Pattern:     alertsPathAnchored,
			HandlerFunc: s.handleAlertPost,
		},
		{
			Method:      "GET",
			Pattern:     policiesPath,
			HandlerFunc: s.handleListPolicies,
		},
	}

	return s.HTTPDService.AddRoutes(s.routes)
}

func (s *apiServer) Close() error {
	if s.HTTPDService != nil {
		s.HTTPDService.DelRoutes(s.routes)
	}
	return nil
}

func (s *apiServer) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	opt := client.RaiseAlertOptions{}
	if err := json.NewDecoder(r.Body).Decode(&opt); err != nil {
		httpd.HttpError(w, fmt.Sprint("invalid json: ", err.Error()), true, http.StatusBadRequest)
		return
	}
	priority, err := oncall.ParsePriority(opt.Priority)
	if err != nil {
		httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}

	alert, err := s.Alerts.Raise(opt.Message, priority, time.Now().UTC())
	if err != nil {
		switch errors.Cause(err) {
		case ErrBlankMessage, ErrNoPolicy:
			httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
		default:
			httpd.HttpError(w, fmt.Sprint("failed to raise alert: ", err.Error()), true, http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write(httpd.MarshalJSON(s.convertAlert(alert), true))
}

func (s *apiServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	var status *oncall.Status
	if st := r.URL.Query().Get("status"); st != "" {
		parsed, err := oncall.ParseStatus(st)
		if err != nil {
			httpd.HttpError(w, err.Error(), true, http.StatusBadRequest)
			return
		}
		status = &parsed
	}

	alerts, err := s.Alerts.List(status)
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("failed to list alerts: ", err.Error()), true, http.StatusInternalServerError)
		return
	}
	list := make([]client.Alert, len(alerts))
	for i := range alerts {
		list[i] = s.convertAlert(alerts[i])
	}

	res := client.AlertList{
		Link:   client.Link{Relation: client.Self, Href: r.URL.String()},
		Alerts: list,
	}
	w.WriteHeader(http.StatusOK)
	w.Write(httpd.MarshalJSON(res, true))
}

func (s *apiServer) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, alertsBasePathAnchored)
	id, err := uuid.Parse(p)
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("invalid alert id: ", err.Error()), true, http.StatusBadRequest)
		return
	}

	alert, err := s.Alerts.Alert(id)
	if err == ErrNoAlertExists {
		httpd.HttpError(w, fmt.Sprintf("unknown alert %s", p), true, http.StatusNotFound)
		return
	} else if err != nil {
		httpd.HttpError(w, fmt.Sprint("failed to get alert: ", err.Error()), true, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(httpd.MarshalJSON(s.convertAlert(alert), true))
}

func (s *apiServer) handleAlertPost(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, alertsBasePathAnchored)
	switch {
	case pathMatch(acknowledgePattern, p):
		s.handleAcknowledge(s.alertIDFromPath(p), w, r)
	default:
		httpd.HttpError(w, "not found", true, http.StatusNotFound)
	}
}

func (s *apiServer) handleAcknowledge(idStr string, w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(idStr)
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("invalid alert id: ", err.Error()), true, http.StatusBadRequest)
		return
	}
	opt := client.AcknowledgeOptions{}
	if err := json.NewDecoder(r.Body).Decode(&opt); err != nil {
		httpd.HttpError(w, fmt.Sprint("invalid json: ", err.Error()), true, http.StatusBadRequest)
		return
	}
	responderID, err := uuid.Parse(opt.Responder)
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("invalid responder id: ", err.Error()), true, http.StatusBadRequest)
		return
	}

	ack, err := s.Alerts.AcknowledgeByResponder(alertID, responderID, time.Now().UTC())
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("failed to acknowledge alert: ", err.Error()), true, http.StatusInternalServerError)
		return
	}
	switch ack.Status {
	case oncall.AlertNotFound:
		httpd.HttpError(w, fmt.Sprintf("unknown alert %s", idStr), true, http.StatusNotFound)
		return
	case oncall.AssignmentNotFound:
		httpd.HttpError(w, fmt.Sprintf("responder %s has no assignment for alert %s", opt.Responder, idStr), true, http.StatusNotFound)
		return
	}

	alert, err := s.Alerts.Alert(alertID)
	if err != nil {
		httpd.HttpError(w, fmt.Sprint("failed to get alert: ", err.Error()), true, http.StatusInternalServerError)
		return
	}

	res := client.AckResponse{
		Status:    ack.Status.String(),
		Responder: convertResponder(ack.Responder),
		At:        ack.At,
		Alert:     s.convertAlert(alert),
	}
	w.WriteHeader(http.StatusOK)
	w.Write(httpd.MarshalJSON(res, true))
}

func (s *apiServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := s.Policies.Policies()
	list := make([]client.EscalationPolicy, len(policies))
	for i, p := range policies {
		list[i] = s.convertPolicy(p)
	}

	res := client.PolicyList{
		Link:     client.Link{Relation: client.Self, Href: r.URL.String()},
		Policies: list,
	}
	w.WriteHeader(http.StatusOK)
	w.Write(httpd.MarshalJSON(res, true))
}

// alertIDFromPath returns the first segment of an anchored alert path.
func (s *apiServer) alertIDFromPath(p string) (id string) {
	d := p
	for d != "." {
		id = d
		d = path.Dir(d)
	}
	return
}

func pathMatch(pattern, p string) (match bool) {
	match, _ = path.Match(pattern, p)
	return
}

func (s *apiServer) alertLink(id string) client.Link {
	return client.Link{Relation: client.Self, Href: path.Join(alertsBasePath, id)}
}

func (s *apiServer) policyLink(name string) client.Link {
	return client.Link{Relation: client.Self, Href: path.Join(policiesBasePath, name)}
}

func convertResponder(r oncall.Responder) client.Responder {
	if r.ID == uuid.Nil {
		return client.Responder{}
	}
	return client.Responder{
		ID:      r.ID.String(),
		Name:    r.Name,
		Contact: r.Contact,
	}
}

// convertAssignment flattens an assignment for the API. The
// acknowledgement token never leaves the engine.
func convertAssignment(a oncall.Assignment) client.Assignment {
	return client.Assignment{
		ID:             a.ID.String(),
		Responder:      convertResponder(a.Target.Responder),
		Channel:        a.Target.Channel.String(),
		Address:        a.Target.Address,
		Level:          a.Level,
		DispatchedAt:   a.DispatchedAt,
		Deadline:       a.Deadline,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

func (s *apiServer) convertAlert(a oncall.Alert) client.Alert {
	assignments := make([]client.Assignment, len(a.Assignments))
	for i := range a.Assignments {
		assignments[i] = convertAssignment(a.Assignments[i])
	}
	return client.Alert{
		Link:           s.alertLink(a.ID.String()),
		ID:             a.ID.String(),
		Message:        a.Message,
		Priority:       a.Priority.String(),
		Status:         a.Status.String(),
		Policy:         a.Policy.Name,
		Level:          a.Level,
		CreatedAt:      a.CreatedAt,
		Assignments:    assignments,
		AcknowledgedBy: convertResponder(a.AcknowledgedBy),
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

func (s *apiServer) convertPolicy(rp RoutedPolicy) client.EscalationPolicy {
	priorities := make([]string, len(rp.Priorities))
	for i, p := range rp.Priorities {
		priorities[i] = p.String()
	}
	levels := make([]client.EscalationLevel, len(rp.Policy.Levels))
	for i, l := range rp.Policy.Levels {
		targets := make([]client.EscalationTarget, len(l.Targets))
		for j, t := range l.Targets {
			targets[j] = client.EscalationTarget{
				Responder: convertResponder(t.Responder),
				Channel:   t.Channel.String(),
				Address:   t.Address,
			}
		}
		levels[i] = client.EscalationLevel{
			Timeout: client.Duration(l.Timeout),
			Targets: targets,
		}
	}
	return client.EscalationPolicy{
		Link:       s.policyLink(rp.Policy.Name),
		Name:       rp.Policy.Name,
		Priorities: priorities,
		Levels:     levels,
	}
}
