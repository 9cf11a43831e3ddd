package twilio

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

const (
	promptPath      = "prompt"
	acknowledgePath = "acknowledge"

	// postMaxElapsedTime bounds retries of a single API request.
	postMaxElapsedTime = 15 * time.Second
)

type Diagnostic interface {
	WithContext(ctx ...keyvalue.T) Diagnostic

	Error(msg string, err error)
	Enabled(enabled bool)
	PlacedCall(sid, to string)
	SentSMS(sid, to string)
	ServedPrompt(alertID string)
	ServedAcknowledge(alertID, digits, result string)
}

// Alerts is the engine surface the webhook dialogue consults.
type Alerts interface {
	Alert(id uuid.UUID) (oncall.Alert, error)
	AcknowledgeByToken(alertID, token uuid.UUID, at time.Time) (oncall.Ack, error)
}

// CallInstruction tells the provider how to drive an outbound call: fetch
// instructions from a hosted URL or run an inline TwiML document.
type CallInstruction struct {
	url   string
	twiml string
}

func CallURL(u string) CallInstruction {
	return CallInstruction{url: u}
}

func CallTwiML(doc string) CallInstruction {
	return CallInstruction{twiml: doc}
}

// Service talks to the Twilio REST API and serves the voice webhook
// dialogue. It contributes the voice and sms notifiers.
type Service struct {
	configValue atomic.Value
	clientValue atomic.Value

	routes []httpd.Route

	OnCallService Alerts
	HTTPDService  interface {
		AddRawRoutes([]httpd.Route) error
		DelRawRoutes([]httpd.Route)
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	s := &Service{
		diag: d,
	}
	s.configValue.Store(c)
	s.clientValue.Store(&http.Client{
		Timeout: 30 * time.Second,
	})
	return s
}

func (s *Service) Open() error {
	c := s.config()
	s.diag.Enabled(c.Enabled)
	if !c.Enabled {
		return nil
	}

	base, err := url.Parse(c.WebhookBase)
	if err != nil {
		return errors.Wrapf(err, "invalid webhook-base %q", c.WebhookBase)
	}
	prefix := strings.TrimSuffix(base.Path, "/")
	s.routes = []httpd.Route{
		{
			Method:      "POST",
			Pattern:     prefix + "/" + promptPath,
			HandlerFunc: s.handlePrompt,
			NoJSON:      true,
			NoGzip:      true,
		},
		{
			Method:      "POST",
			Pattern:     prefix + "/" + acknowledgePath,
			HandlerFunc: s.handleAcknowledge,
			NoJSON:      true,
			NoGzip:      true,
		},
	}
	return s.HTTPDService.AddRawRoutes(s.routes)
}

func (s *Service) Close() error {
	if len(s.routes) > 0 {
		s.HTTPDService.DelRawRoutes(s.routes)
		s.routes = nil
	}
	return nil
}

func (s *Service) config() Config {
	return s.configValue.Load().(Config)
}

func (s *Service) client() *http.Client {
	return s.clientValue.Load().(*http.Client)
}

func (s *Service) Update(newConfig []interface{}) error {
	if l := len(newConfig); l != 1 {
		return fmt.Errorf("expected only one new config object, got %d", l)
	}
	c, ok := newConfig[0].(Config)
	if !ok {
		return fmt.Errorf("expected config object to be of type %T, got %T", c, newConfig[0])
	}
	s.configValue.Store(c)
	return nil
}

// webhookURL builds the callback URL for one webhook endpoint carrying the
// alert id and the assignment token.
func (s *Service) webhookURL(suffix string, alertID, token uuid.UUID) string {
	base := strings.TrimSuffix(s.config().WebhookBase, "/")
	return fmt.Sprintf("%s/%s?alertId=%s&token=%s", base, suffix, alertID, token)
}

func (s *Service) hostedPrompt(alert oncall.Alert, assignment oncall.Assignment) CallInstruction {
	return CallURL(s.webhookURL(promptPath, alert.ID, assignment.Token))
}

// PlaceCall issues an outbound call request and returns the provider call
// SID.
func (s *Service) PlaceCall(to string, instruction CallInstruction) (string, error) {
	c := s.config()
	if !c.Enabled {
		return "", errors.New("service is not enabled")
	}

	form := url.Values{}
	form.Set("From", c.FromNumber)
	form.Set("To", to)
	switch {
	case instruction.url != "":
		form.Set("Url", instruction.url)
		form.Set("Method", "POST")
	case instruction.twiml != "":
		form.Set("Twiml", instruction.twiml)
	default:
		return "", errors.New("call instruction must carry a url or an inline document")
	}

	sid, err := s.post("Calls.json", form)
	if err != nil {
		return "", err
	}
	s.diag.PlacedCall(sid, to)
	return sid, nil
}

// SendSMS sends a text message and returns the provider message SID.
func (s *Service) SendSMS(to, body string) (string, error) {
	c := s.config()
	if !c.Enabled {
		return "", errors.New("service is not enabled")
	}

	form := url.Values{}
	form.Set("From", c.FromNumber)
	form.Set("To", to)
	form.Set("Body", body)

	sid, err := s.post("Messages.json", form)
	if err != nil {
		return "", err
	}
	s.diag.SentSMS(sid, to)
	return sid, nil
}

// post submits one form request to the account-scoped API resource,
// retrying transient failures. Client errors from the provider are
// permanent.
func (s *Service) post(resource string, form url.Values) (string, error) {
	c := s.config()
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", strings.TrimSuffix(c.URL, "/"), c.AccountSID, resource)

	var sid string
	attempt := func() error {
		req, err := http.NewRequest("POST", endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.AccountSID, c.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.client().Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			io.Copy(ioutil.Discard, resp.Body)
			return fmt.Errorf("twilio returned %s", resp.Status)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			e := struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}{}
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				return backoff.Permanent(fmt.Errorf("twilio returned %s", resp.Status))
			}
			return backoff.Permanent(fmt.Errorf("twilio error %d: %s", e.Code, e.Message))
		}

		r := struct {
			SID string `json:"sid"`
		}{}
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to decode twilio response"))
		}
		sid = r.SID
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = postMaxElapsedTime
	if err := backoff.Retry(attempt, b); err != nil {
		return "", err
	}
	return sid, nil
}

// resolveRequest parses the alertId and token query parameters and loads
// the matching alert and assignment. When any step fails the voice
// document to serve instead is returned; unparseable identifiers are
// treated as missing entities.
func (s *Service) resolveRequest(r *http.Request) (oncall.Alert, oncall.Assignment, string) {
	c := s.config()
	q := r.URL.Query()

	alertID, err := uuid.Parse(q.Get("alertId"))
	if err != nil {
		return oncall.Alert{}, oncall.Assignment{}, alertMissingTwiML(c.Voice)
	}
	token, err := uuid.Parse(q.Get("token"))
	if err != nil {
		return oncall.Alert{}, oncall.Assignment{}, assignmentMissingTwiML(c.Voice)
	}

	alert, err := s.OnCallService.Alert(alertID)
	if err != nil {
		return oncall.Alert{}, oncall.Assignment{}, alertMissingTwiML(c.Voice)
	}
	idx, ok := alert.AssignmentByToken(token)
	if !ok {
		return oncall.Alert{}, oncall.Assignment{}, assignmentMissingTwiML(c.Voice)
	}
	return alert, alert.Assignments[idx], ""
}

func (s *Service) promptFor(alert oncall.Alert, token uuid.UUID) string {
	c := s.config()
	return promptTwiML(c.Voice, alert.Priority, alert.Message,
		s.webhookURL(acknowledgePath, alert.ID, token),
		s.webhookURL(promptPath, alert.ID, token),
	)
}

func (s *Service) handlePrompt(w http.ResponseWriter, r *http.Request) {
	alert, assignment, errDoc := s.resolveRequest(r)
	if errDoc != "" {
		respondTwiML(w, errDoc)
		return
	}
	respondTwiML(w, s.promptFor(alert, assignment.Token))
	s.diag.ServedPrompt(alert.ID.String())
}

func (s *Service) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	c := s.config()
	alert, assignment, errDoc := s.resolveRequest(r)
	if errDoc != "" {
		respondTwiML(w, errDoc)
		return
	}

	var doc, result string
	digits := strings.TrimSpace(r.FormValue("Digits"))
	switch digits {
	case "1":
		ack, err := s.OnCallService.AcknowledgeByToken(alert.ID, assignment.Token, time.Now().UTC())
		if err != nil {
			s.diag.Error("failed to acknowledge alert", err)
			doc, result = alertMissingTwiML(c.Voice), "error"
			break
		}
		doc, result = ackTwiML(c.Voice, ack), ack.Status.String()
	case "2":
		doc, result = s.promptFor(alert, assignment.Token), "repeat"
	default:
		// Covers empty input as well.
		doc, result = invalidInputTwiML(c.Voice, s.webhookURL(promptPath, alert.ID, assignment.Token)), "invalid-input"
	}
	respondTwiML(w, doc)
	s.diag.ServedAcknowledge(alert.ID.String(), digits, result)
}

// ackTwiML maps an acknowledgement outcome onto its voice document.
func ackTwiML(voice string, ack oncall.Ack) string {
	switch ack.Status {
	case oncall.Acknowledged:
		return acceptedTwiML(voice, ack.Responder.Name)
	case oncall.AlreadyAcknowledged:
		return alreadyHandledTwiML(voice, ack.Responder.Name)
	case oncall.AlertNotFound:
		return alertMissingTwiML(voice)
	default:
		return assignmentMissingTwiML(voice)
	}
}

func respondTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc)
}

// VoiceNotifier returns a notifier placing an interactive acknowledgement
// call for voice targets. Other channels are ignored.
func (s *Service) VoiceNotifier() oncall.Notifier {
	return &voiceNotifier{
		s:    s,
		diag: s.diag.WithContext(keyvalue.KV("channel", "voice")),
	}
}

type voiceNotifier struct {
	s    *Service
	diag Diagnostic
}

func (n *voiceNotifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	if assignment.Target.Channel != oncall.Voice {
		return nil
	}
	to := assignment.Target.Address
	if to == "" {
		return fmt.Errorf("voice target for responder %q has no phone number", assignment.Target.Responder.Name)
	}
	if _, err := n.s.PlaceCall(to, n.s.hostedPrompt(alert, assignment)); err != nil {
		n.diag.Error("failed to place acknowledgement call", err)
		return errors.Wrap(err, "failed to place acknowledgement call")
	}
	return nil
}

// SMSNotifier returns a notifier texting the alert to sms targets.
func (s *Service) SMSNotifier() oncall.Notifier {
	return &smsNotifier{
		s:    s,
		diag: s.diag.WithContext(keyvalue.KV("channel", "sms")),
	}
}

type smsNotifier struct {
	s    *Service
	diag Diagnostic
}

func (n *smsNotifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	if assignment.Target.Channel != oncall.SMS {
		return nil
	}
	to := assignment.Target.Address
	if to == "" {
		return fmt.Errorf("sms target for responder %q has no phone number", assignment.Target.Responder.Name)
	}
	body := fmt.Sprintf("[%v] %s", alert.Priority, alert.Message)
	if _, err := n.s.SendSMS(to, body); err != nil {
		n.diag.Error("failed to send sms", err)
		return errors.Wrap(err, "failed to send sms")
	}
	return nil
}

type testOptions struct {
	To      string `json:"to" mapstructure:"to"`
	Message string `json:"message" mapstructure:"message"`
	Channel string `json:"channel" mapstructure:"channel"`
}

func (s *Service) TestOptions() interface{} {
	c := s.config()
	return &testOptions{
		To:      c.FromNumber,
		Message: "test nightcall message",
		Channel: "sms",
	}
}

func (s *Service) Test(options interface{}) error {
	o, ok := options.(*testOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", options)
	}
	switch o.Channel {
	case "sms":
		_, err := s.SendSMS(o.To, o.Message)
		return err
	case "voice":
		c := s.config()
		_, err := s.PlaceCall(o.To, CallTwiML(sayAndHangupTwiML(c.Voice, o.Message)))
		return err
	default:
		return fmt.Errorf("unknown channel %q", o.Channel)
	}
}
