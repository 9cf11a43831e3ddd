package twilio

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	testAlertID = uuid.Must(uuid.Parse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"))
	testToken   = uuid.Must(uuid.Parse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"))
)

type nopDiag struct{}

func (d nopDiag) WithContext(ctx ...keyvalue.T) Diagnostic       { return d }
func (nopDiag) Error(msg string, err error)                      {}
func (nopDiag) Enabled(enabled bool)                             {}
func (nopDiag) PlacedCall(sid, to string)                        {}
func (nopDiag) SentSMS(sid, to string)                           {}
func (nopDiag) ServedPrompt(alertID string)                      {}
func (nopDiag) ServedAcknowledge(alertID, digits, result string) {}

type fakeHTTPD struct {
	added   []httpd.Route
	deleted []httpd.Route
}

func (f *fakeHTTPD) AddRawRoutes(routes []httpd.Route) error {
	f.added = append(f.added, routes...)
	return nil
}

func (f *fakeHTTPD) DelRawRoutes(routes []httpd.Route) {
	f.deleted = append(f.deleted, routes...)
}

// fakeAlerts is a canned engine for the webhook dialogue.
type fakeAlerts struct {
	alerts map[uuid.UUID]oncall.Alert
	acks   map[uuid.UUID]oncall.Ack
	ackErr error
	tokens []uuid.UUID
}

func newFakeAlerts(alerts ...oncall.Alert) *fakeAlerts {
	f := &fakeAlerts{
		alerts: make(map[uuid.UUID]oncall.Alert),
		acks:   make(map[uuid.UUID]oncall.Ack),
	}
	for _, a := range alerts {
		f.alerts[a.ID] = a
	}
	return f
}

func (f *fakeAlerts) Alert(id uuid.UUID) (oncall.Alert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return oncall.Alert{}, errors.New("no alert exists")
	}
	return a, nil
}

func (f *fakeAlerts) AcknowledgeByToken(alertID, token uuid.UUID, at time.Time) (oncall.Ack, error) {
	if f.ackErr != nil {
		return oncall.Ack{}, f.ackErr
	}
	f.tokens = append(f.tokens, token)
	ack, ok := f.acks[token]
	if !ok {
		return oncall.Ack{Status: oncall.TokenNotFound}, nil
	}
	return ack, nil
}

func testServiceConfig(apiURL string) Config {
	c := NewConfig()
	c.Enabled = true
	c.AccountSID = "AC123"
	c.AuthToken = "secret"
	c.FromNumber = "+15005550001"
	c.URL = apiURL
	return c
}

func voiceAlert() oncall.Alert {
	return oncall.Alert{
		ID:       testAlertID,
		Message:  "db is down",
		Priority: oncall.High,
		Status:   oncall.StatusPending,
		Assignments: []oncall.Assignment{{
			ID: uuid.New(),
			Target: oncall.Target{
				Responder: oncall.Responder{ID: uuid.New(), Name: "manager", Contact: "manager@example.com"},
				Channel:   oncall.Voice,
				Address:   "+15005550007",
			},
			Level: 0,
			Token: testToken,
		}},
	}
}

// recordingAPI captures the last request made against the fake provider
// API. Handlers run on server goroutines so access is guarded.
type recordingAPI struct {
	mu   sync.Mutex
	path string
	user string
	pass string
	form url.Values
	hits int
}

func (rec *recordingAPI) record(r *http.Request) {
	r.ParseForm()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.hits++
	rec.path = r.URL.Path
	rec.user, rec.pass, _ = r.BasicAuth()
	rec.form = r.PostForm
}

func (rec *recordingAPI) Path() string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.path
}

func (rec *recordingAPI) Auth() (string, string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.user, rec.pass
}

func (rec *recordingAPI) Form() url.Values {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.form
}

func (rec *recordingAPI) Hits() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.hits
}

func newAPIServer(t *testing.T, rec *recordingAPI, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestService_PlaceCall(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"CA123"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	sid, err := s.PlaceCall("+15005550006", CallURL("https://example.com/oncall/twilio/prompt?alertId=a&token=b"))
	require.NoError(t, err)
	require.Equal(t, "CA123", sid)

	require.Equal(t, "/Accounts/AC123/Calls.json", rec.Path())
	user, pass := rec.Auth()
	require.Equal(t, "AC123", user)
	require.Equal(t, "secret", pass)
	form := rec.Form()
	require.Equal(t, "+15005550001", form.Get("From"))
	require.Equal(t, "+15005550006", form.Get("To"))
	require.Equal(t, "https://example.com/oncall/twilio/prompt?alertId=a&token=b", form.Get("Url"))
	require.Equal(t, "POST", form.Get("Method"))
	require.Empty(t, form.Get("Twiml"))
}

func TestService_PlaceCallInline(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"CA124"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	doc := sayAndHangupTwiML("alice", "test call")
	sid, err := s.PlaceCall("+15005550006", CallTwiML(doc))
	require.NoError(t, err)
	require.Equal(t, "CA124", sid)
	form := rec.Form()
	require.Equal(t, doc, form.Get("Twiml"))
	require.Empty(t, form.Get("Url"))

	_, err = s.PlaceCall("+15005550006", CallInstruction{})
	require.EqualError(t, err, "call instruction must carry a url or an inline document")
}

func TestService_NotEnabled(t *testing.T) {
	s := NewService(NewConfig(), nopDiag{})

	_, err := s.PlaceCall("+15005550006", CallURL("https://example.com"))
	require.EqualError(t, err, "service is not enabled")
	_, err = s.SendSMS("+15005550006", "hi")
	require.EqualError(t, err, "service is not enabled")
}

func TestService_SendSMS(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"SM123"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	sid, err := s.SendSMS("+15005550006", "[HIGH] db is down")
	require.NoError(t, err)
	require.Equal(t, "SM123", sid)
	require.Equal(t, "/Accounts/AC123/Messages.json", rec.Path())
	form := rec.Form()
	require.Equal(t, "[HIGH] db is down", form.Get("Body"))
	require.Equal(t, "+15005550006", form.Get("To"))
}

func TestService_PostRetriesServerErrors(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"CA999"}`)
	}))
	defer ts.Close()
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	sid, err := s.PlaceCall("+15005550006", CallURL("https://example.com"))
	require.NoError(t, err)
	require.Equal(t, "CA999", sid)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestService_PostClientErrorIsPermanent(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":21211,"message":"Invalid 'To' Phone Number"}`)
	}))
	defer ts.Close()
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	_, err := s.PlaceCall("+15005550006", CallURL("https://example.com"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "twilio error 21211")
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestService_WebhookRoutes(t *testing.T) {
	httpdService := &fakeHTTPD{}
	s := NewService(testServiceConfig("https://api.twilio.com/2010-04-01"), nopDiag{})
	s.HTTPDService = httpdService

	require.NoError(t, s.Open())
	require.Len(t, httpdService.added, 2)
	require.Equal(t, "POST", httpdService.added[0].Method)
	require.Equal(t, "/oncall/twilio/prompt", httpdService.added[0].Pattern)
	require.Equal(t, "POST", httpdService.added[1].Method)
	require.Equal(t, "/oncall/twilio/acknowledge", httpdService.added[1].Pattern)

	require.NoError(t, s.Close())
	require.Len(t, httpdService.deleted, 2)

	// A disabled service registers nothing.
	httpdService = &fakeHTTPD{}
	s = NewService(NewConfig(), nopDiag{})
	s.HTTPDService = httpdService
	require.NoError(t, s.Open())
	require.Empty(t, httpdService.added)
}

func webhookRequest(t *testing.T, path, alertID, token string, digits *string) *http.Request {
	t.Helper()
	target := path + "?alertId=" + alertID + "&token=" + token
	var body io.Reader
	if digits != nil {
		form := url.Values{}
		form.Set("Digits", *digits)
		body = strings.NewReader(form.Encode())
	}
	r := httptest.NewRequest("POST", target, body)
	if digits != nil {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return r
}

func TestService_PromptWebhook(t *testing.T) {
	alert := voiceAlert()
	s := NewService(testServiceConfig("https://api.twilio.com/2010-04-01"), nopDiag{})
	s.OnCallService = newFakeAlerts(alert)

	w := httptest.NewRecorder()
	s.handlePrompt(w, webhookRequest(t, "/oncall/twilio/prompt", testAlertID.String(), testToken.String(), nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	ackURL := "https://example.com/oncall/twilio/acknowledge?alertId=" + testAlertID.String() + "&token=" + testToken.String()
	promptURL := "https://example.com/oncall/twilio/prompt?alertId=" + testAlertID.String() + "&token=" + testToken.String()
	require.Equal(t, promptTwiML("alice", oncall.High, "db is down", ackURL, promptURL), w.Body.String())
}

func TestService_PromptWebhookMisses(t *testing.T) {
	alert := voiceAlert()
	s := NewService(testServiceConfig("https://api.twilio.com/2010-04-01"), nopDiag{})
	s.OnCallService = newFakeAlerts(alert)

	testCases := []struct {
		name    string
		alertID string
		token   string
		want    string
	}{
		{
			name:    "unparseable alert id",
			alertID: "nope",
			token:   testToken.String(),
			want:    alertMissingTwiML("alice"),
		},
		{
			name:    "unknown alert",
			alertID: uuid.New().String(),
			token:   testToken.String(),
			want:    alertMissingTwiML("alice"),
		},
		{
			name:    "unparseable token",
			alertID: testAlertID.String(),
			token:   "nope",
			want:    assignmentMissingTwiML("alice"),
		},
		{
			name:    "unknown token",
			alertID: testAlertID.String(),
			token:   uuid.New().String(),
			want:    assignmentMissingTwiML("alice"),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.handlePrompt(w, webhookRequest(t, "/oncall/twilio/prompt", tc.alertID, tc.token, nil))
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tc.want, w.Body.String())
		})
	}
}

func TestService_AcknowledgeWebhook(t *testing.T) {
	alert := voiceAlert()
	responder := alert.Assignments[0].Target.Responder
	ackedAt := time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC)

	newService := func(ack oncall.Ack, ackErr error) (*Service, *fakeAlerts) {
		f := newFakeAlerts(alert)
		f.acks[testToken] = ack
		f.ackErr = ackErr
		s := NewService(testServiceConfig("https://api.twilio.com/2010-04-01"), nopDiag{})
		s.OnCallService = f
		return s, f
	}

	promptURL := "https://example.com/oncall/twilio/prompt?alertId=" + testAlertID.String() + "&token=" + testToken.String()
	ackURL := "https://example.com/oncall/twilio/acknowledge?alertId=" + testAlertID.String() + "&token=" + testToken.String()

	t.Run("digit 1 acknowledges", func(t *testing.T) {
		s, f := newService(oncall.Ack{Status: oncall.Acknowledged, Responder: responder, At: ackedAt}, nil)
		digits := "1"
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, acceptedTwiML("alice", "manager"), w.Body.String())
		require.Equal(t, []uuid.UUID{testToken}, f.tokens)
	})

	t.Run("digit 1 surrounded by whitespace", func(t *testing.T) {
		s, _ := newService(oncall.Ack{Status: oncall.Acknowledged, Responder: responder, At: ackedAt}, nil)
		digits := " 1 "
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, acceptedTwiML("alice", "manager"), w.Body.String())
	})

	t.Run("replay returns already handled", func(t *testing.T) {
		s, _ := newService(oncall.Ack{Status: oncall.AlreadyAcknowledged, Responder: responder, At: ackedAt}, nil)
		digits := "1"
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, alreadyHandledTwiML("alice", "manager"), w.Body.String())
	})

	t.Run("digit 2 repeats the prompt", func(t *testing.T) {
		s, f := newService(oncall.Ack{}, nil)
		digits := "2"
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, promptTwiML("alice", oncall.High, "db is down", ackURL, promptURL), w.Body.String())
		require.Empty(t, f.tokens)
	})

	t.Run("unknown digit is invalid input", func(t *testing.T) {
		s, f := newService(oncall.Ack{}, nil)
		digits := "9"
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, invalidInputTwiML("alice", promptURL), w.Body.String())
		require.Empty(t, f.tokens)
	})

	t.Run("empty digits is invalid input", func(t *testing.T) {
		s, _ := newService(oncall.Ack{}, nil)
		digits := ""
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, invalidInputTwiML("alice", promptURL), w.Body.String())
	})

	t.Run("engine failure never errors to the provider", func(t *testing.T) {
		s, _ := newService(oncall.Ack{}, errors.New("storage offline"))
		digits := "1"
		w := httptest.NewRecorder()
		s.handleAcknowledge(w, webhookRequest(t, "/oncall/twilio/acknowledge", testAlertID.String(), testToken.String(), &digits))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, alertMissingTwiML("alice"), w.Body.String())
	})
}

func TestService_VoiceNotifier(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"CA123"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})
	n := s.VoiceNotifier()

	alert := voiceAlert()
	require.NoError(t, n.Notify(alert, alert.Assignments[0]))
	form := rec.Form()
	require.Equal(t, "+15005550007", form.Get("To"))
	wantURL := "https://example.com/oncall/twilio/prompt?alertId=" + testAlertID.String() + "&token=" + testToken.String()
	require.Equal(t, wantURL, form.Get("Url"))

	// Non-voice assignments are ignored without touching the API.
	email := alert.Assignments[0]
	email.Target.Channel = oncall.Email
	before := rec.Hits()
	require.NoError(t, n.Notify(alert, email))
	require.Equal(t, before, rec.Hits())

	// A voice target without a number is an error.
	blank := alert.Assignments[0]
	blank.Target.Address = ""
	require.Error(t, n.Notify(alert, blank))
	require.Equal(t, before, rec.Hits())
}

func TestService_SMSNotifier(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"SM123"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})
	n := s.SMSNotifier()

	alert := voiceAlert()
	sms := alert.Assignments[0]
	sms.Target.Channel = oncall.SMS
	sms.Target.Address = "+15005550042"

	require.NoError(t, n.Notify(alert, sms))
	form := rec.Form()
	require.Equal(t, "+15005550042", form.Get("To"))
	require.Equal(t, "[HIGH] db is down", form.Get("Body"))

	// Voice assignments are not texted.
	before := rec.Hits()
	require.NoError(t, n.Notify(alert, alert.Assignments[0]))
	require.Equal(t, before, rec.Hits())
}

func TestService_Update(t *testing.T) {
	s := NewService(testServiceConfig("https://api.twilio.com/2010-04-01"), nopDiag{})

	c := s.config()
	c.WebhookBase = "https://oncall.example.net/hooks/"
	require.NoError(t, s.Update([]interface{}{c}))
	got := s.webhookURL(promptPath, testAlertID, testToken)
	require.Equal(t, "https://oncall.example.net/hooks/prompt?alertId="+testAlertID.String()+"&token="+testToken.String(), got)

	require.Error(t, s.Update([]interface{}{"not a config"}))
	require.Error(t, s.Update([]interface{}{c, c}))
}

func TestService_Test(t *testing.T) {
	rec := &recordingAPI{}
	ts := newAPIServer(t, rec, `{"sid":"SM321"}`)
	s := NewService(testServiceConfig(ts.URL), nopDiag{})

	o, ok := s.TestOptions().(*testOptions)
	require.True(t, ok)
	require.Equal(t, "sms", o.Channel)
	require.Equal(t, "+15005550001", o.To)

	require.NoError(t, s.Test(o))
	require.Equal(t, "/Accounts/AC123/Messages.json", rec.Path())
	require.Equal(t, "test nightcall message", rec.Form().Get("Body"))

	o.Channel = "voice"
	require.NoError(t, s.Test(o))
	require.Equal(t, "/Accounts/AC123/Calls.json", rec.Path())
	require.Contains(t, rec.Form().Get("Twiml"), "test nightcall message")

	o.Channel = "fax"
	require.Error(t, s.Test(o))
	require.Error(t, s.Test("not options"))
}
