package pushover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	WithContext(ctx ...keyvalue.T) Diagnostic

	Error(msg string, err error)
}

// Service sends pages through the Pushover message API. It contributes
// the push notifier.
type Service struct {
	configValue atomic.Value
	diag        Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	s := &Service{
		diag: d,
	}
	s.configValue.Store(c)
	return s
}

func (s *Service) Open() error {
	return nil
}

func (s *Service) Close() error {
	return nil
}

func (s *Service) config() Config {
	return s.configValue.Load().(Config)
}

func (s *Service) Update(newConfig []interface{}) error {
	if l := len(newConfig); l != 1 {
		return fmt.Errorf("expected only one new config object, got %d", l)
	}
	if c, ok := newConfig[0].(Config); !ok {
		return fmt.Errorf("expected config object to be of type %T, got %T", c, newConfig[0])
	} else {
		s.configValue.Store(c)
	}
	return nil
}

// Alert sends message to userKey. An empty userKey falls back to the
// configured default.
func (s *Service) Alert(userKey, message, device, title, URL, URLTitle, sound string, priority oncall.Priority) error {
	url, post, err := s.preparePost(userKey, message, device, title, URL, URLTitle, sound, priority)
	if err != nil {
		return err
	}

	resp, err := http.PostForm(url, post)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		pushoverResponse := struct {
			Errors []string `json:"errors"`
		}{}
		json.Unmarshal(body, &pushoverResponse)
		type response struct {
			Error string `json:"error"`
		}
		r := &response{Error: fmt.Sprintf("failed to understand Pushover response. code: %d content: %s", resp.StatusCode, strings.Join(pushoverResponse.Errors, ", "))}
		b := bytes.NewReader(body)
		dec := json.NewDecoder(b)
		dec.Decode(r)
		return errors.New(r.Error)
	}

	return nil
}

// apiPriority returns the pushover priority as defined by the Pushover
// API documentation https://pushover.net/api
func apiPriority(p oncall.Priority) int {
	switch p {
	case oncall.Low:
		// send as -2 to generate no notification/alert
		return -2
	case oncall.Medium:
		// -1 to always send as a quiet notification
		return -1
	case oncall.High:
		// 0 to display as high-priority and bypass the user's quiet hours
		return 0
	case oncall.Critical:
		// 1 to also require confirmation from the user
		return 1
	}

	return 0
}

type postData struct {
	Token    string
	UserKey  string
	Message  string
	Device   string
	Title    string
	URL      string
	URLTitle string
	Priority int
	Sound    string
}

func (p *postData) Values() url.Values {
	v := url.Values{}

	v.Set("token", p.Token)
	v.Set("user", p.UserKey)
	v.Set("message", p.Message)
	v.Set("priority", strconv.Itoa(p.Priority))

	if p.Device != "" {
		v.Set("device", p.Device)
	}

	if p.Title != "" {
		v.Set("title", p.Title)
	}

	if p.URL != "" {
		v.Set("url", p.URL)
	}

	if p.URLTitle != "" {
		v.Set("url_title", p.URLTitle)
	}

	if p.Sound != "" {
		v.Set("sound", p.Sound)
	}

	return v
}

func (s *Service) preparePost(userKey, message, device, title, URL, URLTitle, sound string, priority oncall.Priority) (string, url.Values, error) {
	c := s.config()

	if !c.Enabled {
		return "", nil, errors.New("service is not enabled")
	}
	if userKey == "" {
		userKey = c.UserKey
	}

	p := postData{
		Token:   c.Token,
		UserKey: userKey,
		Message: message,
	}

	p.Device = device
	p.Title = title
	p.URL = URL
	p.URLTitle = URLTitle
	p.Sound = sound

	p.Priority = apiPriority(priority)

	return c.URL, p.Values(), nil
}

// PushNotifier returns a notifier paging push targets. The target address
// is the recipient's user key. Other channels are ignored.
func (s *Service) PushNotifier() oncall.Notifier {
	return &pushNotifier{
		s:    s,
		diag: s.diag.WithContext(keyvalue.KV("channel", "push")),
	}
}

type pushNotifier struct {
	s    *Service
	diag Diagnostic
}

func (n *pushNotifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	if assignment.Target.Channel != oncall.Push {
		return nil
	}
	title := fmt.Sprintf("[%v] paging %s", alert.Priority, assignment.Target.Responder.Name)
	if err := n.s.Alert(assignment.Target.Address, alert.Message, "", title, "", "", "", alert.Priority); err != nil {
		n.diag.Error("failed to send push notification", err)
		return errors.Wrap(err, "failed to send push notification")
	}
	return nil
}

type testOptions struct {
	UserKey  string          `json:"user-key" mapstructure:"user-key"`
	Message  string          `json:"message" mapstructure:"message"`
	Device   string          `json:"device" mapstructure:"device"`
	Title    string          `json:"title" mapstructure:"title"`
	URL      string          `json:"url" mapstructure:"url"`
	URLTitle string          `json:"url-title" mapstructure:"url-title"`
	Sound    string          `json:"sound" mapstructure:"sound"`
	Priority oncall.Priority `json:"priority" mapstructure:"priority"`
}

func (s *Service) TestOptions() interface{} {
	c := s.config()
	return &testOptions{
		UserKey:  c.UserKey,
		Message:  "test pushover message",
		Priority: oncall.Critical,
	}
}

func (s *Service) Test(options interface{}) error {
	o, ok := options.(*testOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", options)
	}

	return s.Alert(
		o.UserKey,
		o.Message,
		o.Device,
		o.Title,
		o.URL,
		o.URLTitle,
		o.Sound,
		o.Priority,
	)
}
