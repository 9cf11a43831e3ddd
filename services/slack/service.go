package slack

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	WithContext(ctx ...keyvalue.T) Diagnostic

	InsecureSkipVerify()
	Error(msg string, err error)
}

// Service posts pages to a Slack incoming webhook. It contributes the
// chat notifier.
type Service struct {
	configValue atomic.Value
	clientValue atomic.Value
	diag        Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	s := &Service{
		diag: d,
	}
	s.configValue.Store(c)
	s.clientValue.Store(newClient(c))
	if c.InsecureSkipVerify {
		s.diag.InsecureSkipVerify()
	}
	return s
}

func newClient(c Config) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify},
		},
	}
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

func (s *Service) client() *http.Client {
	return s.clientValue.Load().(*http.Client)
}

func (s *Service) Update(newConfig []interface{}) error {
	if l := len(newConfig); l != 1 {
		return fmt.Errorf("expected only one new config object, got %d", l)
	}
	if c, ok := newConfig[0].(Config); !ok {
		return fmt.Errorf("expected config object to be of type %T, got %T", c, newConfig[0])
	} else {
		s.configValue.Store(c)
		s.clientValue.Store(newClient(c))
		if c.InsecureSkipVerify {
			s.diag.InsecureSkipVerify()
		}
	}
	return nil
}

// slack attachment info
type attachment struct {
	Fallback string `json:"fallback"`
	Color    string `json:"color"`
	Text     string `json:"text"`
}

// color picks the attachment colour for a priority.
func color(p oncall.Priority) string {
	switch p {
	case oncall.Critical:
		return "danger"
	case oncall.High:
		return "warning"
	default:
		return "good"
	}
}

// Alert posts message to channel. An empty channel falls back to the
// configured default.
func (s *Service) Alert(channel, message string, priority oncall.Priority) error {
	url, post, err := s.preparePost(channel, message, priority)
	if err != nil {
		return err
	}

	resp, err := s.client().Post(url, "application/json", post)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		type response struct {
			Error string `json:"error"`
		}
		r := &response{Error: fmt.Sprintf("failed to understand Slack response. code: %d content: %s", resp.StatusCode, string(body))}
		b := bytes.NewReader(body)
		dec := json.NewDecoder(b)
		dec.Decode(r)
		return errors.New(r.Error)
	}
	return nil
}

func (s *Service) preparePost(channel, message string, priority oncall.Priority) (string, io.Reader, error) {
	c := s.config()
	if !c.Enabled {
		return "", nil, errors.New("service is not enabled")
	}
	if channel == "" {
		channel = c.Channel
	}

	a := attachment{
		Fallback: message,
		Text:     message,
		Color:    color(priority),
	}
	postData := make(map[string]interface{})
	postData["channel"] = channel
	postData["username"] = c.Username
	postData["text"] = ""
	postData["attachments"] = []attachment{a}

	var post bytes.Buffer
	enc := json.NewEncoder(&post)
	if err := enc.Encode(postData); err != nil {
		return "", nil, err
	}
	return c.URL, &post, nil
}

// ChatNotifier returns a notifier posting the alert to chat targets. The
// target address selects the channel when set. Other channels are
// ignored.
func (s *Service) ChatNotifier() oncall.Notifier {
	return &chatNotifier{
		s:    s,
		diag: s.diag.WithContext(keyvalue.KV("channel", "chat")),
	}
}

type chatNotifier struct {
	s    *Service
	diag Diagnostic
}

func (n *chatNotifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	if assignment.Target.Channel != oncall.Chat {
		return nil
	}
	message := fmt.Sprintf("[%v] %s (paging %s)", alert.Priority, alert.Message, assignment.Target.Responder.Name)
	if err := n.s.Alert(assignment.Target.Address, message, alert.Priority); err != nil {
		n.diag.Error("failed to post chat message", err)
		return errors.Wrap(err, "failed to post chat message")
	}
	return nil
}

type testOptions struct {
	Channel  string          `json:"channel" mapstructure:"channel"`
	Message  string          `json:"message" mapstructure:"message"`
	Priority oncall.Priority `json:"priority" mapstructure:"priority"`
}

func (s *Service) TestOptions() interface{} {
	c := s.config()
	return &testOptions{
		Channel:  c.Channel,
		Message:  "test slack message",
		Priority: oncall.Critical,
	}
}

func (s *Service) Test(options interface{}) error {
	o, ok := options.(*testOptions)
	if !ok {
		return fmt.Errorf("unexpected options type %T", options)
	}
	return s.Alert(o.Channel, o.Message, o.Priority)
}
