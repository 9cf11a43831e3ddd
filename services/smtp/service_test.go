package smtp

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/smtp/smtptest"
	"github.com/nightcall/nightcall/uuid"
	"github.com/stretchr/testify/require"
)

type nopDiag struct{}

func (d nopDiag) WithContext(ctx ...keyvalue.T) Diagnostic { return d }
func (nopDiag) Error(msg string, err error)                {}

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *smtptest.Server) {
	t.Helper()
	ts, err := smtptest.NewServer()
	require.NoError(t, err)

	c := NewConfig()
	c.Enabled = true
	c.Host = ts.Host
	c.Port = ts.Port
	c.From = "nightcall@example.com"
	c.IdleTimeout = toml.Duration(time.Second)
	if mutate != nil {
		mutate(&c)
	}

	s := NewService(c, nopDiag{})
	require.NoError(t, s.Open())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func TestService_SendMail(t *testing.T) {
	s, ts := newTestService(t, nil)

	require.NoError(t, s.SendMail([]string{"primary@example.com"}, "[HIGH] db is down", "<p>db is down</p>"))
	require.NoError(t, s.Close())

	msgs := ts.SentMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, "nightcall@example.com", msgs[0].Header.Get("From"))
	require.Equal(t, "primary@example.com", msgs[0].Header.Get("To"))
	require.Equal(t, "[HIGH] db is down", msgs[0].Header.Get("Subject"))
	require.Contains(t, msgs[0].Body, "db is down")
	require.Empty(t, ts.Errors())
}

func TestService_SendMailDefaultRecipients(t *testing.T) {
	s, ts := newTestService(t, func(c *Config) {
		c.To = []string{"ops@example.com"}
	})

	require.NoError(t, s.SendMail(nil, "subject", "body"))
	require.NoError(t, s.Close())

	msgs := ts.SentMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, "ops@example.com", msgs[0].Header.Get("To"))
}

func TestService_SendMailNoRecipients(t *testing.T) {
	s, _ := newTestService(t, nil)
	err := s.SendMail(nil, "subject", "body")
	require.Equal(t, ErrNoRecipients, err)
}

func TestService_NotEnabled(t *testing.T) {
	s := NewService(NewConfig(), nopDiag{})
	err := s.SendMail([]string{"ops@example.com"}, "subject", "body")
	require.EqualError(t, err, "service is not enabled")
}

func TestService_EmailNotifier(t *testing.T) {
	s, ts := newTestService(t, nil)
	n := s.EmailNotifier()

	alert := oncall.Alert{
		ID:       uuid.New(),
		Message:  "db is down",
		Priority: oncall.High,
	}
	assignment := oncall.Assignment{
		ID: uuid.New(),
		Target: oncall.Target{
			Responder: oncall.Responder{ID: uuid.New(), Name: "primary", Contact: "primary@example.com"},
			Channel:   oncall.Email,
			Address:   "primary@example.com",
		},
		Level:    1,
		Deadline: time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC),
	}
	require.NoError(t, n.Notify(alert, assignment))

	// Other channels are ignored.
	sms := assignment
	sms.Target.Channel = oncall.SMS
	require.NoError(t, n.Notify(alert, sms))

	require.NoError(t, s.Close())
	msgs := ts.SentMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, "primary@example.com", msgs[0].Header.Get("To"))
	require.Equal(t, "[HIGH] db is down", msgs[0].Header.Get("Subject"))
	require.Contains(t, msgs[0].Body, "escalation level 1")
}

func TestService_Update(t *testing.T) {
	s, ts := newTestService(t, nil)

	require.NoError(t, s.SendMail([]string{"ops@example.com"}, "first", "body"))

	c := s.config()
	c.From = "pager@example.com"
	require.NoError(t, s.Update([]interface{}{c}))

	require.NoError(t, s.SendMail([]string{"ops@example.com"}, "second", "body"))
	require.NoError(t, s.Close())

	msgs := ts.SentMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, "nightcall@example.com", msgs[0].Header.Get("From"))
	require.Equal(t, "pager@example.com", msgs[1].Header.Get("From"))

	require.Error(t, s.Update([]interface{}{"not a config"}))
}

func TestService_Test(t *testing.T) {
	s, ts := newTestService(t, func(c *Config) {
		c.To = []string{"ops@example.com"}
	})

	o, ok := s.TestOptions().(*testOptions)
	require.True(t, ok)
	require.Equal(t, []string{"ops@example.com"}, o.To)
	require.Error(t, s.Test("not options"))

	require.NoError(t, s.Test(o))
	require.NoError(t, s.Close())

	msgs := ts.SentMessages()
	require.Len(t, msgs, 1)
	require.Equal(t, "test subject", msgs[0].Header.Get("Subject"))
}
