package diagnostic_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/nightcall/nightcall/services/diagnostic"
	"github.com/stretchr/testify/require"
)

func TestServerLogger_Logfmt(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	head := "ts=" + now.Format(diagnostic.RFC3339Milli) + " lvl=info msg="

	tests := []struct {
		name   string
		msg    string
		fields []diagnostic.Field
		exp    string
	}{
		{
			name: "no fields",
			msg:  "ready",
			exp:  head + "ready\n",
		},
		{
			name: "message with spaces is quoted",
			msg:  "service started",
			exp:  head + `"service started"` + "\n",
		},
		{
			name:   "string",
			msg:    "routed",
			fields: []diagnostic.Field{diagnostic.String("policy", "blackout")},
			exp:    head + "routed policy=blackout\n",
		},
		{
			name:   "string with spaces is quoted",
			msg:    "notify",
			fields: []diagnostic.Field{diagnostic.String("responder", "Dana Soto")},
			exp:    head + `notify responder="Dana Soto"` + "\n",
		},
		{
			name:   "stringer",
			msg:    "window",
			fields: []diagnostic.Field{diagnostic.Stringer("window", 90*time.Second)},
			exp:    head + "window window=1m30s\n",
		},
		{
			name:   "int",
			msg:    "escalated",
			fields: []diagnostic.Field{diagnostic.Int("level", 2)},
			exp:    head + "escalated level=2\n",
		},
		{
			name:   "bool",
			msg:    "config",
			fields: []diagnostic.Field{diagnostic.Bool("enabled", true), diagnostic.Bool("global", false)},
			exp:    head + "config enabled=true global=false\n",
		},
		{
			name:   "error",
			msg:    "notify failed",
			fields: []diagnostic.Field{diagnostic.Error(errors.New("dial timeout"))},
			exp:    head + `"notify failed" err="dial timeout"` + "\n",
		},
		{
			name:   "nil error",
			msg:    "recovered",
			fields: []diagnostic.Field{diagnostic.Error(nil)},
			exp:    head + "recovered err=nil\n",
		},
		{
			name:   "time",
			msg:    "deadline",
			fields: []diagnostic.Field{diagnostic.Time("at", at)},
			exp:    head + "deadline at=2024-01-01T08:00:00Z\n",
		},
		{
			name:   "duration",
			msg:    "ticking",
			fields: []diagnostic.Field{diagnostic.Duration("interval", 10*time.Second)},
			exp:    head + "ticking interval=10s\n",
		},
		{
			name: "field order preserved",
			msg:  "notify",
			fields: []diagnostic.Field{
				diagnostic.Int("level", 1),
				diagnostic.String("channel", "sms"),
				diagnostic.String("address", "+15550100"),
			},
			exp: head + "notify level=1 channel=sms address=+15550100\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := diagnostic.NewServerLogger(&buf)
			l.Log(now, "info", tt.msg, tt.fields)
			require.Equal(t, tt.exp, buf.String())
		})
	}
}

func TestServerLogger_With(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	head := "ts=" + now.Format(diagnostic.RFC3339Milli) + " lvl=info msg="

	var buf bytes.Buffer
	root := diagnostic.NewServerLogger(&buf)

	child := root.With(diagnostic.String("service", "oncall")).(*diagnostic.ServerLogger)
	child.Log(now, "info", "raised", []diagnostic.Field{diagnostic.String("alert", "a1")})
	require.Equal(t, head+"raised service=oncall alert=a1\n", buf.String())

	// Context accumulates through derived loggers.
	buf.Reset()
	grandchild := child.With(diagnostic.Int("level", 1)).(*diagnostic.ServerLogger)
	grandchild.Log(now, "info", "dispatched", nil)
	require.Equal(t, head+"dispatched service=oncall level=1\n", buf.String())

	// The root logger keeps an empty context.
	buf.Reset()
	root.Log(now, "info", "bare", nil)
	require.Equal(t, head+"bare\n", buf.String())
}

func TestServerLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	root := diagnostic.NewServerLogger(&buf)
	child := root.With(diagnostic.String("service", "oncall"))

	root.SetLevelF(func(lvl diagnostic.Level) bool { return lvl >= diagnostic.WarnLevel })

	child.Debug("suppressed")
	child.Info("suppressed")
	require.Empty(t, buf.String())

	child.Warn("exhausted")
	require.Contains(t, buf.String(), " lvl=warn msg=exhausted service=oncall")

	buf.Reset()
	child.Error("boom")
	require.Contains(t, buf.String(), " lvl=error msg=boom service=oncall")

	// A level change on the root applies to loggers already derived
	// from it.
	buf.Reset()
	root.SetLevelF(func(diagnostic.Level) bool { return true })
	child.Debug("visible again")
	require.Contains(t, buf.String(), ` lvl=debug msg="visible again" service=oncall`)
}
