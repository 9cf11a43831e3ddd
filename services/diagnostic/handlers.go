package diagnostic

import (
	"log"
	"runtime"
	"time"

	"github.com/nightcall/nightcall/keyvalue"
	"github.com/nightcall/nightcall/services/pushover"
	"github.com/nightcall/nightcall/services/slack"
	"github.com/nightcall/nightcall/services/smtp"
	"github.com/nightcall/nightcall/services/twilio"
	"github.com/nightcall/nightcall/uuid"
)

// Err, Info and Debug bridge the keyvalue context pairs carried by the
// narrow per-service Diagnostic interfaces onto a structured Logger.
func Err(l Logger, msg string, err error, ctx []keyvalue.T) {
	fields := make([]Field, 0, len(ctx)+1)
	fields = append(fields, Error(err))
	for _, kv := range ctx {
		fields = append(fields, String(kv.Key, kv.Value))
	}
	l.Error(msg, fields...)
}

func Info(l Logger, msg string, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Info(msg)
		return
	}
	l.Info(msg, logFieldsFromContext(ctx)...)
}

func Debug(l Logger, msg string, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Debug(msg)
		return
	}
	l.Debug(msg, logFieldsFromContext(ctx)...)
}

func logFieldsFromContext(ctx []keyvalue.T) []Field {
	fields := make([]Field, len(ctx))
	for i, kv := range ctx {
		fields[i] = String(kv.Key, kv.Value)
	}

	return fields
}

// OnCall handler

type OnCallHandler struct {
	l Logger
}

func (h *OnCallHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *OnCallHandler) RaisedAlert(id uuid.UUID, priority string) {
	h.l.Info("raised alert", Stringer("alert", id), String("priority", priority))
}

func (h *OnCallHandler) DispatchedLevel(id uuid.UUID, level int, targets int) {
	h.l.Debug("dispatched escalation level", Stringer("alert", id), Int("level", level), Int("targets", targets))
}

func (h *OnCallHandler) Escalated(id uuid.UUID, level int) {
	h.l.Info("escalated alert", Stringer("alert", id), Int("level", level))
}

func (h *OnCallHandler) Exhausted(id uuid.UUID) {
	h.l.Warn("alert exhausted all escalation levels", Stringer("alert", id))
}

func (h *OnCallHandler) Acknowledged(id uuid.UUID, responder string) {
	h.l.Info("alert acknowledged", Stringer("alert", id), String("responder", responder))
}

func (h *OnCallHandler) StartedTicker(interval time.Duration) {
	h.l.Debug("started escalation ticker", Duration("interval", interval))
}

func (h *OnCallHandler) NotifiedConsole(id uuid.UUID, level int, channel, responder, address, message string) {
	h.l.Info("notify",
		Stringer("alert", id),
		Int("level", level),
		String("channel", channel),
		String("responder", responder),
		String("address", address),
		String("message", message),
	)
}

// HTTPD handler

type HTTPDHandler struct {
	l Logger
}

func (h *HTTPDHandler) NewHTTPServerErrorLogger() *log.Logger {
	w := errorLogWriter{l: h.l.With(String("source", "http_server"))}
	return log.New(w, "", log.LstdFlags)
}

func (h *HTTPDHandler) StartingService() {
	h.l.Info("starting HTTP service")
}

func (h *HTTPDHandler) StoppedService() {
	h.l.Info("closed HTTP service")
}

func (h *HTTPDHandler) ShutdownTimeout() {
	h.l.Error("shutdown timedout, forcefully closing all remaining connections")
}

func (h *HTTPDHandler) ListeningOn(addr string, proto string) {
	h.l.Info("listening on", String("addr", addr), String("protocol", proto))
}

func (h *HTTPDHandler) HTTP(
	host string,
	username string,
	start time.Time,
	method string,
	uri string,
	proto string,
	status int,
	referer string,
	userAgent string,
	reqID string,
	duration time.Duration,
) {
	h.l.Info("http request",
		String("host", host),
		String("username", username),
		Time("start", start),
		String("method", method),
		String("uri", uri),
		String("protocol", proto),
		Int("status", status),
		String("referer", referer),
		String("user-agent", userAgent),
		String("request-id", reqID),
		Duration("duration", duration),
	)
}

func (h *HTTPDHandler) RecoveryError(
	msg string,
	err string,
	host string,
	username string,
	start time.Time,
	method string,
	uri string,
	proto string,
	status int,
	referer string,
	userAgent string,
	reqID string,
	duration time.Duration,
) {
	h.l.Error(
		msg,
		String("err", err),
		String("host", host),
		String("username", username),
		Time("start", start),
		String("method", method),
		String("uri", uri),
		String("protocol", proto),
		Int("status", status),
		String("referer", referer),
		String("user-agent", userAgent),
		String("request-id", reqID),
		Duration("duration", duration),
	)
}

func (h *HTTPDHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

// Storage Handler

type StorageHandler struct {
	l Logger
}

func (h *StorageHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

// Twilio handler

type TwilioHandler struct {
	l Logger
}

func (h *TwilioHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

func (h *TwilioHandler) Enabled(enabled bool) {
	h.l.Info("twilio notifications", Bool("enabled", enabled))
}

func (h *TwilioHandler) PlacedCall(sid, to string) {
	h.l.Info("placed voice call", String("sid", sid), String("to", to))
}

func (h *TwilioHandler) SentSMS(sid, to string) {
	h.l.Info("sent sms", String("sid", sid), String("to", to))
}

func (h *TwilioHandler) ServedPrompt(alertID string) {
	h.l.Debug("served voice prompt", String("alert", alertID))
}

func (h *TwilioHandler) ServedAcknowledge(alertID, digits, result string) {
	h.l.Debug("served voice acknowledge",
		String("alert", alertID),
		String("digits", digits),
		String("result", result),
	)
}

func (h *TwilioHandler) WithContext(ctx ...keyvalue.T) twilio.Diagnostic {
	fields := logFieldsFromContext(ctx)

	return &TwilioHandler{
		l: h.l.With(fields...),
	}
}

type SMTPHandler struct {
	l Logger
}

func (h *SMTPHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

func (h *SMTPHandler) WithContext(ctx ...keyvalue.T) smtp.Diagnostic {
	fields := logFieldsFromContext(ctx)

	return &SMTPHandler{
		l: h.l.With(fields...),
	}
}

// Slack Handler

type SlackHandler struct {
	l Logger
}

func (h *SlackHandler) InsecureSkipVerify() {
	h.l.Info("service is configured to skip ssl verification")
}

func (h *SlackHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

func (h *SlackHandler) WithContext(ctx ...keyvalue.T) slack.Diagnostic {
	fields := logFieldsFromContext(ctx)

	return &SlackHandler{
		l: h.l.With(fields...),
	}
}

// Pushover handler

type PushoverHandler struct {
	l Logger
}

func (h *PushoverHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

func (h *PushoverHandler) WithContext(ctx ...keyvalue.T) pushover.Diagnostic {
	fields := logFieldsFromContext(ctx)

	return &PushoverHandler{
		l: h.l.With(fields...),
	}
}

// Stats handler

type StatsHandler struct {
	l Logger
}

func (h *StatsHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

type ServerHandler struct {
	l Logger
}

func (h *ServerHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *ServerHandler) Info(msg string, ctx ...keyvalue.T) {
	Info(h.l, msg, ctx)
}

func (h *ServerHandler) Debug(msg string, ctx ...keyvalue.T) {
	Debug(h.l, msg, ctx)
}

// errorLogWriter adapts the stdlib log.Logger net/http wants for its
// error output onto a structured Logger at error level.
type errorLogWriter struct {
	l Logger
}

func (w errorLogWriter) Write(buf []byte) (int, error) {
	w.l.Error(string(buf))
	return len(buf), nil
}

// Cmd handler

type CmdHandler struct {
	l Logger
}

func (h *CmdHandler) Error(msg string, err error) {
	h.l.Error(msg, Error(err))
}

func (h *CmdHandler) NightcallStarting(version, branch, commit string) {
	h.l.Info("nightcalld starting", String("version", version), String("branch", branch), String("commit", commit))
}

func (h *CmdHandler) GoVersion() {
	h.l.Info("go version", String("version", runtime.Version()))
}

func (h *CmdHandler) Info(msg string, ctx ...keyvalue.T) {
	Info(h.l, msg, ctx)
}
