package diagnostic

import (
	"bufio"
	"io"
	"sync"
	"time"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type Logger interface {
	Error(msg string, ctx ...Field)
	Warn(msg string, ctx ...Field)
	Debug(msg string, ctx ...Field)
	Info(msg string, ctx ...Field)
	With(ctx ...Field) Logger
}

// levelFilter is shared by a root logger and every logger derived from
// it with With, so a runtime level change applies to live handlers.
type levelFilter struct {
	mu sync.RWMutex
	f  func(Level) bool
}

func newLevelFilter() *levelFilter {
	return &levelFilter{f: func(Level) bool { return true }}
}

func (lf *levelFilter) set(f func(Level) bool) {
	lf.mu.Lock()
	lf.f = f
	lf.mu.Unlock()
}

func (lf *levelFilter) enabled(lvl Level) bool {
	lf.mu.RLock()
	ok := lf.f(lvl)
	lf.mu.RUnlock()
	return ok
}

// ServerLogger writes logfmt lines to a single buffered sink. Loggers
// created with With share the sink, its mutex and the level filter.
type ServerLogger struct {
	mu      *sync.Mutex
	w       *bufio.Writer
	context []Field
	filter  *levelFilter
}

func NewServerLogger(w io.Writer) *ServerLogger {
	var mu sync.Mutex
	return &ServerLogger{
		mu:     &mu,
		w:      bufio.NewWriter(w),
		filter: newLevelFilter(),
	}
}

// SetLevelF applies to this logger and everything derived from it.
func (l *ServerLogger) SetLevelF(f func(Level) bool) {
	l.filter.set(f)
}

func (l *ServerLogger) With(ctx ...Field) Logger {
	context := make([]Field, 0, len(l.context)+len(ctx))
	context = append(context, l.context...)
	context = append(context, ctx...)
	return &ServerLogger{
		mu:      l.mu,
		w:       l.w,
		context: context,
		filter:  l.filter,
	}
}

func (l *ServerLogger) Error(msg string, ctx ...Field) {
	l.log(ErrorLevel, "error", msg, ctx)
}

func (l *ServerLogger) Warn(msg string, ctx ...Field) {
	l.log(WarnLevel, "warn", msg, ctx)
}

func (l *ServerLogger) Info(msg string, ctx ...Field) {
	l.log(InfoLevel, "info", msg, ctx)
}

func (l *ServerLogger) Debug(msg string, ctx ...Field) {
	l.log(DebugLevel, "debug", msg, ctx)
}

func (l *ServerLogger) log(lvl Level, name, msg string, fields []Field) {
	if !l.filter.enabled(lvl) {
		return
	}
	l.Log(time.Now(), name, msg, fields)
}

// Log writes one line with an explicit timestamp. Level filtering has
// already happened by the time Log runs.
func (l *ServerLogger) Log(now time.Time, level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.WriteString("ts=")
	l.w.WriteString(now.Format(RFC3339Milli))
	l.w.WriteString(" lvl=")
	l.w.WriteString(level)
	l.w.WriteString(" msg=")
	writeEscaped(l.w, msg)

	for _, f := range l.context {
		l.w.WriteByte(' ')
		f.writeTo(l.w)
	}
	for _, f := range fields {
		l.w.WriteByte(' ')
		f.writeTo(l.w)
	}

	l.w.WriteByte('\n')
	l.w.Flush()
}
