package diagnostic

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// A Field is one key=value pair appended to a log line. The value is
// captured when the field is constructed and rendered when the line is
// written out.
type Field struct {
	key  string
	kind fieldKind

	str string
	num int64
	t   time.Time
	err error
}

type fieldKind int

const (
	stringKind fieldKind = iota
	intKind
	boolKind
	errorKind
	timeKind
	durationKind
)

func String(key, value string) Field {
	return Field{key: key, kind: stringKind, str: value}
}

// Stringer renders the value immediately so a later mutation of the
// underlying type cannot change what gets logged.
func Stringer(key string, value fmt.Stringer) Field {
	return Field{key: key, kind: stringKind, str: value.String()}
}

func Int(key string, value int) Field {
	return Field{key: key, kind: intKind, num: int64(value)}
}

func Bool(key string, value bool) Field {
	f := Field{key: key, kind: boolKind}
	if value {
		f.num = 1
	}
	return f
}

// Error logs under the fixed key "err". A nil error renders as "nil".
func Error(err error) Field {
	return Field{key: "err", kind: errorKind, err: err}
}

func Time(key string, value time.Time) Field {
	return Field{key: key, kind: timeKind, t: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{key: key, kind: durationKind, num: int64(value)}
}

func (f Field) writeTo(w *bufio.Writer) {
	w.WriteString(f.key)
	w.WriteByte('=')
	switch f.kind {
	case stringKind:
		writeEscaped(w, f.str)
	case intKind:
		w.WriteString(strconv.FormatInt(f.num, 10))
	case boolKind:
		w.WriteString(strconv.FormatBool(f.num != 0))
	case errorKind:
		if f.err == nil {
			w.WriteString("nil")
		} else {
			writeEscaped(w, f.err.Error())
		}
	case timeKind:
		writeEscaped(w, f.t.Format(time.RFC3339Nano))
	case durationKind:
		writeEscaped(w, time.Duration(f.num).String())
	}
}

// writeEscaped quotes values containing spaces or quotes so the line
// stays machine parseable.
func writeEscaped(w *bufio.Writer, s string) {
	if strings.ContainsAny(s, " \"") {
		w.WriteString(strconv.Quote(s))
		return
	}
	w.WriteString(s)
}
