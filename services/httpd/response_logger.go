package httpd

import "net/http"

// responseLogger is a wrapper of http.ResponseWriter that keeps track of
// the response status code and the size of the body written back.
type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (l *responseLogger) Write(b []byte) (int, error) {
	if l.status == 0 {
		// Status is 200 OK if WriteHeader has not been called yet.
		l.status = http.StatusOK
	}
	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(s int) {
	if l.status == 0 {
		l.status = s
	}
	l.w.WriteHeader(s)
}

// WroteHeader reports whether a status has been written to the response.
func (l *responseLogger) WroteHeader() bool {
	return l.status != 0
}

func (l *responseLogger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

func (l *responseLogger) Size() int {
	return l.size
}
