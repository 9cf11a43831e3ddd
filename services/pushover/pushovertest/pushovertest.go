// Package pushovertest provides a fake Pushover message API for tests.
package pushovertest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Server captures the form posts the pushover service sends.
type Server struct {
	URL string

	ts *httptest.Server

	mu       sync.Mutex
	requests []Request
	closed   bool
}

// Request is one captured message post.
type Request struct {
	PostData PostData
}

// PostData is the decoded form body of a message post.
type PostData struct {
	Token    string
	UserKey  string
	Message  string
	Device   string
	Title    string
	URL      string
	URLTitle string
	Sound    string
	Priority int
}

func NewServer() *Server {
	s := new(Server)
	s.ts = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = s.ts.URL
	return s
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority, _ := strconv.Atoi(r.PostForm.Get("priority"))
	req := Request{PostData: PostData{
		Token:    r.PostForm.Get("token"),
		UserKey:  r.PostForm.Get("user"),
		Message:  r.PostForm.Get("message"),
		Device:   r.PostForm.Get("device"),
		Title:    r.PostForm.Get("title"),
		URL:      r.PostForm.Get("url"),
		URLTitle: r.PostForm.Get("url_title"),
		Sound:    r.PostForm.Get("sound"),
		Priority: priority,
	}}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	fmt.Fprintln(w, `{"status":1}`)
}

// Requests returns the posts received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := make([]Request, len(s.requests))
	copy(rs, s.requests)
	return rs
}

func (s *Server) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.ts.Close()
}
