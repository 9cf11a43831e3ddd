package httpd

import (
	"compress/gzip"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/httprouter"
	"github.com/influxdata/influxdb/uuid"
	"github.com/nightcall/nightcall/client"
	"github.com/pkg/errors"
)

// statistics gathered by the httpd package.
const (
	statRequest     = "req"      // Number of HTTP requests served
	statPingRequest = "ping_req" // Number of ping requests served
)

const BasePath = "/nightcall/v1"

// DiagnosticService handles requests to change the log level at runtime.
type DiagnosticService interface {
	SetLogLevelFromName(lvl string) error
}

type Route struct {
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
	NoGzip      bool
	NoJSON      bool
}

// Handler serves the HTTP API endpoints of all services.
//
// Routes may be added and removed while the handler is serving requests.
// The underlying router is immutable once built, so every mutation of the
// route table swaps in a freshly built router.
type Handler struct {
	Version string

	loggingEnabled bool
	allowGzip      bool

	mu     sync.RWMutex
	routes map[string]Route
	mux    *httprouter.Router

	diag        Diagnostic
	diagService DiagnosticService

	statMap *expvar.Map
}

// NewHandler returns a new instance of handler with routes.
func NewHandler(
	pprofEnabled,
	loggingEnabled,
	allowGzip bool,
	statMap *expvar.Map,
	d Diagnostic,
	ds DiagnosticService,
) *Handler {
	h := &Handler{
		loggingEnabled: loggingEnabled,
		allowGzip:      allowGzip,
		routes:         make(map[string]Route),
		diag:           d,
		diagService:    ds,
		statMap:        statMap,
	}

	h.addRawRoutes([]Route{
		{
			// Ping
			Method:      "GET",
			Pattern:     BasePath + "/ping",
			HandlerFunc: h.servePing,
		},
		{
			// Ping
			Method:      "HEAD",
			Pattern:     BasePath + "/ping",
			HandlerFunc: h.servePing,
		},
		{
			// Display current API routes
			Method:      "GET",
			Pattern:     BasePath + "/routes",
			HandlerFunc: h.serveRoutes,
		},
		{
			// Change current log level
			Method:      "POST",
			Pattern:     BasePath + "/loglevel",
			HandlerFunc: h.serveLogLevel,
		},
		{
			Method:      "GET",
			Pattern:     BasePath + "/debug/vars",
			HandlerFunc: serveExpvar,
		},
	})
	if pprofEnabled {
		h.addRawRoutes([]Route{
			{
				Method:      "GET",
				Pattern:     pprofBasePath + "/",
				HandlerFunc: servePprof,
				NoJSON:      true,
			},
		})
	}

	return h
}

func (h *Handler) AddRoutes(routes []Route) error {
	for _, r := range routes {
		err := h.AddRoute(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) AddRoute(r Route) error {
	if len(r.Pattern) > 0 && r.Pattern[0] != '/' {
		return fmt.Errorf("route patterns must begin with a '/' %s", r.Pattern)
	}
	r.Pattern = BasePath + r.Pattern
	return h.addRawRoute(r)
}

// AddRawRoutes adds routes without prepending the base path.
func (h *Handler) AddRawRoutes(routes []Route) error {
	return h.addRawRoutes(routes)
}

func (h *Handler) addRawRoutes(routes []Route) error {
	for _, r := range routes {
		err := h.addRawRoute(r)
		if err != nil {
			return err
		}
	}
	return nil
}

// Add a route without prepending the BasePath
func (h *Handler) addRawRoute(r Route) error {
	if r.HandlerFunc == nil {
		return errors.New("route does not have a valid handler function")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	key := routeKey(r.Method, r.Pattern)
	if _, ok := h.routes[key]; ok {
		return fmt.Errorf("route conflicts with existing route: %s %s", r.Method, r.Pattern)
	}
	h.routes[key] = r

	mux, err := h.buildMux()
	if err != nil {
		delete(h.routes, key)
		return errors.Wrapf(err, "cannot add route %s %s", r.Method, r.Pattern)
	}
	h.mux = mux
	return nil
}

func (h *Handler) DelRoutes(routes []Route) {
	for _, r := range routes {
		h.DelRoute(r)
	}
}

// Delete a route from the handler. No-op if route does not exist.
func (h *Handler) DelRoute(r Route) {
	r.Pattern = BasePath + r.Pattern
	h.delRawRoute(r)
}

// DelRawRoutes deletes routes without prepending the base path.
// No-op if the routes do not exist.
func (h *Handler) DelRawRoutes(routes []Route) {
	for _, r := range routes {
		h.delRawRoute(r)
	}
}

func (h *Handler) delRawRoute(r Route) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := routeKey(r.Method, r.Pattern)
	if _, ok := h.routes[key]; !ok {
		return
	}
	delete(h.routes, key)

	mux, err := h.buildMux()
	if err != nil {
		// The remaining routes built before, so this cannot happen.
		h.diag.Error("failed to rebuild routes", err)
		return
	}
	h.mux = mux
}

func routeKey(method, pattern string) string {
	return method + " " + pattern
}

// buildMux constructs a router from the current route table.
// Conflicting patterns surface as errors rather than panics.
func (h *Handler) buildMux() (mux *httprouter.Router, err error) {
	defer func() {
		if r := recover(); r != nil {
			mux = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	mux = httprouter.New()
	mux.NotFound = h.wrap(Route{HandlerFunc: h.serve404})
	mux.GlobalOPTIONS = cors(http.HandlerFunc(ServeOptions))
	for _, r := range h.routes {
		pattern := r.Pattern
		// A pattern with a trailing slash matches every path below it.
		if strings.HasSuffix(pattern, "/") {
			pattern += "*path"
		}
		mux.Handler(r.Method, pattern, h.wrap(r))
	}
	return mux, nil
}

// wrap chains the standard middleware around a route's handler.
func (h *Handler) wrap(r Route) http.Handler {
	var handler http.Handler = r.HandlerFunc
	if !r.NoJSON {
		handler = jsonContent(handler)
	}
	if h.allowGzip && !r.NoGzip {
		handler = gzipFilter(handler)
	}
	handler = versionHeader(handler, h)
	handler = cors(handler)
	handler = requestID(handler)

	if h.loggingEnabled {
		handler = h.logHandler(handler)
	}
	handler = h.recovery(handler) // make sure recovery is always last
	return handler
}

// ServeHTTP responds to HTTP request to the handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.statMap.Add(statRequest, 1)
	h.mu.RLock()
	mux := h.mux
	h.mu.RUnlock()
	mux.ServeHTTP(w, r)
}

// serveLogLevel sets the log level of the server
func (h *Handler) serveLogLevel(w http.ResponseWriter, r *http.Request) {
	var opt client.LogLevelOptions
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(&opt)
	if err != nil {
		HttpError(w, "invalid json: "+err.Error(), true, http.StatusBadRequest)
		return
	}
	err = h.diagService.SetLogLevelFromName(opt.Level)
	if err != nil {
		HttpError(w, err.Error(), true, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveRoutes returns a list of all routes and their methods
func (h *Handler) serveRoutes(w http.ResponseWriter, r *http.Request) {
	routes := make(map[string][]string)

	h.mu.RLock()
	for _, route := range h.routes {
		routes[route.Pattern] = append(routes[route.Pattern], route.Method)
	}
	h.mu.RUnlock()
	for _, methods := range routes {
		sort.Strings(methods)
	}

	w.Write(MarshalJSON(routes, true))
}

// serve404 returns a formated 404 error
func (h *Handler) serve404(w http.ResponseWriter, r *http.Request) {
	HttpError(w, "Not Found", true, http.StatusNotFound)
}

// ServeOptions returns an empty response to comply with OPTIONS pre-flight requests
func ServeOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// servePing returns a simple response to let the client know the server is running.
func (h *Handler) servePing(w http.ResponseWriter, r *http.Request) {
	h.statMap.Add(statPingRequest, 1)
	w.WriteHeader(http.StatusNoContent)
}

const pprofBasePath = BasePath + "/debug/pprof"

// servePprof serves the pprof endpoints from under the base path.
func servePprof(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, pprofBasePath+"/")
	switch name {
	case "":
		pprof.Index(w, r)
	case "cmdline":
		pprof.Cmdline(w, r)
	case "profile":
		pprof.Profile(w, r)
	case "symbol":
		pprof.Symbol(w, r)
	case "trace":
		pprof.Trace(w, r)
	default:
		pprof.Handler(name).ServeHTTP(w, r)
	}
}

// MarshalJSON will marshal v to JSON. Pretty prints if pretty is true.
func MarshalJSON(v interface{}, pretty bool) []byte {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "    ")
	} else {
		b, err = json.Marshal(v)
	}

	if err != nil {
		type errResponse struct {
			Error string `json:"error"`
		}
		er := errResponse{Error: err.Error()}
		b, _ = json.Marshal(er)
	}
	return b
}

// serveExpvar serves registered expvar information over HTTP.
func serveExpvar(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// HttpError writes an error to the client in a standard format.
func HttpError(w http.ResponseWriter, err string, pretty bool, code int) {
	w.WriteHeader(code)

	type errResponse struct {
		Error string `json:"error"`
	}

	response := errResponse{Error: err}
	var b []byte
	if pretty {
		b, _ = json.MarshalIndent(response, "", "    ")
	} else {
		b, _ = json.Marshal(response)
	}
	w.Write(b)
}

// Filters and filter helpers

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w gzipResponseWriter) Flush() {
	w.Writer.(*gzip.Writer).Flush()
}

// determines if the client can accept compressed responses, and encodes accordingly
func gzipFilter(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			inner.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		gzw := gzipResponseWriter{Writer: gz, ResponseWriter: w}
		inner.ServeHTTP(gzw, r)
	})
}

func jsonContent(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		inner.ServeHTTP(w, r)
	})
}

// versionHeader takes a HTTP handler and returns a HTTP handler
// and adds the X-Nightcall-Version header to outgoing responses.
func versionHeader(inner http.Handler, h *Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Nightcall-Version", h.Version)
		inner.ServeHTTP(w, r)
	})
}

// cors responds to incoming requests and adds the appropriate cors headers
func cors(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set(`Access-Control-Allow-Origin`, origin)
			w.Header().Set(`Access-Control-Allow-Methods`, strings.Join([]string{
				`DELETE`,
				`GET`,
				`OPTIONS`,
				`POST`,
				`PATCH`,
			}, ", "))

			w.Header().Set(`Access-Control-Allow-Headers`, strings.Join([]string{
				`Accept`,
				`Accept-Encoding`,
				`Authorization`,
				`Content-Length`,
				`Content-Type`,
				`X-CSRF-Token`,
				`X-HTTP-Method-Override`,
			}, ", "))
		}

		if r.Method == "OPTIONS" {
			return
		}

		inner.ServeHTTP(w, r)
	})
}

func requestID(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := uuid.TimeUUID()
		r.Header.Set("Request-Id", uid.String())
		w.Header().Set("Request-Id", r.Header.Get("Request-Id"))

		inner.ServeHTTP(w, r)
	})
}

func (h *Handler) logHandler(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &responseLogger{w: w}
		inner.ServeHTTP(l, r)

		h.diag.HTTP(
			hostFromRequest(r),
			usernameFromRequest(r),
			start,
			r.Method,
			r.URL.RequestURI(),
			r.Proto,
			l.Status(),
			r.Referer(),
			r.UserAgent(),
			r.Header.Get("Request-Id"),
			time.Since(start),
		)
	})
}

func (h *Handler) recovery(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := &responseLogger{w: w}

		defer func() {
			if err := recover(); err != nil {
				h.diag.RecoveryError(
					"encountered panic serving request",
					fmt.Sprintf("%v", err),
					hostFromRequest(r),
					usernameFromRequest(r),
					start,
					r.Method,
					r.URL.RequestURI(),
					r.Proto,
					http.StatusInternalServerError,
					r.Referer(),
					r.UserAgent(),
					r.Header.Get("Request-Id"),
					time.Since(start),
				)
				if !l.WroteHeader() {
					HttpError(l, "internal server error", false, http.StatusInternalServerError)
				}
			}
		}()

		inner.ServeHTTP(l, r)
	})
}

func hostFromRequest(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func usernameFromRequest(r *http.Request) string {
	if username, _, ok := r.BasicAuth(); ok && username != "" {
		return username
	}
	return "-"
}
