// Nightcall HTTP API client written in Go
package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"
)

const DefaultUserAgent = "NightcallClient"

const basePath = "/nightcall/v1"

const (
	pingPath         = basePath + "/ping"
	logLevelPath     = basePath + "/loglevel"
	alertsPath       = basePath + "/alerts"
	policiesPath     = basePath + "/policies"
	serviceTestsPath = basePath + "/service-tests"
	storagePath      = basePath + "/storage"
	storesPath       = storagePath + "/stores"
	backupPath       = storagePath + "/backup"
)

// HTTP configuration for connecting to Nightcall
type Config struct {
	// The URL of the Nightcall server.
	URL string

	// Timeout for API requests, defaults to no timeout.
	Timeout time.Duration

	// UserAgent is the http User Agent, defaults to "NightcallClient".
	UserAgent string

	// InsecureSkipVerify gets passed to the http client, if true, it will
	// skip https certificate verification. Defaults to false.
	InsecureSkipVerify bool

	// TLSConfig allows the user to set their own TLS config for the HTTP
	// Client. If set, this option overrides InsecureSkipVerify.
	TLSConfig *tls.Config
}

// Basic HTTP client
type Client struct {
	url        *url.URL
	userAgent  string
	httpClient *http.Client
}

// Create a new client.
func New(conf Config) (*Client, error) {
	if conf.UserAgent == "" {
		conf.UserAgent = DefaultUserAgent
	}

	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, err
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf(
			"unsupported protocol scheme: %s, your address must start with http:// or https://",
			u.Scheme,
		)
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: conf.InsecureSkipVerify,
		},
	}
	if conf.TLSConfig != nil {
		tr.TLSClientConfig = conf.TLSConfig
	}
	return &Client{
		url:       u,
		userAgent: conf.UserAgent,
		httpClient: &http.Client{
			Timeout:   conf.Timeout,
			Transport: tr,
		},
	}, nil
}

// Relation is the kind of a link relative to the object carrying it.
type Relation int

const (
	Self Relation = iota
	Next
	Previous
)

func (r Relation) MarshalText() ([]byte, error) {
	switch r {
	case Self:
		return []byte("self"), nil
	case Next:
		return []byte("next"), nil
	case Previous:
		return []byte("prev"), nil
	default:
		return nil, fmt.Errorf("unknown Relation %d", r)
	}
}

func (r *Relation) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "self":
		*r = Self
	case "next":
		*r = Next
	case "prev":
		*r = Previous
	default:
		return fmt.Errorf("unknown Relation %s", s)
	}
	return nil
}

func (r Relation) String() string {
	s, err := r.MarshalText()
	if err != nil {
		return err.Error()
	}
	return string(s)
}

type Link struct {
	Relation Relation `json:"rel"`
	Href     string   `json:"href"`
}

// Duration is a time.Duration that marshals as a duration string, aka "10s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	dur, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Responder identifies an on-call person.
type Responder struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// Assignment is one page of a responder about an alert.
type Assignment struct {
	ID             string    `json:"id"`
	Responder      Responder `json:"responder"`
	Channel        string    `json:"channel"`
	Address        string    `json:"address"`
	Level          int       `json:"level"`
	DispatchedAt   time.Time `json:"dispatchedAt"`
	Deadline       time.Time `json:"deadline"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
}

// Alert is a single incident tracked by the server.
type Alert struct {
	Link           Link         `json:"link"`
	ID             string       `json:"id"`
	Message        string       `json:"message"`
	Priority       string       `json:"priority"`
	Status         string       `json:"status"`
	Policy         string       `json:"policy"`
	Level          int          `json:"level"`
	CreatedAt      time.Time    `json:"createdAt"`
	Assignments    []Assignment `json:"assignments"`
	AcknowledgedBy Responder    `json:"acknowledgedBy"`
	AcknowledgedAt time.Time    `json:"acknowledgedAt"`
}

type AlertList struct {
	Link   Link    `json:"link"`
	Alerts []Alert `json:"alerts"`
}

type RaiseAlertOptions struct {
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

type ListAlertsOptions struct {
	// Filter alerts by status, one of pending, acknowledged or exhausted.
	// All alerts are returned when empty.
	Status string
}

func (o *ListAlertsOptions) Values() *url.Values {
	v := &url.Values{}
	if o.Status != "" {
		v.Set("status", o.Status)
	}
	return v
}

type AcknowledgeOptions struct {
	// Responder is the ID of the acknowledging responder.
	Responder string `json:"responder"`
}

// AckResponse is the outcome of an acknowledgement attempt.
type AckResponse struct {
	Status    string    `json:"status"`
	Responder Responder `json:"responder"`
	At        time.Time `json:"at"`
	Alert     Alert     `json:"alert"`
}

type EscalationTarget struct {
	Responder Responder `json:"responder"`
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
}

type EscalationLevel struct {
	Timeout Duration           `json:"timeout"`
	Targets []EscalationTarget `json:"targets"`
}

type EscalationPolicy struct {
	Link       Link              `json:"link"`
	Name       string            `json:"name"`
	Priorities []string          `json:"priorities"`
	Levels     []EscalationLevel `json:"levels"`
}

type PolicyList struct {
	Link     Link               `json:"link"`
	Policies []EscalationPolicy `json:"policies"`
}

type LogLevelOptions struct {
	Level string `json:"level"`
}

type ServiceTestOptions map[string]interface{}

type ServiceTest struct {
	Link    Link               `json:"link"`
	Name    string             `json:"name"`
	Options ServiceTestOptions `json:"options"`
}

type ServiceTests struct {
	Link     Link          `json:"link"`
	Services []ServiceTest `json:"services"`
}

type ServiceTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Storage struct {
	Link Link   `json:"link"`
	Name string `json:"name"`
}

type StorageList struct {
	Link    Link      `json:"link"`
	Storage []Storage `json:"storage"`
}

type StorageAction int

const (
	_ StorageAction = iota
	StorageRebuild
)

func (sa StorageAction) MarshalText() ([]byte, error) {
	switch sa {
	case StorageRebuild:
		return []byte("rebuild"), nil
	default:
		return nil, fmt.Errorf("unknown StorageAction %d", sa)
	}
}

func (sa *StorageAction) UnmarshalText(text []byte) error {
	switch s := string(text); s {
	case "rebuild":
		*sa = StorageRebuild
	default:
		return fmt.Errorf("unknown StorageAction %s", s)
	}
	return nil
}

func (sa StorageAction) String() string {
	s, err := sa.MarshalText()
	if err != nil {
		return err.Error()
	}
	return string(s)
}

type StorageActionOptions struct {
	Action StorageAction `json:"action"`
}

func (c *Client) URL() string {
	return c.url.String()
}

func (c *Client) AlertLink(id string) Link {
	return Link{Relation: Self, Href: path.Join(alertsPath, id)}
}

func (c *Client) PolicyLink(name string) Link {
	return Link{Relation: Self, Href: path.Join(policiesPath, name)}
}

func (c *Client) ServiceTestsLink() Link {
	return Link{Relation: Self, Href: serviceTestsPath}
}

func (c *Client) ServiceTestLink(service string) Link {
	return Link{Relation: Self, Href: path.Join(serviceTestsPath, service)}
}

func (c *Client) StorageLink(name string) Link {
	return Link{Relation: Self, Href: path.Join(storesPath, name)}
}

// Perform the request.
// If result is not nil the response body is JSON decoded into result.
// Codes is a list of valid response codes.
func (c *Client) do(req *http.Request, result interface{}, codes ...int) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	valid := false
	for _, code := range codes {
		if resp.StatusCode == code {
			valid = true
			break
		}
	}
	if !valid {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		type errResp struct {
			Error string `json:"error"`
		}
		d := json.NewDecoder(bytes.NewReader(body))
		rp := errResp{}
		d.Decode(&rp)
		if rp.Error != "" {
			return nil, errors.New(rp.Error)
		}
		return nil, fmt.Errorf("invalid response: code %d: body: %s", resp.StatusCode, string(body))
	}
	if result != nil {
		d := json.NewDecoder(resp.Body)
		err := d.Decode(result)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON")
		}
	}
	return resp, nil
}

// Ping the server for a response.
// Ping returns how long the request took, the version of the server it connected to, and an error if one occurred.
func (c *Client) Ping() (time.Duration, string, error) {
	now := time.Now()
	u := *c.url
	u.Path = pingPath

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := c.do(req, nil, http.StatusNoContent)
	if err != nil {
		return 0, "", err
	}
	version := resp.Header.Get("X-Nightcall-Version")
	return time.Since(now), version, nil
}

// RaiseAlert raises a new alert and returns it with its initial
// assignments dispatched.
func (c *Client) RaiseAlert(opt RaiseAlertOptions) (Alert, error) {
	alert := Alert{}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(opt)
	if err != nil {
		return alert, err
	}

	u := *c.url
	u.Path = alertsPath

	req, err := http.NewRequest("POST", u.String(), &buf)
	if err != nil {
		return alert, err
	}

	_, err = c.do(req, &alert, http.StatusCreated)
	return alert, err
}

// ListAlerts returns alerts ordered by creation time.
func (c *Client) ListAlerts(opt *ListAlertsOptions) ([]Alert, error) {
	if opt == nil {
		opt = new(ListAlertsOptions)
	}

	u := *c.url
	u.Path = alertsPath
	u.RawQuery = opt.Values().Encode()

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, err
	}

	list := AlertList{}
	_, err = c.do(req, &list, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return list.Alerts, nil
}

// Alert returns the alert behind link.
func (c *Client) Alert(link Link) (Alert, error) {
	alert := Alert{}
	if link.Href == "" {
		return alert, fmt.Errorf("invalid link %v", link)
	}

	u := *c.url
	u.Path = link.Href

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return alert, err
	}

	_, err = c.do(req, &alert, http.StatusOK)
	return alert, err
}

// Acknowledge marks the alert behind link as acknowledged by a responder.
func (c *Client) Acknowledge(link Link, opt AcknowledgeOptions) (AckResponse, error) {
	ack := AckResponse{}
	if link.Href == "" {
		return ack, fmt.Errorf("invalid link %v", link)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(opt)
	if err != nil {
		return ack, err
	}

	u := *c.url
	u.Path = path.Join(link.Href, "acknowledge")

	req, err := http.NewRequest("POST", u.String(), &buf)
	if err != nil {
		return ack, err
	}

	_, err = c.do(req, &ack, http.StatusOK)
	return ack, err
}

// ListPolicies returns the escalation policies the server routes
// priorities over.
func (c *Client) ListPolicies() ([]EscalationPolicy, error) {
	u := *c.url
	u.Path = policiesPath

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, err
	}

	list := PolicyList{}
	_, err = c.do(req, &list, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return list.Policies, nil
}

// Set the logging level.
// Level must be one of DEBUG, INFO, WARN, ERROR, or OFF.
func (c *Client) LogLevel(level string) error {
	u := *c.url
	u.Path = logLevelPath

	opt := LogLevelOptions{Level: level}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(opt)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", u.String(), &buf)
	if err != nil {
		return err
	}

	_, err = c.do(req, nil, http.StatusNoContent)
	return err
}

// ListServiceTests lists the services with test endpoints.
func (c *Client) ListServiceTests(link Link) (ServiceTests, error) {
	r := ServiceTests{}
	if link.Href == "" {
		return r, fmt.Errorf("invalid link %v", link)
	}

	u := *c.url
	u.Path = link.Href

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return r, err
	}

	_, err = c.do(req, &r, http.StatusOK)
	return r, err
}

// ServiceTest returns the default test options of a service.
func (c *Client) ServiceTest(link Link) (ServiceTest, error) {
	r := ServiceTest{}
	if link.Href == "" {
		return r, fmt.Errorf("invalid link %v", link)
	}

	u := *c.url
	u.Path = link.Href

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return r, err
	}

	_, err = c.do(req, &r, http.StatusOK)
	return r, err
}

// DoServiceTest runs a test against a service.
func (c *Client) DoServiceTest(link Link, sto ServiceTestOptions) (ServiceTestResult, error) {
	r := ServiceTestResult{}
	if link.Href == "" {
		return r, fmt.Errorf("invalid link %v", link)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(sto)
	if err != nil {
		return r, err
	}

	u := *c.url
	u.Path = link.Href

	req, err := http.NewRequest("POST", u.String(), &buf)
	if err != nil {
		return r, err
	}

	_, err = c.do(req, &r, http.StatusOK)
	return r, err
}

// ListStorage lists the stores the server persists state in.
func (c *Client) ListStorage() ([]Storage, error) {
	u := *c.url
	u.Path = storesPath

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, err
	}

	list := StorageList{}
	_, err = c.do(req, &list, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return list.Storage, nil
}

// DoStorageAction performs an action on the store behind link.
func (c *Client) DoStorageAction(link Link, opt StorageActionOptions) error {
	if link.Href == "" {
		return fmt.Errorf("invalid link %v", link)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	err := enc.Encode(opt)
	if err != nil {
		return err
	}

	u := *c.url
	u.Path = link.Href

	req, err := http.NewRequest("POST", u.String(), &buf)
	if err != nil {
		return err
	}

	_, err = c.do(req, nil, http.StatusNoContent)
	return err
}

// Backup requests a backup of the storage database and writes it to w.
// Returns the number of bytes written.
func (c *Client) Backup(w io.Writer) (int64, error) {
	u := *c.url
	u.Path = backupPath

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return 0, fmt.Errorf("invalid response: code %d: body: %s", resp.StatusCode, string(body))
	}
	return io.Copy(w, resp.Body)
}
