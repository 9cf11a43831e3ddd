package oncall

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

// Priority classifies how urgent an alert is.
// It selects the escalation policy applied when the alert is raised.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
	maxPriority
)

const priorityStrings = "LOWMEDIUMHIGHCRITICAL"

var priorityBytes = []byte(priorityStrings)

var priorityOffsets = []int{0, 3, 9, 13, 21}

func (p Priority) String() string {
	if p < maxPriority {
		return priorityStrings[priorityOffsets[p]:priorityOffsets[p+1]]
	}
	return "unknown"
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	if len(text) > 0 {
		idx := bytes.Index(priorityBytes, text)
		if idx >= 0 {
			for i := 0; i < int(maxPriority); i++ {
				if idx == priorityOffsets[i] {
					*p = Priority(i)
					return nil
				}
			}
		}
	}

	return fmt.Errorf("unknown priority '%s'", text)
}

func ParsePriority(s string) (p Priority, err error) {
	err = p.UnmarshalText([]byte(strings.ToUpper(s)))
	return
}

// Status is the lifecycle state of an alert. Acknowledged and exhausted
// are terminal.
type Status int

const (
	StatusPending Status = iota
	StatusAcknowledged
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch t := string(text); t {
	case "pending":
		*s = StatusPending
	case "acknowledged":
		*s = StatusAcknowledged
	case "exhausted":
		*s = StatusExhausted
	default:
		return fmt.Errorf("unknown alert status '%s'", t)
	}
	return nil
}

func ParseStatus(s string) (st Status, err error) {
	err = st.UnmarshalText([]byte(strings.ToLower(s)))
	return
}

// Channel is the medium a target is paged over.
type Channel int

const (
	Email Channel = iota
	SMS
	Push
	Chat
	Voice
)

func (c Channel) String() string {
	switch c {
	case Email:
		return "email"
	case SMS:
		return "sms"
	case Push:
		return "push"
	case Chat:
		return "chat"
	case Voice:
		return "voice"
	default:
		return "unknown"
	}
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(text []byte) error {
	switch t := string(text); t {
	case "email":
		*c = Email
	case "sms":
		*c = SMS
	case "push":
		*c = Push
	case "chat":
		*c = Chat
	case "voice":
		*c = Voice
	default:
		return fmt.Errorf("unknown channel '%s'", t)
	}
	return nil
}

func ParseChannel(s string) (c Channel, err error) {
	err = c.UnmarshalText([]byte(strings.ToLower(s)))
	return
}

// Responder is an on-call person. Contact is the default address used by
// targets that do not specify their own.
type Responder struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Contact string    `json:"contact"`
}

func (r Responder) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("responder must have an id")
	}
	if r.Name == "" {
		return errors.New("responder must have a name")
	}
	if r.Contact == "" {
		return fmt.Errorf("responder %q must have a contact address", r.Name)
	}
	return nil
}

// Target names a responder on a specific channel and address.
type Target struct {
	Responder Responder `json:"responder"`
	Channel   Channel   `json:"channel"`
	Address   string    `json:"address"`
}

func (t Target) Validate() error {
	if err := t.Responder.Validate(); err != nil {
		return err
	}
	if t.Address == "" {
		return fmt.Errorf("target for responder %q must have an address", t.Responder.Name)
	}
	return nil
}

// Level is one step of an escalation policy: the targets paged together
// and the time they are given to acknowledge before the next level fires.
type Level struct {
	Targets []Target      `json:"targets"`
	Timeout time.Duration `json:"timeout"`
}

func (l Level) Validate() error {
	if len(l.Targets) == 0 {
		return errors.New("level must have at least one target")
	}
	if l.Timeout <= 0 {
		return errors.New("level must have a positive acknowledgement timeout")
	}
	for _, t := range l.Targets {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Policy is the ordered sequence of escalation levels applied to an
// alert. Policies are immutable; each alert stores its own snapshot so
// that escalation replays independently of configuration changes.
type Policy struct {
	Name   string  `json:"name"`
	Levels []Level `json:"levels"`
}

func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("policy must have a name")
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("policy %q must have at least one level", p.Name)
	}
	for i, l := range p.Levels {
		if err := l.Validate(); err != nil {
			return errors.Wrapf(err, "policy %q level %d", p.Name, i)
		}
	}
	return nil
}

// Assignment records that a target was paged about an alert at a given
// level. The token authorises exactly that target to acknowledge the
// alert over a callback.
type Assignment struct {
	ID             uuid.UUID `json:"id"`
	Target         Target    `json:"target"`
	Level          int       `json:"level"`
	DispatchedAt   time.Time `json:"dispatchedAt"`
	Deadline       time.Time `json:"deadline"`
	Token          uuid.UUID `json:"token"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
}

// Acknowledged reports whether this assignment has been acknowledged.
func (a Assignment) Acknowledged() bool {
	return !a.AcknowledgedAt.IsZero()
}

// Alert is a single incident tracked by the engine, together with every
// assignment its escalation has produced so far.
type Alert struct {
	ID             uuid.UUID    `json:"id"`
	Message        string       `json:"message"`
	Priority       Priority     `json:"priority"`
	Status         Status       `json:"status"`
	Policy         Policy       `json:"policy"`
	CreatedAt      time.Time    `json:"createdAt"`
	Level          int          `json:"level"`
	Assignments    []Assignment `json:"assignments"`
	AcknowledgedBy Responder    `json:"acknowledgedBy"`
	AcknowledgedAt time.Time    `json:"acknowledgedAt"`
}

// AssignmentByToken returns the index of the assignment carrying token.
func (a *Alert) AssignmentByToken(token uuid.UUID) (int, bool) {
	for i := range a.Assignments {
		if a.Assignments[i].Token == token {
			return i, true
		}
	}
	return 0, false
}

// AssignmentByResponder returns the index of the first assignment whose
// target responder is id.
func (a *Alert) AssignmentByResponder(id uuid.UUID) (int, bool) {
	for i := range a.Assignments {
		if a.Assignments[i].Target.Responder.ID == id {
			return i, true
		}
	}
	return 0, false
}

// AssignmentsAt returns the assignments dispatched at level index.
func (a *Alert) AssignmentsAt(level int) []Assignment {
	var as []Assignment
	for _, assignment := range a.Assignments {
		if assignment.Level == level {
			as = append(as, assignment)
		}
	}
	return as
}

// Ack is the outcome of an acknowledgement attempt. Responder and At are
// populated when Status identifies one.
type Ack struct {
	Status    AckStatus `json:"status"`
	Responder Responder `json:"responder"`
	At        time.Time `json:"at"`
}

// AckStatus describes how an acknowledgement attempt resolved. Lookup
// misses are statuses, not errors.
type AckStatus int

const (
	Acknowledged AckStatus = iota
	AlreadyAcknowledged
	AlertNotFound
	AssignmentNotFound
	TokenNotFound
)

func (s AckStatus) String() string {
	switch s {
	case Acknowledged:
		return "acknowledged"
	case AlreadyAcknowledged:
		return "already-acknowledged"
	case AlertNotFound:
		return "alert-not-found"
	case AssignmentNotFound:
		return "assignment-not-found"
	case TokenNotFound:
		return "token-not-found"
	default:
		return "unknown"
	}
}

func (s AckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AckStatus) UnmarshalText(text []byte) error {
	switch t := string(text); t {
	case "acknowledged":
		*s = Acknowledged
	case "already-acknowledged":
		*s = AlreadyAcknowledged
	case "alert-not-found":
		*s = AlertNotFound
	case "assignment-not-found":
		*s = AssignmentNotFound
	case "token-not-found":
		*s = TokenNotFound
	default:
		return fmt.Errorf("unknown acknowledgement status '%s'", t)
	}
	return nil
}
