package oncall

import (
	"fmt"
	"strings"
)

// Notifier is the port through which dispatched assignments reach their
// targets. Delivery is best effort: the engine records the assignment as
// dispatched whether or not delivery succeeds, and relies on escalation
// timeouts for recovery. Implementations for a specific channel must
// return nil without acting when the assignment's target is on a
// different channel.
type Notifier interface {
	Notify(alert Alert, assignment Assignment) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(alert Alert, assignment Assignment) error

func (f NotifierFunc) Notify(alert Alert, assignment Assignment) error {
	return f(alert, assignment)
}

// Notifiers fans one assignment out to every delegate. Every delegate is
// attempted; a failing delegate never masks the ones after it.
type Notifiers []Notifier

func (ns Notifiers) Notify(alert Alert, assignment Assignment) error {
	var failures []string
	for _, n := range ns {
		if err := n.Notify(alert, assignment); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("notify assignment %s: %s", assignment.ID, strings.Join(failures, "; "))
	}
	return nil
}
