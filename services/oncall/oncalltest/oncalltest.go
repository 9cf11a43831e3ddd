// Package oncalltest provides fakes for testing notification delivery.
package oncalltest

import (
	"sync"

	"github.com/nightcall/nightcall/oncall"
)

// Notification records one delivered assignment.
type Notification struct {
	Alert      oncall.Alert
	Assignment oncall.Assignment
}

// Notifier records every notification it receives. Err, when set, is
// returned from each call after recording.
type Notifier struct {
	mu            sync.Mutex
	notifications []Notification

	Err error
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Notify(alert oncall.Alert, assignment oncall.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, Notification{Alert: alert, Assignment: assignment})
	return n.Err
}

func (n *Notifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	ns := make([]Notification, len(n.notifications))
	copy(ns, n.notifications)
	return ns
}

// Reset discards recorded notifications.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = nil
}
