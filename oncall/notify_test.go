package oncall

import (
	"errors"
	"strings"
	"testing"
)

func TestNotifiersFanOut(t *testing.T) {
	var calls []string
	record := func(name string, err error) Notifier {
		return NotifierFunc(func(alert Alert, assignment Assignment) error {
			calls = append(calls, name)
			return err
		})
	}

	ns := Notifiers{
		record("first", nil),
		record("second", errors.New("sink down")),
		record("third", nil),
	}

	err := ns.Notify(Alert{}, Assignment{})
	if err == nil {
		t.Fatal("expected aggregate error from failing delegate")
	}
	if !strings.Contains(err.Error(), "sink down") {
		t.Errorf("aggregate error %q does not mention the failure", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected all 3 delegates called, got %d (%v)", len(calls), calls)
	}
	for i, want := range []string{"first", "second", "third"} {
		if calls[i] != want {
			t.Errorf("call %d = %q, want %q", i, calls[i], want)
		}
	}
}

func TestNotifiersAllHealthy(t *testing.T) {
	n := 0
	ns := Notifiers{
		NotifierFunc(func(Alert, Assignment) error { n++; return nil }),
		NotifierFunc(func(Alert, Assignment) error { n++; return nil }),
	}
	if err := ns.Notify(Alert{}, Assignment{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
}

func TestNotifiersEmpty(t *testing.T) {
	if err := (Notifiers{}).Notify(Alert{}, Assignment{}); err != nil {
		t.Fatalf("empty composite should not error: %v", err)
	}
}
