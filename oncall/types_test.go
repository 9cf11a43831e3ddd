package oncall

import (
	"testing"
	"time"

	"github.com/nightcall/nightcall/uuid"
)

func TestParsePriority(t *testing.T) {
	testCases := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "low", want: Low},
		{in: "medium", want: Medium},
		{in: "HIGH", want: High},
		{in: "Critical", want: Critical},
		{in: "urgent", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := ParsePriority(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	testCases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "pending", want: StatusPending},
		{in: "Acknowledged", want: StatusAcknowledged},
		{in: "exhausted", want: StatusExhausted},
		{in: "resolved", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := ParseStatus(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatus(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseChannel(t *testing.T) {
	for _, c := range []Channel{Email, SMS, Push, Chat, Voice} {
		got, err := ParseChannel(c.String())
		if err != nil {
			t.Fatalf("ParseChannel(%q): unexpected error %v", c.String(), err)
		}
		if got != c {
			t.Errorf("ParseChannel(%q) = %v, want %v", c.String(), got, c)
		}
	}
	if _, err := ParseChannel("pager"); err == nil {
		t.Error("ParseChannel(\"pager\"): expected error")
	}
}

func validTestPolicy() Policy {
	r := Responder{ID: uuid.New(), Name: "ada", Contact: "ada@example.com"}
	return Policy{
		Name: "default",
		Levels: []Level{
			{
				Targets: []Target{{Responder: r, Channel: Email, Address: r.Contact}},
				Timeout: 5 * time.Minute,
			},
		},
	}
}

func TestPolicyValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(p *Policy) {},
		},
		{
			name:    "missing name",
			mutate:  func(p *Policy) { p.Name = "" },
			wantErr: true,
		},
		{
			name:    "no levels",
			mutate:  func(p *Policy) { p.Levels = nil },
			wantErr: true,
		},
		{
			name:    "empty targets",
			mutate:  func(p *Policy) { p.Levels[0].Targets = nil },
			wantErr: true,
		},
		{
			name:    "zero timeout",
			mutate:  func(p *Policy) { p.Levels[0].Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(p *Policy) { p.Levels[0].Timeout = -time.Minute },
			wantErr: true,
		},
		{
			name:    "blank target address",
			mutate:  func(p *Policy) { p.Levels[0].Targets[0].Address = "" },
			wantErr: true,
		},
		{
			name:    "blank responder name",
			mutate:  func(p *Policy) { p.Levels[0].Targets[0].Responder.Name = "" },
			wantErr: true,
		},
		{
			name:    "blank responder contact",
			mutate:  func(p *Policy) { p.Levels[0].Targets[0].Responder.Contact = "" },
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := validTestPolicy()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestAlertAssignmentLookup(t *testing.T) {
	r0 := Responder{ID: uuid.New(), Name: "primary", Contact: "+15550001111"}
	r1 := Responder{ID: uuid.New(), Name: "secondary", Contact: "+15550002222"}
	a := Alert{
		Assignments: []Assignment{
			{ID: uuid.New(), Token: uuid.New(), Level: 0, Target: Target{Responder: r0}},
			{ID: uuid.New(), Token: uuid.New(), Level: 1, Target: Target{Responder: r1}},
		},
	}

	if i, ok := a.AssignmentByToken(a.Assignments[1].Token); !ok || i != 1 {
		t.Errorf("AssignmentByToken = (%d, %t), want (1, true)", i, ok)
	}
	if _, ok := a.AssignmentByToken(uuid.New()); ok {
		t.Error("AssignmentByToken with unknown token: expected no match")
	}
	if i, ok := a.AssignmentByResponder(r0.ID); !ok || i != 0 {
		t.Errorf("AssignmentByResponder = (%d, %t), want (0, true)", i, ok)
	}
	if _, ok := a.AssignmentByResponder(uuid.New()); ok {
		t.Error("AssignmentByResponder with unknown responder: expected no match")
	}
	if got := len(a.AssignmentsAt(1)); got != 1 {
		t.Errorf("len(AssignmentsAt(1)) = %d, want 1", got)
	}
	if got := len(a.AssignmentsAt(2)); got != 0 {
		t.Errorf("len(AssignmentsAt(2)) = %d, want 0", got)
	}
}
