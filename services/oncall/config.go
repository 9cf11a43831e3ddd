package oncall

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultTickInterval is how often pending alerts are checked for
	// escalation when no interval is configured.
	DefaultTickInterval = toml.Duration(10 * time.Second)
)

// Config declares the responder directory and the escalation policies
// routed by alert priority.
type Config struct {
	// TickInterval is how often the service advances pending alerts.
	TickInterval toml.Duration `toml:"tick-interval"`
	// Responders is the on-call responder directory.
	Responders []ResponderConfig `toml:"responder"`
	// Policies route alert priorities to ordered escalation levels.
	Policies []PolicyConfig `toml:"policy"`
}

type ResponderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Contact string `toml:"contact"`
}

type PolicyConfig struct {
	Name       string        `toml:"name"`
	Priorities []string      `toml:"priorities"`
	Levels     []LevelConfig `toml:"level"`
}

type LevelConfig struct {
	Timeout toml.Duration  `toml:"timeout"`
	Targets []TargetConfig `toml:"target"`
}

type TargetConfig struct {
	// Responder references a responder from the directory by name.
	Responder string `toml:"responder"`
	Channel   string `toml:"channel"`
	// Address overrides the responder's default contact address.
	Address string `toml:"address"`
}

func NewConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
	}
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("oncall tick-interval must be positive")
	}
	_, _, err := c.routes()
	return err
}

// RoutedPolicy pairs a policy with the priorities that route to it.
type RoutedPolicy struct {
	Policy     oncall.Policy
	Priorities []oncall.Priority
}

// responderTable builds the responder directory keyed by name.
func (c Config) responderTable() (map[string]oncall.Responder, error) {
	table := make(map[string]oncall.Responder, len(c.Responders))
	for _, rc := range c.Responders {
		id, err := uuid.Parse(rc.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "responder %q has an invalid id", rc.Name)
		}
		r := oncall.Responder{
			ID:      id,
			Name:    rc.Name,
			Contact: rc.Contact,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, exists := table[r.Name]; exists {
			return nil, fmt.Errorf("duplicate responder name %q", r.Name)
		}
		table[r.Name] = r
	}
	return table, nil
}

// routes materializes the configured policies and the priority routing
// table. Each priority may route to at most one policy.
func (c Config) routes() (map[oncall.Priority]oncall.Policy, []RoutedPolicy, error) {
	responders, err := c.responderTable()
	if err != nil {
		return nil, nil, err
	}

	table := make(map[oncall.Priority]oncall.Policy, len(c.Policies))
	policies := make([]RoutedPolicy, 0, len(c.Policies))
	for _, pc := range c.Policies {
		policy, priorities, err := pc.policy(responders)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range priorities {
			if prev, dup := table[p]; dup {
				return nil, nil, fmt.Errorf("priority %v routed to both policy %q and policy %q", p, prev.Name, policy.Name)
			}
			table[p] = policy
		}
		policies = append(policies, RoutedPolicy{Policy: policy, Priorities: priorities})
	}
	return table, policies, nil
}

func (pc PolicyConfig) policy(responders map[string]oncall.Responder) (oncall.Policy, []oncall.Priority, error) {
	if len(pc.Priorities) == 0 {
		return oncall.Policy{}, nil, fmt.Errorf("policy %q must route at least one priority", pc.Name)
	}
	priorities := make([]oncall.Priority, len(pc.Priorities))
	for i, ps := range pc.Priorities {
		p, err := oncall.ParsePriority(ps)
		if err != nil {
			return oncall.Policy{}, nil, errors.Wrapf(err, "policy %q", pc.Name)
		}
		priorities[i] = p
	}

	levels := make([]oncall.Level, len(pc.Levels))
	for i, lc := range pc.Levels {
		targets := make([]oncall.Target, len(lc.Targets))
		for j, tc := range lc.Targets {
			r, ok := responders[tc.Responder]
			if !ok {
				return oncall.Policy{}, nil, fmt.Errorf("policy %q level %d references unknown responder %q", pc.Name, i, tc.Responder)
			}
			channel, err := oncall.ParseChannel(tc.Channel)
			if err != nil {
				return oncall.Policy{}, nil, errors.Wrapf(err, "policy %q level %d", pc.Name, i)
			}
			address := tc.Address
			if address == "" {
				address = r.Contact
			}
			targets[j] = oncall.Target{
				Responder: r,
				Channel:   channel,
				Address:   address,
			}
		}
		levels[i] = oncall.Level{
			Targets: targets,
			Timeout: time.Duration(lc.Timeout),
		}
	}

	policy := oncall.Policy{Name: pc.Name, Levels: levels}
	if err := policy.Validate(); err != nil {
		return oncall.Policy{}, nil, err
	}
	return policy, priorities, nil
}
