package stats

import (
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultStatsInterval = toml.Duration(10 * time.Second)
)

type Config struct {
	Enabled bool `toml:"enabled"`
	// StatsInterval is how often gauge style stats are sampled.
	StatsInterval toml.Duration `toml:"stats-interval"`
}

func NewConfig() Config {
	return Config{
		Enabled:       true,
		StatsInterval: DefaultStatsInterval,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.StatsInterval <= 0 {
		return errors.New("stats-interval must be positive")
	}
	return nil
}
