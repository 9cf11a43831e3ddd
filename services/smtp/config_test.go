package smtp

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	c := NewConfig()
	require.False(t, c.Enabled)
	require.Equal(t, "localhost", c.Host)
	require.Equal(t, 25, c.Port)
	require.Equal(t, toml.Duration(30*time.Second), c.IdleTimeout)
	require.NoError(t, c.Validate())
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		change func(c *Config)
		want   string
	}{
		{
			name:   "empty host",
			change: func(c *Config) { c.Host = "" },
			want:   "host cannot be empty",
		},
		{
			name:   "invalid port",
			change: func(c *Config) { c.Port = 0 },
			want:   "invalid port 0",
		},
		{
			name:   "negative idle timeout",
			change: func(c *Config) { c.IdleTimeout = toml.Duration(-time.Second) },
			want:   "idle timeout must be positive",
		},
		{
			name:   "enabled without from",
			change: func(c *Config) { c.Enabled = true },
			want:   "must specify from address",
		},
		{
			name:   "malformed from",
			change: func(c *Config) { c.From = "nope" },
			want:   `invalid from email address: "nope"`,
		},
		{
			name:   "malformed to",
			change: func(c *Config) { c.To = []string{"nope"} },
			want:   `invalid to email address: "nope"`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConfig()
			tc.change(&c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
