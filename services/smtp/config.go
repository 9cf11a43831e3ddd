package smtp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb/toml"
)

type Config struct {
	// Enabled indicates whether the service sends email.
	Enabled bool `toml:"enabled"`
	// Host is the SMTP server address.
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Username and Password authenticate against the server when set.
	Username string `toml:"username"`
	Password string `toml:"password"`
	// Whether to skip TLS verify.
	NoVerify bool `toml:"no-verify"`
	// From address.
	From string `toml:"from"`
	// Default To addresses used when a page carries no address of its own.
	To []string `toml:"to"`
	// Close the connection to the SMTP server after this much idle time.
	IdleTimeout toml.Duration `toml:"idle-timeout"`
}

func NewConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        25,
		IdleTimeout: toml.Duration(time.Second * 30),
	}
}

func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.IdleTimeout < 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.Enabled && c.From == "" {
		return errors.New("must specify from address")
	}
	// Checking for an @ is about as much validation as email addresses
	// allow; it still catches the obvious typos.
	if c.From != "" && !strings.ContainsRune(c.From, '@') {
		return fmt.Errorf("invalid from email address: %q", c.From)
	}
	for _, t := range c.To {
		if !strings.ContainsRune(t, '@') {
			return fmt.Errorf("invalid to email address: %q", t)
		}
	}
	return nil
}
