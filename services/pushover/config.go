package pushover

import (
	"net/url"

	"github.com/pkg/errors"
)

// DefaultPushoverURL is the default URL for the Pushover API.
const (
	DefaultPushoverURL = "https://api.pushover.net/1/messages.json"
)

type Config struct {
	// Whether Pushover integration is enabled.
	Enabled bool `toml:"enabled"`
	// The Pushover application token.
	Token string `toml:"token"`
	// The default user/group key paged when a target carries no key of
	// its own.
	UserKey string `toml:"user-key"`
	// The URL for the Pushover API.
	URL string `toml:"url"`
}

// NewConfig returns a new Pushover configuration with the URL set to the
// default pushover URL.
func NewConfig() Config {
	return Config{
		URL: DefaultPushoverURL,
	}
}

func (c Config) Validate() error {
	if c.Enabled {
		if c.Token == "" {
			return errors.New("must specify token")
		}
		if c.UserKey == "" {
			return errors.New("must specify user key")
		}
		if c.URL == "" {
			return errors.New("must specify url")
		}
		if _, err := url.Parse(c.URL); err != nil {
			return errors.Wrapf(err, "invalid URL %q", c.URL)
		}
	}
	return nil
}
