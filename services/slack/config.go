package slack

import (
	"net/url"

	"github.com/pkg/errors"
)

// DefaultUsername is the bot name messages are posted under.
const DefaultUsername = "nightcall"

type Config struct {
	// Whether Slack integration is enabled.
	Enabled bool `toml:"enabled"`
	// The Slack webhook URL, can be obtained by adding an Incoming Webhook
	// integration to the workspace.
	URL string `toml:"url"`
	// The default channel, used when a page target carries no channel of
	// its own.
	Channel string `toml:"channel"`
	// The username of the Slack bot.
	Username string `toml:"username"`
	// Whether to skip TLS verification of the webhook host.
	InsecureSkipVerify bool `toml:"insecure-skip-verify"`
}

func NewConfig() Config {
	return Config{
		Username: DefaultUsername,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.URL == "" {
		return errors.New("must specify url")
	}
	if c.URL != "" {
		if _, err := url.Parse(c.URL); err != nil {
			return errors.Wrapf(err, "invalid url %q", c.URL)
		}
	}
	return nil
}
