package twilio

import (
	"fmt"
	"net/url"
	"os"

	"github.com/pkg/errors"
)

const (
	// DefaultURL is the Twilio REST API base URL.
	DefaultURL = "https://api.twilio.com/2010-04-01"

	// DefaultWebhookBase is the public base URL serving the voice webhook
	// endpoints when none is configured.
	DefaultWebhookBase = "https://example.com/oncall/twilio"

	// DefaultVoice speaks the prompts.
	DefaultVoice = "alice"
)

type Config struct {
	// Enabled indicates whether the service places calls and sends messages.
	Enabled bool `toml:"enabled"`
	// AccountSID is the Twilio account identifier.
	AccountSID string `toml:"account-sid"`
	// AuthToken authenticates API requests for the account.
	AuthToken string `toml:"auth-token"`
	// FromNumber is the outbound caller identity in E.164 form.
	FromNumber string `toml:"from-number"`
	// WebhookBase is the public base URL under which the prompt and
	// acknowledge webhook endpoints are reachable by the provider.
	WebhookBase string `toml:"webhook-base"`
	// Voice speaks the interactive prompts.
	Voice string `toml:"voice"`
	// URL is the Twilio REST API base URL. Override it to talk to a fake
	// server in tests.
	URL string `toml:"url"`
}

func NewConfig() Config {
	return Config{
		URL:         DefaultURL,
		WebhookBase: DefaultWebhookBase,
		Voice:       DefaultVoice,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccountSID == "" {
		return errors.New("must specify account-sid")
	}
	if c.AuthToken == "" {
		return errors.New("must specify auth-token")
	}
	if c.FromNumber == "" {
		return errors.New("must specify from-number")
	}
	if c.URL == "" {
		return errors.New("must specify url")
	}
	u, err := url.Parse(c.WebhookBase)
	if err != nil {
		return errors.Wrapf(err, "invalid webhook-base %q", c.WebhookBase)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook-base %q", c.WebhookBase)
	}
	return nil
}

// ApplyEnv overlays the TWILIO_* environment variables recognised by the
// default wiring. The service is enabled only once the full credential
// triple is present.
func (c *Config) ApplyEnv() {
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		c.AccountSID = sid
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		c.AuthToken = token
	}
	if from := os.Getenv("TWILIO_FROM_NUMBER"); from != "" {
		c.FromNumber = from
	}
	if base := os.Getenv("TWILIO_ACK_WEBHOOK_BASE"); base != "" {
		c.WebhookBase = base
	}
	if c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != "" {
		c.Enabled = true
	}
}
