package server

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nightcall/nightcall/services/diagnostic"
	"github.com/nightcall/nightcall/services/httpd"
	"github.com/nightcall/nightcall/services/oncall"
	"github.com/nightcall/nightcall/services/pushover"
	"github.com/nightcall/nightcall/services/servicetest"
	"github.com/nightcall/nightcall/services/slack"
	"github.com/nightcall/nightcall/services/smtp"
	"github.com/nightcall/nightcall/services/stats"
	"github.com/nightcall/nightcall/services/storage"
	"github.com/nightcall/nightcall/services/twilio"
)

// Config represents the configuration format for the nightcalld binary.
type Config struct {
	HTTP    httpd.Config      `toml:"http"`
	Storage storage.Config    `toml:"storage"`
	Logging diagnostic.Config `toml:"logging"`
	OnCall  oncall.Config     `toml:"oncall"`

	// Notification channel services
	Twilio   twilio.Config   `toml:"twilio"`
	SMTP     smtp.Config     `toml:"smtp"`
	Slack    slack.Config    `toml:"slack"`
	Pushover pushover.Config `toml:"pushover"`

	ServiceTests servicetest.Config `toml:"service-tests"`
	Stats        stats.Config       `toml:"stats"`

	Hostname string `toml:"hostname"`
	DataDir  string `toml:"data_dir"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	c := &Config{
		Hostname: "localhost",
	}

	c.HTTP = httpd.NewConfig()
	c.Storage = storage.NewConfig()
	c.Logging = diagnostic.NewConfig()
	c.OnCall = oncall.NewConfig()

	c.Twilio = twilio.NewConfig()
	c.SMTP = smtp.NewConfig()
	c.Slack = slack.NewConfig()
	c.Pushover = pushover.NewConfig()

	c.ServiceTests = servicetest.NewConfig()
	c.Stats = stats.NewConfig()

	return c
}

// NewDemoConfig returns the config that runs when no config is specified.
func NewDemoConfig() (*Config, error) {
	c := NewConfig()

	var homeDir string
	// By default, store data files in current users home directory
	u, err := user.Current()
	if err == nil {
		homeDir = u.HomeDir
	} else if os.Getenv("HOME") != "" {
		homeDir = os.Getenv("HOME")
	} else {
		return nil, fmt.Errorf("failed to determine current user for storage")
	}

	c.Storage.BoltDBPath = filepath.Join(homeDir, ".nightcall", c.Storage.BoltDBPath)
	c.DataDir = filepath.Join(homeDir, ".nightcall", c.DataDir)

	return c, nil
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("must configure valid hostname")
	}
	if c.DataDir == "" {
		return fmt.Errorf("must configure valid data dir")
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.OnCall.Validate(); err != nil {
		return err
	}

	// Validate notification channel services
	if err := c.Twilio.Validate(); err != nil {
		return err
	}
	if err := c.SMTP.Validate(); err != nil {
		return err
	}
	if err := c.Slack.Validate(); err != nil {
		return err
	}
	if err := c.Pushover.Validate(); err != nil {
		return err
	}

	return c.Stats.Validate()
}

// ApplyEnvOverrides applies NIGHTCALL_SECTION_FIELD environment variables
// on top of the parsed config, then the literal TWILIO_* variables
// recognised by the default wiring.
func (c *Config) ApplyEnvOverrides() error {
	if err := applyEnvOverrides("NIGHTCALL", reflect.ValueOf(c).Elem()); err != nil {
		return err
	}
	c.Twilio.ApplyEnv()
	return nil
}

// applyEnvOverrides walks the config and sets every field whose
// environment variable is present. Variable names follow the toml tags,
// upper-cased with hyphens as underscores, and slice elements are
// addressed by index, e.g. NIGHTCALL_ONCALL_RESPONDER_0_CONTACT.
func applyEnvOverrides(key string, v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			tag := t.Field(i).Tag.Get("toml")
			if tag == "" || !v.Field(i).CanSet() {
				continue
			}
			name := strings.ToUpper(strings.Replace(tag, "-", "_", -1))
			if err := applyEnvOverrides(key+"_"+name, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := applyEnvOverrides(fmt.Sprintf("%s_%d", key, i), v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}

	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	return setFromEnv(key, v, value)
}

func setFromEnv(key string, v reflect.Value, value string) error {
	fail := func() error {
		return fmt.Errorf("cannot apply %s=%q to config field of type %s", key, value, v.Type())
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fail()
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Duration-typed fields accept duration strings.
		if v.Type().Name() == "Duration" {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fail()
			}
			v.SetInt(d.Nanoseconds())
			return nil
		}
		n, err := strconv.ParseInt(value, 0, v.Type().Bits())
		if err != nil {
			return fail()
		}
		v.SetInt(n)
	}
	return nil
}
