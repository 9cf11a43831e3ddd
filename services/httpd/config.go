package httpd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb/toml"
	"github.com/pkg/errors"
)

const (
	DefaultBindAddress = ":9192"

	DefaultShutdownTimeout = toml.Duration(time.Second * 10)
)

type Config struct {
	BindAddress      string        `toml:"bind-address"`
	GZIP             bool          `toml:"gzip"`
	LogEnabled       bool          `toml:"log-enabled"`
	PprofEnabled     bool          `toml:"pprof-enabled"`
	HTTPSEnabled     bool          `toml:"https-enabled"`
	HTTPSCertificate string        `toml:"https-certificate"`
	HTTPSPrivateKey  string        `toml:"https-private-key"`
	ShutdownTimeout  toml.Duration `toml:"shutdown-timeout"`
}

func NewConfig() Config {
	return Config{
		BindAddress:      DefaultBindAddress,
		GZIP:             true,
		LogEnabled:       true,
		HTTPSCertificate: "/etc/ssl/nightcall.pem",
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

func (c Config) Validate() error {
	_, port, err := net.SplitHostPort(c.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "invalid http bind address %s", c.BindAddress)
	}
	if port == "" {
		return fmt.Errorf("http bind address requires a port %s", c.BindAddress)
	}
	if c.HTTPSEnabled && c.HTTPSCertificate == "" {
		return errors.New("must specify https certificate when https is enabled")
	}
	return nil
}

// Port returns the port the service will bind to, as determined by the
// bind address.
func (c Config) Port() (int, error) {
	if err := c.Validate(); err != nil {
		return -1, err
	}
	i := strings.LastIndex(c.BindAddress, ":")
	port, err := strconv.Atoi(c.BindAddress[i+1:])
	if err != nil {
		return -1, errors.Wrapf(err, "invalid port on http bind address %s", c.BindAddress)
	}
	return port, nil
}
