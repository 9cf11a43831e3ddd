package servicetest

type Config struct {
	Enabled bool `toml:"enabled"`
}

func NewConfig() Config {
	return Config{
		Enabled: true,
	}
}

func (c Config) Validate() error {
	return nil
}
