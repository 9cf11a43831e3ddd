package diagnostic

const (
	DefaultLogFile  = "STDERR"
	DefaultLogLevel = "INFO"
)

type Config struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

func NewConfig() Config {
	return Config{
		File:  DefaultLogFile,
		Level: DefaultLogLevel,
	}
}

func (c Config) Validate() error {
	_, err := logLevelFromName(c.Level)
	return err
}
