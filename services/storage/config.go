package storage

import "errors"

// Config locates the single BoltDB file that backs every registered
// store.
type Config struct {
	BoltDBPath string `toml:"boltdb"`
}

func NewConfig() Config {
	return Config{
		BoltDBPath: "./nightcall.db",
	}
}

func (c Config) Validate() error {
	if c.BoltDBPath == "" {
		return errors.New("storage: boltdb path must be set")
	}
	return nil
}
