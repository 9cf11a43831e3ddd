package diagnostic

import (
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"sync"
)

type Service struct {
	c Config

	f      io.WriteCloser
	stdout io.Writer
	stderr io.Writer

	levelMu sync.RWMutex
	level   string

	logger *ServerLogger
}

func NewService(c Config, stdout, stderr io.Writer) *Service {
	return &Service{
		c:      c,
		stdout: stdout,
		stderr: stderr,
	}
}

// BootstrapMainHandler returns a handler for early process diagnostics,
// before any configuration has been read.
func BootstrapMainHandler() *CmdHandler {
	s := NewService(NewConfig(), nil, os.Stderr)
	// Should never error
	_ = s.Open()

	return s.NewCmdHandler()
}

func (s *Service) Open() error {
	s.levelMu.Lock()
	s.level = s.c.Level
	levelF, err := logLevelFromName(s.level)
	s.levelMu.Unlock()
	if err != nil {
		return err
	}

	switch s.c.File {
	case "STDERR":
		s.f = &nopCloser{f: s.stderr}
	case "STDOUT":
		s.f = &nopCloser{f: s.stdout}
	default:
		dir := path.Dir(s.c.File)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}

		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return err
		}
		s.f = f
	}

	l := NewServerLogger(s.f)
	l.SetLevelF(levelF)

	s.logger = l

	return nil
}

func (s *Service) Close() error {
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

func (s *Service) LogLevel() string {
	s.levelMu.RLock()
	defer s.levelMu.RUnlock()
	return s.level
}

func (s *Service) SetLogLevelFromName(lvl string) error {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	level := strings.ToUpper(lvl)
	switch level {
	case "INFO", "ERROR", "WARN", "DEBUG":
		levelF, err := logLevelFromName(level)
		if err != nil {
			return err
		}
		s.level = level
		s.logger.SetLevelF(levelF)
	default:
		return errors.New("invalid log level")
	}

	return nil
}

func logLevelFromName(lvl string) (func(lvl Level) bool, error) {
	var levelF func(lvl Level) bool

	switch lvl {
	case "INFO", "info":
		levelF = func(lvl Level) bool {
			return lvl >= InfoLevel
		}
	case "ERROR", "error":
		levelF = func(lvl Level) bool {
			return lvl >= ErrorLevel
		}
	case "WARN", "warn":
		levelF = func(lvl Level) bool {
			return lvl >= WarnLevel
		}
	case "DEBUG", "debug":
		levelF = func(lvl Level) bool {
			return lvl >= DebugLevel
		}
	default:
		return nil, errors.New("invalid log level")
	}

	return levelF, nil
}

func (s *Service) NewServerHandler() *ServerHandler {
	return &ServerHandler{
		l: s.logger.With(String("source", "srv")),
	}
}

func (s *Service) NewCmdHandler() *CmdHandler {
	return &CmdHandler{
		l: s.logger.With(String("source", "cmd")),
	}
}

func (s *Service) NewHTTPDHandler() *HTTPDHandler {
	return &HTTPDHandler{
		l: s.logger.With(String("service", "http")),
	}
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{
		l: s.logger.With(String("service", "storage")),
	}
}

func (s *Service) NewOnCallHandler() *OnCallHandler {
	return &OnCallHandler{
		l: s.logger.With(String("service", "oncall")),
	}
}

func (s *Service) NewTwilioHandler() *TwilioHandler {
	return &TwilioHandler{
		l: s.logger.With(String("service", "twilio")),
	}
}

func (s *Service) NewSMTPHandler() *SMTPHandler {
	return &SMTPHandler{
		l: s.logger.With(String("service", "smtp")),
	}
}

func (s *Service) NewSlackHandler() *SlackHandler {
	return &SlackHandler{
		l: s.logger.With(String("service", "slack")),
	}
}

func (s *Service) NewPushoverHandler() *PushoverHandler {
	return &PushoverHandler{
		l: s.logger.With(String("service", "pushover")),
	}
}

func (s *Service) NewStatsHandler() *StatsHandler {
	return &StatsHandler{
		l: s.logger.With(String("service", "stats")),
	}
}

type nopCloser struct {
	f io.Writer
}

func (c *nopCloser) Write(b []byte) (int, error) { return c.f.Write(b) }
func (c *nopCloser) Close() error                { return nil }
