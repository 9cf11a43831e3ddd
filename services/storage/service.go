package storage

import (
	"os"
	"path"
	"sync"

	"github.com/nightcall/nightcall/services/httpd"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type Diagnostic interface {
	Error(msg string, err error)
}

type Service struct {
	dbpath string

	boltdb *bolt.DB
	stores map[string]Interface
	mu     sync.Mutex

	registrar *StoreRegistry
	versions  Versions
	apiServer *APIServer

	HTTPDService interface {
		AddRoutes([]httpd.Route) error
		DelRoutes([]httpd.Route)
	}

	diag Diagnostic
}

func NewService(conf Config, d Diagnostic) *Service {
	return &Service{
		dbpath:    conf.BoltDBPath,
		diag:      d,
		stores:    make(map[string]Interface),
		registrar: NewStoreRegistry(),
	}
}

const versionsNamespace = "versions"

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.MkdirAll(path.Dir(s.dbpath), 0755)
	if err != nil {
		return errors.Wrapf(err, "mkdir dirs %q", s.dbpath)
	}
	db, err := bolt.Open(s.dbpath, 0600, nil)
	if err != nil {
		return errors.Wrapf(err, "open boltdb @ %q", s.dbpath)
	}
	s.boltdb = db

	s.versions = NewVersions(s.store(versionsNamespace))

	s.apiServer = &APIServer{
		DB:           s.boltdb,
		Registrar:    s.registrar,
		HTTPDService: s.HTTPDService,
		diag:         s.diag,
	}
	if err := s.apiServer.Open(); err != nil {
		return err
	}

	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiServer != nil {
		if err := s.apiServer.Close(); err != nil {
			return err
		}
	}
	if s.boltdb != nil {
		return s.boltdb.Close()
	}
	return nil
}

// Store returns the key/value store for a namespace. Repeated calls
// with the same namespace return the same store.
func (s *Service) Store(name string) Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(name)
}

func (s *Service) store(name string) Interface {
	if store, ok := s.stores[name]; ok {
		return store
	}
	store := NewBolt(s.boltdb, name)
	s.stores[name] = store
	return store
}

// Register exposes a named store to the storage API so maintenance
// actions can be run against it.
func (s *Service) Register(name string, store StoreActioner) {
	s.registrar.Register(name, store)
}

func (s *Service) Versions() Versions {
	return s.versions
}
