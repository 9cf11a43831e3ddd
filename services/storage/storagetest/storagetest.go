package storagetest

import (
	"os"
	"path"

	"github.com/nightcall/nightcall/services/storage"
	bolt "go.etcd.io/bbolt"
)

type CleanedTest interface {
	TempDir() string
}

// TestStore is a storage backend for tests,
// it provides the same surface as the storage service.
type TestStore struct {
	db         *BoltDB
	versions   storage.Versions
	registrar  *storage.StoreRegistry
	diagnostic storage.Diagnostic
}

// BoltDB is a database that deletes itself when closed.
type BoltDB struct {
	*bolt.DB
}

// NewBolt returns a temporary file backed db that deletes itself when closed,
// do not use except for testing.
func NewBolt(t CleanedTest) (*BoltDB, error) {
	dir := t.TempDir()
	f, err := os.CreateTemp(dir, "nightcall*.db")
	if err != nil {
		return nil, err
	}
	dbName := f.Name()
	if err = f.Close(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbName, 0600, &bolt.Options{
		Timeout:    0,
		NoGrowSync: false,
	})
	if err != nil {
		return nil, err
	}
	return &BoltDB{db}, nil
}

func (b BoltDB) Store(name string) storage.Interface {
	return storage.NewBolt(b.DB, name)
}

func (b BoltDB) Close() error {
	dbPath := b.Path()
	err := b.DB.Close()
	if err != nil {
		return err
	}
	return os.RemoveAll(path.Dir(dbPath))
}

func New(t CleanedTest, diagnostic storage.Diagnostic) *TestStore {
	db, err := NewBolt(t)
	if err != nil {
		panic(err)
	}
	return &TestStore{
		db:         db,
		versions:   storage.NewVersions(db.Store("versions")),
		registrar:  storage.NewStoreRegistry(),
		diagnostic: diagnostic,
	}
}

func (s *TestStore) Store(name string) storage.Interface {
	return s.db.Store(name)
}

func (s *TestStore) Versions() storage.Versions {
	return s.versions
}

func (s *TestStore) Register(name string, store storage.StoreActioner) {
	s.registrar.Register(name, store)
}

func (s *TestStore) Close() error {
	return s.db.Close()
}

func (s *TestStore) Diagnostic() storage.Diagnostic {
	return s.diagnostic
}

// Diagnostic is a no-op storage diagnostic for tests.
type Diagnostic struct{}

func (Diagnostic) Error(msg string, err error) {}
