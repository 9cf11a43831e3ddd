package storage

import "errors"

// ErrNoKeyExists is returned when a key cannot be found.
var ErrNoKeyExists = errors.New("no key exists")

// KeyValue is a single stored entry.
type KeyValue struct {
	Key   string
	Value []byte
}

// ReadOnlyTx is a read transaction. Rollback must be called once the
// transaction is finished with, leaving a transaction open can block
// other operations on the backend.
type ReadOnlyTx interface {
	// Get retrieves a single value.
	Get(key string) (*KeyValue, error)
	// Exists reports whether a key is present.
	Exists(key string) (bool, error)
	// List returns all entries whose key has the given prefix, in key order.
	List(prefix string) ([]*KeyValue, error)

	// Rollback discards the transaction. Rolling back a committed
	// transaction has no effect.
	Rollback() error
}

// Tx is a read-write transaction. Either Commit or Rollback must be
// called once the transaction is finished with.
type Tx interface {
	ReadOnlyTx

	// Put stores a value under a key.
	Put(key string, value []byte) error
	// Delete removes a key. Deleting a non-existent key is not an error.
	Delete(key string) error

	// Commit makes the writes of the transaction visible.
	Commit() error
}

// Interface is a transactional key/value store scoped to a single
// namespace.
type Interface interface {
	// View runs f in a read transaction that is always rolled back.
	View(f func(ReadOnlyTx) error) error
	// Update runs f in a read-write transaction that is committed when
	// f returns nil and rolled back otherwise.
	Update(f func(Tx) error) error
}

// txBeginner is the transaction hook implemented by the backends.
type txBeginner interface {
	beginRead() (ReadOnlyTx, error)
	beginWrite() (Tx, error)
}

func doView(b txBeginner, f func(ReadOnlyTx) error) error {
	tx, err := b.beginRead()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func doUpdate(b txBeginner, f func(Tx) error) error {
	tx, err := b.beginWrite()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
