package storage

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Bolt is a BoltDB backed implementation of Interface.
// Each Bolt value is scoped to a single top level bucket.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(db *bolt.DB, bucket string) *Bolt {
	return &Bolt{
		db:     db,
		bucket: []byte(bucket),
	}
}

func (b *Bolt) View(f func(tx ReadOnlyTx) error) error {
	return doView(b, f)
}

func (b *Bolt) Update(f func(tx Tx) error) error {
	return doUpdate(b, f)
}

func (b *Bolt) beginRead() (ReadOnlyTx, error) {
	return b.begin(false)
}

func (b *Bolt) beginWrite() (Tx, error) {
	return b.begin(true)
}

func (b *Bolt) begin(write bool) (*boltTx, error) {
	tx, err := b.db.Begin(write)
	if err != nil {
		return nil, err
	}
	return &boltTx{
		bucket: b.bucket,
		tx:     tx,
	}, nil
}

// boltTx adapts a bolt transaction to the Tx interface.
type boltTx struct {
	bucket []byte
	tx     *bolt.Tx
}

func (t *boltTx) Get(key string) (*KeyValue, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil, ErrNoKeyExists
	}
	val := bucket.Get([]byte(key))
	if val == nil {
		return nil, ErrNoKeyExists
	}
	// The value is only valid for the life of the transaction,
	// copy it out before the transaction ends.
	value := make([]byte, len(val))
	copy(value, val)
	return &KeyValue{
		Key:   key,
		Value: value,
	}, nil
}

func (t *boltTx) Exists(key string) (bool, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return false, nil
	}
	return bucket.Get([]byte(key)) != nil, nil
}

func (t *boltTx) List(prefixStr string) ([]*KeyValue, error) {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil, nil
	}
	var kvs []*KeyValue
	cursor := bucket.Cursor()
	prefix := []byte(prefixStr)
	for key, v := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, v = cursor.Next() {
		kvs = append(kvs, &KeyValue{
			Key:   string(key),
			Value: append([]byte(nil), v...),
		})
	}
	return kvs, nil
}

func (t *boltTx) Put(key string, value []byte) error {
	bucket, err := t.tx.CreateBucketIfNotExists(t.bucket)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), value)
}

func (t *boltTx) Delete(key string) error {
	bucket := t.tx.Bucket(t.bucket)
	if bucket == nil {
		return nil
	}
	return bucket.Delete([]byte(key))
}

func (t *boltTx) Commit() error {
	return t.tx.Commit()
}

func (t *boltTx) Rollback() error {
	return t.tx.Rollback()
}
