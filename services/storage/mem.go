package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is a map backed implementation of Interface, intended for
// testing only. Every transaction snapshots the map and swaps it back in
// on commit, so rollback semantics match the bolt backend.
type MemStore struct {
	mu    sync.Mutex
	Name  string
	store map[string][]byte
}

func NewMemStore(name string) *MemStore {
	return &MemStore{
		Name:  name,
		store: make(map[string][]byte),
	}
}

func (s *MemStore) View(f func(tx ReadOnlyTx) error) error {
	return doView(s, f)
}

func (s *MemStore) Update(f func(tx Tx) error) error {
	return doUpdate(s, f)
}

func (s *MemStore) beginRead() (ReadOnlyTx, error) {
	return s.begin(), nil
}

func (s *MemStore) beginWrite() (Tx, error) {
	return s.begin(), nil
}

// begin locks the store until the transaction commits or rolls back.
func (s *MemStore) begin() *memTx {
	s.mu.Lock()
	snapshot := make(map[string][]byte, len(s.store))
	for k, v := range s.store {
		snapshot[k] = v
	}
	return &memTx{
		owner: s,
		store: snapshot,
	}
}

// memTx mutates a private snapshot of the owning store.
type memTx struct {
	owner *MemStore
	store map[string][]byte
	done  bool
}

func (t *memTx) Get(key string) (*KeyValue, error) {
	value, ok := t.store[key]
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: value}, nil
}

func (t *memTx) Exists(key string) (bool, error) {
	_, ok := t.store[key]
	return ok, nil
}

func (t *memTx) List(prefix string) ([]*KeyValue, error) {
	kvs := make([]*KeyValue, 0, len(t.store))
	for k, v := range t.store {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, &KeyValue{Key: k, Value: v})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

func (t *memTx) Put(key string, value []byte) error {
	t.store[key] = value
	return nil
}

func (t *memTx) Delete(key string) error {
	delete(t.store, key)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.owner.store = t.store
	t.done = true
	t.owner.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if !t.done {
		t.done = true
		t.owner.mu.Unlock()
	}
	return nil
}
