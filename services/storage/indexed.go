package storage

import (
	"encoding"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrObjectExists   = errors.New("object already exists")
	ErrNoObjectExists = errors.New("no object exists")
)

// BinaryObject is an object an IndexedStore can persist.
// ObjectID must be unique within a store.
type BinaryObject interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	ObjectID() string
}

type NewObjectF func() BinaryObject
type ValueFunc func(BinaryObject) (string, error)

// Index computes the sort key of an object. Objects list in lexical
// order of the computed value, so value functions must produce fixed
// width representations for numeric data.
type Index struct {
	Name      string
	ValueFunc ValueFunc
	Unique    bool
}

func (idx Index) valueOf(o BinaryObject) (string, error) {
	value, err := idx.ValueFunc(o)
	if err != nil {
		return "", err
	}
	if !idx.Unique {
		// Suffix with the ID so equal values do not collide.
		value = value + "/" + o.ObjectID()
	}
	return value, nil
}

// DefaultIDIndex is the index present on every IndexedStore.
const DefaultIDIndex = "id"

type IndexedStoreConfig struct {
	Prefix    string
	NewObject NewObjectF
	Indexes   []Index
}

func DefaultIndexedStoreConfig(prefix string, newObject NewObjectF) IndexedStoreConfig {
	return IndexedStoreConfig{
		Prefix:    prefix,
		NewObject: newObject,
		Indexes: []Index{{
			Name:   DefaultIDIndex,
			Unique: true,
			ValueFunc: func(o BinaryObject) (string, error) {
				return o.ObjectID(), nil
			},
		}},
	}
}

func (c IndexedStoreConfig) Validate() error {
	if c.Prefix == "" {
		return errors.New("must provide a prefix")
	}
	if strings.Contains(c.Prefix, "/") {
		return fmt.Errorf("invalid prefix %q", c.Prefix)
	}
	if c.NewObject == nil {
		return errors.New("must provide a NewObject function")
	}
	for _, idx := range c.Indexes {
		if strings.Contains(idx.Name, "/") {
			return fmt.Errorf("invalid index name %q", idx.Name)
		}
		if idx.ValueFunc == nil {
			return fmt.Errorf("index %q does not have a ValueFunc function", idx.Name)
		}
	}
	return nil
}

// IndexedStore provides CRUD operations for objects and maintains the
// configured indexes. Keys follow a directory layout:
//
//	/<prefix>/data/<ID>               encoded object
//	/<prefix>/indexes/<index>/<value> object ID
type IndexedStore struct {
	store Interface

	dataPrefix    string
	indexesPrefix string

	indexes []Index

	newObject NewObjectF
}

func NewIndexedStore(store Interface, c IndexedStoreConfig) (*IndexedStore, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &IndexedStore{
		store:         store,
		dataPrefix:    path.Join("/", c.Prefix, "data") + "/",
		indexesPrefix: path.Join("/", c.Prefix, "indexes"),
		indexes:       c.Indexes,
		newObject:     c.NewObject,
	}, nil
}

func (s *IndexedStore) dataKey(id string) string {
	return s.dataPrefix + id
}

func (s *IndexedStore) indexKey(index, value string) string {
	return path.Join(s.indexesPrefix, index, value)
}

func (s *IndexedStore) get(tx ReadOnlyTx, id string) (BinaryObject, error) {
	key := s.dataKey(id)
	if exists, err := tx.Exists(key); err != nil {
		return nil, err
	} else if !exists {
		return nil, ErrNoObjectExists
	}
	kv, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	o := s.newObject()
	err = o.UnmarshalBinary(kv.Value)
	return o, err
}

func (s *IndexedStore) Get(id string) (o BinaryObject, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		o, err = s.get(tx, id)
		return err
	})
	return
}

// Create stores a new object.
// ErrObjectExists is returned if an object already exists with the same ID.
func (s *IndexedStore) Create(o BinaryObject) error {
	return s.save(o, false)
}

// Replace stores an existing object.
// ErrNoObjectExists is returned if no object exists with the same ID.
func (s *IndexedStore) Replace(o BinaryObject) error {
	return s.save(o, true)
}

func (s *IndexedStore) save(o BinaryObject, replace bool) error {
	return s.store.Update(func(tx Tx) error {
		old, err := s.get(tx, o.ObjectID())
		switch {
		case err == ErrNoObjectExists:
			if replace {
				return ErrNoObjectExists
			}
		case err != nil:
			return err
		case !replace:
			return ErrObjectExists
		}

		data, err := o.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Put(s.dataKey(o.ObjectID()), data); err != nil {
			return err
		}

		for _, idx := range s.indexes {
			newValue, err := idx.valueOf(o)
			if err != nil {
				return err
			}
			if old != nil {
				oldValue, err := idx.valueOf(old)
				if err != nil {
					return err
				}
				if oldValue == newValue {
					continue
				}
				if err := tx.Delete(s.indexKey(idx.Name, oldValue)); err != nil {
					return err
				}
			}
			if err := tx.Put(s.indexKey(idx.Name, newValue), []byte(o.ObjectID())); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes an object and its index entries.
// Deleting a non-existent object is not an error.
func (s *IndexedStore) Delete(id string) error {
	return s.store.Update(func(tx Tx) error {
		o, err := s.get(tx, id)
		if err == ErrNoObjectExists {
			return nil
		} else if err != nil {
			return err
		}

		if err := tx.Delete(s.dataKey(id)); err != nil {
			return err
		}
		for _, idx := range s.indexes {
			value, err := idx.valueOf(o)
			if err != nil {
				return err
			}
			if err := tx.Delete(s.indexKey(idx.Name, value)); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns objects sorted by the given index whose ID matches
// pattern. An empty pattern matches every object. Offset and limit page
// through the results; more results may exist whenever the returned
// count equals limit.
func (s *IndexedStore) List(index, pattern string, offset, limit int) (objects []BinaryObject, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		entries, err := tx.List(s.indexKey(index, "") + "/")
		if err != nil {
			return err
		}
		ids := matchIDs(entries, pattern, offset, limit)

		objects = make([]BinaryObject, len(ids))
		for i, id := range ids {
			kv, err := tx.Get(s.dataKey(id))
			if err != nil {
				return err
			}
			o := s.newObject()
			if err := o.UnmarshalBinary(kv.Value); err != nil {
				return err
			}
			objects[i] = o
		}
		return nil
	})
	return
}

// matchIDs pages through index entries and returns the object IDs whose
// entries match pattern.
func matchIDs(entries []*KeyValue, pattern string, offset, limit int) []string {
	upper := offset + limit
	if upper > len(entries) {
		upper = len(entries)
	}
	if upper <= offset {
		return nil
	}
	ids := make([]string, 0, upper-offset)
	matched := 0
	for _, kv := range entries {
		id := string(kv.Value)
		if pattern != "" {
			if ok, _ := path.Match(pattern, id); !ok {
				continue
			}
		}
		matched++
		if matched <= offset {
			continue
		}
		ids = append(ids, id)
		if len(ids) == upper-offset {
			break
		}
	}
	return ids
}

// Rebuild drops and recreates every index entry from the stored data.
func (s *IndexedStore) Rebuild() error {
	return s.store.Update(func(tx Tx) error {
		for _, idx := range s.indexes {
			entries, err := tx.List(s.indexKey(idx.Name, "") + "/")
			if err != nil {
				return errors.Wrapf(err, "failed to clean index %q", idx.Name)
			}
			for _, entry := range entries {
				if err := tx.Delete(entry.Key); err != nil {
					return errors.Wrapf(err, "failed to clean index %q", idx.Name)
				}
			}
		}

		data, err := tx.List(s.dataPrefix)
		if err != nil {
			return err
		}
		for _, kv := range data {
			o := s.newObject()
			if err := o.UnmarshalBinary(kv.Value); err != nil {
				return errors.Wrapf(err, "failed to unmarshal object with key %q", kv.Key)
			}
			for _, idx := range s.indexes {
				value, err := idx.valueOf(o)
				if err != nil {
					return errors.Wrapf(err, "failed to compute index value for object with key %q", kv.Key)
				}
				if err := tx.Put(s.indexKey(idx.Name, value), []byte(o.ObjectID())); err != nil {
					return errors.Wrapf(err, "failed to update index for object with key %q", kv.Key)
				}
			}
		}
		return nil
	})
}

func ImpossibleTypeErr(exp interface{}, got interface{}) error {
	return fmt.Errorf("impossible error, object not of type %T, got %T", exp, got)
}
