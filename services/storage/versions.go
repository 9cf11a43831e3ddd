package storage

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Versions tracks the storage format version of each store so format
// changes can be detected on startup.
type Versions interface {
	Get(id string) (string, error)
	Set(id, version string) error
}

func NewVersions(store Interface) Versions {
	return versions{store: store}
}

type versions struct {
	store Interface
}

func (v versions) Get(id string) (version string, err error) {
	err = v.store.View(func(tx ReadOnlyTx) error {
		kv, err := tx.Get(id)
		if err != nil {
			return err
		}
		version = string(kv.Value)
		return nil
	})
	return
}

func (v versions) Set(id, version string) error {
	return v.store.Update(func(tx Tx) error {
		return tx.Put(id, []byte(version))
	})
}

// versionedValue wraps a stored value with its format version.
type versionedValue struct {
	Version int              `json:"version"`
	Value   *json.RawMessage `json:"value"`
}

// VersionJSONEncode encodes o as JSON wrapped with a format version.
func VersionJSONEncode(version int, o interface{}) ([]byte, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	value := json.RawMessage(raw)
	return json.Marshal(versionedValue{
		Version: version,
		Value:   &value,
	})
}

// VersionJSONDecode decodes data encoded by VersionJSONEncode, handing
// the version and a decoder positioned at the wrapped value to decF.
func VersionJSONDecode(data []byte, decF func(version int, dec *json.Decoder) error) error {
	var wrapped versionedValue
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Value == nil {
		return errors.New("empty value")
	}
	dec := json.NewDecoder(bytes.NewReader(*wrapped.Value))
	return decF(wrapped.Version, dec)
}
