package oncall

import (
	"encoding/json"
	"fmt"

	"github.com/nightcall/nightcall/oncall"
	"github.com/nightcall/nightcall/services/storage"
	"github.com/nightcall/nightcall/uuid"
	"github.com/pkg/errors"
)

var (
	ErrAlertExists   = errors.New("alert already exists")
	ErrNoAlertExists = errors.New("no alert exists")
)

// Data access object for Alert data.
type AlertDAO interface {
	// Retrieve an alert.
	// ErrNoAlertExists is returned if the alert does not exist.
	Get(id uuid.UUID) (oncall.Alert, error)

	// Create an alert.
	// ErrAlertExists is returned if an alert already exists with the same ID.
	Create(a oncall.Alert) error

	// Replace an existing alert.
	// ErrNoAlertExists is returned if the alert does not exist.
	Replace(a oncall.Alert) error

	// Delete an alert.
	// It is not an error to delete a non-existent alert.
	Delete(id uuid.UUID) error

	// List alerts in creation time order.
	// Offset and limit are pagination bounds. Offset is inclusive starting at index 0.
	// More results may exist while the number of returned items is equal to limit.
	List(offset, limit int) ([]oncall.Alert, error)

	Rebuild() error
}

//--------------------------------------------------------------------
// The following structures are stored in a database via JSON encoding.
// Changes to the structures could break existing data.

const (
	alertVersion = 1

	alertPrefix  = "alerts"
	createdIndex = "created"
)

// rawAlert adapts an oncall.Alert to the storage BinaryObject interface.
type rawAlert struct {
	oncall.Alert
}

func (a rawAlert) ObjectID() string {
	return a.ID.String()
}

func (a rawAlert) MarshalBinary() ([]byte, error) {
	return storage.VersionJSONEncode(alertVersion, a.Alert)
}

func (a *rawAlert) UnmarshalBinary(data []byte) error {
	return storage.VersionJSONDecode(data, func(version int, dec *json.Decoder) error {
		switch version {
		case alertVersion:
			return dec.Decode(&a.Alert)
		default:
			return fmt.Errorf("unknown alert version %d: cannot decode", version)
		}
	})
}

// Key/Value store based implementation of the AlertDAO.
type alertKV struct {
	store *storage.IndexedStore
}

func newAlertKV(store storage.Interface) (*alertKV, error) {
	c := storage.DefaultIndexedStoreConfig(alertPrefix, func() storage.BinaryObject {
		return new(rawAlert)
	})
	// The created index orders alerts by creation time. Index values
	// must sort lexically, hence the fixed width timestamp.
	c.Indexes = append(c.Indexes, storage.Index{
		Name: createdIndex,
		ValueFunc: func(o storage.BinaryObject) (string, error) {
			a, ok := o.(*rawAlert)
			if !ok {
				return "", storage.ImpossibleTypeErr(a, o)
			}
			return fmt.Sprintf("%020d", a.CreatedAt.UTC().UnixNano()), nil
		},
	})
	istore, err := storage.NewIndexedStore(store, c)
	if err != nil {
		return nil, err
	}
	return &alertKV{
		store: istore,
	}, nil
}

func (kv *alertKV) error(err error) error {
	if err == storage.ErrObjectExists {
		return ErrAlertExists
	} else if err == storage.ErrNoObjectExists {
		return ErrNoAlertExists
	}
	return err
}

func (kv *alertKV) Get(id uuid.UUID) (oncall.Alert, error) {
	o, err := kv.store.Get(id.String())
	if err != nil {
		return oncall.Alert{}, kv.error(err)
	}
	a, ok := o.(*rawAlert)
	if !ok {
		return oncall.Alert{}, storage.ImpossibleTypeErr(a, o)
	}
	return a.Alert, nil
}

func (kv *alertKV) Create(a oncall.Alert) error {
	return kv.error(kv.store.Create(&rawAlert{a}))
}

func (kv *alertKV) Replace(a oncall.Alert) error {
	return kv.error(kv.store.Replace(&rawAlert{a}))
}

func (kv *alertKV) Delete(id uuid.UUID) error {
	return kv.store.Delete(id.String())
}

func (kv *alertKV) List(offset, limit int) ([]oncall.Alert, error) {
	objects, err := kv.store.List(createdIndex, "", offset, limit)
	if err != nil {
		return nil, err
	}
	alerts := make([]oncall.Alert, len(objects))
	for i, o := range objects {
		a, ok := o.(*rawAlert)
		if !ok {
			return nil, storage.ImpossibleTypeErr(a, o)
		}
		alerts[i] = a.Alert
	}
	return alerts, nil
}

func (kv *alertKV) Rebuild() error {
	return kv.store.Rebuild()
}
