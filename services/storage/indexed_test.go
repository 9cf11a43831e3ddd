package storage_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/nightcall/nightcall/services/storage"
)

// record is a minimal indexed object carrying a secondary sort key.
type record struct {
	ID        string
	Body      string
	CreatedAt time.Time
}

func (r record) ObjectID() string {
	return r.ID
}

func (r record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *record) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

func newRecordStore(s storage.Interface) (*storage.IndexedStore, error) {
	c := storage.DefaultIndexedStoreConfig("records", func() storage.BinaryObject {
		return new(record)
	})
	c.Indexes = append(c.Indexes, storage.Index{
		Name: "created",
		ValueFunc: func(o storage.BinaryObject) (string, error) {
			r, ok := o.(*record)
			if !ok {
				return "", storage.ImpossibleTypeErr(r, o)
			}
			return r.CreatedAt.UTC().Format(time.RFC3339), nil
		},
	})
	return storage.NewIndexedStore(s, c)
}

func assertObjects(t *testing.T, what string, got, exp []storage.BinaryObject) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Errorf("unexpected %s:\ngot\n%s\nexp\n%s\n", what, spew.Sdump(got), spew.Sdump(exp))
	}
}

func TestIndexedStore_CRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func(string) storage.Interface) {
		is, err := newRecordStore(open("records"))
		if err != nil {
			t.Fatal(err)
		}

		r1 := &record{
			ID:        "1",
			Body:      "disk almost full",
			CreatedAt: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		}
		if err := is.Create(r1); err != nil {
			t.Fatal(err)
		}
		if err := is.Create(r1); err != storage.ErrObjectExists {
			t.Fatal("expected ErrObjectExists recreating record 1, got", err)
		}

		got, err := is.Get("1")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, r1) {
			t.Errorf("unexpected record 1:\ngot\n%s\nexp\n%s\n", spew.Sdump(got), spew.Sdump(r1))
		}

		// r2 predates r1 so the created index orders them r2, r1.
		r2 := &record{
			ID:        "2",
			Body:      "db is down",
			CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := is.Create(r2); err != nil {
			t.Fatal(err)
		}

		gotList, err := is.List("id", "", 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		assertObjects(t, "list by id", gotList, []storage.BinaryObject{r1, r2})

		gotList, err = is.List("created", "", 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		assertObjects(t, "list by created", gotList, []storage.BinaryObject{r2, r1})

		// Replacing with a new timestamp must move the index entry.
		r2.CreatedAt = time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
		if err := is.Replace(r2); err != nil {
			t.Fatal(err)
		}
		gotList, err = is.List("created", "", 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		assertObjects(t, "list by created after replace", gotList, []storage.BinaryObject{r1, r2})

		if err := is.Delete("2"); err != nil {
			t.Fatal(err)
		}
		if _, err := is.Get("2"); err != storage.ErrNoObjectExists {
			t.Error("expected ErrNoObjectExists for deleted record, got:", err)
		}
		// Deleting again is a no-op.
		if err := is.Delete("2"); err != nil {
			t.Fatal(err)
		}
		gotList, err = is.List("id", "", 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		assertObjects(t, "list by id after delete", gotList, []storage.BinaryObject{r1})

		if err := is.Replace(&record{ID: "3", Body: "never created"}); err != storage.ErrNoObjectExists {
			t.Error("expected ErrNoObjectExists replacing unknown record, got:", err)
		}
	})
}

func TestIndexedStore_ListPaging(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func(string) storage.Interface) {
		is, err := newRecordStore(open("records"))
		if err != nil {
			t.Fatal(err)
		}

		base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		all := make([]storage.BinaryObject, 5)
		for i := range all {
			r := &record{
				ID:        string(rune('a' + i)),
				Body:      "entry",
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}
			if err := is.Create(r); err != nil {
				t.Fatal(err)
			}
			all[i] = r
		}

		testCases := []struct {
			pattern       string
			offset, limit int
			exp           []storage.BinaryObject
		}{
			{pattern: "", offset: 0, limit: 100, exp: all},
			{pattern: "", offset: 0, limit: 2, exp: all[:2]},
			{pattern: "", offset: 2, limit: 2, exp: all[2:4]},
			{pattern: "", offset: 4, limit: 2, exp: all[4:]},
			{pattern: "", offset: 5, limit: 2, exp: nil},
			{pattern: "[ab]", offset: 0, limit: 100, exp: all[:2]},
			{pattern: "[ab]", offset: 1, limit: 100, exp: all[1:2]},
			{pattern: "z", offset: 0, limit: 100, exp: nil},
		}
		for _, tc := range testCases {
			got, err := is.List("id", tc.pattern, tc.offset, tc.limit)
			if err != nil {
				t.Fatal(err)
			}
			exp := tc.exp
			if len(exp) == 0 {
				exp = []storage.BinaryObject{}
			}
			if len(got) == 0 && len(exp) == 0 {
				continue
			}
			if !reflect.DeepEqual(got, exp) {
				t.Errorf("List(%q, %d, %d):\ngot\n%s\nexp\n%s\n",
					tc.pattern, tc.offset, tc.limit, spew.Sdump(got), spew.Sdump(exp))
			}
		}
	})
}

func TestIndexedStore_Rebuild(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func(string) storage.Interface) {
		s := open("records")
		is, err := newRecordStore(s)
		if err != nil {
			t.Fatal(err)
		}

		r1 := &record{
			ID:        "1",
			Body:      "disk almost full",
			CreatedAt: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		}
		r2 := &record{
			ID:        "2",
			Body:      "db is down",
			CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := is.Create(r1); err != nil {
			t.Fatal(err)
		}
		if err := is.Create(r2); err != nil {
			t.Fatal(err)
		}

		// Wipe every index entry, leaving only the raw data.
		err = s.Update(func(tx storage.Tx) error {
			kvs, err := tx.List("/records/indexes/")
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				if err := tx.Delete(kv.Key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		if got, err := is.List("created", "", 0, 100); err != nil {
			t.Fatal(err)
		} else if len(got) != 0 {
			t.Fatalf("expected no results from the wiped index, got %d", len(got))
		}

		if err := is.Rebuild(); err != nil {
			t.Fatal(err)
		}

		gotList, err := is.List("created", "", 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		assertObjects(t, "list by created after rebuild", gotList, []storage.BinaryObject{r2, r1})
	})
}
