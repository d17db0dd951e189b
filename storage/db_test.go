package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, kv := range [][2]string{
		{"gov/00000002", "b"},
		{"gov/00000001", "a"},
		{"registry/state", "r"},
	} {
		if err := db.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("put %s: %v", kv[0], err)
		}
	}

	value, err := db.Get([]byte("registry/state"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "r" {
		t.Fatalf("unexpected value %q", value)
	}

	var seen []string
	err = db.ForEach([]byte("gov/"), func(key, value []byte) error {
		seen = append(seen, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if len(seen) != 2 || seen[0] != "gov/00000001=a" || seen[1] != "gov/00000002=b" {
		t.Fatalf("unexpected walk order: %v", seen)
	}

	stop := errors.New("stop")
	calls := 0
	err = db.ForEach([]byte("gov/"), func(key, value []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected walk to stop after first key, calls=%d err=%v", calls, err)
	}

	var batch Batch
	batch.Put([]byte("gov/00000003"), []byte("c"))
	batch.Put([]byte("registry/state"), []byte("r2"))
	batch.Put([]byte("chain/tip"), []byte("t"))
	if batch.Len() != 3 || string(batch.Keys()[1]) != "registry/state" {
		t.Fatalf("unexpected batch contents %q", batch.Keys())
	}
	if err := db.Write(&batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	for key, want := range map[string]string{"gov/00000003": "c", "registry/state": "r2", "chain/tip": "t"} {
		got, err := db.Get([]byte(key))
		if err != nil || string(got) != want {
			t.Fatalf("batch key %s: got %q %v", key, got, err)
		}
	}
	if err := db.Write(&Batch{}); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	buf := []byte("abc")
	if err := db.Put([]byte("k"), buf); err != nil {
		t.Fatalf("put: %v", err)
	}
	buf[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseDatabase(t, db)
	db.Close()

	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, err := reopened.Get([]byte("gov/00000001"))
	if err != nil || string(value) != "a" {
		t.Fatalf("value not persisted: %q %v", value, err)
	}
}
