package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bolt, err := NewBoltDB(filepath.Join(dir, "cache.bolt"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	dbs := map[string]Database{"memory": NewMemDB(), "leveldb": level, "bolt": bolt}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestDatabaseContract(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.WriteBatch([]KV{
				{Key: []byte("snap/a/2"), Value: []byte("two")},
				{Key: []byte("snap/a/1"), Value: []byte("one")},
				{Key: []byte("snap/b/1"), Value: []byte("other")},
			}); err != nil {
				t.Fatalf("write batch: %v", err)
			}
			var seen []string
			if err := db.Iterate([]byte("snap/a/"), func(key, value []byte) bool {
				seen = append(seen, string(key)+"="+string(value))
				return true
			}); err != nil {
				t.Fatalf("iterate: %v", err)
			}
			if len(seen) != 2 || seen[0] != "snap/a/1=one" || seen[1] != "snap/a/2=two" {
				t.Fatalf("unexpected iteration %v", seen)
			}
			if err := db.Delete([]byte("snap/a/1")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if ok, err := db.Has([]byte("snap/a/1")); err != nil || ok {
				t.Fatalf("expected key removed, has=%v err=%v", ok, err)
			}
			value, err := db.Get([]byte("snap/b/1"))
			if err != nil || string(value) != "other" {
				t.Fatalf("unexpected get %q %v", value, err)
			}
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("rocksdb", ""); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
