package state

import (
	"errors"
	"testing"

	"lpleverage/storage"
)

type record struct {
	Name  string
	Value uint64
}

func TestKVReadWriteDelete(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	key := []byte("leverage/test")
	if ok, err := mgr.KVGet(key, new(record)); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut(key, record{Name: "a", Value: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err := mgr.KVGet(key, &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "a" || got.Value != 7 {
		t.Fatalf("unexpected record %+v", got)
	}
	if err := mgr.KVDelete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet(key, nil); ok {
		t.Fatalf("expected key deleted")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("leverage/list")
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend(key, v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	var empty [][]byte
	if err := mgr.KVGetList([]byte("leverage/none"), &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected initialised empty slice")
	}
}

func TestNestedSnapshotRevert(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	a, b := []byte("a"), []byte("b")
	if err := mgr.KVPut(a, uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	outer := mgr.Snapshot()
	_ = mgr.KVPut(a, uint64(2))
	inner := mgr.Snapshot()
	_ = mgr.KVPut(b, uint64(3))
	_ = mgr.KVDelete(a)

	if err := mgr.RevertToSnapshot(inner); err != nil {
		t.Fatalf("revert inner: %v", err)
	}
	var v uint64
	if ok, _ := mgr.KVGet(a, &v); !ok || v != 2 {
		t.Fatalf("expected a=2 after inner revert, got ok=%v v=%d", ok, v)
	}
	if ok, _ := mgr.KVGet(b, nil); ok {
		t.Fatalf("expected b reverted")
	}

	if err := mgr.RevertToSnapshot(outer); err != nil {
		t.Fatalf("revert outer: %v", err)
	}
	if ok, _ := mgr.KVGet(a, &v); !ok || v != 1 {
		t.Fatalf("expected a=1 after outer revert, got ok=%v v=%d", ok, v)
	}
	if err := mgr.RevertToSnapshot(inner); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected discarded snapshot to be invalid, got %v", err)
	}
}

func TestCommitPersistsAndDiscardDrops(t *testing.T) {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db)
	_ = mgr.KVPut([]byte("kept"), uint64(10))
	_ = mgr.KVPut([]byte("gone"), uint64(11))
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Dirty() != 0 {
		t.Fatalf("expected clean overlay after commit")
	}

	_ = mgr.KVDelete([]byte("gone"))
	_ = mgr.KVPut([]byte("kept"), uint64(99))
	mgr.Discard()

	fresh := NewManager(db)
	var v uint64
	if ok, _ := fresh.KVGet([]byte("kept"), &v); !ok || v != 10 {
		t.Fatalf("expected committed value 10, got ok=%v v=%d", ok, v)
	}
	if ok, _ := fresh.KVGet([]byte("gone"), nil); !ok {
		t.Fatalf("discarded delete must not reach the database")
	}

	_ = mgr.KVDelete([]byte("gone"))
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if ok, _ := fresh.KVGet([]byte("gone"), nil); ok {
		t.Fatalf("expected committed delete")
	}
}
