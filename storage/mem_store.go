package storage

import (
	"bytes"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
	"mit.edu/dsg/vlog/common"
)

// KeyExtractor derives the primary key of a row image.
type KeyExtractor func(table common.TableID, row []byte) []byte

// PrefixKey returns a KeyExtractor that treats the first n bytes of a row as
// its primary key. Rows shorter than n are keyed by their full contents.
func PrefixKey(n int) KeyExtractor {
	return func(_ common.TableID, row []byte) []byte {
		if n <= 0 || len(row) <= n {
			return row
		}
		return row[:n]
	}
}

type rowItem struct {
	key     []byte
	row     []byte
	ts      common.Timestamp
	deleted bool
}

type memTable struct {
	sync.RWMutex
	tree *btree.BTreeG[rowItem]
	live int
}

// MemStore is an in-memory StorageManager that keeps one ordered B-Tree per
// table. It is a wrapper around github.com/tidwall/btree.
//
// Every row remembers the commit timestamp that produced it and deletes leave
// tombstones. A write older than the stored version is ignored, so replaying
// the same log twice, or replaying shards in any relative order, converges
// to the same state.
type MemStore struct {
	tables *xsync.MapOf[common.TableID, *memTable]
	keyOf  KeyExtractor
}

// NewMemStore creates an empty store. A nil extractor keys rows by their full contents.
func NewMemStore(keyOf KeyExtractor) *MemStore {
	if keyOf == nil {
		keyOf = PrefixKey(0)
	}
	return &MemStore{
		tables: xsync.NewMapOf[common.TableID, *memTable](),
		keyOf:  keyOf,
	}
}

func (s *MemStore) table(id common.TableID) *memTable {
	t, _ := s.tables.LoadOrCompute(id, func() *memTable {
		return &memTable{
			tree: btree.NewBTreeG(func(a, b rowItem) bool {
				return bytes.Compare(a.key, b.key) < 0
			}),
		}
	})
	return t
}

func (s *MemStore) ApplyInsert(table common.TableID, row []byte, ts common.Timestamp) error {
	s.apply(table, s.keyOf(table, row), row, ts, false)
	return nil
}

func (s *MemStore) ApplyUpdate(table common.TableID, row []byte, ts common.Timestamp) error {
	s.apply(table, s.keyOf(table, row), row, ts, false)
	return nil
}

func (s *MemStore) ApplyDelete(table common.TableID, key []byte, ts common.Timestamp) error {
	s.apply(table, key, nil, ts, true)
	return nil
}

// apply installs a new version unless a newer one is already present.
// Equal timestamps overwrite: records of one transaction are applied in
// order, so the later one wins.
func (s *MemStore) apply(table common.TableID, key, row []byte, ts common.Timestamp, deleted bool) {
	t := s.table(table)
	t.Lock()
	defer t.Unlock()

	if prev, ok := t.tree.Get(rowItem{key: key}); ok {
		if prev.ts > ts {
			return
		}
		if !prev.deleted {
			t.live--
		}
	}

	// The caller's slices may alias a replay buffer.
	item := rowItem{
		key:     append([]byte(nil), key...),
		ts:      ts,
		deleted: deleted,
	}
	if !deleted {
		item.row = append([]byte(nil), row...)
		t.live++
	}
	t.tree.Set(item)
}

// Get returns the live row stored under key, if any.
func (s *MemStore) Get(table common.TableID, key []byte) ([]byte, bool) {
	t, ok := s.tables.Load(table)
	if !ok {
		return nil, false
	}
	t.RLock()
	defer t.RUnlock()
	item, ok := t.tree.Get(rowItem{key: key})
	if !ok || item.deleted {
		return nil, false
	}
	return item.row, true
}

// Version returns the commit timestamp of the latest version stored under key,
// including tombstones.
func (s *MemStore) Version(table common.TableID, key []byte) (common.Timestamp, bool) {
	t, ok := s.tables.Load(table)
	if !ok {
		return 0, false
	}
	t.RLock()
	defer t.RUnlock()
	item, ok := t.tree.Get(rowItem{key: key})
	return item.ts, ok
}

// Len returns the number of live rows in a table.
func (s *MemStore) Len(table common.TableID) int {
	t, ok := s.tables.Load(table)
	if !ok {
		return 0
	}
	t.RLock()
	defer t.RUnlock()
	return t.live
}

// Tables returns the ids of every table that has received a write.
func (s *MemStore) Tables() []common.TableID {
	var ids []common.TableID
	s.tables.Range(func(id common.TableID, _ *memTable) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Scan visits live rows of a table in ascending key order until fn returns false.
func (s *MemStore) Scan(table common.TableID, fn func(key, row []byte) bool) {
	t, ok := s.tables.Load(table)
	if !ok {
		return
	}
	// Use Copy-On-Write for a consistent snapshot iterator
	t.RLock()
	snapshot := t.tree.Copy()
	t.RUnlock()

	snapshot.Scan(func(item rowItem) bool {
		if item.deleted {
			return true
		}
		return fn(item.key, item.row)
	})
}
