package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/vlog/common"
)

// ShardFileManager manages the per-shard log files rooted at a specific
// directory. Shard i of base name b lives at <root>/<b>_<i>.log.
type ShardFileManager struct {
	rootPath  string
	base      string
	fileCache *xsync.MapOf[int, *os.File]
}

// NewShardFileManager initializes a manager rooted at `rootPath`.
func NewShardFileManager(rootPath, base string) *ShardFileManager {
	return &ShardFileManager{
		rootPath:  rootPath,
		base:      base,
		fileCache: xsync.NewMapOf[int, *os.File](),
	}
}

// Path returns the location of the given shard's file.
func (m *ShardFileManager) Path(shard int) string {
	return filepath.Join(m.rootPath, common.ShardName(m.base, shard))
}

// CreateShardFile retrieves or creates the writable handle for the given shard.
//
// The first call for a shard truncates the file: a logger always starts a new
// log generation, so existing shards must be replayed before a logger is
// constructed over the same directory. Later calls return the cached handle.
func (m *ShardFileManager) CreateShardFile(shard int) (*os.File, error) {
	if f, ok := m.fileCache.Load(shard); ok {
		return f, nil
	}
	if err := os.MkdirAll(m.rootPath, 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(m.Path(shard), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}

	actual, loaded := m.fileCache.LoadOrStore(shard, f)
	if loaded {
		// Another goroutine opened the shard first; keep theirs.
		_ = f.Close()
		return actual, nil
	}
	return f, nil
}

// OpenShardFile opens the given shard read-only. The caller owns the handle.
func (m *ShardFileManager) OpenShardFile(shard int) (*os.File, error) {
	return os.Open(m.Path(shard))
}

// Forget drops the cached handle for a shard without closing it. Used by
// owners that close the handle themselves.
func (m *ShardFileManager) Forget(shard int) {
	m.fileCache.Delete(shard)
}

// DeleteShardFile permanently deletes the file backing the given shard.
//
// Warning: The caller must ensure that no logger is still writing to the shard.
func (m *ShardFileManager) DeleteShardFile(shard int) error {
	if f, loaded := m.fileCache.LoadAndDelete(shard); loaded {
		_ = f.Close()
	}
	err := os.Remove(m.Path(shard))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListShards returns the shard indexes present on disk in ascending order.
func (m *ShardFileManager) ListShards() ([]int, error) {
	matches, err := filepath.Glob(filepath.Join(m.rootPath, m.base+"_*.log"))
	if err != nil {
		return nil, err
	}
	shards := make([]int, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".log")
		id, err := strconv.Atoi(strings.TrimPrefix(name, m.base+"_"))
		if err != nil || id < 0 {
			continue
		}
		shards = append(shards, id)
	}
	sort.Ints(shards)
	return shards, nil
}

// ShardCount returns one more than the highest shard index on disk, so that
// shard ids stay aligned with the thread ids that produced them. Missing
// shards in the middle are reported as an error.
func (m *ShardFileManager) ShardCount() (int, error) {
	shards, err := m.ListShards()
	if err != nil {
		return 0, err
	}
	for i, id := range shards {
		if id != i {
			return 0, fmt.Errorf("shard %d missing under %s", i, m.rootPath)
		}
	}
	return len(shards), nil
}

// CloseAll closes every cached handle.
func (m *ShardFileManager) CloseAll() error {
	var firstErr error
	m.fileCache.Range(func(shard int, f *os.File) bool {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.fileCache.Delete(shard)
		return true
	})
	return firstErr
}
