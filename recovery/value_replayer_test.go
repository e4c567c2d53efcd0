package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/logging"
	"mit.edu/dsg/vlog/metrics"
	"mit.edu/dsg/vlog/storage"
)

const keySize = 6

func key(i int) []byte {
	return []byte(fmt.Sprintf("k%05d", i))
}

func rowFor(i int, version string) []byte {
	return append(key(i), []byte(version)...)
}

func newLogger(t *testing.T, dir string, threads int, compress bool) *logging.AccessLogger {
	t.Helper()
	l, err := logging.NewAccessLogger(logging.Config{
		Dir:         dir,
		ThreadCount: threads,
		Compression: compress,
		BufferSize:  1 << 14,
	})
	require.NoError(t, err)
	return l
}

func TestValueReplayer_Scenario(t *testing.T) {
	dir := t.TempDir()
	l := newLogger(t, dir, 1, false)
	require.NoError(t, l.InsertRecord(0, 3, []byte("ABC"), 10))
	require.NoError(t, l.CommitTransaction(0, 1))
	require.NoError(t, l.InsertRecord(0, 3, []byte("XYZ"), 11))
	require.NoError(t, l.CommitTransaction(0, 1))
	require.NoError(t, l.Flush(0))
	require.NoError(t, l.Close())

	r, err := NewValueReplayer(ReplayConfig{Dir: dir}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ThreadCount(), "shards are discovered on disk")
	require.NoError(t, r.Start())

	txns := r.TxnLogs(0)
	require.Len(t, txns, 2)
	assert.Equal(t, common.Timestamp(10), txns[0].CommitTS)
	assert.Equal(t, []byte("ABC"), txns[0].Logs[0].Data)
	assert.Equal(t, common.Timestamp(11), txns[1].CommitTS)
	assert.Equal(t, []byte("XYZ"), txns[1].Logs[0].Data)

	err = r.ProcessLog(0)
	assert.True(t, common.IsCode(err, common.InvalidConfigError), "got %v", err)
}

// writeWorkload runs threads workers, each owning a disjoint key range, and
// returns the expected final row per key.
func writeWorkload(t *testing.T, l *logging.AccessLogger, threads, txnsPerThread int) map[string][]byte {
	t.Helper()
	var mu sync.Mutex
	want := make(map[string][]byte)

	var wg sync.WaitGroup
	for thread := 0; thread < threads; thread++ {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			live := make(map[int][]byte)
			for i := 0; i < txnsPerThread; i++ {
				ts := common.Timestamp(thread*txnsPerThread + i + 1)
				k := thread*1000 + i%20
				var err error
				switch {
				case i%7 == 6:
					l.AbortTransaction(thread)
					err = l.InsertRecord(thread, 1, rowFor(k, "aborted"), ts)
					l.AbortTransaction(thread)
				case i%5 == 4:
					err = l.DeleteRecord(thread, 1, key(k), ts)
					delete(live, k)
				default:
					r := rowFor(k, fmt.Sprintf("v%d", i))
					err = l.UpdateRecord(thread, 1, r, ts)
					live[k] = r
				}
				if !assert.NoError(t, err) {
					return
				}
				if !assert.NoError(t, l.CommitTransaction(thread, common.Epoch(i/16+1))) {
					return
				}
			}
			mu.Lock()
			for k, r := range live {
				want[string(key(k))] = r
			}
			mu.Unlock()
		}(thread)
	}
	wg.Wait()
	return want
}

func TestValueReplayer_ReplayIntoStore(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compression=%v", compress), func(t *testing.T) {
			dir := t.TempDir()
			const threads = 4
			l := newLogger(t, dir, threads, compress)
			want := writeWorkload(t, l, threads, 200)
			require.NoError(t, l.Close())

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			store := storage.NewMemStore(storage.PrefixKey(keySize))
			r, err := NewValueReplayer(ReplayConfig{Dir: dir, ThreadCount: threads, Metrics: m}, store)
			require.NoError(t, err)
			require.NoError(t, r.Replay())

			assert.Equal(t, len(want), store.Len(1))
			for k, row := range want {
				got, ok := store.Get(1, []byte(k))
				if assert.True(t, ok, "key %s", k) {
					assert.Equal(t, row, got)
				}
			}

			// Aborted transactions left no block behind.
			total := 0
			for thread := 0; thread < threads; thread++ {
				for _, txn := range r.TxnLogs(thread) {
					for _, access := range txn.Logs {
						assert.NotContains(t, string(access.Data), "aborted")
					}
				}
				total += len(r.TxnLogs(thread))
			}
			assert.Equal(t, total, r.TxnCount())
			assert.Len(t, r.AllTxnLogs(), total)
			assert.Equal(t, float64(len(r.TxnLogs(2))), testutil.ToFloat64(m.TxnsReplayed.WithLabelValues("2")))
		})
	}
}

func TestValueReplayer_Idempotent(t *testing.T) {
	dir := t.TempDir()
	l := newLogger(t, dir, 2, true)
	writeWorkload(t, l, 2, 100)
	require.NoError(t, l.Close())

	dump := func(s *storage.MemStore) map[string]string {
		out := make(map[string]string)
		s.Scan(1, func(k, row []byte) bool {
			out[string(k)] = string(row)
			return true
		})
		return out
	}

	store := storage.NewMemStore(storage.PrefixKey(keySize))
	r, err := NewValueReplayer(ReplayConfig{Dir: dir}, store)
	require.NoError(t, err)
	require.NoError(t, r.Replay())
	first := dump(store)

	require.NoError(t, r.Replay())
	assert.Equal(t, first, dump(store))

	// Applying shards in reverse order converges to the same state.
	reversed := storage.NewMemStore(storage.PrefixKey(keySize))
	r2, err := NewValueReplayer(ReplayConfig{Dir: dir}, reversed)
	require.NoError(t, err)
	require.NoError(t, r2.Start())
	require.NoError(t, r2.ProcessLog(1))
	require.NoError(t, r2.ProcessLog(0))
	assert.Equal(t, first, dump(reversed))
}

func TestValueReplayer_TornTail(t *testing.T) {
	dir := t.TempDir()
	l := newLogger(t, dir, 1, false)
	for ts := common.Timestamp(1); ts <= 3; ts++ {
		require.NoError(t, l.InsertRecord(0, 1, rowFor(int(ts), "v"), ts))
		require.NoError(t, l.CommitTransaction(0, common.Epoch(ts)))
	}
	require.NoError(t, l.Close())

	path := storage.NewShardFileManager(dir, logging.DefaultBase).Path(0)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-2))

	strict, err := NewValueReplayer(ReplayConfig{Dir: dir}, nil)
	require.NoError(t, err)
	err = strict.Start()
	assert.True(t, common.IsCode(err, common.TruncatedLogError), "got %v", err)

	m := metrics.New(prometheus.NewRegistry())
	store := storage.NewMemStore(storage.PrefixKey(keySize))
	tolerant, err := NewValueReplayer(ReplayConfig{Dir: dir, TolerateTornTail: true, Metrics: m}, store)
	require.NoError(t, err)
	require.NoError(t, tolerant.Replay())
	assert.Equal(t, 2, tolerant.TxnCount())
	assert.Equal(t, 2, store.Len(1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TornTails.WithLabelValues("0")))
}

func TestValueReplayer_CompressedTornTail(t *testing.T) {
	sink := logging.NewMemorySink()
	l, err := logging.NewAccessLoggerWithSinks([]logging.SyncWriter{sink},
		logging.Config{BufferSize: 1 << 14, Compression: true})
	require.NoError(t, err)
	for ts := common.Timestamp(1); ts <= 3; ts++ {
		require.NoError(t, l.InsertRecord(0, 1, rowFor(int(ts), "value"), ts))
		require.NoError(t, l.CommitTransaction(0, common.Epoch(ts)))
	}

	// The logger never closes: the frame has no footer and the last block
	// loses its final bytes.
	data := sink.Bytes()
	dir := t.TempDir()
	path := storage.NewShardFileManager(dir, logging.DefaultBase).Path(0)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0644))

	strict, err := NewValueReplayer(ReplayConfig{Dir: dir}, nil)
	require.NoError(t, err)
	err = strict.Start()
	assert.True(t, common.IsCode(err, common.TruncatedLogError), "got %v", err)

	store := storage.NewMemStore(storage.PrefixKey(keySize))
	tolerant, err := NewValueReplayer(ReplayConfig{Dir: dir, TolerateTornTail: true}, store)
	require.NoError(t, err)
	require.NoError(t, tolerant.Replay())
	assert.Equal(t, 2, tolerant.TxnCount())
	assert.Equal(t, common.Timestamp(2), tolerant.MaxCommitTS())
	assert.Equal(t, 2, store.Len(1))

	// The footer-less frame without truncation replays every block.
	require.NoError(t, os.WriteFile(path, data, 0644))
	full, err := NewValueReplayer(ReplayConfig{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, full.Start())
	assert.Equal(t, 3, full.TxnCount())
}

func TestValueReplayer_CorruptShardFailsReplay(t *testing.T) {
	dir := t.TempDir()
	l := newLogger(t, dir, 2, false)
	for thread := 0; thread < 2; thread++ {
		require.NoError(t, l.InsertRecord(thread, 1, rowFor(thread, "v"), common.Timestamp(thread+1)))
		require.NoError(t, l.CommitTransaction(thread, 1))
	}
	require.NoError(t, l.Close())

	path := storage.NewShardFileManager(dir, logging.DefaultBase).Path(1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[logging.BlockHeaderSize] = 0xEE
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := NewValueReplayer(ReplayConfig{Dir: dir}, storage.NewMemStore(nil))
	require.NoError(t, err)
	err = r.Replay()
	assert.True(t, common.IsCode(err, common.CorruptedLogError), "got %v", err)
	assert.Len(t, r.TxnLogs(0), 1, "healthy shards are still parsed")
}

func TestValueReplayer_Config(t *testing.T) {
	_, err := NewValueReplayer(ReplayConfig{}, nil)
	assert.True(t, common.IsCode(err, common.InvalidConfigError))

	_, err = NewValueReplayer(ReplayConfig{Dir: t.TempDir(), ThreadCount: 2}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewValueReplayer(ReplayConfig{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist, "a missing directory is not an empty log")

	notDir := filepath.Join(t.TempDir(), "value_0.log")
	require.NoError(t, os.WriteFile(notDir, nil, 0644))
	_, err = NewValueReplayer(ReplayConfig{Dir: notDir}, nil)
	assert.True(t, common.IsCode(err, common.InvalidConfigError), "got %v", err)

	r, err := NewValueReplayer(ReplayConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Zero(t, r.ThreadCount())
	require.NoError(t, r.Replay())
	assert.Nil(t, r.TxnLogs(0))
	assert.True(t, common.IsCode(r.ReloadLog(0), common.InvalidShardError))
}
