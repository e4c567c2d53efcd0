package recovery

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/logging"
	"mit.edu/dsg/vlog/metrics"
	"mit.edu/dsg/vlog/storage"
)

// ReplayConfig configures a ValueReplayer.
type ReplayConfig struct {
	// Dir and Base locate the shard files written by an AccessLogger.
	Dir  string
	Base string

	// ThreadCount is the number of shards. Zero discovers them on disk.
	ThreadCount int

	// TolerateTornTail accepts a shard whose final block was cut short by a
	// crash during a flush; the partial block is skipped. When false any
	// truncation is an error.
	TolerateTornTail bool

	// Logger is optional. Default: disabled.
	Logger *zerolog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// ValueReplayer rebuilds transaction history from the shard files of a value
// log and applies it to a storage manager.
//
// Each shard is parsed into its own result slice, so parallel parsing shares
// no mutable state. Within a shard, transactions keep their recorded order.
// No order is imposed across shards: the storage manager is expected to
// resolve conflicting writes by commit timestamp (see storage.MemStore).
type ValueReplayer struct {
	files          *storage.ShardFileManager
	storageManager storage.StorageManager
	threadCount    int
	tolerateTorn   bool
	log            zerolog.Logger
	metrics        *metrics.Metrics

	txnLogs [][]*logging.TxnLog
}

// NewValueReplayer prepares a replayer over the shards described by cfg.
func NewValueReplayer(cfg ReplayConfig, storageManager storage.StorageManager) (*ValueReplayer, error) {
	if cfg.Dir == "" {
		return nil, common.Errorf(common.InvalidConfigError, "Dir is required")
	}
	if cfg.Base == "" {
		cfg.Base = logging.DefaultBase
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if !info.IsDir() {
		return nil, common.Errorf(common.InvalidConfigError, "%s is not a directory", cfg.Dir)
	}

	files := storage.NewShardFileManager(cfg.Dir, cfg.Base)
	if cfg.ThreadCount == 0 {
		n, err := files.ShardCount()
		if err != nil {
			return nil, err
		}
		cfg.ThreadCount = n
	}
	if cfg.ThreadCount < 0 {
		return nil, common.Errorf(common.InvalidConfigError, "ThreadCount must not be negative, got %d", cfg.ThreadCount)
	}
	for i := 0; i < cfg.ThreadCount; i++ {
		if _, err := os.Stat(files.Path(i)); err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
	}

	return &ValueReplayer{
		files:          files,
		storageManager: storageManager,
		threadCount:    cfg.ThreadCount,
		tolerateTorn:   cfg.TolerateTornTail,
		log:            cfg.Logger.With().Str("component", "value_replayer").Logger(),
		metrics:        cfg.Metrics,
		txnLogs:        make([][]*logging.TxnLog, cfg.ThreadCount),
	}, nil
}

// ThreadCount returns the number of shards being replayed.
func (r *ValueReplayer) ThreadCount() int {
	return r.threadCount
}

// Start parses every shard in parallel and waits for all of them. The first
// failure is returned after every parse has finished.
func (r *ValueReplayer) Start() error {
	var g errgroup.Group
	for i := 0; i < r.threadCount; i++ {
		threadID := i
		g.Go(func() error {
			return r.ReloadLog(threadID)
		})
	}
	return g.Wait()
}

// ReloadLog parses shard threadID from start to end into its result slice,
// replacing any earlier result for the shard.
func (r *ValueReplayer) ReloadLog(threadID int) error {
	if err := r.checkShard(threadID); err != nil {
		return err
	}

	iter, err := logging.NewLogFileIterator(r.files.Path(threadID), r.tolerateTorn)
	if err != nil {
		return fmt.Errorf("shard %d: %w", threadID, err)
	}
	defer iter.Close()

	var txns []*logging.TxnLog
	records := 0
	for iter.Next() {
		txn := iter.CurrentTxn()
		txns = append(txns, txn)
		records += len(txn.Logs)
		r.metrics.TxnReplayed(threadID)
	}
	if err := iter.Error(); err != nil {
		r.log.Error().Err(err).Int("shard", threadID).Int64("offset", iter.Offset()).Msg("shard parse failed")
		return fmt.Errorf("shard %d: %w", threadID, err)
	}
	if iter.TornTail() {
		r.metrics.TornTail(threadID)
		r.log.Warn().Int("shard", threadID).Int64("offset", iter.Offset()).Msg("skipped truncated final block")
	}

	r.txnLogs[threadID] = txns
	r.log.Info().
		Int("shard", threadID).
		Int("txns", len(txns)).
		Int("records", records).
		Bool("compressed", iter.Compressed()).
		Msg("shard reloaded")
	return nil
}

// ProcessLog applies the parsed transactions of shard threadID to the storage
// manager, record by record, in recorded order.
func (r *ValueReplayer) ProcessLog(threadID int) error {
	if err := r.checkShard(threadID); err != nil {
		return err
	}
	if r.storageManager == nil {
		return common.Errorf(common.InvalidConfigError, "no storage manager to apply shard %d to", threadID)
	}

	for _, txn := range r.txnLogs[threadID] {
		for _, access := range txn.Logs {
			if err := r.apply(access, txn.CommitTS); err != nil {
				return fmt.Errorf("shard %d: apply %s to table %d at ts %d: %w",
					threadID, access.Type, access.TableID, txn.CommitTS, err)
			}
			r.metrics.RecordApplied(threadID)
		}
	}
	return nil
}

func (r *ValueReplayer) apply(access logging.AccessLog, ts common.Timestamp) error {
	switch access.Type {
	case logging.RecordInsert:
		return r.storageManager.ApplyInsert(access.TableID, access.Data, ts)
	case logging.RecordUpdate:
		return r.storageManager.ApplyUpdate(access.TableID, access.Data, ts)
	case logging.RecordDelete:
		return r.storageManager.ApplyDelete(access.TableID, access.Data, ts)
	}
	common.Assert(false, "parsed log holds record type %s", access.Type)
	return nil
}

// Replay parses every shard and then applies every shard, both in parallel.
func (r *ValueReplayer) Replay() error {
	if err := r.Start(); err != nil {
		return err
	}
	var g errgroup.Group
	for i := 0; i < r.threadCount; i++ {
		threadID := i
		g.Go(func() error {
			return r.ProcessLog(threadID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info().Int("shards", r.threadCount).Int("txns", r.TxnCount()).Msg("replay finished")
	return nil
}

// TxnLogs returns the parsed transactions of one shard in recorded order.
func (r *ValueReplayer) TxnLogs(threadID int) []*logging.TxnLog {
	if r.checkShard(threadID) != nil {
		return nil
	}
	return r.txnLogs[threadID]
}

// AllTxnLogs concatenates the results of every shard in shard order. It must
// be called after Start has returned.
func (r *ValueReplayer) AllTxnLogs() []*logging.TxnLog {
	all := make([]*logging.TxnLog, 0, r.TxnCount())
	for _, txns := range r.txnLogs {
		all = append(all, txns...)
	}
	return all
}

// TxnCount returns the number of parsed transactions across all shards.
func (r *ValueReplayer) TxnCount() int {
	n := 0
	for _, txns := range r.txnLogs {
		n += len(txns)
	}
	return n
}

// MaxCommitTS returns the largest commit timestamp parsed across all shards.
// New transactions must commit above it.
func (r *ValueReplayer) MaxCommitTS() common.Timestamp {
	var maxTS common.Timestamp
	for _, txns := range r.txnLogs {
		for _, txn := range txns {
			maxTS = max(maxTS, txn.CommitTS)
		}
	}
	return maxTS
}

// Close releases the parsed logs.
func (r *ValueReplayer) Close() {
	for i := range r.txnLogs {
		r.txnLogs[i] = nil
	}
}

func (r *ValueReplayer) checkShard(threadID int) error {
	if threadID < 0 || threadID >= r.threadCount {
		return common.Errorf(common.InvalidShardError, "thread id %d outside [0, %d)", threadID, r.threadCount)
	}
	return nil
}
