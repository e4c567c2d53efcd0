package logging

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/metrics"
	"mit.edu/dsg/vlog/storage"
)

// shard is the state owned by one worker thread. It is never touched by more
// than one goroutine at a time, so it carries no lock.
type shard struct {
	id        int
	buf       *LogBuffer
	sink      *shardSink
	lastEpoch common.Epoch
	// err is sticky: once a flush fails the shard refuses further work.
	err error
}

// AccessLogger is the value logger. Each worker thread appends records of its
// current transaction to its own LogBuffer; committed transactions stay in
// the buffer until a commit declares a new epoch, at which point the whole
// buffer is written, optionally compressed, and fsynced inside that commit
// call. Transactions sharing an epoch therefore share one fsync.
type AccessLogger struct {
	shards  []*shard
	files   *storage.ShardFileManager
	log     zerolog.Logger
	metrics *metrics.Metrics
	closed  atomic.Bool
}

var _ TransactionLogger = (*AccessLogger)(nil)

// NewAccessLogger creates one shard file per thread under cfg.Dir.
func NewAccessLogger(cfg Config) (*AccessLogger, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, common.Errorf(common.InvalidConfigError, "Dir is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files := storage.NewShardFileManager(cfg.Dir, cfg.Base)
	sinks := make([]SyncWriter, cfg.ThreadCount)
	for i := range sinks {
		f, err := files.CreateShardFile(i)
		if err != nil {
			_ = files.CloseAll()
			return nil, fmt.Errorf("open shard %d: %w", i, err)
		}
		sinks[i] = f
	}

	l, err := newAccessLogger(sinks, cfg)
	if err != nil {
		_ = files.CloseAll()
		return nil, err
	}
	l.files = files
	return l, nil
}

// NewAccessLoggerWithSinks creates a logger over caller-supplied sinks, one
// per thread. cfg.ThreadCount is taken from len(sinks) when zero.
func NewAccessLoggerWithSinks(sinks []SyncWriter, cfg Config) (*AccessLogger, error) {
	if cfg.ThreadCount == 0 {
		cfg.ThreadCount = len(sinks)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sinks) != cfg.ThreadCount {
		return nil, common.Errorf(common.InvalidConfigError,
			"got %d sinks for %d threads", len(sinks), cfg.ThreadCount)
	}
	return newAccessLogger(sinks, cfg)
}

func newAccessLogger(sinks []SyncWriter, cfg Config) (*AccessLogger, error) {
	l := &AccessLogger{
		shards:  make([]*shard, len(sinks)),
		log:     cfg.Logger.With().Str("component", "access_logger").Logger(),
		metrics: cfg.Metrics,
	}
	for i, dst := range sinks {
		sink, err := newShardSink(dst, cfg.BufferSize, cfg.Compression)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		l.shards[i] = &shard{
			id:   i,
			buf:  NewLogBuffer(cfg.BufferSize),
			sink: sink,
		}
	}

	l.log.Info().
		Int("threads", len(sinks)).
		Int("buffer_size", cfg.BufferSize).
		Bool("compression", cfg.Compression).
		Msg("value log opened")
	return l, nil
}

// ThreadCount returns the number of shards.
func (l *AccessLogger) ThreadCount() int {
	return len(l.shards)
}

func (l *AccessLogger) shard(threadID int) (*shard, error) {
	if l.closed.Load() {
		return nil, common.VLogError{Code: common.LogClosedError, ErrString: "Log closed"}
	}
	if threadID < 0 || threadID >= len(l.shards) {
		return nil, common.Errorf(common.InvalidShardError, "thread id %d outside [0, %d)", threadID, len(l.shards))
	}
	s := l.shards[threadID]
	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

func (l *AccessLogger) appendRecord(threadID int, t RecordType, table common.TableID, payload []byte, commitTS common.Timestamp) error {
	s, err := l.shard(threadID)
	if err != nil {
		return err
	}
	if err := s.buf.Append(t, table, payload, commitTS); err != nil {
		l.metrics.RecordRejected(threadID)
		return err
	}
	l.metrics.RecordLogged(threadID)
	return nil
}

func (l *AccessLogger) InsertRecord(threadID int, table common.TableID, data []byte, commitTS common.Timestamp) error {
	return l.appendRecord(threadID, RecordInsert, table, data, commitTS)
}

func (l *AccessLogger) UpdateRecord(threadID int, table common.TableID, data []byte, commitTS common.Timestamp) error {
	return l.appendRecord(threadID, RecordUpdate, table, data, commitTS)
}

func (l *AccessLogger) DeleteRecord(threadID int, table common.TableID, primaryKey []byte, commitTS common.Timestamp) error {
	return l.appendRecord(threadID, RecordDelete, table, primaryKey, commitTS)
}

func (l *AccessLogger) CommitTransaction(threadID int, epoch common.Epoch) error {
	s, err := l.shard(threadID)
	if err != nil {
		return err
	}
	if s.buf.Commit() {
		l.metrics.TxnCommitted(threadID)
	}
	if epoch == s.lastEpoch {
		return nil
	}
	if err := l.flush(s); err != nil {
		return err
	}
	s.lastEpoch = epoch
	return nil
}

func (l *AccessLogger) AbortTransaction(threadID int) {
	s, err := l.shard(threadID)
	if err != nil {
		return
	}
	if s.buf.InProgress() > 0 {
		l.metrics.TxnAborted(threadID)
	}
	s.buf.Abort()
}

// Flush writes and fsyncs every committed transaction of the thread regardless
// of epoch. The thread's open transaction, if any, stays open.
func (l *AccessLogger) Flush(threadID int) error {
	s, err := l.shard(threadID)
	if err != nil {
		return err
	}
	return l.flush(s)
}

func (l *AccessLogger) flush(s *shard) error {
	start := time.Now()
	pending := s.buf.Pending()
	n := len(pending)
	if err := s.sink.write(pending); err != nil {
		s.err = fmt.Errorf("shard %d: %w", s.id, err)
		l.metrics.FlushFailed(s.id)
		l.log.Error().Err(err).Int("shard", s.id).Int("bytes", n).Msg("log flush failed")
		return s.err
	}
	s.buf.Drain()
	l.metrics.Flushed(s.id, n, time.Since(start))
	return nil
}

// Close flushes the committed bytes of every shard, finishes the compressed
// frames and closes the files. Open transactions are discarded. Close must
// not race with calls for any thread id.
func (l *AccessLogger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return common.VLogError{Code: common.LogClosedError, ErrString: "Log closed"}
	}

	var errs []error
	for _, s := range l.shards {
		if s.err == nil && len(s.buf.Pending()) > 0 {
			if err := l.flush(s); err != nil {
				errs = append(errs, err)
			}
		}
		s.buf.Abort()
		if err := s.sink.close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", s.id, err))
		}
		if l.files != nil {
			l.files.Forget(s.id)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		l.log.Error().Err(err).Msg("value log closed with errors")
	} else {
		l.log.Info().Int("threads", len(l.shards)).Msg("value log closed")
	}
	return err
}
