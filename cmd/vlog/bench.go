package main

import (
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"mit.edu/dsg/vlog/logging"
	"mit.edu/dsg/vlog/metrics"
	"mit.edu/dsg/vlog/transaction"
)

// benchStats is shared by the bench workers.
type benchStats struct {
	committed atomic.Int64
	aborted   atomic.Int64
	records   atomic.Int64
}

func runBench(ctx context.Context, cfg *Config, log zerolog.Logger, m *metrics.Metrics) error {
	threads := cfg.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	l, err := logging.NewAccessLogger(logging.Config{
		Dir:         cfg.Dir,
		Base:        cfg.Base,
		ThreadCount: threads,
		Compression: cfg.Compression,
		BufferSize:  cfg.BufferSize,
		Logger:      &log,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	clock := logging.NewEpochClock(cfg.EpochInterval)
	clock.Start()
	tm := transaction.NewTransactionManager(l, clock)

	var stats benchStats
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for thread := 0; thread < threads; thread++ {
		thread := thread
		g.Go(func() error {
			return benchWorker(ctx, cfg, tm, thread, &stats)
		})
	}
	werr := g.Wait()
	clock.Stop()
	if errors.Is(werr, context.Canceled) {
		log.Warn().Msg("bench interrupted")
		werr = nil
	}

	for thread := 0; thread < threads && werr == nil; thread++ {
		werr = l.Flush(thread)
	}
	if err := l.Close(); err != nil {
		werr = errors.Join(werr, err)
	}
	if werr != nil {
		return werr
	}

	elapsed := time.Since(start)
	log.Info().
		Int("threads", threads).
		Int64("committed", stats.committed.Load()).
		Int64("aborted", stats.aborted.Load()).
		Int64("records", stats.records.Load()).
		Int64("backoffs", tm.Backoffs()).
		Uint64("epochs", uint64(clock.Current())).
		Uint64("last_commit_ts", uint64(tm.LastCommitTS())).
		Dur("elapsed", elapsed).
		Float64("txns_per_sec", float64(stats.committed.Load())/elapsed.Seconds()).
		Msg("bench finished")
	return nil
}

// benchWorker runs one thread's transactions. Each thread writes its own key
// range; the first 8 bytes of every row are its key.
func benchWorker(ctx context.Context, cfg *Config, tm *transaction.TransactionManager, thread int, stats *benchStats) error {
	row := make([]byte, cfg.PayloadSize)
	seq := 0
	for i := 0; i < cfg.TxnsPerThread; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn, err := tm.Begin(thread)
		if err != nil {
			return err
		}

		for r := 0; r < cfg.RecordsPerTxn; r++ {
			slot := seq % cfg.KeysPerThread
			binary.BigEndian.PutUint64(row, uint64(thread)<<32|uint64(slot))
			binary.LittleEndian.PutUint64(row[len(row)-8:], uint64(txn.CommitTS()))

			switch {
			case seq%10 == 9:
				err = txn.Delete(0, row[:8])
			case seq < cfg.KeysPerThread:
				err = txn.Insert(0, row)
			default:
				err = txn.Update(0, row)
			}
			if err != nil {
				tm.Abort(txn)
				return err
			}
			seq++
		}

		if cfg.AbortEvery > 0 && i%cfg.AbortEvery == cfg.AbortEvery-1 {
			tm.Abort(txn)
			stats.aborted.Add(1)
			continue
		}
		records := txn.Records()
		if err := tm.Commit(txn); err != nil {
			return err
		}
		stats.committed.Add(1)
		stats.records.Add(int64(records))
	}
	return nil
}
