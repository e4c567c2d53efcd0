package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"mit.edu/dsg/vlog/metrics"
	"mit.edu/dsg/vlog/recovery"
	"mit.edu/dsg/vlog/storage"
)

func runReplay(cfg *Config, log zerolog.Logger, m *metrics.Metrics) error {
	store := storage.NewMemStore(storage.PrefixKey(cfg.KeySize))
	r, err := recovery.NewValueReplayer(recovery.ReplayConfig{
		Dir:              cfg.Dir,
		Base:             cfg.Base,
		ThreadCount:      cfg.Threads,
		TolerateTornTail: cfg.TolerateTornTail,
		Logger:           &log,
		Metrics:          m,
	}, store)
	if err != nil {
		return err
	}
	defer r.Close()

	start := time.Now()
	if err := r.Replay(); err != nil {
		return err
	}
	log.Info().
		Int("shards", r.ThreadCount()).
		Int("txns", r.TxnCount()).
		Uint64("max_commit_ts", uint64(r.MaxCommitTS())).
		Dur("elapsed", time.Since(start)).
		Msg("replay complete")

	tables := store.Tables()
	slices.Sort(tables)
	for _, table := range tables {
		fmt.Fprintf(os.Stdout, "table %d\t%d rows\n", table, store.Len(table))
	}
	return nil
}
