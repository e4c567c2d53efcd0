package common

import "fmt"

// TableID identifies a table in log records. The wire format stores it in a
// single byte.
type TableID uint8

// Timestamp is a transaction's commit timestamp as assigned by the
// concurrency-control layer.
type Timestamp uint64

// Epoch is the externally assigned group-commit window. Commits that share an
// epoch are made durable together.
type Epoch uint64

// ShardName returns the canonical file name of a shard for the given base name.
func ShardName(base string, shard int) string {
	return fmt.Sprintf("%s_%d.log", base, shard)
}
