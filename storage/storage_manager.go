package storage

import "mit.edu/dsg/vlog/common"

// StorageManager is the target of log replay. Value logging records full row
// images, so every method receives what should be stored after the operation.
//
// Implementations must be safe for concurrent use: shards are applied in
// parallel and each shard applies its records in recorded order.
type StorageManager interface {
	// ApplyInsert installs `row` in `table`. The primary key is derived from the row.
	ApplyInsert(table common.TableID, row []byte, ts common.Timestamp) error
	// ApplyUpdate replaces the row with the same primary key by `row`.
	ApplyUpdate(table common.TableID, row []byte, ts common.Timestamp) error
	// ApplyDelete removes the row identified by `key`.
	ApplyDelete(table common.TableID, key []byte, ts common.Timestamp) error
}
