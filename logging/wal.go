package logging

import (
	"mit.edu/dsg/vlog/common"
)

type RecordType uint8

const (
	InvalidRecord RecordType = iota // So we can catch uninitialized values
	RecordInsert
	RecordUpdate
	RecordDelete
)

func (t RecordType) String() string {
	switch t {
	case InvalidRecord:
		return "INVALID"
	case RecordInsert:
		return "INSERT"
	case RecordUpdate:
		return "UPDATE"
	case RecordDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// Valid reports whether t is one of the record types that may appear on disk.
func (t RecordType) Valid() bool {
	return t == RecordInsert || t == RecordUpdate || t == RecordDelete
}

// TransactionLogger is the interface the transaction manager uses to make
// committed effects durable. Each thread id names a shard that is owned by a
// single worker goroutine; none of the methods may be called concurrently for
// the same thread id.
type TransactionLogger interface {
	// InsertRecord appends the after-image of an inserted row to the thread's
	// in-progress transaction.
	InsertRecord(threadID int, table common.TableID, data []byte, commitTS common.Timestamp) error

	// UpdateRecord appends the after-image of an updated row.
	UpdateRecord(threadID int, table common.TableID, data []byte, commitTS common.Timestamp) error

	// DeleteRecord appends the primary key of a deleted row.
	DeleteRecord(threadID int, table common.TableID, primaryKey []byte, commitTS common.Timestamp) error

	// CommitTransaction seals the in-progress transaction. If epoch differs from
	// the last epoch seen by the thread, every buffered transaction is written
	// and fsynced before returning.
	CommitTransaction(threadID int, epoch common.Epoch) error

	// AbortTransaction discards the in-progress transaction without I/O.
	AbortTransaction(threadID int)

	// Flush forces every committed transaction of the thread to stable storage.
	Flush(threadID int) error

	// Close flushes all shards, finalizes their streams and releases resources.
	Close() error
}
