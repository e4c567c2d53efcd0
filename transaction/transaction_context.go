package transaction

import (
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/logging"
)

// TransactionContext holds the runtime state of a single transaction. A
// transaction is bound to the worker thread that began it and may only be
// used from that thread.
type TransactionContext struct {
	tm       *TransactionManager
	thread   int
	commitTS common.Timestamp
	records  int
}

// Reset prepares a pooled context for a new transaction.
func (txn *TransactionContext) Reset(thread int, commitTS common.Timestamp) {
	txn.thread = thread
	txn.commitTS = commitTS
	txn.records = 0
}

// Thread returns the worker thread, and therefore the log shard, of the transaction.
func (txn *TransactionContext) Thread() int {
	return txn.thread
}

// CommitTS returns the commit timestamp stamped on every record of the transaction.
func (txn *TransactionContext) CommitTS() common.Timestamp {
	return txn.commitTS
}

// Records returns the number of records logged so far.
func (txn *TransactionContext) Records() int {
	return txn.records
}

// Insert logs the full image of a newly inserted row.
func (txn *TransactionContext) Insert(table common.TableID, row []byte) error {
	return txn.tm.logRecord(txn, logging.RecordInsert, table, row)
}

// Update logs the full image of an updated row.
func (txn *TransactionContext) Update(table common.TableID, row []byte) error {
	return txn.tm.logRecord(txn, logging.RecordUpdate, table, row)
}

// Delete logs the primary key of a deleted row.
func (txn *TransactionContext) Delete(table common.TableID, primaryKey []byte) error {
	return txn.tm.logRecord(txn, logging.RecordDelete, table, primaryKey)
}
