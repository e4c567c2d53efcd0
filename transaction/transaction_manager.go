package transaction

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/logging"
)

// EpochSource supplies the epoch a transaction commits in.
// *logging.EpochClock satisfies it.
type EpochSource interface {
	Current() common.Epoch
}

// TransactionManager drives the commit protocol on top of a value logger. It
// hands out commit timestamps, routes each transaction's records to the shard
// of its thread and commits it in the current epoch.
//
// A thread runs at most one transaction at a time.
type TransactionManager struct {
	// activeTxns maps thread ids to their open transaction
	activeTxns *xsync.MapOf[int, *TransactionContext]

	logger logging.TransactionLogger
	epochs EpochSource

	lastTS   atomic.Uint64
	backoffs atomic.Int64
	// Pool to recycle transaction contexts
	txnPool sync.Pool
}

// NewTransactionManager initializes the transaction manager.
func NewTransactionManager(logger logging.TransactionLogger, epochs EpochSource) *TransactionManager {
	tm := &TransactionManager{
		activeTxns: xsync.NewMapOf[int, *TransactionContext](),
		logger:     logger,
		epochs:     epochs,
	}
	tm.txnPool.New = func() any {
		return &TransactionContext{tm: tm}
	}
	return tm
}

// ResumeAfter makes every later commit timestamp larger than ts. Call it with
// the largest timestamp seen during replay before starting new work.
func (tm *TransactionManager) ResumeAfter(ts common.Timestamp) {
	for {
		cur := tm.lastTS.Load()
		if cur >= uint64(ts) || tm.lastTS.CompareAndSwap(cur, uint64(ts)) {
			return
		}
	}
}

// Begin starts a new transaction on thread and returns the initialized context.
func (tm *TransactionManager) Begin(thread int) (*TransactionContext, error) {
	txn := tm.txnPool.Get().(*TransactionContext)
	if _, loaded := tm.activeTxns.LoadOrStore(thread, txn); loaded {
		tm.txnPool.Put(txn)
		return nil, common.Errorf(common.TransactionInProgressError,
			"thread %d already runs a transaction", thread)
	}
	txn.Reset(thread, common.Timestamp(tm.lastTS.Add(1)))
	return txn, nil
}

// logRecord appends one record for txn. A full shard buffer is flushed once
// and the record retried; the open transaction survives the flush.
func (tm *TransactionManager) logRecord(txn *TransactionContext, t logging.RecordType, table common.TableID, data []byte) error {
	appendFn := func() error {
		switch t {
		case logging.RecordInsert:
			return tm.logger.InsertRecord(txn.thread, table, data, txn.commitTS)
		case logging.RecordUpdate:
			return tm.logger.UpdateRecord(txn.thread, table, data, txn.commitTS)
		default:
			return tm.logger.DeleteRecord(txn.thread, table, data, txn.commitTS)
		}
	}

	err := appendFn()
	if common.IsCode(err, common.BufferFullError) {
		tm.backoffs.Add(1)
		if err := tm.logger.Flush(txn.thread); err != nil {
			return err
		}
		err = appendFn()
	}
	if err != nil {
		return err
	}
	txn.records++
	return nil
}

// Commit seals the transaction into its shard in the current epoch. The
// context is released even when the commit fails.
func (tm *TransactionManager) Commit(txn *TransactionContext) error {
	err := tm.logger.CommitTransaction(txn.thread, tm.epochs.Current())
	tm.release(txn)
	return err
}

// Abort discards every record of the transaction.
func (tm *TransactionManager) Abort(txn *TransactionContext) {
	tm.logger.AbortTransaction(txn.thread)
	tm.release(txn)
}

func (tm *TransactionManager) release(txn *TransactionContext) {
	tm.activeTxns.Delete(txn.thread)
	tm.txnPool.Put(txn)
}

// LastCommitTS returns the largest commit timestamp handed out so far.
func (tm *TransactionManager) LastCommitTS() common.Timestamp {
	return common.Timestamp(tm.lastTS.Load())
}

// Backoffs returns how many records waited for a flush of a full buffer.
func (tm *TransactionManager) Backoffs() int64 {
	return tm.backoffs.Load()
}

// ActiveThreads returns a snapshot of the threads with an open transaction.
func (tm *TransactionManager) ActiveThreads() []int {
	var threads []int
	tm.activeTxns.Range(func(thread int, _ *TransactionContext) bool {
		threads = append(threads, thread)
		return true
	})
	return threads
}
