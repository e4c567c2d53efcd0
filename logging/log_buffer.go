package logging

import (
	"mit.edu/dsg/vlog/common"
)

const (
	DefaultBufferSize = 1 << 20 // 1MB
	// MaxBufferSize bounds a single block so that the first bytes of a raw shard
	// can never be mistaken for an LZ4 frame magic number.
	MaxBufferSize = 1 << 28
	// MinBufferSize fits one block holding a single maximal record.
	MinBufferSize = BlockHeaderSize + RecordHeaderSize + MaxPayloadSize
)

// LogBuffer is the fixed-capacity arena owned by one shard.
//
// data[:flushed] holds committed blocks waiting for the next flush. The
// in-progress transaction starts at data[flushed]; its first BlockHeaderSize
// bytes are reserved for the length prefix and commit timestamp, and
// txnCursor is the write position relative to that start.
type LogBuffer struct {
	data      []byte
	flushed   int
	txnCursor int
	commitTS  common.Timestamp
	records   int
}

// NewLogBuffer allocates a buffer of the given capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	common.Assert(capacity >= MinBufferSize, "log buffer capacity %d below minimum %d", capacity, MinBufferSize)
	return &LogBuffer{
		data:      make([]byte, capacity),
		txnCursor: BlockHeaderSize,
	}
}

// Capacity returns the fixed size of the buffer.
func (b *LogBuffer) Capacity() int {
	return len(b.data)
}

// Pending returns the committed bytes that have not been flushed yet.
func (b *LogBuffer) Pending() []byte {
	return b.data[:b.flushed]
}

// InProgress reports how many records the open transaction holds.
func (b *LogBuffer) InProgress() int {
	return b.records
}

// Append adds one record to the in-progress transaction. On error nothing is
// written and the transaction is unchanged.
func (b *LogBuffer) Append(t RecordType, table common.TableID, payload []byte, commitTS common.Timestamp) error {
	if len(payload) > MaxPayloadSize {
		return common.Errorf(common.PayloadTooLargeError,
			"payload of %d bytes exceeds the %d byte record limit", len(payload), MaxPayloadSize)
	}
	if b.records > 0 && commitTS != b.commitTS {
		return common.Errorf(common.CommitTimestampMismatchError,
			"record commit timestamp %d differs from transaction commit timestamp %d", commitTS, b.commitTS)
	}
	need := RecordSize(len(payload))
	if b.flushed+b.txnCursor+need > len(b.data) {
		return common.Errorf(common.BufferFullError,
			"record of %d bytes does not fit: %d committed, %d in progress, capacity %d",
			need, b.flushed, b.txnCursor, len(b.data))
	}

	start := b.flushed + b.txnCursor
	b.txnCursor += PutRecord(b.data[start:start+need], t, table, payload)
	b.commitTS = commitTS
	b.records++
	return nil
}

// Commit seals the in-progress transaction into a block and makes it part of
// the pending bytes. It returns false for an empty transaction, which leaves
// no trace in the buffer.
func (b *LogBuffer) Commit() bool {
	if b.records == 0 {
		b.Abort()
		return false
	}
	PutBlockHeader(b.data[b.flushed:], uint64(b.txnCursor), b.commitTS)
	b.flushed += b.txnCursor
	common.Assert(b.flushed <= len(b.data), "log buffer overrun: %d > %d", b.flushed, len(b.data))
	b.Abort()
	return true
}

// Abort discards the in-progress transaction. Its bytes sit past the pending
// region and are overwritten by the next transaction.
func (b *LogBuffer) Abort() {
	b.txnCursor = BlockHeaderSize
	b.commitTS = 0
	b.records = 0
}

// Drain marks the pending bytes as written. The open transaction, if any, is
// moved to the front of the buffer so that it survives an explicit flush.
func (b *LogBuffer) Drain() {
	if b.records > 0 {
		copy(b.data, b.data[b.flushed:b.flushed+b.txnCursor])
	}
	b.flushed = 0
}
