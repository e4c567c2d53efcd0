package logging

import (
	"bytes"
	"sync"

	"mit.edu/dsg/vlog/common"
)

// NoopLogger is a no-op implementation of TransactionLogger for components
// that run without durability.
type NoopLogger struct{}

func (NoopLogger) InsertRecord(int, common.TableID, []byte, common.Timestamp) error { return nil }

func (NoopLogger) UpdateRecord(int, common.TableID, []byte, common.Timestamp) error { return nil }

func (NoopLogger) DeleteRecord(int, common.TableID, []byte, common.Timestamp) error { return nil }

func (NoopLogger) CommitTransaction(int, common.Epoch) error { return nil }

func (NoopLogger) AbortTransaction(int) {}

func (NoopLogger) Flush(int) error { return nil }

func (NoopLogger) Close() error { return nil }

// MemorySink is an in-memory SyncWriter for testing. It records every byte
// written and counts Sync calls, and can be told to fail.
type MemorySink struct {
	buffer   bytes.Buffer
	syncs    int
	closed   bool
	writeErr error
	syncErr  error
	sync.Mutex
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(p []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.buffer.Write(p)
}

func (m *MemorySink) Sync() error {
	m.Lock()
	defer m.Unlock()
	if m.syncErr != nil {
		return m.syncErr
	}
	m.syncs++
	return nil
}

func (m *MemorySink) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of everything written so far.
func (m *MemorySink) Bytes() []byte {
	m.Lock()
	defer m.Unlock()
	return append([]byte(nil), m.buffer.Bytes()...)
}

// Syncs returns the number of successful Sync calls.
func (m *MemorySink) Syncs() int {
	m.Lock()
	defer m.Unlock()
	return m.syncs
}

func (m *MemorySink) Closed() bool {
	m.Lock()
	defer m.Unlock()
	return m.closed
}

func (m *MemorySink) SetWriteError(err error) {
	m.Lock()
	defer m.Unlock()
	m.writeErr = err
}

func (m *MemorySink) SetSyncError(err error) {
	m.Lock()
	defer m.Unlock()
	m.syncErr = err
}
