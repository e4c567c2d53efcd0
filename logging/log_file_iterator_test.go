package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/vlog/common"
)

// twoBlocks returns a raw shard holding transactions at ts 10 and 11.
func twoBlocks(t *testing.T) []byte {
	t.Helper()
	l, sinks := newMemoryLogger(t, 1, Config{BufferSize: 4096})
	require.NoError(t, l.InsertRecord(0, 3, []byte("ABC"), 10))
	require.NoError(t, l.CommitTransaction(0, 1))
	require.NoError(t, l.InsertRecord(0, 3, []byte("XYZ"), 11))
	require.NoError(t, l.CommitTransaction(0, 2))
	require.NoError(t, l.Close())
	return sinks[0].Bytes()
}

func drain(iter *LogFileIterator) int {
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

func TestLogIterator_EmptyStream(t *testing.T) {
	iter, err := NewLogIterator(bytes.NewReader(nil), false)
	require.NoError(t, err)
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Error())
	assert.False(t, iter.Compressed())
}

func TestLogIterator_Offset(t *testing.T) {
	data := twoBlocks(t)
	iter, err := NewLogIterator(bytes.NewReader(data), false)
	require.NoError(t, err)

	require.True(t, iter.Next())
	assert.Equal(t, int64(len(data)/2), iter.Offset())
	require.True(t, iter.Next())
	assert.Equal(t, int64(len(data)), iter.Offset())
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Error())
}

func TestLogIterator_BlockWithoutRecords(t *testing.T) {
	empty := make([]byte, BlockHeaderSize)
	PutBlockHeader(empty, BlockHeaderSize, 7)
	data := append(empty, twoBlocks(t)...)

	iter, err := NewLogIterator(bytes.NewReader(data), false)
	require.NoError(t, err)

	require.True(t, iter.Next())
	assert.Equal(t, common.Timestamp(7), iter.CurrentTxn().CommitTS)
	assert.Empty(t, iter.CurrentTxn().Logs)
	assert.Equal(t, int64(BlockHeaderSize), iter.Offset())

	require.True(t, iter.Next())
	assert.Equal(t, common.Timestamp(10), iter.CurrentTxn().CommitTS)
	require.True(t, iter.Next())
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Error())
}

func TestLogIterator_Truncated(t *testing.T) {
	data := twoBlocks(t)
	block := len(data) / 2

	for _, cut := range []int{1, 5, block - BlockHeaderSize, block - 1} {
		torn := data[:len(data)-cut]

		strict, err := NewLogIterator(bytes.NewReader(torn), false)
		require.NoError(t, err)
		assert.Equal(t, 1, drain(strict), "cut %d", cut)
		assert.True(t, common.IsCode(strict.Error(), common.TruncatedLogError), "cut %d: %v", cut, strict.Error())

		tolerant, err := NewLogIterator(bytes.NewReader(torn), true)
		require.NoError(t, err)
		assert.Equal(t, 1, drain(tolerant), "cut %d", cut)
		assert.NoError(t, tolerant.Error())
		assert.True(t, tolerant.TornTail())
		assert.Equal(t, int64(block), tolerant.Offset())
	}
}

// unclosedCompressed returns a compressed shard holding three flushed blocks
// but no frame footer, as left behind by a crash after the last flush.
func unclosedCompressed(t *testing.T) []byte {
	t.Helper()
	l, sinks := newMemoryLogger(t, 1, Config{BufferSize: 4096, Compression: true})
	for ts := common.Timestamp(1); ts <= 3; ts++ {
		require.NoError(t, l.InsertRecord(0, 1, []byte(fmt.Sprintf("row-%04d-value", ts)), ts))
		require.NoError(t, l.CommitTransaction(0, common.Epoch(ts)))
	}
	return sinks[0].Bytes()
}

func TestLogIterator_CompressedWithoutFooter(t *testing.T) {
	data := unclosedCompressed(t)

	iter, err := NewLogIterator(bytes.NewReader(data), false)
	require.NoError(t, err)
	assert.True(t, iter.Compressed())
	assert.Equal(t, 3, drain(iter))
	assert.NoError(t, iter.Error())
	assert.False(t, iter.TornTail())
}

func TestLogIterator_CompressedTruncated(t *testing.T) {
	data := unclosedCompressed(t)

	for cut := 1; cut <= 6; cut++ {
		torn := data[:len(data)-cut]

		tolerant, err := NewLogIterator(bytes.NewReader(torn), true)
		require.NoError(t, err)
		assert.Equal(t, 2, drain(tolerant), "cut %d", cut)
		assert.NoError(t, tolerant.Error(), "cut %d", cut)
		assert.True(t, tolerant.TornTail(), "cut %d", cut)

		strict, err := NewLogIterator(bytes.NewReader(torn), false)
		require.NoError(t, err)
		assert.Equal(t, 2, drain(strict), "cut %d", cut)
		assert.True(t, common.IsCode(strict.Error(), common.TruncatedLogError), "cut %d: %v", cut, strict.Error())
	}
}

func TestLogIterator_Corrupted(t *testing.T) {
	block := func(totalLen uint64, body ...byte) []byte {
		buf := make([]byte, BlockHeaderSize, BlockHeaderSize+len(body))
		PutBlockHeader(buf, totalLen, 1)
		return append(buf, body...)
	}
	record := []byte{byte(RecordInsert), 1, 3, 'a', 'b', 'c'}

	tests := []struct {
		name string
		data []byte
	}{
		{"length below minimum", block(5)},
		{"length above maximum", block(MaxBufferSize + 1)},
		{"length cuts record", block(BlockHeaderSize+5, record[:5]...)},
		{"stray byte after record", block(BlockHeaderSize+7, append(append([]byte{}, record...), 0)...)},
		{"unknown type", block(BlockHeaderSize+3, 42, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iter, err := NewLogIterator(bytes.NewReader(tt.data), true)
			require.NoError(t, err)
			assert.False(t, iter.Next())
			assert.True(t, common.IsCode(iter.Error(), common.CorruptedLogError), "got %v", iter.Error())
			assert.False(t, iter.TornTail())
		})
	}
}

func TestLogIterator_StopsAtFirstCorruptBlock(t *testing.T) {
	data := twoBlocks(t)
	// Break the record type of the second block.
	data[len(data)/2+BlockHeaderSize] = 0xFF

	iter, err := NewLogIterator(bytes.NewReader(data), false)
	require.NoError(t, err)
	require.True(t, iter.Next())
	assert.Equal(t, common.Timestamp(10), iter.CurrentTxn().CommitTS)
	assert.False(t, iter.Next())
	assert.True(t, common.IsCode(iter.Error(), common.CorruptedLogError))
	assert.False(t, iter.Next())
}

func TestLogFileIterator_MissingFile(t *testing.T) {
	_, err := NewLogFileIterator(filepath.Join(t.TempDir(), "value_0.log"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLogFileIterator_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value_0.log")
	require.NoError(t, os.WriteFile(path, twoBlocks(t), 0644))

	iter, err := NewLogFileIterator(path, false)
	require.NoError(t, err)
	defer iter.Close()
	assert.Equal(t, 2, drain(iter))
	assert.NoError(t, iter.Error())
}
