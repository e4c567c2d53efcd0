package logging

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"mit.edu/dsg/vlog/common"
)

// lz4FrameMagic opens every LZ4 frame. A raw shard starting with these bytes
// would declare a first block larger than MaxBufferSize.
const lz4FrameMagic = 0x184D2204

// LogFileIterator walks the transaction blocks of one shard stream,
// transparently decompressing shards written with compression enabled.
type LogFileIterator struct {
	closer io.Closer
	reader *bufio.Reader

	// offset is the position in the uncompressed stream of the next block.
	offset     int64
	compressed bool

	tolerateTornTail bool
	tornTail         bool

	header     [BlockHeaderSize]byte
	currentTxn *TxnLog
	err        error
}

// NewLogFileIterator opens the shard at path.
func NewLogFileIterator(path string, tolerateTornTail bool) (*LogFileIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	iter, err := NewLogIterator(f, tolerateTornTail)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	iter.closer = f
	return iter, nil
}

// NewLogIterator walks the shard stream read from r. When tolerateTornTail is
// set, a final block cut short by a crash ends iteration without an error;
// TornTail reports whether that happened.
func NewLogIterator(r io.Reader, tolerateTornTail bool) (*LogFileIterator, error) {
	br := bufio.NewReader(r)
	iter := &LogFileIterator{
		reader:           br,
		tolerateTornTail: tolerateTornTail,
	}

	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 4 && binary.LittleEndian.Uint32(magic) == lz4FrameMagic {
		iter.reader = bufio.NewReader(lz4.NewReader(br))
		iter.compressed = true
	}
	return iter, nil
}

func (iter *LogFileIterator) Next() bool {
	if iter.err != nil || iter.tornTail {
		return false
	}

	n, err := io.ReadFull(iter.reader, iter.header[:])
	if err != nil {
		// Handle cleanly if we hit EOF exactly between blocks
		if err == io.EOF {
			return false
		}
		return iter.fail(err, n)
	}

	totalLen, commitTS := ReadBlockHeader(iter.header[:])
	if totalLen < BlockHeaderSize || totalLen > MaxBufferSize {
		iter.err = common.Errorf(common.CorruptedLogError,
			"block at offset %d declares impossible length %d", iter.offset, totalLen)
		return false
	}

	body := make([]byte, totalLen-BlockHeaderSize)
	if m, err := io.ReadFull(iter.reader, body); err != nil {
		return iter.fail(err, n+m)
	}

	txn, err := DecodeBlockBody(body, commitTS)
	if err != nil {
		iter.err = common.Errorf(common.CorruptedLogError, "block at offset %d: %v", iter.offset, err)
		return false
	}

	iter.currentTxn = txn
	iter.offset += int64(totalLen)
	return true
}

// fail classifies a read error inside a block. read is the number of bytes of
// the block consumed before the error.
func (iter *LogFileIterator) fail(err error, read int) bool {
	truncated := err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
	if !truncated {
		if iter.compressed {
			iter.err = common.Errorf(common.CorruptedLogError,
				"decompress block at offset %d: %v", iter.offset, err)
		} else {
			iter.err = err
		}
		return false
	}
	if iter.tolerateTornTail {
		iter.tornTail = true
		return false
	}
	iter.err = common.Errorf(common.TruncatedLogError,
		"shard ends %d bytes into the block at offset %d", read, iter.offset)
	return false
}

// CurrentTxn returns the block at the current cursor.
func (iter *LogFileIterator) CurrentTxn() *TxnLog {
	return iter.currentTxn
}

// Offset returns the uncompressed position just past the current block, which
// is the number of bytes consumed by complete blocks.
func (iter *LogFileIterator) Offset() int64 {
	return iter.offset
}

// Compressed reports whether the shard is an LZ4 frame.
func (iter *LogFileIterator) Compressed() bool {
	return iter.compressed
}

// TornTail reports whether iteration stopped at a truncated final block.
func (iter *LogFileIterator) TornTail() bool {
	return iter.tornTail
}

// Error returns the first unexpected error that was encountered by the iterator.
func (iter *LogFileIterator) Error() error {
	return iter.err
}

func (iter *LogFileIterator) Close() error {
	if iter.closer == nil {
		return nil
	}
	return iter.closer.Close()
}
