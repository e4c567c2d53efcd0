package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// SyncWriter is the durable destination of one shard's byte stream.
// *os.File satisfies it.
type SyncWriter interface {
	io.Writer
	Sync() error
	Close() error
}

const (
	// lz4FrameHeaderSize is the largest LZ4 frame descriptor.
	lz4FrameHeaderSize = 19
	// lz4FrameFooterSize covers the end mark and the content checksum.
	lz4FrameFooterSize = 8
	// lz4BlockHeaderSize precedes every compressed block inside the frame.
	lz4BlockHeaderSize = 4
)

// shardSink turns flushed buffer contents into durable bytes. With
// compression enabled the whole lifetime of the shard is one LZ4 frame: the
// header is written when the sink is created, every flush emits the
// compressed blocks for the bytes it was handed, and close writes the footer.
//
// Output is staged in a bufio.Writer sized for one full raw buffer after
// compression, so that a flush reaches the file in a single write.
type shardSink struct {
	dst SyncWriter
	out *bufio.Writer
	zw  *lz4.Writer
}

func outputBound(bufferSize int, compress bool) int {
	if !compress {
		return bufferSize
	}
	blocks := bufferSize/int(lz4.Block64Kb) + 1
	return lz4.CompressBlockBound(bufferSize) + blocks*lz4BlockHeaderSize + lz4FrameHeaderSize + lz4FrameFooterSize
}

func newShardSink(dst SyncWriter, bufferSize int, compress bool) (*shardSink, error) {
	s := &shardSink{
		dst: dst,
		out: bufio.NewWriterSize(dst, outputBound(bufferSize, compress)),
	}
	if !compress {
		return s, nil
	}

	s.zw = lz4.NewWriter(s.out)
	if err := s.zw.Apply(
		lz4.BlockSizeOption(lz4.Block64Kb),
		lz4.ChecksumOption(true),
		lz4.CompressionLevelOption(lz4.Fast),
	); err != nil {
		return nil, fmt.Errorf("configure lz4 frame: %w", err)
	}
	// Flushing an unused writer emits the frame header.
	if err := s.zw.Flush(); err != nil {
		return nil, fmt.Errorf("write lz4 frame header: %w", err)
	}
	return s, nil
}

// write hands p to the sink and forces it, compressed or raw, to stable storage.
func (s *shardSink) write(p []byte) error {
	if s.zw != nil {
		if _, err := s.zw.Write(p); err != nil {
			return fmt.Errorf("compress log bytes: %w", err)
		}
		if err := s.zw.Flush(); err != nil {
			return fmt.Errorf("compress log bytes: %w", err)
		}
	} else if _, err := s.out.Write(p); err != nil {
		return fmt.Errorf("write log bytes: %w", err)
	}
	return s.sync()
}

func (s *shardSink) sync() error {
	if err := s.out.Flush(); err != nil {
		return fmt.Errorf("write log bytes: %w", err)
	}
	if err := s.dst.Sync(); err != nil {
		return fmt.Errorf("fsync log: %w", err)
	}
	return nil
}

// close finalizes the frame, fsyncs and closes the destination. The
// destination is closed even when finalizing fails.
func (s *shardSink) close() error {
	var errs []error
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finish lz4 frame: %w", err))
		}
	}
	if len(errs) == 0 {
		if err := s.sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.dst.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	return errors.Join(errs...)
}
