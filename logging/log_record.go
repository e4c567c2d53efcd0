package logging

import (
	"encoding/binary"

	"mit.edu/dsg/vlog/common"
)

// Block Layout: TotalLen (8) | CommitTS (8) | Record*
// Record Layout: Type (1) | TableID (1) | Size (1) | Payload (Size)
//
// TotalLen spans from its own first byte to the end of the last record, so a
// reader positioned at a block start reaches the next block by skipping
// exactly TotalLen bytes. Integers are little-endian.
const (
	BlockHeaderSize  = 16
	RecordHeaderSize = 3
	// MaxPayloadSize is the largest payload the single-byte size field can describe.
	MaxPayloadSize = 255
)

const (
	offsetTotalLen = 0
	offsetCommitTS = offsetTotalLen + 8

	offsetType    = 0
	offsetTableID = offsetType + 1
	offsetSize    = offsetTableID + 1
	offsetPayload = offsetSize + 1
)

// RecordSize returns the encoded size of a record carrying payloadLen bytes.
func RecordSize(payloadLen int) int {
	return RecordHeaderSize + payloadLen
}

// PutRecord encodes one record at the start of buffer and returns the number
// of bytes written. The caller must have validated the payload size and
// ensured that buffer holds RecordSize(len(payload)) bytes.
func PutRecord(buffer []byte, t RecordType, table common.TableID, payload []byte) int {
	common.Assert(len(payload) <= MaxPayloadSize, "payload of %d bytes exceeds the size field", len(payload))
	common.Assert(len(buffer) >= RecordSize(len(payload)), "buffer allocated must be large enough for the record")
	buffer[offsetType] = byte(t)
	buffer[offsetTableID] = byte(table)
	buffer[offsetSize] = byte(len(payload))
	copy(buffer[offsetPayload:], payload)
	return RecordSize(len(payload))
}

// PutBlockHeader writes the length prefix and commit timestamp of a block.
func PutBlockHeader(buffer []byte, totalLen uint64, commitTS common.Timestamp) {
	common.Assert(len(buffer) >= BlockHeaderSize, "buffer too small for a block header")
	binary.LittleEndian.PutUint64(buffer[offsetTotalLen:], totalLen)
	binary.LittleEndian.PutUint64(buffer[offsetCommitTS:], uint64(commitTS))
}

// ReadBlockHeader decodes the length prefix and commit timestamp of a block.
func ReadBlockHeader(buffer []byte) (totalLen uint64, commitTS common.Timestamp) {
	common.Assert(len(buffer) >= BlockHeaderSize, "buffer too small for a block header")
	return binary.LittleEndian.Uint64(buffer[offsetTotalLen:]),
		common.Timestamp(binary.LittleEndian.Uint64(buffer[offsetCommitTS:]))
}

// AccessLog is one parsed record of a transaction.
type AccessLog struct {
	Type    RecordType
	TableID common.TableID
	// Data is the row image for inserts and updates and the primary key for deletes.
	Data []byte
}

// DataSize returns the payload length as stored in the size field.
func (a AccessLog) DataSize() int {
	return len(a.Data)
}

// TxnLog is one parsed transaction block.
type TxnLog struct {
	CommitTS common.Timestamp
	Logs     []AccessLog
}

// DecodeBlockBody parses the records that follow a block header. body must
// hold exactly TotalLen-BlockHeaderSize bytes. Records alias body.
//
// The running position must land exactly on the end of body: a record whose
// header or payload would cross the declared block length is corruption. An
// empty body is a block without records.
func DecodeBlockBody(body []byte, commitTS common.Timestamp) (*TxnLog, error) {
	txn := &TxnLog{CommitTS: commitTS}
	pos := 0
	for pos < len(body) {
		if len(body)-pos < RecordHeaderSize {
			return nil, common.Errorf(common.CorruptedLogError,
				"record header at block offset %d overshoots block length %d", pos+BlockHeaderSize, len(body)+BlockHeaderSize)
		}
		t := RecordType(body[pos+offsetType])
		if !t.Valid() {
			return nil, common.Errorf(common.CorruptedLogError,
				"unknown record type %d at block offset %d", t, pos+BlockHeaderSize)
		}
		size := int(body[pos+offsetSize])
		end := pos + RecordSize(size)
		if end > len(body) {
			return nil, common.Errorf(common.CorruptedLogError,
				"record payload at block offset %d overshoots block length %d", pos+BlockHeaderSize, len(body)+BlockHeaderSize)
		}
		txn.Logs = append(txn.Logs, AccessLog{
			Type:    t,
			TableID: common.TableID(body[pos+offsetTableID]),
			Data:    body[pos+offsetPayload : end : end],
		})
		pos = end
	}
	return txn, nil
}
