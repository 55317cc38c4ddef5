package hashindex

import (
	"encoding/binary"

	idxerrors "github.com/tamirms/hashindex/errors"
)

const (
	// headerSize is the exact size of the serialized header (21 bytes).
	headerSize = 21

	// nodeSize is the exact size of one serialized bucket node (9 bytes).
	nodeSize = 9

	// entrySize is the exact size of one serialized collision entry (16 bytes).
	entrySize = 16

	// maxChainLength is the longest chain a single-byte chain_length can describe.
	maxChainLength = 0xFF
)

// header is the 21-byte index file header.
//
// Layout (big-endian, no padding):
//
//	Offset  Size  Field           Type
//	0       8     CreatedAt       int64 (Unix ms, 0 = build never finished)
//	8       8     RecordCount     uint64 (collision entries written)
//	16      4     BucketCount     int32
//	20      1     MaxChainLength  uint8
//
// CreatedAt is written last by the builder and doubles as the completion marker.
type header struct {
	CreatedAt      int64
	RecordCount    uint64
	BucketCount    int32
	MaxChainLength uint8
}

// encodeTo serializes the header to an existing buffer.
func (h *header) encodeTo(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.CreatedAt))
	h.encodeCountsTo(buf)
}

// encodeCountsTo serializes every field except CreatedAt, leaving buf[0:8]
// untouched so the completion marker can be written separately.
func (h *header) encodeCountsTo(buf []byte) {
	binary.BigEndian.PutUint64(buf[8:16], h.RecordCount)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.BucketCount))
	buf[20] = h.MaxChainLength
}

// decodeHeader parses a 21-byte header. It performs no semantic validation;
// see (*Reader).validateHeader.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, idxerrors.ErrTruncatedFile
	}
	return &header{
		CreatedAt:      int64(binary.BigEndian.Uint64(buf[0:8])),
		RecordCount:    binary.BigEndian.Uint64(buf[8:16]),
		BucketCount:    int32(binary.BigEndian.Uint32(buf[16:20])),
		MaxChainLength: buf[20],
	}, nil
}

// bucketNode is one 9-byte slot of the node array, which immediately follows
// the header and holds exactly BucketCount nodes.
//
//	Offset  Size  Field        Type
//	0       1     ChainLength  uint8
//	1       8     ChainStart   uint64 (entry index, not a byte offset)
//
// ChainStart is meaningless when ChainLength is zero.
type bucketNode struct {
	ChainLength uint8
	ChainStart  uint64
}

func (n *bucketNode) encodeTo(buf []byte) {
	buf[0] = n.ChainLength
	binary.BigEndian.PutUint64(buf[1:9], n.ChainStart)
}

func decodeBucketNode(buf []byte) (bucketNode, error) {
	if len(buf) < nodeSize {
		return bucketNode{}, idxerrors.ErrTruncatedFile
	}
	return bucketNode{
		ChainLength: buf[0],
		ChainStart:  binary.BigEndian.Uint64(buf[1:9]),
	}, nil
}

// collisionEntry is one 16-byte element of the entry array, which immediately
// follows the node array. Entries of one bucket are contiguous and sorted by
// Hash ascending.
//
//	Offset  Size  Field         Type
//	0       4     Hash          int32
//	4       8     SourceOffset  uint64
//	12      4     SourceLength  uint32
type collisionEntry struct {
	Hash         int32
	SourceOffset uint64
	SourceLength uint32
}

func (e *collisionEntry) encodeTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Hash))
	binary.BigEndian.PutUint64(buf[4:12], e.SourceOffset)
	binary.BigEndian.PutUint32(buf[12:16], e.SourceLength)
}

func decodeCollisionEntry(buf []byte) (collisionEntry, error) {
	if len(buf) < entrySize {
		return collisionEntry{}, idxerrors.ErrTruncatedFile
	}
	return collisionEntry{
		Hash:         int32(binary.BigEndian.Uint32(buf[0:4])),
		SourceOffset: binary.BigEndian.Uint64(buf[4:12]),
		SourceLength: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// nodeOffset returns the byte offset of bucket i's node.
func nodeOffset(bucket int32) int64 {
	return int64(bucket)*nodeSize + headerSize
}

// firstEntryOffset returns the byte offset of entry 0, right after the node array.
func firstEntryOffset(bucketCount int32) int64 {
	return int64(bucketCount)*nodeSize + headerSize
}

// entryOffset returns the byte offset of entry i given the first entry offset.
func entryOffset(first int64, i uint64) int64 {
	return first + int64(i)*entrySize
}

// indexFileSize returns the exact size of an index with the given counts.
func indexFileSize(bucketCount int32, recordCount uint64) int64 {
	return firstEntryOffset(bucketCount) + int64(recordCount)*entrySize
}
