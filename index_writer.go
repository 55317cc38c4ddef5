package hashindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// indexWriter writes the index file through a writable memory map.
// File layout: [Header 21B][BucketNode × BucketCount, 9B each][CollisionEntry × RecordCount, 16B each]
//
// The file is created (and truncated) when the builder is constructed so that
// a crashed or aborted build never leaves a non-zero created_at behind. The
// map is only established in allocate, once the exact size is known.
type indexWriter struct {
	path string
	file *os.File
	mmap mmap.MMap
	data []byte

	firstEntry int64
}

// newIndexWriter creates (or truncates) the index file at path.
func newIndexWriter(path string) (*indexWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	return &indexWriter{path: path, file: file}, nil
}

// allocate sizes the file for bucketCount nodes and recordCount entries and maps it.
// Unused node slots stay zero, which reads back as an empty chain.
func (iw *indexWriter) allocate(bucketCount int32, recordCount uint64) error {
	size := indexFileSize(bucketCount, recordCount)
	if size > math.MaxInt {
		return fmt.Errorf("index size %d exceeds addressable memory", size)
	}

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := fallocateFile(iw.file, size); err != nil {
		return fmt.Errorf("failed to allocate disk space: %w", err)
	}

	mm, err := mmap.MapRegion(iw.file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	iw.mmap = mm
	iw.data = []byte(mm)
	iw.firstEntry = firstEntryOffset(bucketCount)

	// Entries are written sequentially; nodes are sparse and left to fault on demand.
	// madvise needs a page-aligned start.
	prefaultRegion(iw.data[iw.firstEntry&^int64(os.Getpagesize()-1):])
	return nil
}

// writeCounts writes every header field except created_at.
func (iw *indexWriter) writeCounts(h *header) {
	h.encodeCountsTo(iw.data[0:headerSize])
}

func (iw *indexWriter) writeNode(bucket int32, n bucketNode) {
	off := nodeOffset(bucket)
	n.encodeTo(iw.data[off : off+nodeSize])
}

func (iw *indexWriter) writeEntry(i uint64, e collisionEntry) {
	off := entryOffset(iw.firstEntry, i)
	e.encodeTo(iw.data[off : off+entrySize])
}

// finalize makes the node and entry arrays durable, then stamps created_at
// and makes that durable too. A reader can therefore trust any file whose
// created_at is non-zero. On error, delegates to close() for cleanup.
func (iw *indexWriter) finalize(createdAt int64) error {
	if err := iw.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, iw.close())
	}

	binary.BigEndian.PutUint64(iw.data[0:8], uint64(createdAt))
	if err := iw.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, iw.close())
	}

	// Nil mmap regardless of outcome to prevent close() from retrying.
	unmapErr := iw.mmap.Unmap()
	iw.mmap = nil
	iw.data = nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, iw.close())
	}

	if err := iw.file.Sync(); err != nil {
		primaryErr := fmt.Errorf("fsync failed: %w", err)
		return errors.Join(primaryErr, iw.close())
	}

	closeErr := iw.file.Close()
	iw.file = nil
	return closeErr
}

// close closes the writer without finalizing (for error cleanup).
// Idempotent: safe to call multiple times.
func (iw *indexWriter) close() error {
	var unmapErr error
	if iw.mmap != nil {
		unmapErr = iw.mmap.Unmap()
		iw.mmap = nil
		iw.data = nil
	}
	var closeErr error
	if iw.file != nil {
		closeErr = iw.file.Close()
		iw.file = nil
	}
	return errors.Join(unmapErr, closeErr)
}
