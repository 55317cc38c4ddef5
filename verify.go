package hashindex

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/cespare/xxhash/v2"

	idxerrors "github.com/tamirms/hashindex/errors"
)

// chainSpan is the [start, start+length) entry range of one bucket.
type chainSpan struct {
	start  uint64
	length uint64
}

// Verify checks the structural integrity of the whole index:
//   - every chain lies inside the entry array and chains tile it exactly
//   - every chain is sorted by hash and every entry folds to its own bucket
//   - the header's max_chain_length matches the longest chain
//   - every entry's byte range lies inside the data file
//
// Violations return an error wrapping ErrCorruptedIndex. Verify scans the
// index front to back on a dedicated handle, so it does not disturb the
// random-access hints of the lookup handles.
func (r *Reader) Verify() error {
	if r.closed.Load() {
		return idxerrors.ErrReaderClosed
	}

	f, err := os.Open(r.indexPath)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	adviseSequential(f)
	err = r.verifyFrom(f)
	return errors.Join(err, f.Close())
}

func (r *Reader) verifyFrom(f *os.File) error {
	bucketCount := r.header.BucketCount
	recordCount := r.header.RecordCount
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", idxerrors.ErrCorruptedIndex, fmt.Sprintf(format, args...))
	}

	nodes := bufio.NewReaderSize(io.NewSectionReader(f, headerSize, int64(bucketCount)*nodeSize), 64<<10)
	var (
		nb       [nodeSize]byte
		spans    []chainSpan
		chain    []byte
		maxChain int
	)
	for bucket := range bucketCount {
		if _, err := io.ReadFull(nodes, nb[:]); err != nil {
			return fmt.Errorf("read bucket %d: %w", bucket, err)
		}
		node, err := decodeBucketNode(nb[:])
		if err != nil {
			return err
		}
		if node.ChainLength == 0 {
			continue
		}

		n := uint64(node.ChainLength)
		if node.ChainStart > recordCount || n > recordCount-node.ChainStart {
			return corrupt("bucket %d chain [%d,+%d) outside %d entries", bucket, node.ChainStart, n, recordCount)
		}
		spans = append(spans, chainSpan{start: node.ChainStart, length: n})
		maxChain = max(maxChain, int(n))

		chain = slices.Grow(chain[:0], int(n)*entrySize)[:n*entrySize]
		if err := readFullAt(f, chain, entryOffset(r.firstEntry, node.ChainStart)); err != nil {
			return fmt.Errorf("read chain of bucket %d: %w", bucket, err)
		}
		prev := int32(0)
		for i := range int(n) {
			e, err := decodeCollisionEntry(chain[i*entrySize:])
			if err != nil {
				return err
			}
			if i > 0 && e.Hash < prev {
				return corrupt("bucket %d chain not sorted at position %d", bucket, i)
			}
			prev = e.Hash
			if got := bucketFor(e.Hash, bucketCount); got != bucket {
				return corrupt("hash %d stored in bucket %d, belongs to %d", e.Hash, bucket, got)
			}
			if e.SourceOffset > uint64(r.dataSize) || uint64(e.SourceLength) > uint64(r.dataSize)-e.SourceOffset {
				return corrupt("record [%d,+%d) outside %d-byte data file", e.SourceOffset, e.SourceLength, r.dataSize)
			}
		}
	}

	slices.SortFunc(spans, func(a, b chainSpan) int { return cmp.Compare(a.start, b.start) })
	var next uint64
	for _, s := range spans {
		if s.start != next {
			return corrupt("entry array has a gap or overlap at entry %d", next)
		}
		next += s.length
	}
	if next != recordCount {
		return corrupt("chains cover %d entries, header says %d", next, recordCount)
	}
	if maxChain != int(r.header.MaxChainLength) {
		return corrupt("longest chain is %d, header says %d", maxChain, r.header.MaxChainLength)
	}
	return nil
}

// ContentHash returns the xxHash64 of the index file at path, excluding the
// created_at field. Two builds of the same records with the same estimate
// produce the same content hash.
func ContentHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat index file: %w", err)
	}
	if stat.Size() < headerSize {
		return 0, idxerrors.ErrTruncatedFile
	}

	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 8, stat.Size()-8)); err != nil {
		return 0, fmt.Errorf("hash index file: %w", err)
	}
	return h.Sum64(), nil
}
