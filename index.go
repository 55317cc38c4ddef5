package hashindex

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	idxerrors "github.com/tamirms/hashindex/errors"
)

// Reader serves lookups against a finalized index file and its data file.
//
// Every read is positional (pread), so any number of goroutines may share a
// Reader and even the same handle. Handles are picked uniformly at random per
// read; nothing is cached between lookups.
//
// Thread Safety:
// - Get, Lookup, LookupMany, Stats and Verify are safe for concurrent use
// - Close is NOT safe to call concurrently with lookups
// - After Close returns, lookups return ErrReaderClosed
type Reader struct {
	dataPath  string
	indexPath string

	data  []*os.File
	index []*os.File

	header     *header
	firstEntry int64
	indexSize  int64
	dataSize   int64

	closed atomic.Bool // Atomic for lock-free close check
}

// Stats holds index diagnostics.
type Stats struct {
	CreatedAt      time.Time
	RecordCount    uint64
	BucketCount    int32
	MaxChainLength int
	LoadFactor     float64
	IndexSize      int64
	DataSize       int64
	Channels       int
}

// Open opens WithChannels (default 5) read handles on each of dataPath and
// indexPath and validates the index header.
//
// Returns ErrIndexNotFinalized if the index build never completed.
func Open(dataPath, indexPath string, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultReaderConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.channels < 1 {
		return nil, idxerrors.ErrInvalidChannels
	}

	r := &Reader{
		dataPath:  dataPath,
		indexPath: indexPath,
		data:      make([]*os.File, 0, cfg.channels),
		index:     make([]*os.File, 0, cfg.channels),
	}
	for range cfg.channels {
		df, err := os.Open(dataPath)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open data file: %w", err), r.closeHandles())
		}
		r.data = append(r.data, df)
		adviseRandom(df)

		xf, err := os.Open(indexPath)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open index file: %w", err), r.closeHandles())
		}
		r.index = append(r.index, xf)
		adviseRandom(xf)
	}

	if err := r.init(); err != nil {
		return nil, errors.Join(err, r.closeHandles())
	}

	cfg.logger.Debug("index opened",
		zap.String("index", indexPath),
		zap.Time("createdAt", time.UnixMilli(r.header.CreatedAt)),
		zap.Uint64("records", r.header.RecordCount),
		zap.Int32("buckets", r.header.BucketCount),
		zap.Uint8("maxChain", r.header.MaxChainLength),
		zap.Int("channels", cfg.channels))
	return r, nil
}

// init reads and validates the header and file sizes.
func (r *Reader) init() error {
	istat, err := r.index[0].Stat()
	if err != nil {
		return fmt.Errorf("stat index file: %w", err)
	}
	r.indexSize = istat.Size()
	dstat, err := r.data[0].Stat()
	if err != nil {
		return fmt.Errorf("stat data file: %w", err)
	}
	r.dataSize = dstat.Size()

	if r.indexSize < headerSize {
		return idxerrors.ErrTruncatedFile
	}
	var buf [headerSize]byte
	if err := readFullAt(r.pickIndex(), buf[:], 0); err != nil {
		return err
	}
	hdr, err := decodeHeader(buf[:])
	if err != nil {
		return err
	}
	if err := validateHeader(hdr, r.indexSize); err != nil {
		return err
	}

	r.header = hdr
	r.firstEntry = firstEntryOffset(hdr.BucketCount)
	return nil
}

// validateHeader checks the header against the size of the file it came from.
func validateHeader(h *header, fileSize int64) error {
	if h.CreatedAt == 0 {
		return idxerrors.ErrIndexNotFinalized
	}
	if h.BucketCount <= 0 {
		return fmt.Errorf("%w: bucket count %d", idxerrors.ErrCorruptedIndex, h.BucketCount)
	}
	if h.RecordCount > uint64(fileSize)/entrySize {
		return fmt.Errorf("%w: record count %d", idxerrors.ErrCorruptedIndex, h.RecordCount)
	}
	want := indexFileSize(h.BucketCount, h.RecordCount)
	switch {
	case fileSize < want:
		return fmt.Errorf("%w: have %d bytes, header implies %d", idxerrors.ErrTruncatedFile, fileSize, want)
	case fileSize > want:
		return fmt.Errorf("%w: have %d bytes, header implies %d", idxerrors.ErrCorruptedIndex, fileSize, want)
	}
	return nil
}

// Close releases every handle. Subsequent lookups return ErrReaderClosed.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil // Already closed
	}
	return r.closeHandles()
}

func (r *Reader) closeHandles() error {
	var errs []error
	for _, f := range r.data {
		errs = append(errs, f.Close())
	}
	for _, f := range r.index {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func (r *Reader) pickIndex() *os.File {
	return r.index[rand.IntN(len(r.index))]
}

func (r *Reader) pickData() *os.File {
	return r.data[rand.IntN(len(r.data))]
}

// Get looks up key and returns the first record, in chain order, whose hash
// equals StringHash(key) and for which match returns true. match receives
// the raw record bytes and must decide whether they really hold key; it is
// what resolves distinct keys sharing a 32-bit hash.
//
// A missing key returns (nil, false, nil). Errors are I/O failures or a
// corrupted index.
func (r *Reader) Get(key string, match func(payload []byte) bool) ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, idxerrors.ErrReaderClosed
	}

	hash := StringHash(key)
	bucket := bucketFor(hash, r.header.BucketCount)
	ih := r.pickIndex()

	var nb [nodeSize]byte
	if err := readFullAt(ih, nb[:], nodeOffset(bucket)); err != nil {
		return nil, false, fmt.Errorf("read bucket %d: %w", bucket, err)
	}
	node, err := decodeBucketNode(nb[:])
	if err != nil {
		return nil, false, err
	}
	if node.ChainLength == 0 {
		return nil, false, nil
	}

	n := uint64(node.ChainLength)
	if node.ChainStart > r.header.RecordCount || n > r.header.RecordCount-node.ChainStart {
		return nil, false, fmt.Errorf("%w: bucket %d chain [%d,+%d) outside %d entries",
			idxerrors.ErrCorruptedIndex, bucket, node.ChainStart, n, r.header.RecordCount)
	}

	chain := make([]byte, n*entrySize)
	if err := readFullAt(ih, chain, entryOffset(r.firstEntry, node.ChainStart)); err != nil {
		return nil, false, fmt.Errorf("read chain of bucket %d: %w", bucket, err)
	}

	for i := range int(n) {
		e, err := decodeCollisionEntry(chain[i*entrySize:])
		if err != nil {
			return nil, false, err
		}
		if e.Hash > hash {
			// Chains are sorted by hash: nothing further can match.
			break
		}
		if e.Hash != hash {
			continue
		}
		payload := make([]byte, e.SourceLength)
		if err := readFullAt(r.pickData(), payload, int64(e.SourceOffset)); err != nil {
			return nil, false, fmt.Errorf("read record at offset %d: %w", e.SourceOffset, err)
		}
		if match(payload) {
			return payload, true, nil
		}
	}
	return nil, false, nil
}

// Stats returns the header diagnostics of the index.
func (r *Reader) Stats() *Stats {
	return &Stats{
		CreatedAt:      time.UnixMilli(r.header.CreatedAt),
		RecordCount:    r.header.RecordCount,
		BucketCount:    r.header.BucketCount,
		MaxChainLength: int(r.header.MaxChainLength),
		LoadFactor:     float64(r.header.RecordCount) / float64(r.header.BucketCount),
		IndexSize:      r.indexSize,
		DataSize:       r.dataSize,
		Channels:       len(r.index),
	}
}

// readFullAt fills buf from f at off. A short read means the file ends
// before the layout says it should.
func readFullAt(f *os.File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read %d of %d bytes at offset %d", idxerrors.ErrTruncatedFile, n, len(buf), off)
	}
	return err
}
