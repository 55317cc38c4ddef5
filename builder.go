package hashindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"

	idxerrors "github.com/tamirms/hashindex/errors"
)

const (
	// contextCheckInterval is how often to check for context cancellation during AddRecord.
	contextCheckInterval = 10000

	// progressInterval is how often build progress is logged.
	progressInterval = 0x10000
)

// Record is one record of the data file as produced by a splitter: the byte
// offset of its first byte and its raw bytes.
type Record struct {
	Offset  uint64
	Payload []byte
}

// HashFunc returns one hash per key that should address the record. Returning
// no hashes leaves the record unaddressable, which is not an error. Hashes
// must be computed with StringHash for Lookup to find them.
type HashFunc func(payload []byte) ([]int32, error)

// BuildReport describes a finished build. It is informational only.
type BuildReport struct {
	Records        uint64 // records passed to AddRecord
	Skipped        uint64 // empty records dropped by Build
	Entries        uint64 // collision entries written (header record_count)
	Buckets        int32
	MaxChainLength int
	LoadFactor     float64 // Entries / Buckets
	CreatedAt      time.Time
	Elapsed        time.Duration
}

// Builder accumulates collision chains in memory and writes the index file on Finish.
//
// Usage:
//
//	b, err := hashindex.NewBuilder(ctx, "data.idx", estimatedRecords)
//	if err != nil { return err }
//	defer b.Close() // Removes the partial file on error
//
//	for rec := range records {
//	    if err := b.AddRecord(rec.Offset, uint32(len(rec.Payload)), hashesOf(rec)...); err != nil {
//	        return err
//	    }
//	}
//	report, err := b.Finish()
//
// A Builder is not safe for concurrent use.
type Builder struct {
	ctx         context.Context
	cfg         *buildConfig
	iw          *indexWriter
	output      string
	bucketCount int32

	// chains maps bucket index to its unsorted chain; only touched buckets have a key.
	chains   map[int32][]collisionEntry
	maxChain int

	records    uint64
	skipped    uint64
	entries    uint64
	keyCounter int
	start      time.Time

	err    error // sticky failure from AddRecord
	closed bool
}

// NewBuilder creates the index file at output and returns a builder sized
// for estimated records (see PlanCapacity). The estimate only affects the
// table size; any number of records may be added.
func NewBuilder(ctx context.Context, output string, estimated uint64, opts ...BuildOption) (*Builder, error) {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	iw, err := newIndexWriter(output)
	if err != nil {
		return nil, fmt.Errorf("create index writer: %w", err)
	}

	b := &Builder{
		ctx:         ctx,
		cfg:         cfg,
		iw:          iw,
		output:      output,
		bucketCount: PlanCapacity(estimated),
		chains:      make(map[int32][]collisionEntry),
		start:       cfg.now(),
	}
	cfg.logger.Debug("index build started",
		zap.String("index", output),
		zap.Uint64("estimated", estimated),
		zap.Int32("buckets", b.bucketCount))
	return b, nil
}

// AddRecord adds one collision entry per hash, all pointing at the byte range
// [offset, offset+length) of the data file.
//
// Returns ErrChainOverflow if a bucket would hold more than 255 entries.
// After any error the builder is unusable; call Close.
func (b *Builder) AddRecord(offset uint64, length uint32, hashes ...int32) error {
	if b.closed {
		return idxerrors.ErrBuilderClosed
	}
	if b.err != nil {
		return b.err
	}

	b.keyCounter++
	if b.keyCounter >= contextCheckInterval {
		b.keyCounter = 0
		select {
		case <-b.ctx.Done():
			b.err = b.ctx.Err()
			return b.err
		default:
		}
	}

	for _, h := range hashes {
		bucket := bucketFor(h, b.bucketCount)
		chain := b.chains[bucket]
		if len(chain) >= maxChainLength {
			b.err = fmt.Errorf("%w: bucket %d", idxerrors.ErrChainOverflow, bucket)
			return b.err
		}
		chain = append(chain, collisionEntry{Hash: h, SourceOffset: offset, SourceLength: length})
		b.chains[bucket] = chain
		b.maxChain = max(b.maxChain, len(chain))
	}
	b.entries += uint64(len(hashes))

	b.records++
	if b.records%progressInterval == 0 {
		b.cfg.logger.Debug("records indexed",
			zap.Uint64("records", b.records),
			zap.Uint64("entries", b.entries),
			zap.Int("maxChain", b.maxChain))
	}
	return nil
}

// Finish sorts every chain by hash and writes the index file. created_at is
// written only after every node and entry is durable. After calling Finish,
// the builder cannot be used again.
func (b *Builder) Finish() (*BuildReport, error) {
	if b.closed {
		return nil, idxerrors.ErrBuilderClosed
	}
	b.closed = true

	if b.err != nil {
		return nil, errors.Join(b.err, b.cleanup())
	}

	indexed := b.cfg.now()
	b.cfg.logger.Debug("records accumulated",
		zap.Uint64("records", b.records),
		zap.Uint64("entries", b.entries),
		zap.Int("maxChain", b.maxChain),
		zap.Duration("elapsed", indexed.Sub(b.start)))

	if err := b.iw.allocate(b.bucketCount, b.entries); err != nil {
		return nil, errors.Join(err, b.cleanup())
	}

	b.iw.writeCounts(&header{
		RecordCount:    b.entries,
		BucketCount:    b.bucketCount,
		MaxChainLength: uint8(b.maxChain),
	})

	buckets := make([]int32, 0, len(b.chains))
	for bucket := range b.chains {
		buckets = append(buckets, bucket)
	}
	slices.Sort(buckets)

	var written uint64
	for _, bucket := range buckets {
		chain := b.chains[bucket]
		slices.SortStableFunc(chain, func(x, y collisionEntry) int {
			return cmp.Compare(x.Hash, y.Hash)
		})
		b.iw.writeNode(bucket, bucketNode{ChainLength: uint8(len(chain)), ChainStart: written})
		for _, e := range chain {
			b.iw.writeEntry(written, e)
			written++
		}
		delete(b.chains, bucket)
	}

	createdAt := b.cfg.now()
	if err := b.iw.finalize(createdAt.UnixMilli()); err != nil {
		return nil, errors.Join(err, os.Remove(b.output))
	}

	report := &BuildReport{
		Records:        b.records,
		Skipped:        b.skipped,
		Entries:        b.entries,
		Buckets:        b.bucketCount,
		MaxChainLength: b.maxChain,
		LoadFactor:     float64(b.entries) / float64(b.bucketCount),
		CreatedAt:      createdAt,
		Elapsed:        createdAt.Sub(b.start),
	}
	b.cfg.logger.Info("index written",
		zap.String("index", b.output),
		zap.Uint64("records", report.Records),
		zap.Uint64("entries", report.Entries),
		zap.Int32("buckets", report.Buckets),
		zap.Int("maxChain", report.MaxChainLength),
		zap.Duration("elapsed", report.Elapsed),
		zap.Duration("writeElapsed", createdAt.Sub(indexed)))
	return report, nil
}

// Close aborts the build and removes the partial index file.
// Safe to call after Finish.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.cleanup()
}

// cleanup closes the writer and removes the output file.
func (b *Builder) cleanup() error {
	b.chains = nil
	return errors.Join(b.iw.close(), os.Remove(b.output))
}

// Build indexes every record of source into a new index file at output.
// Empty records are skipped. hash is called once per non-empty record.
// Errors from source or hash abort the build and remove the index file.
func Build(ctx context.Context, output string, estimated uint64, source iter.Seq2[Record, error], hash HashFunc, opts ...BuildOption) (*BuildReport, error) {
	b, err := NewBuilder(ctx, output, estimated, opts...)
	if err != nil {
		return nil, err
	}

	for rec, err := range source {
		if err != nil {
			return nil, errors.Join(fmt.Errorf("read source: %w", err), b.Close())
		}
		if len(rec.Payload) == 0 {
			b.skipped++
			continue
		}
		if uint64(len(rec.Payload)) > math.MaxUint32 {
			primaryErr := fmt.Errorf("%w: record at offset %d", idxerrors.ErrRecordTooLarge, rec.Offset)
			return nil, errors.Join(primaryErr, b.Close())
		}
		hashes, err := hash(rec.Payload)
		if err != nil {
			primaryErr := fmt.Errorf("hash record at offset %d: %w", rec.Offset, err)
			return nil, errors.Join(primaryErr, b.Close())
		}
		if err := b.AddRecord(rec.Offset, uint32(len(rec.Payload)), hashes...); err != nil {
			return nil, errors.Join(err, b.Close())
		}
	}

	return b.Finish()
}
