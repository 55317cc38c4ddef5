package hashindex

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	idxerrors "github.com/tamirms/hashindex/errors"
)

// TestBuildTwoRecords covers the smallest realistic index: two 9-byte
// records, each addressable by an id and an alias.
func TestBuildTwoRecords(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "data.idx")

	b, err := NewBuilder(context.Background(), indexPath, 2, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.AddRecord(0, 9, StringHashes("a1", "x")...); err != nil {
		t.Fatal(err)
	}
	if err := b.AddRecord(9, 9, StringHashes("b2", "y")...); err != nil {
		t.Fatal(err)
	}
	report, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	want := &BuildReport{
		Records:        2,
		Entries:        4,
		Buckets:        255,
		MaxChainLength: 1,
		LoadFactor:     4.0 / 255,
		CreatedAt:      fixedClock(),
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != indexFileSize(255, 4) {
		t.Fatalf("index size %d, want %d", len(data), indexFileSize(255, 4))
	}
	hdr, err := decodeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	wantHdr := &header{CreatedAt: fixedClock().UnixMilli(), RecordCount: 4, BucketCount: 255, MaxChainLength: 1}
	if diff := cmp.Diff(wantHdr, hdr); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	// Entry order follows bucket order: b2 (16), x (120), y (121), a1 (240).
	wantChains := map[int32]collisionEntry{
		16:  {Hash: 3088, SourceOffset: 9, SourceLength: 9},
		120: {Hash: 120, SourceOffset: 0, SourceLength: 9},
		121: {Hash: 121, SourceOffset: 9, SourceLength: 9},
		240: {Hash: 3056, SourceOffset: 0, SourceLength: 9},
	}
	first := firstEntryOffset(255)
	var next uint64
	for bucket := range int32(255) {
		off := nodeOffset(bucket)
		node, err := decodeBucketNode(data[off:])
		if err != nil {
			t.Fatal(err)
		}
		want, ok := wantChains[bucket]
		if !ok {
			if node.ChainLength != 0 {
				t.Errorf("bucket %d: chain length %d, want 0", bucket, node.ChainLength)
			}
			continue
		}
		if node.ChainLength != 1 || node.ChainStart != next {
			t.Errorf("bucket %d: node %+v, want length 1 start %d", bucket, node, next)
		}
		got, err := decodeCollisionEntry(data[entryOffset(first, node.ChainStart):])
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("bucket %d: entry %+v, want %+v", bucket, got, want)
		}
		next++
	}
}

func TestBuildSortsChainsStably(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "data.idx")
	b, err := NewBuilder(context.Background(), indexPath, 1, WithClock(fixedClock))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	// All fold into bucket 5 of a 255-bucket table; 5+256 twice to check stability.
	hashes := []int32{5 + 512, 5, 5 + 256, 5 + 256}
	for i, h := range hashes {
		if err := b.AddRecord(uint64(i*10), 10, h); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	node, _ := decodeBucketNode(data[nodeOffset(5):])
	if node.ChainLength != 4 || node.ChainStart != 0 {
		t.Fatalf("node = %+v, want length 4 start 0", node)
	}
	first := firstEntryOffset(255)
	var got []collisionEntry
	for i := range uint64(4) {
		e, _ := decodeCollisionEntry(data[entryOffset(first, i):])
		got = append(got, e)
	}
	want := []collisionEntry{
		{Hash: 5, SourceOffset: 10, SourceLength: 10},
		{Hash: 5 + 256, SourceOffset: 20, SourceLength: 10},
		{Hash: 5 + 256, SourceOffset: 30, SourceLength: 10},
		{Hash: 5 + 512, SourceOffset: 0, SourceLength: 10},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chain mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEmpty(t *testing.T) {
	dataPath, indexPath := buildTestIndex(t, 0, nil)
	hdr := readTestHeader(t, indexPath)
	if hdr.RecordCount != 0 || hdr.BucketCount != 255 || hdr.MaxChainLength != 0 {
		t.Errorf("header = %+v, want empty 255-bucket index", hdr)
	}
	r := openTestReader(t, dataPath, indexPath)
	if _, ok, err := r.Get("anything", fieldMatch("anything")); err != nil || ok {
		t.Errorf("Get on empty index = %v, %v", ok, err)
	}
}

func TestAddRecordWithoutHashes(t *testing.T) {
	dataPath, indexPath := buildTestIndex(t, 1, []testRecord{{payload: "orphan"}})
	hdr := readTestHeader(t, indexPath)
	if hdr.RecordCount != 0 {
		t.Errorf("RecordCount = %d, want 0", hdr.RecordCount)
	}
	r := openTestReader(t, dataPath, indexPath)
	if err := r.Verify(); err != nil {
		t.Error(err)
	}
}

func TestMaxChainLengthAllowed(t *testing.T) {
	recs := make([]testRecord, maxChainLength)
	for i := range recs {
		recs[i] = testRecord{payload: "r", keys: []string{"same"}}
	}
	dataPath, indexPath := buildTestIndex(t, 1, recs)
	hdr := readTestHeader(t, indexPath)
	if hdr.MaxChainLength != maxChainLength {
		t.Errorf("MaxChainLength = %d, want %d", hdr.MaxChainLength, maxChainLength)
	}
	r := openTestReader(t, dataPath, indexPath)
	if err := r.Verify(); err != nil {
		t.Error(err)
	}
}

func TestChainOverflow(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "data.idx")
	b, err := NewBuilder(context.Background(), indexPath, 1)
	if err != nil {
		t.Fatal(err)
	}

	var addErr error
	for i := range maxChainLength + 1 {
		if addErr = b.AddRecord(uint64(i), 1, 42); addErr != nil {
			if i != maxChainLength {
				t.Fatalf("AddRecord failed early at record %d: %v", i, addErr)
			}
			break
		}
	}
	if !errors.Is(addErr, idxerrors.ErrChainOverflow) {
		t.Fatalf("expected ErrChainOverflow, got %v", addErr)
	}

	// Sticky: the builder stays failed.
	if err := b.AddRecord(0, 1, 7); !errors.Is(err, idxerrors.ErrChainOverflow) {
		t.Errorf("AddRecord after overflow: expected ErrChainOverflow, got %v", err)
	}
	if _, err := b.Finish(); !errors.Is(err, idxerrors.ErrChainOverflow) {
		t.Errorf("Finish after overflow: expected ErrChainOverflow, got %v", err)
	}
	if _, err := os.Stat(indexPath); !os.IsNotExist(err) {
		t.Errorf("index file should be removed after failed build, stat err = %v", err)
	}
}

func TestBuilderClosed(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "data.idx")
	b, err := NewBuilder(context.Background(), indexPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(indexPath); !os.IsNotExist(err) {
		t.Errorf("Close should remove the partial index, stat err = %v", err)
	}
	if err := b.AddRecord(0, 1, 1); !errors.Is(err, idxerrors.ErrBuilderClosed) {
		t.Errorf("AddRecord: expected ErrBuilderClosed, got %v", err)
	}
	if _, err := b.Finish(); !errors.Is(err, idxerrors.ErrBuilderClosed) {
		t.Errorf("Finish: expected ErrBuilderClosed, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseAfterFinishKeepsIndex(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "data.idx")
	b, err := NewBuilder(context.Background(), indexPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AddRecord(0, 3, StringHash("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index removed by Close after Finish: %v", err)
	}
}

func TestNewBuilderBadPath(t *testing.T) {
	_, err := NewBuilder(context.Background(), filepath.Join(t.TempDir(), "missing", "data.idx"), 1)
	if err == nil {
		t.Error("expected error for output in a missing directory")
	}
}

func TestBuilderContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	indexPath := filepath.Join(t.TempDir(), "data.idx")
	b, err := NewBuilder(ctx, indexPath, contextCheckInterval)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	var addErr error
	for i := range contextCheckInterval {
		if addErr = b.AddRecord(uint64(i), 1, int32(i)); addErr != nil {
			break
		}
	}
	if !errors.Is(addErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", addErr)
	}
	if _, err := b.Finish(); !errors.Is(err, context.Canceled) {
		t.Errorf("Finish: expected context.Canceled, got %v", err)
	}
}

func TestBuildSourceErrors(t *testing.T) {
	hashAll := func(p []byte) ([]int32, error) { return []int32{StringHash(string(p))}, nil }
	errSource := errors.New("source failed")
	errHash := errors.New("hash failed")

	tests := []struct {
		name   string
		source iter.Seq2[Record, error]
		hash   HashFunc
		want   error
	}{
		{
			name: "source error",
			source: func(yield func(Record, error) bool) {
				if !yield(Record{Offset: 0, Payload: []byte("a")}, nil) {
					return
				}
				yield(Record{}, errSource)
			},
			hash: hashAll,
			want: errSource,
		},
		{
			name: "hash error",
			source: func(yield func(Record, error) bool) {
				yield(Record{Offset: 0, Payload: []byte("a")}, nil)
			},
			hash: func([]byte) ([]int32, error) { return nil, errHash },
			want: errHash,
		},
		{
			name: "chain overflow",
			source: func(yield func(Record, error) bool) {
				for i := range maxChainLength + 1 {
					if !yield(Record{Offset: uint64(i), Payload: []byte("k")}, nil) {
						return
					}
				}
			},
			hash: hashAll,
			want: idxerrors.ErrChainOverflow,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			indexPath := filepath.Join(t.TempDir(), "data.idx")
			_, err := Build(context.Background(), indexPath, 1, tc.source, tc.hash)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if _, err := os.Stat(indexPath); !os.IsNotExist(err) {
				t.Errorf("index file should be removed, stat err = %v", err)
			}
		})
	}
}

func TestBuildSkipsEmptyRecords(t *testing.T) {
	source := func(yield func(Record, error) bool) {
		_ = yield(Record{Offset: 0, Payload: []byte("ab")}, nil) &&
			yield(Record{Offset: 3}, nil) &&
			yield(Record{Offset: 4, Payload: []byte("cd")}, nil)
	}
	calls := 0
	hash := func(p []byte) ([]int32, error) {
		calls++
		return []int32{StringHash(string(p))}, nil
	}
	report, err := Build(context.Background(), filepath.Join(t.TempDir(), "data.idx"), 2, source, hash)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("hash called %d times, want 2", calls)
	}
	if report.Records != 2 || report.Skipped != 1 || report.Entries != 2 {
		t.Errorf("report = %+v, want 2 records, 1 skipped, 2 entries", report)
	}
}

func TestBuildDeterministic(t *testing.T) {
	recs := []testRecord{
		{payload: "a1|x", keys: []string{"a1", "x"}},
		{payload: "b2|y", keys: []string{"b2", "y"}},
		{payload: "Aa", keys: []string{"Aa"}},
		{payload: "BB", keys: []string{"BB"}},
	}
	_, first := buildTestIndex(t, 4, recs)
	_, second := buildTestIndex(t, 4, recs)

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two builds of the same records differ")
	}
}

func TestBuildLogsProgress(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	indexPath := filepath.Join(t.TempDir(), "data.idx")
	b, err := NewBuilder(context.Background(), indexPath, progressInterval, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	for i := range progressInterval {
		if err := b.AddRecord(uint64(i), 1, int32(i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}

	if n := logs.FilterMessage("records indexed").Len(); n != 1 {
		t.Errorf("got %d progress logs, want 1", n)
	}
	written := logs.FilterMessage("index written").All()
	if len(written) != 1 {
		t.Fatalf("got %d completion logs, want 1", len(written))
	}
	if got := written[0].ContextMap()["entries"]; got != uint64(progressInterval) {
		t.Errorf("logged entries = %v, want %d", got, progressInterval)
	}
}

func TestBuildLoadFactor(t *testing.T) {
	n := 1000
	source := func(yield func(Record, error) bool) {
		for i := range n {
			if !yield(Record{Offset: uint64(i), Payload: []byte(strconv.Itoa(i))}, nil) {
				return
			}
		}
	}
	hash := func(p []byte) ([]int32, error) { return []int32{StringHash(string(p))}, nil }
	report, err := Build(context.Background(), filepath.Join(t.TempDir(), "data.idx"), uint64(n), source, hash)
	if err != nil {
		t.Fatal(err)
	}
	if report.Buckets != 2047 {
		t.Errorf("Buckets = %d, want 2047", report.Buckets)
	}
	if report.LoadFactor > 0.5 {
		t.Errorf("LoadFactor = %f, want <= 0.5", report.LoadFactor)
	}
}
