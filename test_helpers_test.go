package hashindex

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testRecord is one data-file record and the keys that address it.
type testRecord struct {
	payload string
	keys    []string
}

// fixedClock is a build clock that always returns the same instant, so two
// builds of the same records produce byte-identical files.
func fixedClock() time.Time {
	return time.UnixMilli(1_700_000_000_000)
}

// writeRecords writes the records to a data file, each followed by '\n', and
// returns the path and the offset of every record.
func writeRecords(t testing.TB, dir string, recs []testRecord) (string, []uint64) {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]uint64, len(recs))
	for i, rec := range recs {
		offsets[i] = uint64(buf.Len())
		buf.WriteString(rec.payload)
		buf.WriteByte('\n')
	}
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path, offsets
}

// buildTestIndex writes recs to a data file and indexes every record by its keys.
func buildTestIndex(t testing.TB, estimated uint64, recs []testRecord, opts ...BuildOption) (dataPath, indexPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath, offsets := writeRecords(t, dir, recs)
	indexPath = filepath.Join(dir, "data.idx")

	opts = append([]BuildOption{WithClock(fixedClock)}, opts...)
	b, err := NewBuilder(context.Background(), indexPath, estimated, opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	for i, rec := range recs {
		if err := b.AddRecord(offsets[i], uint32(len(rec.payload)), StringHashes(rec.keys...)...); err != nil {
			t.Fatalf("AddRecord(%q): %v", rec.payload, err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	return dataPath, indexPath
}

// fieldMatch accepts records of the form "k1|k2|..." that list key.
func fieldMatch(key string) func([]byte) bool {
	return func(payload []byte) bool {
		for f := range bytes.SplitSeq(payload, []byte("|")) {
			if string(f) == key {
				return true
			}
		}
		return false
	}
}

// openTestReader opens the index and closes it when the test ends.
func openTestReader(t testing.TB, dataPath, indexPath string, opts ...ReaderOption) *Reader {
	t.Helper()
	r, err := Open(dataPath, indexPath, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// patchFile overwrites bytes of path at off.
func patchFile(t testing.TB, path string, off int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteAt(b, off); err != nil {
		t.Fatal(err)
	}
}

// readTestHeader decodes the header of the index file at path.
func readTestHeader(t testing.TB, path string) *header {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := decodeHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	return h
}
