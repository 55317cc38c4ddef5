// Bench is a benchmarking tool for measuring hashindex build performance,
// concurrent lookup latency, and memory usage.
//
// It writes a synthetic JSON-lines data file of {"id", "alias", "seq"}
// records, indexes it by id and alias, and then runs a load test: tasks of
// 1-100 random keys are looked up with LookupMany by concurrent workers and
// every result is checked against the requested keys.
//
// Usage:
//
//	go run ./cmd/bench --records 1000000 --concurrency 50 --tasks 10000
//
// Flags:
//
//	--records      Number of records to generate (default: 1,000,000)
//	--concurrency  Concurrent lookup workers (default: 50)
//	--tasks        Lookup tasks to run (default: 10,000)
//	--channels     Read handles per file (default: 5)
//	--by           Key used for lookups: id or alias (default: id)
//	--dir          Directory for the data and index files (default: temp dir)
//	--cpuprofile   Write a CPU profile of the build phase
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"slices"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spaolacci/murmur3"
	flag "github.com/spf13/pflag"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/tamirms/hashindex"
	"github.com/tamirms/hashindex/jsonkey"
	"github.com/tamirms/hashindex/split"
)

const (
	minTaskKeys = 1
	maxTaskKeys = 100
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// record is one synthetic data line.
type record struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
	Seq   int    `json:"seq"`
}

// syntheticID derives a record id from its sequence number with murmur3.
func syntheticID(seq int) string {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(uint64(seq) >> (8 * i))
	}
	h1, h2 := murmur3.Sum128WithSeed(buf[:], 0x1234)
	return strconv.FormatUint(h1, 36) + strconv.FormatUint(h2&0xFFFF, 36)
}

// syntheticAlias derives an alias from an id with xxh3.
func syntheticAlias(id string) string {
	h := xxh3.HashString128(id)
	var b [8]byte
	for i := range b {
		b[i] = byte(h.Hi >> (8 * i))
	}
	return "al-" + hex.EncodeToString(b[:])
}

func main() {
	recordsFlag := flag.Int("records", 1_000_000, "number of records")
	concurrency := flag.Int("concurrency", 50, "concurrent lookup workers")
	tasks := flag.Int("tasks", 10_000, "lookup tasks to run")
	channels := flag.Int("channels", hashindex.DefaultChannels, "read handles per file")
	by := flag.String("by", "id", "lookup key: id or alias")
	dirFlag := flag.String("dir", "", "directory for data and index files (default: temp dir)")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (build phase only)")
	flag.Parse()

	if *by != "id" && *by != "alias" {
		fmt.Printf("Unknown lookup key: %s (use 'id' or 'alias')\n", *by)
		return
	}

	dir := *dirFlag
	if dir == "" {
		tmpDir, err := os.MkdirTemp("", "bench-")
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			return
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()
		dir = tmpDir
	}
	dataPath := filepath.Join(dir, "data.jsonl")
	indexPath := filepath.Join(dir, "data.idx")

	fmt.Println("Generating records...")
	genStart := time.Now()
	keys, err := writeDataFile(dataPath, *recordsFlag, *by)
	if err != nil {
		fmt.Printf("Generate failed: %v\n", err)
		return
	}
	genDuration := time.Since(genStart)

	runtime.GC()
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak heap; runtime/metrics avoids stop-the-world pauses.
	var peakAlloc atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peakAlloc.Load()
					if heapBytes <= old || peakAlloc.CompareAndSwap(old, heapBytes) {
						break
					}
				}
			}
		}
	}()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Println("Building index...")
	report, err := hashindex.Build(context.Background(), indexPath, uint64(*recordsFlag),
		split.File(dataPath, '\r', '\n'), jsonkey.Hashes("id", "alias"))
	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	close(done)
	if err != nil {
		fmt.Printf("Build failed: %v\n", err)
		return
	}
	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := getMaxRSS() - baselineRSS

	r, err := hashindex.Open(dataPath, indexPath, hashindex.WithChannels(*channels))
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() { _ = r.Close() }()

	fmt.Println("Running load test...")
	stats, err := loadTest(r, keys, *by, *concurrency, *tasks)
	if err != nil {
		fmt.Printf("Load test failed: %v\n", err)
		return
	}

	info, _ := os.Stat(indexPath)
	bytesPerRecord := float64(info.Size()) / float64(report.Records)

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╗\n")
	fmt.Printf("║ Metric              ║ Value          ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╣\n")
	fmt.Printf("║ Records             ║ %14d ║\n", report.Records)
	fmt.Printf("║ Entries             ║ %14d ║\n", report.Entries)
	fmt.Printf("║ Buckets             ║ %14d ║\n", report.Buckets)
	fmt.Printf("║ Load factor         ║ %14.3f ║\n", report.LoadFactor)
	fmt.Printf("║ Max chain           ║ %14d ║\n", report.MaxChainLength)
	fmt.Printf("║ Index bytes/record  ║ %14.2f ║\n", bytesPerRecord)
	fmt.Printf("║ Generate time       ║ %10.2f sec ║\n", genDuration.Seconds())
	fmt.Printf("║ Build time          ║ %10.2f sec ║\n", report.Elapsed.Seconds())
	fmt.Printf("║ Build throughput    ║ %8.2f M/sec ║\n", float64(report.Records)/report.Elapsed.Seconds()/1_000_000)
	fmt.Printf("║ Peak heap memory    ║ %11.1f MB ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %11.1f MB ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("║ Tasks               ║ %14d ║\n", *tasks)
	fmt.Printf("║ Keys per task (avg) ║ %14d ║\n", stats.keys/int64(*tasks))
	fmt.Printf("║ Task latency (avg)  ║ %11.2f ms ║\n", float64(stats.total.Microseconds())/float64(*tasks)/1000)
	fmt.Printf("║ Task latency (min)  ║ %11.2f ms ║\n", float64(stats.min.Microseconds())/1000)
	fmt.Printf("║ Task latency (max)  ║ %11.2f ms ║\n", float64(stats.max.Microseconds())/1000)
	fmt.Printf("╚═════════════════════╩════════════════╝\n")
}

// writeDataFile writes n JSON lines and returns the lookup key of each.
func writeDataFile(path string, n int, by string) ([]string, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1<<20)
	keys := make([]string, n)
	for seq := range n {
		rec := record{ID: syntheticID(seq), Seq: seq}
		rec.Alias = syntheticAlias(rec.ID)
		line, err := json.Marshal(rec)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
		if by == "alias" {
			keys[seq] = rec.Alias
		} else {
			keys[seq] = rec.ID
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return keys, f.Close()
}

type latencyStats struct {
	keys  int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// loadTest runs tasks lookups of random key batches on concurrency workers
// and fails on the first result that does not match its batch.
func loadTest(r *hashindex.Reader, keys []string, by string, concurrency, tasks int) (latencyStats, error) {
	var (
		totalKeys atomic.Int64
		latencies = make([]time.Duration, tasks)
	)
	keyOf := jsonkey.Field(by)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for task := range tasks {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(task), 0x5eed))
			batch := make([]string, minTaskKeys+rng.IntN(maxTaskKeys-minTaskKeys+1))
			for i := range batch {
				batch[i] = keys[rng.IntN(len(keys))]
			}
			totalKeys.Add(int64(len(batch)))

			start := time.Now()
			docs, err := hashindex.LookupMany(r, batch, jsonkey.Decode, keyOf)
			latencies[task] = time.Since(start)
			if err != nil {
				return fmt.Errorf("task %d: %w", task, err)
			}

			got := make([]string, len(docs))
			for i, d := range docs {
				got[i] = keyOf(d)
			}
			if !slices.Equal(got, batch) {
				return fmt.Errorf("task %d: looked up %d keys, got %d matching records", task, len(batch), len(got))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return latencyStats{}, err
	}

	stats := latencyStats{keys: totalKeys.Load(), min: latencies[0], max: latencies[0]}
	for _, l := range latencies {
		stats.total += l
		stats.min = min(stats.min, l)
		stats.max = max(stats.max, l)
	}
	return stats, nil
}
