package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/tamirms/hashindex"
	"github.com/tamirms/hashindex/jsonkey"
	"github.com/tamirms/hashindex/split"
)

// buildReport is the JSON form of hashindex.BuildReport written by --report.
type buildReport struct {
	Data           string    `json:"data"`
	Index          string    `json:"index"`
	Records        uint64    `json:"records"`
	Skipped        uint64    `json:"skipped"`
	Entries        uint64    `json:"entries"`
	Buckets        int32     `json:"buckets"`
	MaxChainLength int       `json:"max_chain_length"`
	LoadFactor     float64   `json:"load_factor"`
	CreatedAt      time.Time `json:"created_at"`
	ElapsedMillis  int64     `json:"elapsed_ms"`
}

func runBuild(ctx context.Context, o *options) (int, error) {
	if len(o.args) != 2 {
		return exitUsage, fmt.Errorf("%w: build <data-file> <index-file>", errUsage)
	}
	dataPath, indexPath := o.args[0], o.args[1]
	delims := []byte(o.cfg.Delimiters)

	estimate := o.cfg.Estimate
	if estimate == 0 {
		n, err := countRecords(dataPath, delims)
		if err != nil {
			return exitFailure, err
		}
		o.logger.Debug("counted records", zap.String("data", dataPath), zap.Uint64("records", n))
		estimate = n
	}

	report, err := hashindex.Build(ctx, indexPath, estimate,
		split.File(dataPath, delims...), jsonkey.Hashes(o.cfg.Keys...),
		hashindex.WithLogger(o.logger))
	if err != nil {
		return exitFailure, err
	}

	fmt.Fprintf(o.stdout, "records: %d\nskipped: %d\nentries: %d\nbuckets: %d\nmax chain: %d\nload factor: %.3f\nelapsed: %s\n",
		report.Records, report.Skipped, report.Entries, report.Buckets,
		report.MaxChainLength, report.LoadFactor, report.Elapsed)

	if o.report != "" {
		if err := writeReport(o.report, dataPath, indexPath, report); err != nil {
			return exitFailure, err
		}
	}
	return exitOK, nil
}

// countRecords returns the number of non-empty records in the data file.
func countRecords(path string, delims []byte) (uint64, error) {
	var n uint64
	for _, err := range split.File(path, delims...) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// writeReport atomically replaces path with the JSON build report.
func writeReport(path, dataPath, indexPath string, r *hashindex.BuildReport) error {
	data, err := json.MarshalIndent(buildReport{
		Data:           dataPath,
		Index:          indexPath,
		Records:        r.Records,
		Skipped:        r.Skipped,
		Entries:        r.Entries,
		Buckets:        r.Buckets,
		MaxChainLength: r.MaxChainLength,
		LoadFactor:     r.LoadFactor,
		CreatedAt:      r.CreatedAt,
		ElapsedMillis:  r.Elapsed.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func runGet(_ context.Context, o *options) (int, error) {
	if len(o.args) < 3 {
		return exitUsage, fmt.Errorf("%w: get <data-file> <index-file> <key>...", errUsage)
	}
	r, err := openReader(o)
	if err != nil {
		return exitFailure, err
	}
	defer r.Close()

	code := exitOK
	for _, key := range o.args[2:] {
		payload, ok, err := r.Get(key, matchAnyField(key, o.cfg.Keys))
		if err != nil {
			return exitFailure, err
		}
		if !ok {
			fmt.Fprintf(o.stderr, "%s: not found\n", key)
			code = exitNotFound
			continue
		}
		fmt.Fprintf(o.stdout, "%s\n", payload)
	}
	return code, nil
}

// matchAnyField accepts a candidate record when any of the key fields holds key.
func matchAnyField(key string, fields []string) func([]byte) bool {
	return func(payload []byte) bool {
		doc, err := jsonkey.Decode(payload)
		if err != nil {
			return false
		}
		for _, f := range fields {
			if k, ok := doc.Key(f); ok && k == key {
				return true
			}
		}
		return false
	}
}

func runStat(_ context.Context, o *options) (int, error) {
	if len(o.args) != 2 {
		return exitUsage, fmt.Errorf("%w: stat <data-file> <index-file>", errUsage)
	}
	r, err := openReader(o)
	if err != nil {
		return exitFailure, err
	}
	defer r.Close()

	s := r.Stats()
	fmt.Fprintf(o.stdout, "created: %s\nentries: %d\nbuckets: %d\nmax chain: %d\nload factor: %.3f\nindex size: %d\ndata size: %d\n",
		s.CreatedAt.UTC().Format(time.RFC3339), s.RecordCount, s.BucketCount,
		s.MaxChainLength, s.LoadFactor, s.IndexSize, s.DataSize)

	sum, err := hashindex.ContentHash(o.args[1])
	if err != nil {
		return exitFailure, err
	}
	fmt.Fprintf(o.stdout, "content hash: %016x\n", sum)
	return exitOK, nil
}

func runVerify(_ context.Context, o *options) (int, error) {
	if len(o.args) != 2 {
		return exitUsage, fmt.Errorf("%w: verify <data-file> <index-file>", errUsage)
	}
	r, err := openReader(o)
	if err != nil {
		return exitFailure, err
	}
	if err := r.Verify(); err != nil {
		return exitFailure, errors.Join(err, r.Close())
	}
	fmt.Fprintln(o.stdout, "ok")
	return exitOK, r.Close()
}

func openReader(o *options) (*hashindex.Reader, error) {
	return hashindex.Open(o.args[0], o.args[1],
		hashindex.WithChannels(o.cfg.Channels),
		hashindex.WithReaderLogger(o.logger))
}
