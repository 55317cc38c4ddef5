// Package split turns a raw data file into the record sequence consumed by
// hashindex.Build.
package split

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/tamirms/hashindex"
)

// readBufferSize matches a typical filesystem block.
const readBufferSize = 4096

// Delimited yields the records of r separated by any of delims. Runs of
// delimiters (and leading or trailing ones) never produce empty records.
// Each record's Offset is the position of its first byte in r.
//
// The yielded Payload is a fresh slice the consumer may keep. Read errors
// are yielded once, after which the sequence ends.
func Delimited(r io.Reader, delims ...byte) iter.Seq2[hashindex.Record, error] {
	return func(yield func(hashindex.Record, error) bool) {
		br := bufio.NewReaderSize(r, readBufferSize)
		var (
			buf    []byte
			offset uint64
			start  uint64
		)
		for {
			c, err := br.ReadByte()
			if err != nil {
				if len(buf) > 0 {
					if !yield(hashindex.Record{Offset: start, Payload: buf}, nil) {
						return
					}
				}
				if !errors.Is(err, io.EOF) {
					yield(hashindex.Record{}, err)
				}
				return
			}
			offset++
			if bytes.IndexByte(delims, c) < 0 {
				buf = append(buf, c)
				continue
			}
			if len(buf) == 0 {
				start = offset
				continue
			}
			if !yield(hashindex.Record{Offset: start, Payload: buf}, nil) {
				return
			}
			buf = nil
			start = offset
		}
	}
}

// Lines yields the records of r separated by '\r' and '\n'.
func Lines(r io.Reader) iter.Seq2[hashindex.Record, error] {
	return Delimited(r, '\r', '\n')
}

// File opens path and yields its delimited records. The file is closed when
// the sequence ends or the consumer stops early.
func File(path string, delims ...byte) iter.Seq2[hashindex.Record, error] {
	return func(yield func(hashindex.Record, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(hashindex.Record{}, fmt.Errorf("open source file: %w", err))
			return
		}
		defer f.Close()
		for rec, err := range Delimited(f, delims...) {
			if !yield(rec, err) {
				return
			}
		}
	}
}
