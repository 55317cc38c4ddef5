// Package jsonkey provides hashindex collaborators for records that are JSON
// objects, such as the lines of a JSON-lines file: a build-time HashFunc that
// addresses a record by some of its fields, and the read-time decoder and key
// extractor that verify a candidate.
package jsonkey

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tamirms/hashindex"
)

// Document is one decoded JSON object.
type Document map[string]any

// Decode parses payload as a JSON object. Numbers are kept as json.Number so
// that numeric keys round-trip to the same text they were indexed with.
func Decode(payload []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode record: not a JSON object")
	}
	return doc, nil
}

// Key returns the string form of doc[name]: the string itself, or the
// literal text of a number. ok is false for a missing field or any other type.
func (d Document) Key(name string) (string, bool) {
	switch v := d[name].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// Field returns a key extractor for Lookup that reads the named field.
func Field(name string) func(Document) string {
	return func(d Document) string {
		k, _ := d.Key(name)
		return k
	}
}

// Hashes returns a HashFunc addressing each record by every named field it
// has. Records missing a field are addressable by the remaining ones; a
// record that is not a JSON object is an error.
func Hashes(fields ...string) hashindex.HashFunc {
	return func(payload []byte) ([]int32, error) {
		doc, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		hashes := make([]int32, 0, len(fields))
		for _, f := range fields {
			if k, ok := doc.Key(f); ok {
				hashes = append(hashes, hashindex.StringHash(k))
			}
		}
		return hashes, nil
	}
}
