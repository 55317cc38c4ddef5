package hashindex

import "fmt"

// Lookup returns the record addressed by key, decoded with decode.
//
// Every candidate whose hash matches is decoded and kept only if keyOf
// returns key; a hash match alone is never trusted. Candidates that fail to
// decode are skipped. A missing key returns the zero T and false.
func Lookup[T any](r *Reader, key string, decode func([]byte) (T, error), keyOf func(T) string) (T, bool, error) {
	var found T
	_, ok, err := r.Get(key, func(payload []byte) bool {
		v, err := decode(payload)
		if err != nil {
			return false
		}
		if keyOf(v) != key {
			return false
		}
		found = v
		return true
	})
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return found, true, nil
}

// LookupMany calls Lookup for each key in order and returns the records that
// were found, in key order. Missing keys are omitted, so the result is not
// positionally aligned with keys.
func LookupMany[T any](r *Reader, keys []string, decode func([]byte) (T, error), keyOf func(T) string) ([]T, error) {
	items := make([]T, 0, len(keys))
	for _, key := range keys {
		v, ok, err := Lookup(r, key, decode, keyOf)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", key, err)
		}
		if ok {
			items = append(items, v)
		}
	}
	return items, nil
}
