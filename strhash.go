package hashindex

import "unicode/utf8"

// StringHash returns the 32-bit polynomial hash of s used as the bucket key:
//
//	h = s[0]*31^(n-1) + s[1]*31^(n-2) + ... + s[n-1]
//
// computed with int32 wraparound over the UTF-16 code units of s. Runes
// outside the BMP contribute their surrogate pair, so for valid UTF-8 the
// result matches java.lang.String#hashCode of the same text and indexes
// built by other tools with that hash are readable here.
//
// Each byte of an invalid UTF-8 sequence contributes one U+FFFD, as
// utf8.DecodeRuneInString reports it. Java may collapse an incomplete
// sequence into a single replacement, so such keys need not agree.
func StringHash(s string) int32 {
	var h int32
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			h = 31*h + int32(c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r >= 0x10000 {
			r -= 0x10000
			h = 31*h + int32(0xD800+(r>>10))
			h = 31*h + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = 31*h + int32(r)
	}
	return h
}

// StringHashes returns StringHash of each key, in order. It is a convenience
// for HashFunc implementations that address a record by several keys.
func StringHashes(keys ...string) []int32 {
	hashes := make([]int32, len(keys))
	for i, k := range keys {
		hashes[i] = StringHash(k)
	}
	return hashes
}
