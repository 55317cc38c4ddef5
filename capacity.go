package hashindex

import "math"

// minBuckets is the smallest table the planner produces (plus one).
const minBuckets = 256

// PlanCapacity returns the bucket count for an index expected to hold
// estimated keys: the smallest 2^k-1 such that 2^k >= max(256, 2*estimated),
// targeting a ~50% fill factor.
//
// When 2*estimated does not fit in an int32 the result is math.MaxInt32.
// That value is still all ones in binary, so bucketFor keeps working.
func PlanCapacity(estimated uint64) int32 {
	if estimated > math.MaxInt32>>1 {
		return math.MaxInt32
	}
	target := int64(estimated) << 1
	candidate := int64(minBuckets)
	for candidate < target {
		candidate <<= 1
	}
	return int32(candidate - 1)
}

// bucketFor maps a key hash to its bucket. The mask hash&bucketCount ranges
// over [0, bucketCount], one wider than the node array; the top value is
// folded onto bucket 0.
func bucketFor(hash, bucketCount int32) int32 {
	b := hash & bucketCount
	if b < bucketCount {
		return b
	}
	return 0
}
