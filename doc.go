// Package hashindex implements a read-optimized static hash index over an
// append-only data file.
//
// An index is built once from a sequence of records (byte ranges of the data
// file) and then serves point lookups by string key with a bounded number of
// positional reads: one bucket node, one contiguous chain, and one data read
// per hash match.
//
// # Basic Usage
//
// Building an index:
//
//	source := split.File("data.jsonl", '\r', '\n')
//	report, err := hashindex.Build(ctx, "data.idx", estimatedRecords, source, jsonkey.Hashes("id", "alias"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("indexed %d records\n", report.Records)
//
// Querying an index:
//
//	r, err := hashindex.Open("data.jsonl", "data.idx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	doc, ok, err := hashindex.Lookup(r, "a1", jsonkey.Decode, jsonkey.Field("id"))
//
// # File Format
//
//	[Header 21B][BucketNode × BucketCount, 9B][CollisionEntry × RecordCount, 16B]
//
// All integers are big-endian. A key hashes with StringHash to bucket
// hash & BucketCount (the value BucketCount itself folds onto bucket 0). Each
// bucket's chain is sorted by hash so a scan stops at the first larger hash.
// The header's created_at is written after everything else; a zero value
// means the build did not finish and Open refuses the file.
//
// # Package Structure
//
//   - Public API: builder.go (NewBuilder, AddRecord, Finish, Build), index.go (Open, Get),
//     lookup.go (Lookup, LookupMany), verify.go (Verify, ContentHash)
//   - Configuration: builder_options.go (BuildOption, ReaderOption)
//   - Serialization: header.go (header, bucketNode, collisionEntry), index_writer.go
//   - Hashing: strhash.go (StringHash), capacity.go (PlanCapacity, bucket fold)
//   - Collaborators: split/ (record splitting), jsonkey/ (JSON key extraction)
//   - Platform: fallocate_*.go, fadvise_*.go, prefault_*.go
package hashindex
