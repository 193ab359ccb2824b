// Package heap is the canonical index store: a concurrent map from message
// number to attr.Msg whose iteration order is descending (newest first).
//
// Besides the records the heap maintains inverted postings, one roaring64
// bitmap per (attribute, value) pair, plus word postings for the tokenized
// attributes (text, bout.title, author.alias by default). Postings are
// updated synchronously through the attr.Listener callback, so a query that
// starts after a Put returns observes it.
//
// Snapshots:
//
//	The heap can be saved to and loaded from a snapshot file. The format is
//	a magic header "INFHEAP\x00", a version byte, the fencing token of the
//	writer (uint64, big endian), a codec byte and the compressed CBOR body.
package heap
