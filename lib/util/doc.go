// Package util holds the concurrency, statistics and compression building
// blocks shared by the engine packages:
//
//   - LockFreeMPSC: the unbounded multi-producer queue feeding the mux workers
//   - Window: a fixed-size rolling sample window with summary statistics
//   - AgeHeap: a keyed min-heap used by the watchdog to find the oldest task
//   - Codec: zstd or lz4 block compression of journal records and snapshots
package util
