// Package store turns notices into index mutations.
//
// The package focuses on:
//   - A unified interface (IStore) for applying notices to the heap of indexed
//     messages, shared by the real indexer and test doubles
//   - Backfilling the index for one identity from a source.ISource
//
// Key Components:
//
//   - IStore Interface: the core abstraction the mux workers apply notices
//     through. Every IStore also serves as a query.Env, so queries compile
//     directly against it.
//
//   - Error System: a structured error with a return code, so callers can tell
//     an invalid notice (never retried) from a transient failure.
//
// Implementations:
//
//	- Local Store (lstore): the in-process indexer. It dispatches each notice
//	  variant to its attribute updates and then runs the See hooks of the
//	  query registry. Available in the "github.com/ValentinKolb/infinity/lib/store/lstore"
//	  package.
package store
