// Package lstore implements the local, in-process indexer behind the
// store.IStore interface. It applies notices to a heap.Heap and keeps the
// attributes the query predicates rely on up to date.
//
// Key Features:
//   - One handler per notice variant, selected by an exhaustive type switch
//   - Predicate See hooks from a query.Registry run after every notice
//   - Known aliases are remembered and stamped on future messages
//   - An atomic counter of applied notices
//
// Attributes written per message:
//
//	number, text, date              from the message
//	author.name, author.ns          author URN and its namespace
//	author.alias                    every alias the author is known by
//	bout.number, bout.title,        from the bout the message was posted in
//	bout.date
//	talks-with, bundled.marker,     maintained by the registry hooks
//	seen-by
//
// Thread Safety:
//
//	All operations are thread-safe. Notices about different messages may be
//	applied concurrently; the heap and its postings synchronize internally.
//
// Usage Example:
//
//	st := lstore.NewLocalStore(heap.New(nil), query.DefaultRegistry())
//	err := st.See(ctx, &notice.MessagePosted{Message: m, Bout: b})
//	t, err := query.Parse("(talks-with 'urn:test:bob')", st)
package lstore
